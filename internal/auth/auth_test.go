package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestSubjectFromIDToken(t *testing.T) {
	token := signed(t, jwt.RegisteredClaims{
		Subject:   "acct-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	sub, err := SubjectFromIDToken(token)
	require.NoError(t, err)
	assert.Equal(t, "acct-42", sub)

	_, err = SubjectFromIDToken(signed(t, jwt.RegisteredClaims{Issuer: "idp"}))
	assert.ErrorIs(t, err, ErrNoSubject)

	_, err = SubjectFromIDToken("not-a-token")
	assert.Error(t, err)
}

func TestSession_KeepsLatestChange(t *testing.T) {
	s := NewSession("a")
	assert.Equal(t, "a", s.AccountID())

	s.SignIn("a")
	select {
	case id := <-s.Changes():
		t.Fatalf("unexpected change to %q", id)
	default:
	}

	s.SignIn("b")
	s.SignIn("c")
	assert.Equal(t, "c", <-s.Changes())
	assert.Equal(t, "c", s.AccountID())

	s.SignOut()
	assert.Equal(t, "", <-s.Changes())
}

func TestSession_SignInWithIDToken(t *testing.T) {
	s := NewSession("")
	require.NoError(t, s.SignInWithIDToken(signed(t, jwt.RegisteredClaims{Subject: "acct-7"})))
	assert.Equal(t, "acct-7", s.AccountID())
	assert.Error(t, s.SignInWithIDToken("garbage"))
	assert.Equal(t, "acct-7", s.AccountID())
}
