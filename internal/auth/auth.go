// Package auth supplies the signed-in account to the sync engine.
//
// Authentication itself happens elsewhere; this package only tracks which
// account id is current and signals when it changes.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject is returned for an ID token without a subject claim.
var ErrNoSubject = errors.New("id token has no subject")

// Source reports the signed-in account. AccountID returns "" when signed
// out. Changes receives the new account id after every change.
type Source interface {
	AccountID() string
	Changes() <-chan string
}

// Session is a mutable Source.
type Session struct {
	mu      sync.Mutex
	account string
	changes chan string
}

// NewSession returns a session signed in as accountID ("" for signed out).
func NewSession(accountID string) *Session {
	return &Session{account: accountID, changes: make(chan string, 1)}
}

// AccountID implements Source.
func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Changes implements Source. Only the latest unread change is kept.
func (s *Session) Changes() <-chan string {
	return s.changes
}

// SignIn switches the session to accountID.
func (s *Session) SignIn(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if accountID == s.account {
		return
	}
	s.account = accountID

	select {
	case <-s.changes:
	default:
	}
	s.changes <- accountID
}

// SignInWithIDToken signs in as the subject of an ID token.
func (s *Session) SignInWithIDToken(token string) error {
	sub, err := SubjectFromIDToken(token)
	if err != nil {
		return err
	}
	s.SignIn(sub)
	return nil
}

// SignOut clears the account.
func (s *Session) SignOut() {
	s.SignIn("")
}

// SubjectFromIDToken returns the sub claim of an ID token without verifying
// its signature.
func SubjectFromIDToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("failed to parse id token: %w", err)
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}
