package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/diamondlog/syncd/internal/schema"
)

func TestResolve(t *testing.T) {
	a := NewGame(newFakeLookup())

	game := func(modified time.Time, origin, opponent string) *schema.Game {
		g := newGame("game-1", "season-1")
		g.RemoteID = "G1"
		g.ModifiedAt = modified
		g.Origin = origin
		g.Opponent = opponent
		return g
	}

	later := at.Add(time.Second)
	tests := []struct {
		name     string
		local    *schema.Game
		incoming *schema.Game
		policy   Policy
		want     Outcome
		echo     bool
	}{
		{"remote newer", game(at, "a", "x"), game(later, "b", "y"), LastWriteWins, TakeRemote, false},
		{"local newer", game(later, "a", "x"), game(at, "b", "y"), LastWriteWins, KeepLocal, false},
		{"tie larger origin local", game(at, "b", "x"), game(at, "a", "y"), LastWriteWins, KeepLocal, false},
		{"tie larger origin remote", game(at, "a", "x"), game(at, "b", "y"), LastWriteWins, TakeRemote, false},
		{"own write echo", game(at, "a", "x"), game(at, "a", "x"), LastWriteWins, TakeRemote, true},
		{"remote wins policy", game(later, "a", "x"), game(at, "b", "y"), RemoteWins, TakeRemote, false},
		{"local wins policy", game(at, "a", "x"), game(later, "b", "y"), LocalWins, KeepLocal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Resolve(tt.local, tt.incoming, tt.policy)
			assert.Equal(t, tt.want, got.Outcome, got.Reason)
			assert.Equal(t, tt.echo, got.Echo)
		})
	}
}

func TestResolve_NoLocal(t *testing.T) {
	a := NewGame(newFakeLookup())
	got := a.Resolve(nil, newGame("game-1", "season-1"), LastWriteWins)
	assert.Equal(t, TakeRemote, got.Outcome)
}

// Two devices resolving the same pair of writes from opposite sides must
// agree on the winner.
func TestResolve_TieIsSymmetric(t *testing.T) {
	a := NewGame(newFakeLookup())

	x := newGame("game-1", "season-1")
	x.RemoteID, x.Origin, x.Opponent = "G1", "device-a", "Tigers"
	y := newGame("game-1", "season-1")
	y.RemoteID, y.Origin, y.Opponent = "G1", "device-b", "Lions"

	onA := a.Resolve(x, y, LastWriteWins)
	onB := a.Resolve(y, x, LastWriteWins)
	assert.NotEqual(t, onA.Outcome, onB.Outcome)
	assert.Equal(t, TakeRemote, onA.Outcome, "device-b has the larger origin")

	// Same origin and time but different content falls through to fields.
	y.Origin = "device-a"
	onA = a.Resolve(x, y, LastWriteWins)
	onB = a.Resolve(y, x, LastWriteWins)
	assert.NotEqual(t, onA.Outcome, onB.Outcome)
	assert.Equal(t, KeepLocal, onA.Outcome, "Tigers sorts after Lions")
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{
		"":            LastWriteWins,
		"lww":         LastWriteWins,
		"remote-wins": RemoteWins,
		"Local":       LocalWins,
	} {
		got, err := ParsePolicy(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePolicy("merge")
	assert.Error(t, err)
}
