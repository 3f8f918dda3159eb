// Package storetest provides helpers for tests that need a migrated local store.
package storetest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/store"
)

// Open returns a migrated store in a temporary directory, closed on cleanup.
func Open(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "syncd.db")
	st, err := store.Open(path, opts...)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.MigrateContext(context.Background()); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return st
}

// Clock is a manual clock that advances one millisecond on every reading so
// consecutive writes get distinct modification times.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current time and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewEntity returns an entity of kind with fresh local id, owned by accountID
// and attached to parent (nil for profiles).
func NewEntity(kind schema.Kind, accountID string, parent schema.Entity) schema.Entity {
	e, err := schema.New(kind)
	if err != nil {
		panic(err)
	}
	m := e.SyncMeta()
	m.LocalID = uuid.NewString()
	m.AccountID = accountID
	if parent != nil {
		pm := parent.SyncMeta()
		m.ParentKind = pm.Kind
		m.ParentLocalID = pm.LocalID
	}

	at := time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC)
	switch v := e.(type) {
	case *schema.Profile:
		v.Name = "Casey Rivera"
		v.Position = "SS"
	case *schema.Season:
		v.Name = "Spring"
		v.Year = 2026
	case *schema.Game:
		v.Opponent = "Tigers"
		v.PlayedAt = at
	case *schema.Practice:
		v.Title = "Batting cage"
		v.PracticedAt = at
	case *schema.VideoClip:
		v.FileName = "clip.mov"
		v.RecordedAt = at
		v.Duration = 12 * time.Second
	case *schema.PlayResult:
		v.Type = schema.PlaySingle
		v.RecordedAt = at
	case *schema.StatisticsSnapshot:
		if parent != nil {
			v.ScopeKind = parent.SyncMeta().Kind
			m.LocalID = schema.SnapshotLocalID(v.ScopeKind, parent.SyncMeta().LocalID)
		}
		v.ComputedAt = at
	}
	return e
}

// Chain is a profile → season → game → clip hierarchy.
type Chain struct {
	Profile *schema.Profile
	Season  *schema.Season
	Game    *schema.Game
	Clip    *schema.VideoClip
}

// SaveChain creates and saves a full hierarchy for accountID.
func SaveChain(t testing.TB, st *store.Store, accountID string) Chain {
	t.Helper()
	ctx := context.Background()

	var c Chain
	c.Profile = NewEntity(schema.KindProfile, accountID, nil).(*schema.Profile)
	c.Season = NewEntity(schema.KindSeason, accountID, c.Profile).(*schema.Season)
	c.Game = NewEntity(schema.KindGame, accountID, c.Season).(*schema.Game)
	c.Clip = NewEntity(schema.KindVideoClip, accountID, c.Game).(*schema.VideoClip)

	for _, e := range []schema.Entity{c.Profile, c.Season, c.Game, c.Clip} {
		if err := st.Save(ctx, e); err != nil {
			t.Fatalf("Save(%s) failed: %v", e.SyncMeta().Kind, err)
		}
	}
	return c
}

// SavePlay records a play of type pt on clip.
func SavePlay(t testing.TB, st *store.Store, clip *schema.VideoClip, pt schema.PlayType) *schema.PlayResult {
	t.Helper()

	p := NewEntity(schema.KindPlayResult, clip.AccountID, clip).(*schema.PlayResult)
	p.Type = pt
	if err := st.Save(context.Background(), p); err != nil {
		t.Fatalf("Save(play) failed: %v", err)
	}
	return p
}
