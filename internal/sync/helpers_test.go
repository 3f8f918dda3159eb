package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/diamondlog/syncd/internal/remote"
	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/stats"
	"github.com/diamondlog/syncd/internal/store"
	"github.com/diamondlog/syncd/internal/store/storetest"
)

const account = "acct-1"

// manualClock returns a settable time that advances by step on every read.
type manualClock struct {
	mu   gosync.Mutex
	now  time.Time
	step time.Duration
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start, step: time.Millisecond}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Freeze stops the clock at t until Unfreeze.
func (c *manualClock) Freeze(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now, c.step = t, 0
}

func (c *manualClock) Unfreeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = time.Millisecond
}

// device is one simulated installation sharing a remote store.
type device struct {
	st    *store.Store
	coord *Coordinator
	clock *manualClock
}

func newDevice(t *testing.T, rs remote.Store) *device {
	t.Helper()
	clock := newManualClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	st := storetest.Open(t, store.WithClock(clock.Now))
	engine := stats.NewEngine(st, zerolog.Nop(), stats.WithClock(clock.Now))

	cfg := DefaultConfig()
	cfg.Now = clock.Now
	return &device{st: st, coord: New(st, rs, engine, cfg), clock: clock}
}

func (d *device) pass(t *testing.T) *Report {
	t.Helper()
	report, err := d.coord.RunPass(context.Background(), account)
	require.NoError(t, err)
	return report
}

// records returns every record of kind including tombstones.
func (d *device) records(t *testing.T, kind schema.Kind) []schema.Entity {
	t.Helper()
	all, err := d.st.ListAll(context.Background(), account, kind)
	require.NoError(t, err)
	return all
}

// versions maps kind and remote id to version for every record of every kind.
func (d *device) versions(t *testing.T) map[string]int64 {
	t.Helper()
	out := make(map[string]int64)
	for _, kind := range schema.SyncOrder {
		for _, e := range d.records(t, kind) {
			m := e.SyncMeta()
			out[string(kind)+"/"+m.RemoteID] = m.Version
		}
	}
	return out
}

func (d *device) mustGet(t *testing.T, kind schema.Kind, localID string) schema.Entity {
	t.Helper()
	e, err := d.st.GetAny(context.Background(), kind, localID)
	require.NoError(t, err)
	return e
}

// localByRemote finds the local record holding remoteID.
func (d *device) localByRemote(t *testing.T, kind schema.Kind, remoteID string) schema.Entity {
	t.Helper()
	e, err := d.st.GetByRemoteID(context.Background(), kind, remoteID)
	require.NoError(t, err)
	return e
}

// assertClean checks that nothing is waiting for upload and that every
// acknowledged record matches the remote document version.
func assertClean(t *testing.T, d *device, rs *remote.MemoryStore) {
	t.Helper()
	remoteVersions := make(map[string]int64)
	for _, doc := range rs.Documents() {
		remoteVersions[doc.ID] = doc.Version
	}
	for _, kind := range schema.SyncOrder {
		for _, e := range d.records(t, kind) {
			m := e.SyncMeta()
			require.False(t, m.Dirty, "%s %s still dirty", kind, m.LocalID)
			require.NotEmpty(t, m.RemoteID, "%s %s has no remote id", kind, m.LocalID)
			require.Equal(t, remoteVersions[m.RemoteID], m.Version, "%s %s version", kind, m.LocalID)
		}
	}
}
