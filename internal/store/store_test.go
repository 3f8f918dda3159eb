package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/store"
	"github.com/diamondlog/syncd/internal/store/storetest"
)

const account = "acct-1"

type recordingNotifier struct {
	mu      sync.Mutex
	changes []string
}

func (r *recordingNotifier) EntityChanged(kind schema.Kind, localID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, string(kind)+"/"+localID)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func TestMigrate_Idempotent(t *testing.T) {
	st := storetest.Open(t)
	require.NoError(t, st.Migrate())
	require.NoError(t, st.Migrate())
}

func TestDeviceID_Stable(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)

	first, err := st.DeviceID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	path := st.Path()
	require.NoError(t, st.Close())

	reopened, err := store.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	second, err := reopened.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSave_MarksDirtyAndNotifies(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	st := storetest.Open(t, store.WithClock(clock.Now))
	n := &recordingNotifier{}
	st.SetNotifier(n)

	p := storetest.NewEntity(schema.KindProfile, account, nil).(*schema.Profile)
	require.NoError(t, st.Save(ctx, p))

	got, err := st.Get(ctx, schema.KindProfile, p.LocalID)
	require.NoError(t, err)

	m := got.SyncMeta()
	assert.True(t, m.Dirty)
	assert.Zero(t, m.Version)
	assert.Empty(t, m.RemoteID)
	assert.False(t, m.ModifiedAt.IsZero())

	device, err := st.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, device, m.Origin)
	assert.Equal(t, "Casey Rivera", got.(*schema.Profile).Name)
	assert.Equal(t, 1, n.count())
}

func TestSave_RejectsInvalid(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)

	season := storetest.NewEntity(schema.KindSeason, account, nil)
	err := st.Save(ctx, season)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a parent")
}

func TestSave_PreservesSyncColumns(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)

	p := storetest.NewEntity(schema.KindProfile, account, nil).(*schema.Profile)
	require.NoError(t, st.Save(ctx, p))
	require.NoError(t, st.MarkUploaded(ctx, schema.KindProfile, p.LocalID, store.Ack{
		RemoteID:   "R1",
		Version:    1,
		ModifiedAt: mustGet(t, st, schema.KindProfile, p.LocalID).SyncMeta().ModifiedAt,
		SyncedAt:   time.Now(),
	}))

	// A caller holding a stale copy must not reset remote id or version.
	p.Name = "Casey R."
	require.NoError(t, st.Save(ctx, p))

	got := mustGet(t, st, schema.KindProfile, p.LocalID)
	assert.Equal(t, "R1", got.SyncMeta().RemoteID)
	assert.Equal(t, int64(1), got.SyncMeta().Version)
	assert.True(t, got.SyncMeta().Dirty)
}

func TestDelete_NeverUploadedIsRemoved(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)
	chain := storetest.SaveChain(t, st, account)

	require.NoError(t, st.Delete(ctx, schema.KindGame, chain.Game.LocalID))

	_, err := st.GetAny(ctx, schema.KindGame, chain.Game.LocalID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	clip, err := st.GetAny(ctx, schema.KindVideoClip, chain.Clip.LocalID)
	require.NoError(t, err)
	assert.True(t, clip.SyncMeta().Orphaned)
	assert.Empty(t, clip.SyncMeta().ParentLocalID)
}

func TestDelete_UploadedBecomesTombstone(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)
	chain := storetest.SaveChain(t, st, account)
	markUploaded(t, st, chain.Game, "G1", 1)

	require.NoError(t, st.Delete(ctx, schema.KindGame, chain.Game.LocalID))

	_, err := st.Get(ctx, schema.KindGame, chain.Game.LocalID)
	assert.ErrorIs(t, err, store.ErrNotFound, "deleted records are hidden from read paths")

	dirty, err := st.ListDirty(ctx, account, schema.KindGame)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.True(t, dirty[0].SyncMeta().Deleted)

	// Acknowledging the tombstone orphans the clip and allows purging.
	gm := dirty[0].SyncMeta()
	require.NoError(t, st.MarkUploaded(ctx, schema.KindGame, gm.LocalID, store.Ack{
		RemoteID: "G1", Version: 2, ModifiedAt: gm.ModifiedAt, SyncedAt: time.Now(),
	}))

	clip, err := st.GetAny(ctx, schema.KindVideoClip, chain.Clip.LocalID)
	require.NoError(t, err)
	assert.True(t, clip.SyncMeta().Orphaned)

	n, err := st.Purge(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestList_ExcludesDeletedRemotely(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)
	chain := storetest.SaveChain(t, st, account)
	markUploaded(t, st, chain.Game, "G1", 1)

	orphaned, err := st.MarkDeletedRemotely(ctx, schema.KindGame, chain.Game.LocalID, store.Tombstone{
		Version: 2, ModifiedAt: time.Now(), Origin: "other", SyncedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), orphaned)

	games, err := st.List(ctx, account, schema.KindGame)
	require.NoError(t, err)
	assert.Empty(t, games)

	children, err := st.Children(ctx, schema.KindGame, chain.Game.LocalID, schema.KindVideoClip)
	require.NoError(t, err)
	assert.Empty(t, children)

	all, err := st.ListAll(ctx, account, schema.KindGame)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].SyncMeta().DeletedRemotely)

	// Tombstone is unreferenced once the clip is orphaned.
	n, err := st.Purge(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err = st.ListAll(ctx, account, schema.KindGame)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestReservePendingRemoteID(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)
	p := storetest.NewEntity(schema.KindProfile, account, nil)
	require.NoError(t, st.Save(ctx, p))

	first, err := st.ReservePendingRemoteID(ctx, schema.KindProfile, p.SyncMeta().LocalID, "A")
	require.NoError(t, err)
	assert.Equal(t, "A", first)

	second, err := st.ReservePendingRemoteID(ctx, schema.KindProfile, p.SyncMeta().LocalID, "B")
	require.NoError(t, err)
	assert.Equal(t, "A", second, "a reserved id is reused by retries")

	localID, err := st.LocalIDByRemote(ctx, schema.KindProfile, "A")
	require.NoError(t, err)
	assert.Equal(t, p.SyncMeta().LocalID, localID)
}

func TestMarkUploaded_KeepsConcurrentEditDirty(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t, store.WithClock(storetest.NewClock(time.Now()).Now))
	p := storetest.NewEntity(schema.KindProfile, account, nil).(*schema.Profile)
	require.NoError(t, st.Save(ctx, p))
	uploaded := mustGet(t, st, schema.KindProfile, p.LocalID).SyncMeta().ModifiedAt

	// Edit lands while the upload is in flight.
	p.Name = "Edited"
	require.NoError(t, st.Save(ctx, p))

	require.NoError(t, st.MarkUploaded(ctx, schema.KindProfile, p.LocalID, store.Ack{
		RemoteID: "R1", Version: 1, ModifiedAt: uploaded, SyncedAt: time.Now(),
	}))

	got := mustGet(t, st, schema.KindProfile, p.LocalID)
	assert.True(t, got.SyncMeta().Dirty)
	assert.Equal(t, "R1", got.SyncMeta().RemoteID)
	assert.Equal(t, int64(1), got.SyncMeta().Version)
}

func TestApplyRemote_StaleBase(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t, store.WithClock(storetest.NewClock(time.Now()).Now))
	p := storetest.NewEntity(schema.KindProfile, account, nil).(*schema.Profile)
	require.NoError(t, st.Save(ctx, p))
	base := *mustGet(t, st, schema.KindProfile, p.LocalID).SyncMeta()

	p.Name = "Local edit"
	require.NoError(t, st.Save(ctx, p))

	incoming := storetest.NewEntity(schema.KindProfile, account, nil).(*schema.Profile)
	incoming.LocalID = p.LocalID
	incoming.Name = "Remote"
	err := st.ApplyRemote(ctx, incoming, &base)
	assert.ErrorIs(t, err, store.ErrStale)

	current := *mustGet(t, st, schema.KindProfile, p.LocalID).SyncMeta()
	incoming.RemoteID = "R1"
	incoming.Version = 3
	incoming.ModifiedAt = current.ModifiedAt.Add(time.Second)
	require.NoError(t, st.ApplyRemote(ctx, incoming, &current))

	got := mustGet(t, st, schema.KindProfile, p.LocalID).(*schema.Profile)
	assert.Equal(t, "Remote", got.Name)
	assert.Equal(t, int64(3), got.Version)
	assert.False(t, got.Dirty)
}

func TestWatermarks(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)

	wm, err := st.Watermark(ctx, account, schema.KindGame)
	require.NoError(t, err)
	assert.True(t, wm.IsZero())

	t1 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetWatermark(ctx, account, schema.KindGame, t1))
	require.NoError(t, st.SetWatermark(ctx, account, schema.KindGame, t1.Add(-time.Hour)))

	wm, err = st.Watermark(ctx, account, schema.KindGame)
	require.NoError(t, err)
	assert.True(t, wm.Equal(t1), "watermarks never move backwards")

	n, err := st.RewindWatermarks(ctx, account, t1.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, st.ResetSyncState(ctx, account))
	wm, err = st.Watermark(ctx, account, schema.KindGame)
	require.NoError(t, err)
	assert.True(t, wm.IsZero())
}

func TestSaveSnapshot_DirtyOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)
	chain := storetest.SaveChain(t, st, account)

	snap := storetest.NewEntity(schema.KindStatistics, account, chain.Game).(*schema.StatisticsSnapshot)
	snap.Counters.Hits = 1
	snap.PlayCount = 1

	changed, err := st.SaveSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.True(t, changed)

	stored, err := st.Snapshot(ctx, schema.KindGame, chain.Game.LocalID)
	require.NoError(t, err)
	require.NoError(t, st.MarkUploaded(ctx, schema.KindStatistics, stored.LocalID, store.Ack{
		RemoteID: "S1", Version: 1, ModifiedAt: stored.ModifiedAt, SyncedAt: time.Now(),
	}))

	again := storetest.NewEntity(schema.KindStatistics, account, chain.Game).(*schema.StatisticsSnapshot)
	again.Counters.Hits = 1
	again.PlayCount = 1
	again.ComputedAt = snap.ComputedAt.Add(time.Minute)
	changed, err = st.SaveSnapshot(ctx, again)
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err = st.Snapshot(ctx, schema.KindGame, chain.Game.LocalID)
	require.NoError(t, err)
	assert.False(t, stored.Dirty)
	assert.Equal(t, "S1", stored.RemoteID)
	assert.True(t, stored.ComputedAt.Equal(again.ComputedAt))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	st := storetest.Open(t)
	storetest.SaveChain(t, st, account)

	status, err := st.Status(ctx, account)
	require.NoError(t, err)
	require.Len(t, status, len(schema.SyncOrder))
	for _, ks := range status {
		switch ks.Kind {
		case schema.KindProfile, schema.KindSeason, schema.KindGame, schema.KindVideoClip:
			assert.Equal(t, 1, ks.Total, ks.Kind)
			assert.Equal(t, 1, ks.Dirty, ks.Kind)
		default:
			assert.Zero(t, ks.Total, ks.Kind)
		}
	}
}

func mustGet(t *testing.T, st *store.Store, kind schema.Kind, localID string) schema.Entity {
	t.Helper()
	e, err := st.GetAny(context.Background(), kind, localID)
	require.NoError(t, err)
	return e
}

func markUploaded(t *testing.T, st *store.Store, e schema.Entity, remoteID string, version int64) {
	t.Helper()
	m := mustGet(t, st, e.SyncMeta().Kind, e.SyncMeta().LocalID).SyncMeta()
	require.NoError(t, st.MarkUploaded(context.Background(), m.Kind, m.LocalID, store.Ack{
		RemoteID: remoteID, Version: version, ModifiedAt: m.ModifiedAt, SyncedAt: time.Now(),
	}))
}
