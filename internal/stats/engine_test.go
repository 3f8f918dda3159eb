package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/stats"
	"github.com/diamondlog/syncd/internal/store"
	"github.com/diamondlog/syncd/internal/store/storetest"
)

const account = "acct-1"

func setup(t *testing.T) (*store.Store, *stats.Engine, *storetest.Clock) {
	t.Helper()
	clock := storetest.NewClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	st := storetest.Open(t, store.WithClock(clock.Now))
	return st, stats.NewEngine(st, zerolog.Nop(), stats.WithClock(clock.Now)), clock
}

func TestRecompute_FinalizeTwiceDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	st, engine, _ := setup(t)
	chain := storetest.SaveChain(t, st, account)
	for _, pt := range []schema.PlayType{schema.PlaySingle, schema.PlayStrikeout, schema.PlayWalk} {
		storetest.SavePlay(t, st, chain.Clip, pt)
	}

	first, err := engine.Recompute(ctx, stats.GameScope(chain.Game.LocalID))
	require.NoError(t, err)
	second, err := engine.Recompute(ctx, stats.GameScope(chain.Game.LocalID))
	require.NoError(t, err)

	assert.Equal(t, 2, first.Counters.AtBats)
	assert.Equal(t, first.Counters, second.Counters)
	assert.Equal(t, 3, second.PlayCount)
}

func TestRecompute_ExcludesDeletedClipAndPlay(t *testing.T) {
	ctx := context.Background()
	st, engine, _ := setup(t)
	chain := storetest.SaveChain(t, st, account)
	storetest.SavePlay(t, st, chain.Clip, schema.PlayHomeRun)
	removed := storetest.SavePlay(t, st, chain.Clip, schema.PlayDouble)

	other := storetest.NewEntity(schema.KindVideoClip, account, chain.Game)
	require.NoError(t, st.Save(ctx, other))
	storetest.SavePlay(t, st, other.(*schema.VideoClip), schema.PlayTriple)

	snap, err := engine.Recompute(ctx, stats.GameScope(chain.Game.LocalID))
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Counters.Hits)

	require.NoError(t, st.Delete(ctx, schema.KindPlayResult, removed.LocalID))
	require.NoError(t, st.Delete(ctx, schema.KindVideoClip, other.SyncMeta().LocalID))

	snap, err = engine.Recompute(ctx, stats.GameScope(chain.Game.LocalID))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Counters.Hits)
	assert.Equal(t, 1, snap.Counters.HomeRuns)
	assert.Equal(t, 4, snap.Counters.TotalBases)
}

func TestRecompute_ProfileSpansSeasonsAndSkipsPractice(t *testing.T) {
	ctx := context.Background()
	st, engine, _ := setup(t)
	chain := storetest.SaveChain(t, st, account)
	storetest.SavePlay(t, st, chain.Clip, schema.PlaySingle)

	season2 := storetest.NewEntity(schema.KindSeason, account, chain.Profile)
	game2 := storetest.NewEntity(schema.KindGame, account, season2)
	clip2 := storetest.NewEntity(schema.KindVideoClip, account, game2)
	practice := storetest.NewEntity(schema.KindPractice, account, season2)
	practiceClip := storetest.NewEntity(schema.KindVideoClip, account, practice)
	for _, e := range []schema.Entity{season2, game2, clip2, practice, practiceClip} {
		require.NoError(t, st.Save(ctx, e))
	}
	storetest.SavePlay(t, st, clip2.(*schema.VideoClip), schema.PlayDouble)
	storetest.SavePlay(t, st, practiceClip.(*schema.VideoClip), schema.PlayHomeRun)

	snap, err := engine.Recompute(ctx, stats.ProfileScope(chain.Profile.LocalID))
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Counters.Hits)
	assert.Zero(t, snap.Counters.HomeRuns, "practice plays do not count")
	assert.Equal(t, schema.KindProfile, snap.ScopeKind)
}

func TestRecomputeAccount(t *testing.T) {
	ctx := context.Background()
	st, engine, _ := setup(t)
	chain := storetest.SaveChain(t, st, account)
	storetest.SavePlay(t, st, chain.Clip, schema.PlaySingle)

	sum, err := engine.RecomputeAccount(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Scopes)
	assert.Equal(t, 2, sum.Changed)

	sum, err = engine.RecomputeAccount(ctx, account)
	require.NoError(t, err)
	assert.Zero(t, sum.Changed, "unchanged plays do not dirty snapshots")

	// Removing the game removes its snapshot too.
	require.NoError(t, st.Delete(ctx, schema.KindGame, chain.Game.LocalID))
	sum, err = engine.RecomputeAccount(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Removed)

	_, err = st.Snapshot(ctx, schema.KindGame, chain.Game.LocalID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCurrent(t *testing.T) {
	ctx := context.Background()
	st, engine, _ := setup(t)
	chain := storetest.SaveChain(t, st, account)
	storetest.SavePlay(t, st, chain.Clip, schema.PlaySingle)
	scope := stats.GameScope(chain.Game.LocalID)

	first, err := engine.Current(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Counters.Hits)

	same, err := engine.Current(ctx, scope)
	require.NoError(t, err)
	assert.True(t, same.ComputedAt.Equal(first.ComputedAt), "fresh snapshots are reused")

	storetest.SavePlay(t, st, chain.Clip, schema.PlayDouble)
	updated, err := engine.Current(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Counters.Hits)
}
