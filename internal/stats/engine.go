package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/store"
)

// Store is the part of the local store the engine reads and writes.
// *store.Store implements it.
type Store interface {
	Get(ctx context.Context, kind schema.Kind, localID string) (schema.Entity, error)
	List(ctx context.Context, accountID string, kind schema.Kind) ([]schema.Entity, error)
	Children(ctx context.Context, parentKind schema.Kind, parentLocalID string, childKind schema.Kind) ([]schema.Entity, error)
	Delete(ctx context.Context, kind schema.Kind, localID string) error
	SaveSnapshot(ctx context.Context, snap *schema.StatisticsSnapshot) (bool, error)
	Snapshot(ctx context.Context, scopeKind schema.Kind, scopeLocalID string) (*schema.StatisticsSnapshot, error)
	LatestPlayMutation(ctx context.Context, accountID string) (time.Time, error)
}

// Scope names the Game or Profile a snapshot aggregates.
type Scope struct {
	Kind    schema.Kind
	LocalID string
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s", s.Kind, s.LocalID)
}

// GameScope returns the scope of one game.
func GameScope(localID string) Scope {
	return Scope{Kind: schema.KindGame, LocalID: localID}
}

// ProfileScope returns the career scope of one profile.
func ProfileScope(localID string) Scope {
	return Scope{Kind: schema.KindProfile, LocalID: localID}
}

// Summary reports what RecomputeAccount did.
type Summary struct {
	Scopes  int
	Changed int
	Removed int
}

// Engine recomputes and stores statistics snapshots.
type Engine struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the clock stamping ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine returns an engine over st.
func NewEngine(st Store, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{store: st, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plays returns the de-duplicated visible plays in scope. A play is visible
// when it, its clip and its game are all alive. Plays on practice clips never
// count.
func (e *Engine) Plays(ctx context.Context, scope Scope) ([]*schema.PlayResult, error) {
	var games []schema.Entity
	switch scope.Kind {
	case schema.KindGame:
		g, err := e.store.Get(ctx, schema.KindGame, scope.LocalID)
		if err != nil {
			return nil, err
		}
		games = []schema.Entity{g}
	case schema.KindProfile:
		seasons, err := e.store.Children(ctx, schema.KindProfile, scope.LocalID, schema.KindSeason)
		if err != nil {
			return nil, err
		}
		for _, s := range seasons {
			gs, err := e.store.Children(ctx, schema.KindSeason, s.SyncMeta().LocalID, schema.KindGame)
			if err != nil {
				return nil, err
			}
			games = append(games, gs...)
		}
	default:
		return nil, fmt.Errorf("unsupported statistics scope %s", scope.Kind)
	}

	seen := make(map[string]bool)
	var plays []*schema.PlayResult
	for _, g := range games {
		clips, err := e.store.Children(ctx, schema.KindGame, g.SyncMeta().LocalID, schema.KindVideoClip)
		if err != nil {
			return nil, err
		}
		for _, clip := range clips {
			children, err := e.store.Children(ctx, schema.KindVideoClip, clip.SyncMeta().LocalID, schema.KindPlayResult)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				p := child.(*schema.PlayResult)
				if seen[p.LocalID] {
					continue
				}
				seen[p.LocalID] = true
				if err := p.ValidateEvent(); err != nil {
					e.logger.Warn().Err(err).Str("play", p.LocalID).Msg("excluding malformed play from statistics")
					continue
				}
				plays = append(plays, p)
			}
		}
	}
	return plays, nil
}

// Recompute rebuilds and stores the snapshot of scope.
func (e *Engine) Recompute(ctx context.Context, scope Scope) (*schema.StatisticsSnapshot, error) {
	snap, _, err := e.recompute(ctx, scope)
	return snap, err
}

func (e *Engine) recompute(ctx context.Context, scope Scope) (*schema.StatisticsSnapshot, bool, error) {
	owner, err := e.store.Get(ctx, scope.Kind, scope.LocalID)
	if err != nil {
		return nil, false, fmt.Errorf("statistics scope %s: %w", scope, err)
	}

	plays, err := e.Plays(ctx, scope)
	if err != nil {
		return nil, false, fmt.Errorf("failed to collect plays for %s: %w", scope, err)
	}

	counters := Compute(plays)
	snap := &schema.StatisticsSnapshot{
		ScopeKind:  scope.Kind,
		Counters:   counters,
		Rates:      Rates(counters),
		PlayCount:  len(plays),
		ComputedAt: e.now().UTC(),
	}
	m := snap.SyncMeta()
	m.Kind = schema.KindStatistics
	m.LocalID = schema.SnapshotLocalID(scope.Kind, scope.LocalID)
	m.AccountID = owner.SyncMeta().AccountID
	m.ParentKind = scope.Kind
	m.ParentLocalID = scope.LocalID

	changed, err := e.store.SaveSnapshot(ctx, snap)
	if err != nil {
		return nil, false, err
	}
	if changed {
		e.logger.Debug().
			Str("scope", scope.String()).
			Int("plays", snap.PlayCount).
			Float64("obp", snap.Rates.OnBasePercentage).
			Msg("statistics changed")
	}
	return snap, changed, nil
}

// RecomputeAccount rebuilds the snapshot of every game and profile of the
// account and deletes snapshots whose scope no longer exists.
func (e *Engine) RecomputeAccount(ctx context.Context, accountID string) (Summary, error) {
	var sum Summary

	for _, kind := range []schema.Kind{schema.KindGame, schema.KindProfile} {
		owners, err := e.store.List(ctx, accountID, kind)
		if err != nil {
			return sum, err
		}
		for _, owner := range owners {
			_, changed, err := e.recompute(ctx, Scope{Kind: kind, LocalID: owner.SyncMeta().LocalID})
			if err != nil {
				return sum, err
			}
			sum.Scopes++
			if changed {
				sum.Changed++
			}
		}
	}

	snaps, err := e.store.List(ctx, accountID, schema.KindStatistics)
	if err != nil {
		return sum, err
	}
	for _, s := range snaps {
		m := s.SyncMeta()
		if !m.Orphaned && m.ParentLocalID != "" {
			if _, err := e.store.Get(ctx, m.ParentKind, m.ParentLocalID); err == nil {
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return sum, err
			}
		}
		if err := e.store.Delete(ctx, schema.KindStatistics, m.LocalID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return sum, err
		}
		sum.Removed++
	}
	return sum, nil
}

// Current returns the stored snapshot of scope if nothing that feeds it has
// changed since it was computed, and recomputes it otherwise.
func (e *Engine) Current(ctx context.Context, scope Scope) (*schema.StatisticsSnapshot, error) {
	owner, err := e.store.Get(ctx, scope.Kind, scope.LocalID)
	if err != nil {
		return nil, fmt.Errorf("statistics scope %s: %w", scope, err)
	}

	snap, err := e.store.Snapshot(ctx, scope.Kind, scope.LocalID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return e.Recompute(ctx, scope)
	case err != nil:
		return nil, err
	}

	latest, err := e.store.LatestPlayMutation(ctx, owner.SyncMeta().AccountID)
	if err != nil {
		return nil, err
	}
	if !snap.ComputedAt.Before(latest) {
		return snap, nil
	}
	return e.Recompute(ctx, scope)
}
