// Package tracker is the local write path used by the app: it creates and
// edits records, and keeps game and career statistics current after every
// change to the set of plays.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/diamondlog/syncd/internal/media"
	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/stats"
	"github.com/diamondlog/syncd/internal/store"
)

// ErrNotGameClip is returned when a play is recorded on a practice clip.
var ErrNotGameClip = errors.New("plays can only be recorded on game clips")

// Service applies user edits to the local store.
type Service struct {
	store  *store.Store
	stats  *stats.Engine
	media  *media.FSResolver
	logger zerolog.Logger
}

// New returns a service writing to st. files may be nil when clip bytes are
// not managed by this process.
func New(st *store.Store, engine *stats.Engine, files *media.FSResolver, logger zerolog.Logger) *Service {
	return &Service{store: st, stats: engine, media: files, logger: logger}
}

func newMeta(e schema.Entity, accountID string, parent schema.Entity) {
	m := e.SyncMeta()
	m.Kind = schema.KindOf(e)
	m.LocalID = uuid.NewString()
	m.AccountID = accountID
	if parent != nil {
		pm := parent.SyncMeta()
		m.AccountID = pm.AccountID
		m.ParentKind = pm.Kind
		m.ParentLocalID = pm.LocalID
	}
}

func (s *Service) create(ctx context.Context, e schema.Entity, accountID string, parent schema.Entity) error {
	newMeta(e, accountID, parent)
	if err := s.store.Save(ctx, e); err != nil {
		return fmt.Errorf("failed to create %s: %w", e.SyncMeta().Kind, err)
	}
	return nil
}

// CreateProfile stores a new profile for accountID.
func (s *Service) CreateProfile(ctx context.Context, accountID string, p *schema.Profile) error {
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	return s.create(ctx, p, accountID, nil)
}

// CreateSeason stores a new season under a profile.
func (s *Service) CreateSeason(ctx context.Context, profileID string, season *schema.Season) error {
	parent, err := s.store.Get(ctx, schema.KindProfile, profileID)
	if err != nil {
		return err
	}
	return s.create(ctx, season, "", parent)
}

// CreateGame stores a new game under a season.
func (s *Service) CreateGame(ctx context.Context, seasonID string, g *schema.Game) error {
	parent, err := s.store.Get(ctx, schema.KindSeason, seasonID)
	if err != nil {
		return err
	}
	if err := s.create(ctx, g, "", parent); err != nil {
		return err
	}
	_, err = s.stats.Recompute(ctx, stats.GameScope(g.LocalID))
	return err
}

// CreatePractice stores a new practice under a season.
func (s *Service) CreatePractice(ctx context.Context, seasonID string, p *schema.Practice) error {
	parent, err := s.store.Get(ctx, schema.KindSeason, seasonID)
	if err != nil {
		return err
	}
	return s.create(ctx, p, "", parent)
}

// AttachClip stores clip under a game or practice. When src is not nil the
// bytes are kept in the media directory under a new storage reference.
func (s *Service) AttachClip(ctx context.Context, parentKind schema.Kind, parentID string, clip *schema.VideoClip, src io.Reader) error {
	if !schema.KindVideoClip.AcceptsParent(parentKind) {
		return fmt.Errorf("a video clip cannot belong to %s", parentKind)
	}
	parent, err := s.store.Get(ctx, parentKind, parentID)
	if err != nil {
		return err
	}

	if src != nil && s.media != nil {
		ref, err := media.NewRef(parent.SyncMeta().AccountID, clip.FileName)
		if err != nil {
			return err
		}
		p, err := s.media.Put(ref, src)
		if err != nil {
			return err
		}
		clip.StorageRef = ref
		clip.LocalPath = p
	}
	return s.create(ctx, clip, "", parent)
}

// RecordPlay stores a play on a game clip and refreshes statistics.
func (s *Service) RecordPlay(ctx context.Context, clipID string, p *schema.PlayResult) error {
	clip, err := s.store.Get(ctx, schema.KindVideoClip, clipID)
	if err != nil {
		return err
	}
	if clip.SyncMeta().ParentKind != schema.KindGame {
		return ErrNotGameClip
	}
	if err := s.create(ctx, p, "", clip); err != nil {
		return err
	}
	return s.refresh(ctx, clip)
}

// DeletePlay deletes a play and refreshes statistics.
func (s *Service) DeletePlay(ctx context.Context, playID string) error {
	play, err := s.store.Get(ctx, schema.KindPlayResult, playID)
	if err != nil {
		return err
	}
	clip, err := s.parent(ctx, play)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, schema.KindPlayResult, playID); err != nil {
		return err
	}
	if clip == nil {
		return nil
	}
	return s.refresh(ctx, clip)
}

// EditPlay replaces a play. Plays are immutable, so the old one is deleted
// and replacement is recorded on the same clip.
func (s *Service) EditPlay(ctx context.Context, playID string, replacement *schema.PlayResult) error {
	play, err := s.store.Get(ctx, schema.KindPlayResult, playID)
	if err != nil {
		return err
	}
	clipID := play.SyncMeta().ParentLocalID
	if clipID == "" {
		return fmt.Errorf("play %s is not attached to a clip", playID)
	}
	if err := replacement.ValidateEvent(); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, schema.KindPlayResult, playID); err != nil {
		return err
	}
	return s.RecordPlay(ctx, clipID, replacement)
}

// UpdateGame applies fn to a game and saves it.
func (s *Service) UpdateGame(ctx context.Context, gameID string, fn func(g *schema.Game)) (*schema.Game, error) {
	e, err := s.store.Get(ctx, schema.KindGame, gameID)
	if err != nil {
		return nil, err
	}
	g := e.(*schema.Game)
	fn(g)
	if err := s.store.Save(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// FinalizeGame marks a game final and recomputes its statistics. Calling it
// again recomputes without changing the totals.
func (s *Service) FinalizeGame(ctx context.Context, gameID string) (*schema.StatisticsSnapshot, error) {
	e, err := s.store.Get(ctx, schema.KindGame, gameID)
	if err != nil {
		return nil, err
	}
	g := e.(*schema.Game)
	if !g.Finalized {
		g.Finalized = true
		if err := s.store.Save(ctx, g); err != nil {
			return nil, err
		}
	}

	snap, err := s.stats.Recompute(ctx, stats.GameScope(gameID))
	if err != nil {
		return nil, err
	}
	if err := s.refreshProfile(ctx, g); err != nil {
		return nil, err
	}
	return snap, nil
}

// DeleteGame deletes a game. Its clips and plays are kept and stop counting
// toward career statistics.
func (s *Service) DeleteGame(ctx context.Context, gameID string) error {
	e, err := s.store.Get(ctx, schema.KindGame, gameID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, schema.KindGame, gameID); err != nil {
		return err
	}
	_, err = s.stats.RecomputeAccount(ctx, e.SyncMeta().AccountID)
	return err
}

// refresh recomputes the game and profile snapshots above a clip.
func (s *Service) refresh(ctx context.Context, clip schema.Entity) error {
	cm := clip.SyncMeta()
	if cm.ParentKind != schema.KindGame || cm.ParentLocalID == "" {
		return nil
	}
	game, err := s.store.Get(ctx, schema.KindGame, cm.ParentLocalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.stats.Recompute(ctx, stats.GameScope(cm.ParentLocalID)); err != nil {
		return err
	}
	return s.refreshProfile(ctx, game)
}

func (s *Service) refreshProfile(ctx context.Context, game schema.Entity) error {
	season, err := s.parent(ctx, game)
	if err != nil || season == nil {
		return err
	}
	profile, err := s.parent(ctx, season)
	if err != nil || profile == nil {
		return err
	}
	_, err = s.stats.Recompute(ctx, stats.ProfileScope(profile.SyncMeta().LocalID))
	return err
}

// parent returns the visible parent of e, or nil if it has none.
func (s *Service) parent(ctx context.Context, e schema.Entity) (schema.Entity, error) {
	m := e.SyncMeta()
	if m.ParentLocalID == "" {
		return nil, nil
	}
	p, err := s.store.Get(ctx, m.ParentKind, m.ParentLocalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return p, err
}
