package simulate

import (
	"context"
	"errors"
	"fmt"

	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/store"
	"github.com/diamondlog/syncd/internal/tracker"
)

var playTypes = []schema.PlayType{
	schema.PlaySingle, schema.PlaySingle, schema.PlayDouble, schema.PlayTriple,
	schema.PlayHomeRun, schema.PlayWalk, schema.PlayStrikeout, schema.PlayStrikeout,
	schema.PlayGroundout, schema.PlayFlyout, schema.PlayHitByPitch, schema.PlaySacrificeFly,
}

var opponents = []string{"Hawks", "Tigers", "Bears", "Owls", "Foxes", "Rams"}

func (d *Device) randomPlay() *schema.PlayResult {
	return &schema.PlayResult{
		Type:       playTypes[d.rng.Intn(len(playTypes))],
		Inning:     1 + d.rng.Intn(9),
		RecordedAt: simTime,
	}
}

func (d *Device) pick(ctx context.Context, kind schema.Kind) (schema.Entity, error) {
	all, err := d.Store.List(ctx, d.account, kind)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[d.rng.Intn(len(all))], nil
}

// gameClip returns a clip attached to a visible game.
func (d *Device) gameClip(ctx context.Context) (schema.Entity, error) {
	clips, err := d.Store.List(ctx, d.account, schema.KindVideoClip)
	if err != nil {
		return nil, err
	}
	var candidates []schema.Entity
	for _, c := range clips {
		m := c.SyncMeta()
		if m.ParentKind != schema.KindGame || m.ParentLocalID == "" {
			continue
		}
		if _, err := d.Store.Get(ctx, schema.KindGame, m.ParentLocalID); err == nil {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates[d.rng.Intn(len(candidates))], nil
}

// edit makes one random change through the tracker.
func (d *Device) edit(ctx context.Context) error {
	err := d.randomEdit(ctx)
	// Random edits can land on records whose parents another device deleted.
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, tracker.ErrNotGameClip) {
		return nil
	}
	return err
}

func (d *Device) randomEdit(ctx context.Context) error {
	switch n := d.rng.Intn(12); {
	case n < 2:
		return d.newGame(ctx)
	case n < 7:
		clip, err := d.gameClip(ctx)
		if err != nil {
			return err
		}
		if clip == nil {
			return d.newGame(ctx)
		}
		return d.Tracker.RecordPlay(ctx, clip.SyncMeta().LocalID, d.randomPlay())
	case n == 7:
		play, err := d.pick(ctx, schema.KindPlayResult)
		if err != nil || play == nil || play.SyncMeta().ParentLocalID == "" {
			return err
		}
		return d.Tracker.EditPlay(ctx, play.SyncMeta().LocalID, d.randomPlay())
	case n == 8:
		play, err := d.pick(ctx, schema.KindPlayResult)
		if err != nil || play == nil {
			return err
		}
		return d.Tracker.DeletePlay(ctx, play.SyncMeta().LocalID)
	case n == 9:
		game, err := d.pick(ctx, schema.KindGame)
		if err != nil || game == nil {
			return err
		}
		_, err = d.Tracker.UpdateGame(ctx, game.SyncMeta().LocalID, func(g *schema.Game) {
			g.Opponent = opponents[d.rng.Intn(len(opponents))]
			g.TeamRuns = d.rng.Intn(10)
			g.OpponentRuns = d.rng.Intn(10)
		})
		return err
	case n == 10:
		game, err := d.pick(ctx, schema.KindGame)
		if err != nil || game == nil {
			return err
		}
		_, err = d.Tracker.FinalizeGame(ctx, game.SyncMeta().LocalID)
		return err
	default:
		games, err := d.Store.List(ctx, d.account, schema.KindGame)
		if err != nil || len(games) < 3 {
			return err
		}
		return d.Tracker.DeleteGame(ctx, games[d.rng.Intn(len(games))].SyncMeta().LocalID)
	}
}

func (d *Device) newGame(ctx context.Context) error {
	season, err := d.pick(ctx, schema.KindSeason)
	if err != nil {
		return err
	}
	if season == nil {
		return fmt.Errorf("no season on %s", d.Name)
	}
	game := &schema.Game{
		Opponent: opponents[d.rng.Intn(len(opponents))],
		PlayedAt: simTime,
		Home:     d.rng.Intn(2) == 0,
	}
	if err := d.Tracker.CreateGame(ctx, season.SyncMeta().LocalID, game); err != nil {
		return err
	}
	clip := &schema.VideoClip{FileName: "at-bat.mov", RecordedAt: simTime}
	return d.Tracker.AttachClip(ctx, schema.KindGame, game.LocalID, clip, nil)
}
