package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/tracker"
)

var recordCmd = &cobra.Command{
	Use:     "record",
	GroupID: "sync",
	Short:   "Record plays and finalize games on this device",
	Long: `Write tracking data into the local database the way the app does.

Changes are marked for upload; a running daemon picks them up through its
database watcher, otherwise the next "syncd pass" uploads them.`,
}

var recordPlayCmd = &cobra.Command{
	Use:   "play <clip-id> <type>",
	Short: "Record a play result on a game clip",
	Long: `Record a play result on a clip attached to a game.

Types: single, double, triple, home_run, walk, strikeout, groundout, flyout,
hit_by_pitch, sacrifice_fly. Game and career statistics are recomputed.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		inning, _ := cmd.Flags().GetInt("inning")
		runs, _ := cmd.Flags().GetInt("runs")
		rbis, _ := cmd.Flags().GetInt("rbis")
		play, err := parsePlay(args[1], inning, runs, rbis, time.Now().UTC())
		if err != nil {
			fail("%v", err)
		}

		withTracker(cmd, func(ctx context.Context, svc *tracker.Service) error {
			if err := svc.RecordPlay(ctx, args[0], play); err != nil {
				return err
			}
			fmt.Printf("%s Recorded %s %s\n", renderPass("✓"), play.Type, renderMuted(play.LocalID))
			return nil
		})
	},
}

var recordDeletePlayCmd = &cobra.Command{
	Use:   "delete-play <play-id>",
	Short: "Delete a play result",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withTracker(cmd, func(ctx context.Context, svc *tracker.Service) error {
			if err := svc.DeletePlay(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s Deleted play %s\n", renderPass("✓"), renderMuted(args[0]))
			return nil
		})
	},
}

var recordFinalizeCmd = &cobra.Command{
	Use:   "finalize <game-id>",
	Short: "Finalize a game and recompute its box score",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withTracker(cmd, func(ctx context.Context, svc *tracker.Service) error {
			snap, err := svc.FinalizeGame(ctx, args[0])
			if err != nil {
				return err
			}
			if ok, err := structured(os.Stdout, snap); ok {
				return err
			}
			c, r := snap.Counters, snap.Rates
			fmt.Printf("%s Finalized game %s\n", renderPass("✓"), renderMuted(args[0]))
			fmt.Printf("  %d-for-%d, %d BB, %d HR  AVG %s  OBP %s  SLG %s\n",
				c.Hits, c.AtBats, c.Walks, c.HomeRuns,
				rate(r.BattingAverage), rate(r.OnBasePercentage), rate(r.Slugging))
			return nil
		})
	},
}

func init() {
	recordPlayCmd.Flags().Int("inning", 0, "inning of the plate appearance")
	recordPlayCmd.Flags().Int("runs", 0, "1 if the batter scored")
	recordPlayCmd.Flags().Int("rbis", 0, "runs batted in")

	recordCmd.AddCommand(recordPlayCmd, recordDeletePlayCmd, recordFinalizeCmd)
	rootCmd.AddCommand(recordCmd)
}

// withTracker runs fn against the local write path and exits on error.
func withTracker(cmd *cobra.Command, fn func(ctx context.Context, svc *tracker.Service) error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fail("%v", err)
	}
	ctx := context.Background()
	var svc *tracker.Service
	if err := withApp(ctx, cfg, func() error { return fn(ctx, svc) }, &svc); err != nil {
		fail("%v", err)
	}
}

// parsePlay builds a play result from command-line values.
func parsePlay(typ string, inning, runs, rbis int, at time.Time) (*schema.PlayResult, error) {
	p := &schema.PlayResult{
		Type:       schema.PlayType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(typ)), "-", "_")),
		Inning:     inning,
		Runs:       runs,
		RBIs:       rbis,
		RecordedAt: at,
	}
	if err := p.ValidateEvent(); err != nil {
		return nil, err
	}
	return p, nil
}
