package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/diamondlog/syncd/internal/adapter"
	"github.com/diamondlog/syncd/internal/logging"
	"github.com/diamondlog/syncd/internal/remote"
	"github.com/diamondlog/syncd/internal/simulate"
)

var simulateCmd = &cobra.Command{
	Use:     "simulate",
	GroupID: "maint",
	Short:   "Simulate several devices syncing one account",
	Long: `Run several simulated devices against a shared in-memory remote store.

Every round each device makes random edits (new games and clips, plays,
edits, deletions, finalized games) and then all devices sync concurrently.
Devices randomly go offline for a round. At the end every device syncs until
quiet and the stores are compared record by record.

Examples:
  syncd simulate
  syncd simulate --devices 5 --rounds 20 --offline 0.3
  syncd simulate --policy remote-wins --json`,
	Run: func(cmd *cobra.Command, args []string) {
		devices, _ := cmd.Flags().GetInt("devices")
		rounds, _ := cmd.Flags().GetInt("rounds")
		edits, _ := cmd.Flags().GetInt("edits")
		offline, _ := cmd.Flags().GetFloat64("offline")
		seed, _ := cmd.Flags().GetInt64("seed")
		keep, _ := cmd.Flags().GetBool("keep")
		verbose, _ := cmd.Flags().GetBool("verbose")
		policyName, _ := cmd.Flags().GetString("policy")

		policy, err := adapter.ParsePolicy(policyName)
		if err != nil {
			fail("%v", err)
		}

		dir, err := os.MkdirTemp("", "syncd-simulate-")
		if err != nil {
			fail("%v", err)
		}
		if !keep {
			defer os.RemoveAll(dir)
		}

		opts := simulate.DefaultOptions(dir)
		opts.Devices = devices
		opts.Rounds = rounds
		opts.EditsPerRound = edits
		opts.OfflineChance = offline
		opts.Seed = seed
		opts.Policy = policy
		if verbose {
			lc := logging.DefaultConfig()
			lc.Level = "debug"
			logger, closer, err := logging.New(lc, os.Stderr)
			if err != nil {
				fail("%v", err)
			}
			defer closer.Close()
			opts.Logger = logger
		}

		ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
		defer cancel()

		fmt.Fprintf(os.Stderr, "Simulating %d devices, %d rounds, %d edits per round (%s)...\n",
			devices, rounds, edits, policy)

		h, err := simulate.New(ctx, remote.NewMemoryStore(), opts)
		if err != nil {
			fail("%v", err)
		}
		res, err := h.Run(ctx)
		_ = h.Close()
		if err != nil {
			fail("simulation failed: %v", err)
		}

		if ok, err := structured(os.Stdout, res); ok {
			if err != nil {
				fail("%v", err)
			}
		} else {
			fmt.Println()
			res.PrintSummary(os.Stdout)
		}
		if keep {
			fmt.Fprintf(os.Stderr, "Device databases kept in %s\n", dir)
		}
		if !res.Converged {
			fail("devices did not converge")
		}
		fmt.Fprintf(os.Stderr, "%s Devices converged\n", renderPass("✓"))
	},
}

func init() {
	simulateCmd.Flags().Int("devices", 3, "number of devices")
	simulateCmd.Flags().Int("rounds", 10, "edit and sync rounds")
	simulateCmd.Flags().Int("edits", 6, "edits per device per round")
	simulateCmd.Flags().Float64("offline", 0.2, "chance a device is offline for a round (0.0-1.0)")
	simulateCmd.Flags().Int64("seed", 42, "random seed")
	simulateCmd.Flags().Bool("keep", false, "keep the device databases")
	simulateCmd.Flags().BoolP("verbose", "v", false, "log every pass")
	rootCmd.AddCommand(simulateCmd)
}
