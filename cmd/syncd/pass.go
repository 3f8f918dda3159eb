package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/diamondlog/syncd/internal/auth"
	"github.com/diamondlog/syncd/internal/sync"
)

var passCmd = &cobra.Command{
	Use:     "pass",
	GroupID: "sync",
	Short:   "Run one sync pass and print its report",
	Long: `Run a single sync pass for the configured account.

Each kind is uploaded parent-first and then downloaded since its watermark.
Entities that fail transiently stay dirty and are retried by the next pass.
The command exits non-zero when the pass could not complete or any entity
failed.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("%v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
		defer cancel()

		var (
			coord   *sync.Coordinator
			session *auth.Session
			report  *sync.Report
		)
		err = withApp(ctx, cfg, func() error {
			account, err := accountOf(session)
			if err != nil {
				return err
			}
			report, _ = coord.RunPass(ctx, account)
			return nil
		}, &coord, &session)
		if err != nil {
			fail("%v", err)
		}

		if ok, err := structured(os.Stdout, report); ok {
			if err != nil {
				fail("%v", err)
			}
		} else {
			printReport(report)
		}

		if !report.Succeeded() {
			fail("pass failed: %v", report.Err)
		}
		if len(report.Failures) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(passCmd)
}

func printReport(r *sync.Report) {
	rows := make([][]string, 0, len(r.Kinds))
	for _, k := range r.Kinds {
		rows = append(rows, []string{
			string(k.Kind),
			strconv.Itoa(k.Uploaded),
			strconv.Itoa(k.Downloaded),
			strconv.Itoa(k.Conflicts),
			strconv.Itoa(k.Failed),
			strconv.Itoa(k.Deferred),
			strconv.Itoa(k.Skipped),
			strconv.FormatInt(k.Orphaned, 10),
		})
	}
	table(os.Stdout, []string{"KIND", "UP", "DOWN", "CONFLICTS", "FAILED", "DEFERRED", "SKIPPED", "ORPHANED"}, rows)

	for _, f := range r.Failures {
		fmt.Printf("%s %s\n", renderWarn("⚠"), f.Error())
	}
	for _, m := range r.Malformed {
		fmt.Printf("%s skipped malformed %s\n", renderWarn("⚠"), m.Error())
	}
	if r.Purged > 0 {
		fmt.Printf("   Purged %d tombstones\n", r.Purged)
	}
	if r.Stats.Changed > 0 || r.Stats.Removed > 0 {
		fmt.Printf("   Statistics: %d of %d scopes changed, %d removed\n", r.Stats.Changed, r.Stats.Scopes, r.Stats.Removed)
	}

	if r.Succeeded() {
		fmt.Printf("%s Pass complete in %v\n", renderPass("✓"), r.Duration().Round(1e6))
	}
}
