package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"golang.org/x/sys/unix"

	"github.com/diamondlog/syncd/internal/auth"
	"github.com/diamondlog/syncd/internal/config"
	"github.com/diamondlog/syncd/internal/dashboard"
	"github.com/diamondlog/syncd/internal/store"
	"github.com/diamondlog/syncd/internal/trigger"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Run the sync daemon",
	Long: `Run sync passes until interrupted.

A pass runs on start, every sync.interval, after local changes settle for
sync.debounce, and when the signed-in account changes. Failed passes back off
exponentially up to sync.max_backoff.

With sync.watch_database set, writes to the database by other processes
(the app itself) schedule a pass too.

Signals:
  SIGHUP           run a pass now, ignoring backoff
  SIGINT, SIGTERM  stop after the current pass is cancelled

With --dashboard, pass results are broadcast over WebSocket:
  ws://<listen>/ws
  http://<listen>/health`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("%v", err)
		}

		var bus *trigger.Bus
		app := fx.New(
			module(cfg),
			fx.Invoke(runBus, runWatcher, runDashboard),
			fx.Populate(&bus),
		)
		if err := app.Err(); err != nil {
			fail("%v", err)
		}

		startCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Start(startCtx); err != nil {
			fail("failed to start: %v", err)
		}

		fmt.Printf("%s syncd running for account %s\n", renderPass("✓"), renderAccent(displayAccount(bus.AccountID())))
		if cfg.Dashboard.Enabled {
			fmt.Printf("   Dashboard: ws://%s/ws\n", cfg.Dashboard.Addr)
		}
		fmt.Println(renderMuted("   Press Ctrl+C to stop, send SIGHUP to sync now"))

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
		defer signal.Stop(signals)

	wait:
		for {
			select {
			case sig := <-signals:
				if sig == unix.SIGHUP {
					bus.TriggerNow()
					continue
				}
				break wait
			case <-app.Done():
				break wait
			}
		}

		fmt.Println("\nShutting down...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if err := app.Stop(stopCtx); err != nil {
			fail("error during shutdown: %v", err)
		}
		fmt.Println("Stopped")
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func displayAccount(id string) string {
	if id == "" {
		return "(signed out)"
	}
	return id
}

// background runs fn between the start and stop hooks of lc.
func background(lc fx.Lifecycle, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				fn(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func runBus(lc fx.Lifecycle, bus *trigger.Bus, session *auth.Session, logger zerolog.Logger) {
	background(lc, func(ctx context.Context) {
		if err := bus.Run(ctx, session); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("trigger bus stopped")
		}
	})
}

func runWatcher(lc fx.Lifecycle, cfg *config.Config, bus *trigger.Bus, st *store.Store, logger zerolog.Logger) error {
	if !cfg.Sync.WatchDatabase {
		return nil
	}
	fw, err := trigger.NewFileWatcher(st.Path(), logger.With().Str("component", "watcher").Logger())
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return fw.Start() },
		OnStop:  func(context.Context) error { return fw.Stop() },
	})
	background(lc, func(ctx context.Context) { fw.Forward(ctx, bus) })
	return nil
}

func runDashboard(lc fx.Lifecycle, cfg *config.Config, bus *trigger.Bus, st *store.Store, logger zerolog.Logger) {
	if !cfg.Dashboard.Enabled {
		return
	}
	dc := dashboard.DefaultConfig()
	dc.Addr = cfg.Dashboard.Addr
	dc.Logger = logger.With().Str("component", "dashboard").Logger()
	server := dashboard.NewServer(dc)
	handler := dashboard.NewHandler(server, st, bus.AccountID, dc.Logger)

	events, unsubscribe := bus.Subscribe()
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return server.Start() },
		OnStop: func(context.Context) error {
			unsubscribe()
			return server.Stop()
		},
	})
	background(lc, func(ctx context.Context) { handler.Follow(ctx, events) })
}
