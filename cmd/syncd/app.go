package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.uber.org/fx"

	"github.com/diamondlog/syncd/internal/auth"
	"github.com/diamondlog/syncd/internal/config"
	"github.com/diamondlog/syncd/internal/logging"
	"github.com/diamondlog/syncd/internal/media"
	"github.com/diamondlog/syncd/internal/remote"
	"github.com/diamondlog/syncd/internal/stats"
	"github.com/diamondlog/syncd/internal/store"
	"github.com/diamondlog/syncd/internal/sync"
	"github.com/diamondlog/syncd/internal/tracker"
	"github.com/diamondlog/syncd/internal/trigger"
)

// module provides every component of a sync process built from cfg.
func module(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(provideLogger),
		fx.Provide(provideStore),
		fx.Provide(provideRemote),
		fx.Provide(provideMedia),
		fx.Provide(provideEngine),
		fx.Provide(provideCoordinator),
		fx.Provide(provideSession),
		fx.Provide(provideBus),
		fx.Provide(provideTracker),
		fx.NopLogger,
	)
}

func provideLogger(lc fx.Lifecycle, cfg *config.Config) (zerolog.Logger, error) {
	logger, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return zerolog.Nop(), err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return closer.Close() }})
	return logger, nil
}

func provideStore(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (*store.Store, error) {
	st, err := store.Open(cfg.DatabasePath(), store.WithLogger(logger.With().Str("component", "store").Logger()))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return st.Close() }})
	return st, nil
}

func provideRemote(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (remote.Store, error) {
	rs, err := remote.Open(context.Background(), cfg.RemoteStore(), logger.With().Str("component", "remote").Logger())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return rs.Close() }})
	return rs, nil
}

func provideMedia(cfg *config.Config) *media.FSResolver {
	return media.NewFSResolver(afero.NewOsFs(), cfg.MediaDir())
}

func provideEngine(st *store.Store, logger zerolog.Logger) *stats.Engine {
	return stats.NewEngine(st, logger.With().Str("component", "stats").Logger())
}

func provideCoordinator(cfg *config.Config, st *store.Store, rs remote.Store, engine *stats.Engine, files *media.FSResolver, logger zerolog.Logger) (*sync.Coordinator, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	sc := sync.DefaultConfig()
	sc.Policy = policy
	sc.Concurrency = cfg.Sync.Concurrency
	sc.Files = files
	sc.Logger = logger.With().Str("component", "sync").Logger()
	return sync.New(st, rs, engine, sc), nil
}

// provideSession names the account from the ID token when one is set.
func provideSession(cfg *config.Config) (*auth.Session, error) {
	s := auth.NewSession(cfg.AccountID)
	if cfg.Secrets.IDToken != "" {
		if err := s.SignInWithIDToken(cfg.Secrets.IDToken); err != nil {
			return nil, fmt.Errorf("SYNCD_ID_TOKEN: %w", err)
		}
	}
	return s, nil
}

func provideBus(cfg *config.Config, coord *sync.Coordinator, session *auth.Session, st *store.Store, logger zerolog.Logger) *trigger.Bus {
	tc := cfg.TriggerConfig()
	tc.Logger = logger.With().Str("component", "trigger").Logger()
	bus := trigger.NewBus(coord, session.AccountID(), tc)
	st.SetNotifier(bus)
	return bus
}

func provideTracker(st *store.Store, engine *stats.Engine, files *media.FSResolver, logger zerolog.Logger) *tracker.Service {
	return tracker.New(st, engine, files, logger.With().Str("component", "tracker").Logger())
}

// withApp builds the module, starts it, populates targets and runs fn.
func withApp(ctx context.Context, cfg *config.Config, fn func() error, targets ...any) error {
	app := fx.New(module(cfg), fx.Populate(targets...))
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn()
	stopErr := app.Stop(context.Background())
	if runErr != nil {
		return runErr
	}
	return stopErr
}

// accountOf returns the signed-in account or an error naming the fix.
func accountOf(s *auth.Session) (string, error) {
	if id := s.AccountID(); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no account: set account_id, --account or SYNCD_ID_TOKEN")
}
