package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/diamondlog/syncd/internal/adapter"
	"github.com/diamondlog/syncd/internal/remote"
	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/stats"
	"github.com/diamondlog/syncd/internal/store"
)

var (
	// ErrPassInProgress is returned when RunPass is called while another
	// pass is running.
	ErrPassInProgress = errors.New("sync pass already in progress")

	// ErrAccountChanged is returned by a pass aborted by ResetAccount.
	ErrAccountChanged = errors.New("account changed during sync pass")
)

// Config holds coordinator settings.
type Config struct {
	// Policy settles version conflicts.
	Policy adapter.Policy

	// Concurrency bounds parallel uploads within one kind.
	Concurrency int

	// Files resolves storage references of downloaded clips. May be nil.
	Files adapter.FileResolver

	// Logger for coordinator events.
	Logger zerolog.Logger

	// Tracer for pass spans. Defaults to the global tracer provider.
	Tracer trace.Tracer

	// Now stamps reports and sync times.
	Now func() time.Time
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Policy:      adapter.LastWriteWins,
		Concurrency: 4,
		Logger:      zerolog.Nop(),
		Now:         time.Now,
	}
}

// Coordinator runs sync passes. It is safe for concurrent use; at most one
// pass runs at a time.
type Coordinator struct {
	store    *store.Store
	remote   remote.Store
	registry *adapter.Registry
	stats    *stats.Engine
	cfg      Config
	logger   zerolog.Logger
	tracer   trace.Tracer

	streak atomic.Int64

	mu         gosync.Mutex
	running    bool
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}

	// account is the only account passes may run for once ResetAccount
	// has bound one.
	account string
	bound   bool
}

// New creates a coordinator reconciling st with rs.
func New(st *store.Store, rs remote.Store, engine *stats.Engine, cfg Config) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/diamondlog/syncd/internal/sync")
	}
	return &Coordinator{
		store:    st,
		remote:   rs,
		registry: adapter.NewRegistry(st, cfg.Files),
		stats:    engine,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "sync").Logger(),
		tracer:   cfg.Tracer,
	}
}

// FailureStreak returns the number of consecutive failed passes.
func (c *Coordinator) FailureStreak() int {
	return int(c.streak.Load())
}

// Running reports whether a pass is in progress.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// RunPass synchronizes every entity kind of accountID once.
//
// The returned report is never nil. The error, also stored in report.Err,
// is set when the pass could not run to completion.
func (c *Coordinator) RunPass(ctx context.Context, accountID string) (*Report, error) {
	report := newReport(accountID, c.cfg.Now())
	if accountID == "" {
		report.Err = fmt.Errorf("no account signed in")
		report.FinishedAt = c.cfg.Now()
		return report, report.Err
	}

	passCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	switch {
	case c.running:
		report.Err = ErrPassInProgress
	case c.bound && c.account != accountID:
		report.Err = fmt.Errorf("pass for %s after switch to %q: %w", accountID, c.account, ErrAccountChanged)
	}
	if report.Err != nil {
		c.mu.Unlock()
		cancel()
		report.FinishedAt = c.cfg.Now()
		return report, report.Err
	}
	c.running = true
	gen := c.generation
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
		close(done)
	}()

	passCtx, span := c.tracer.Start(passCtx, "sync.pass", trace.WithAttributes(
		attribute.String("account", accountID),
	))
	defer span.End()

	err := c.runPass(passCtx, accountID, report)
	if err != nil && c.reset(gen) {
		err = ErrAccountChanged
	}
	report.Err = err
	report.FinishedAt = c.cfg.Now()

	totals := report.Totals()
	span.SetAttributes(
		attribute.Int("uploaded", totals.Uploaded),
		attribute.Int("downloaded", totals.Downloaded),
		attribute.Int("conflicts", totals.Conflicts),
		attribute.Int("failed", totals.Failed),
	)

	if err != nil {
		c.streak.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn().Err(err).Str("account", accountID).
			Int("streak", c.FailureStreak()).Msg("sync pass failed")
		return report, err
	}

	c.streak.Store(0)
	c.logger.Info().
		Str("account", accountID).
		Int("uploaded", totals.Uploaded).
		Int("downloaded", totals.Downloaded).
		Int("conflicts", totals.Conflicts).
		Int("failed", totals.Failed).
		Int("deferred", totals.Deferred).
		Dur("took", report.Duration()).
		Msg("sync pass complete")
	return report, nil
}

// reset reports whether ResetAccount ran since generation gen.
func (c *Coordinator) reset(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation != gen
}

func (c *Coordinator) runPass(ctx context.Context, accountID string, report *Report) error {
	if err := c.remote.Ping(ctx); err != nil {
		if errors.Is(err, remote.ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%v: %w", err, remote.ErrUnavailable)
	}

	for _, a := range c.registry.All() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync pass cancelled before %s: %w", a.Kind(), err)
		}
		if err := c.syncKind(ctx, accountID, a, report); err != nil {
			return err
		}
	}

	// Local bookkeeping from here on; the remote has already accepted or
	// been read for every kind.
	purged, err := c.store.Purge(ctx, accountID)
	if err != nil {
		return err
	}
	report.Purged = purged

	sum, err := c.stats.RecomputeAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to recompute statistics: %w", err)
	}
	report.Stats = sum

	// Snapshots changed by the recomputation are uploaded in the same pass.
	if sum.Changed > 0 || sum.Removed > 0 {
		a, _ := c.registry.For(schema.KindStatistics)
		kr, err := c.upload(ctx, accountID, a, report)
		report.merge(kr)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) syncKind(ctx context.Context, accountID string, a adapter.Adapter, report *Report) error {
	ctx, span := c.tracer.Start(ctx, "sync.kind", trace.WithAttributes(
		attribute.String("kind", string(a.Kind())),
	))
	defer span.End()

	up, err := c.upload(ctx, accountID, a, report)
	report.merge(up)
	if err != nil {
		span.RecordError(err)
		return err
	}

	down, err := c.download(ctx, accountID, a, report)
	report.merge(down)
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ResetAccount cancels any pass in flight, waits for it to stop, and clears
// the sync state of accountID so the next pass starts from scratch. From then
// on passes for any other account fail with ErrAccountChanged.
func (c *Coordinator) ResetAccount(ctx context.Context, accountID string) error {
	c.mu.Lock()
	c.generation++
	c.account = accountID
	c.bound = true
	cancel, done := c.cancel, c.done
	running := c.running
	c.mu.Unlock()

	if running {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if accountID == "" {
		return nil
	}
	if err := c.store.ResetSyncState(ctx, accountID); err != nil {
		return err
	}
	c.streak.Store(0)
	c.logger.Info().Str("account", accountID).Msg("sync state reset")
	return nil
}
