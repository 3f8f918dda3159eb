package trigger

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/sync"
)

// Runner runs sync passes. *sync.Coordinator implements it.
type Runner interface {
	RunPass(ctx context.Context, accountID string) (*sync.Report, error)
	ResetAccount(ctx context.Context, accountID string) error
}

// AccountSource reports the signed-in account and signals when it changes.
type AccountSource interface {
	AccountID() string
	Changes() <-chan string
}

// Change describes a local write. An empty Kind means the database was
// changed by another process.
type Change struct {
	Kind    schema.Kind
	LocalID string
}

// Reason names what started a pass.
type Reason string

const (
	ReasonInterval Reason = "interval"
	ReasonChange   Reason = "change"
	ReasonManual   Reason = "manual"
	ReasonAccount  Reason = "account"
	ReasonRetry    Reason = "retry"
)

// EventType distinguishes published events.
type EventType string

const (
	EventPass         EventType = "sync_pass"
	EventAccountReset EventType = "account_reset"
)

// PassEvent is published after every pass and every account reset.
type PassEvent struct {
	Type       EventType
	AccountID  string
	Reason     Reason
	Report     *sync.Report
	Err        error
	Streak     int
	NotSyncing bool
	At         time.Time
}

// Config holds bus settings.
type Config struct {
	// Interval between periodic passes.
	Interval time.Duration

	// Debounce is how long local changes must be quiet before a pass.
	Debounce time.Duration

	// InitialBackoff and MaxBackoff bound the wait after failed passes.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// NotSyncingThreshold is the failure streak at which events report
	// NotSyncing.
	NotSyncingThreshold int

	Logger zerolog.Logger
	Now    func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:            time.Minute,
		Debounce:            2 * time.Second,
		InitialBackoff:      5 * time.Second,
		MaxBackoff:          5 * time.Minute,
		NotSyncingThreshold: 3,
		Logger:              zerolog.Nop(),
		Now:                 time.Now,
	}
}

// Bus serializes pass triggers onto one loop goroutine.
type Bus struct {
	runner Runner
	cfg    Config
	logger zerolog.Logger

	changes chan Change
	now     chan struct{}

	mu          gosync.Mutex
	account     string
	streak      int
	notBefore   time.Time
	lastPassEnd time.Time
	backoff     *backoff.ExponentialBackOff
	subscribers map[chan PassEvent]struct{}
}

// NewBus creates a bus running passes for accountID through runner.
func NewBus(runner Runner, accountID string, cfg Config) *Bus {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		bo.InitialInterval = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		bo.MaxInterval = cfg.MaxBackoff
	}

	return &Bus{
		runner:      runner,
		cfg:         cfg,
		logger:      cfg.Logger.With().Str("component", "trigger").Logger(),
		changes:     make(chan Change, 64),
		now:         make(chan struct{}, 1),
		account:     accountID,
		backoff:     bo,
		subscribers: make(map[chan PassEvent]struct{}),
	}
}

// AccountID returns the account passes currently run for.
func (b *Bus) AccountID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account
}

// FailureStreak returns the number of consecutive failed passes.
func (b *Bus) FailureStreak() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streak
}

// Notify records a local change. It never blocks; when the queue is full
// the change is dropped because a pass is already pending.
func (b *Bus) Notify(c Change) {
	select {
	case b.changes <- c:
	default:
	}
}

// EntityChanged implements store.ChangeNotifier.
func (b *Bus) EntityChanged(kind schema.Kind, localID string) {
	b.Notify(Change{Kind: kind, LocalID: localID})
}

// TriggerNow requests a pass as soon as the loop is free, ignoring backoff.
func (b *Bus) TriggerNow() {
	select {
	case b.now <- struct{}{}:
	default:
	}
}

// Subscribe returns a channel receiving every PassEvent and a function that
// unsubscribes. Slow subscribers miss events rather than block the loop.
func (b *Bus) Subscribe() (<-chan PassEvent, func()) {
	ch := make(chan PassEvent, 16)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once gosync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) publish(ev PassEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SwitchAccount stops any pass in flight, resets sync state for accountID
// and requests a pass for it.
func (b *Bus) SwitchAccount(ctx context.Context, accountID string) error {
	b.mu.Lock()
	previous := b.account
	b.account = accountID
	b.mu.Unlock()

	if err := b.runner.ResetAccount(ctx, accountID); err != nil {
		return err
	}

	b.mu.Lock()
	b.streak = 0
	b.notBefore = time.Time{}
	b.backoff.Reset()
	b.mu.Unlock()

	b.logger.Info().Str("from", previous).Str("to", accountID).Msg("account switched")
	b.publish(PassEvent{Type: EventAccountReset, AccountID: accountID, Reason: ReasonAccount, At: b.cfg.Now()})
	if accountID != "" {
		b.TriggerNow()
	}
	return nil
}

// Run drives passes until ctx is cancelled. auth may be nil.
func (b *Bus) Run(ctx context.Context, auth AccountSource) error {
	var wg gosync.WaitGroup
	defer wg.Wait()
	if auth != nil {
		// Switches run off the loop so they can cancel a pass in flight.
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.followAccount(ctx, auth.Changes())
		}()
	}

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	debounce := time.NewTimer(b.cfg.Debounce)
	stopTimer(debounce)
	retry := time.NewTimer(time.Hour)
	stopTimer(retry)
	defer debounce.Stop()
	defer retry.Stop()

	b.logger.Info().Dur("interval", b.cfg.Interval).Msg("trigger bus started")
	b.TriggerNow()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("trigger bus stopped")
			return nil

		case c := <-b.changes:
			if fromPass(c) && b.recentlyPassed() {
				// Our own pass wrote the database.
				continue
			}
			debounce.Reset(b.cfg.Debounce)

		case <-debounce.C:
			b.attempt(ctx, ReasonChange, retry)

		case <-ticker.C:
			b.attempt(ctx, ReasonInterval, retry)

		case <-retry.C:
			b.attempt(ctx, ReasonRetry, retry)

		case <-b.now:
			b.run(ctx, ReasonManual, retry)
		}
	}
}

func (b *Bus) followAccount(ctx context.Context, accounts <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-accounts:
			if !ok {
				return
			}
			if id == b.AccountID() {
				continue
			}
			if err := b.SwitchAccount(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Error().Err(err).Msg("account switch failed")
			}
		}
	}
}

// attempt runs a pass unless the backoff window is still open, in which case
// a retry is scheduled for when it closes.
func (b *Bus) attempt(ctx context.Context, reason Reason, retry *time.Timer) {
	b.mu.Lock()
	wait := b.notBefore.Sub(b.cfg.Now())
	b.mu.Unlock()
	if wait > 0 {
		b.logger.Debug().Str("reason", string(reason)).Dur("wait", wait).Msg("pass postponed by backoff")
		retry.Reset(wait)
		return
	}
	b.run(ctx, reason, retry)
}

func (b *Bus) run(ctx context.Context, reason Reason, retry *time.Timer) {
	accountID := b.AccountID()
	if accountID == "" {
		return
	}

	report, err := b.runner.RunPass(ctx, accountID)
	if errors.Is(err, sync.ErrPassInProgress) {
		return
	}

	now := b.cfg.Now()
	b.mu.Lock()
	b.lastPassEnd = now
	if err != nil && !errors.Is(err, sync.ErrAccountChanged) && ctx.Err() == nil {
		b.streak++
		wait := b.backoff.NextBackOff()
		b.notBefore = now.Add(wait)
		retry.Reset(wait)
	} else if err == nil {
		b.streak = 0
		b.notBefore = time.Time{}
		b.backoff.Reset()
	}
	streak := b.streak
	b.mu.Unlock()

	ev := PassEvent{
		Type:       EventPass,
		AccountID:  accountID,
		Reason:     reason,
		Report:     report,
		Err:        err,
		Streak:     streak,
		NotSyncing: b.cfg.NotSyncingThreshold > 0 && streak >= b.cfg.NotSyncingThreshold,
		At:         now,
	}
	if err != nil {
		b.logger.Warn().Err(err).Str("reason", string(reason)).Int("streak", streak).Msg("pass failed")
	}
	b.publish(ev)
}

// fromPass reports whether c looks like a write made by a pass itself.
// File events carry no kind, and every pass recomputes statistics.
func fromPass(c Change) bool {
	return c.Kind == "" || c.Kind == schema.KindStatistics
}

func (b *Bus) recentlyPassed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.lastPassEnd.IsZero() && b.cfg.Now().Sub(b.lastPassEnd) < b.cfg.Debounce
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
