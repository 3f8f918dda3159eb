package trigger

import (
	"context"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diamondlog/syncd/internal/remote"
	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/sync"
)

type fakeRunner struct {
	mu      gosync.Mutex
	passes  []string
	resets  []string
	fail    error
	block   chan struct{}
	started chan struct{}

	// during runs once inside the next pass.
	during func()
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan struct{}, 100)}
}

func (f *fakeRunner) RunPass(ctx context.Context, accountID string) (*sync.Report, error) {
	f.mu.Lock()
	f.passes = append(f.passes, accountID)
	err, block, during := f.fail, f.block, f.during
	f.during = nil
	f.mu.Unlock()
	f.started <- struct{}{}
	if during != nil {
		during()
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return &sync.Report{AccountID: accountID}, ctx.Err()
		}
	}
	return &sync.Report{AccountID: accountID, Err: err}, err
}

func (f *fakeRunner) ResetAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, accountID)
	return nil
}

func (f *fakeRunner) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeRunner) passCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.passes)
}

type fakeSource struct {
	ch chan string
}

func (s fakeSource) AccountID() string      { return "" }
func (s fakeSource) Changes() <-chan string { return s.ch }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	cfg.Debounce = 20 * time.Millisecond
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	cfg.Logger = zerolog.Nop()
	return cfg
}

func startBus(t *testing.T, bus *Bus, src AccountSource) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(ctx, src)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitEvent(t *testing.T, events <-chan PassEvent) PassEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pass event")
		return PassEvent{}
	}
}

func TestBus_InitialPassAndSubscribe(t *testing.T) {
	runner := newFakeRunner()
	bus := NewBus(runner, "acct-1", testConfig())
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	startBus(t, bus, nil)

	ev := waitEvent(t, events)
	assert.Equal(t, EventPass, ev.Type)
	assert.Equal(t, ReasonManual, ev.Reason)
	assert.Equal(t, "acct-1", ev.AccountID)
	assert.NoError(t, ev.Err)
}

func TestBus_DebouncesChanges(t *testing.T) {
	runner := newFakeRunner()
	bus := NewBus(runner, "acct-1", testConfig())
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	startBus(t, bus, nil)
	waitEvent(t, events)

	for i := 0; i < 10; i++ {
		bus.EntityChanged(schema.KindPlayResult, "p")
	}
	ev := waitEvent(t, events)
	assert.Equal(t, ReasonChange, ev.Reason)

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra pass: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 2, runner.passCount())
}

func TestBus_IgnoresStatisticsWrittenByPass(t *testing.T) {
	runner := newFakeRunner()
	cfg := testConfig()
	cfg.Debounce = 50 * time.Millisecond
	bus := NewBus(runner, "acct-1", cfg)
	runner.during = func() { bus.EntityChanged(schema.KindStatistics, "stats-game-g") }
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	startBus(t, bus, nil)
	waitEvent(t, events)

	select {
	case ev := <-events:
		t.Fatalf("recomputed statistics scheduled a pass: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, 1, runner.passCount())

	// A user edit landing during a pass still gets its own pass.
	runner.mu.Lock()
	runner.during = func() {
		bus.EntityChanged(schema.KindStatistics, "stats-game-g")
		bus.EntityChanged(schema.KindPlayResult, "p")
	}
	runner.mu.Unlock()
	bus.TriggerNow()
	assert.Equal(t, ReasonManual, waitEvent(t, events).Reason)
	assert.Equal(t, ReasonChange, waitEvent(t, events).Reason)
	assert.Equal(t, 3, runner.passCount())
}

func TestBus_BackoffAfterFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.setFail(remote.ErrUnavailable)
	cfg := testConfig()
	cfg.NotSyncingThreshold = 2
	bus := NewBus(runner, "acct-1", cfg)
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	startBus(t, bus, nil)

	ev := waitEvent(t, events)
	require.ErrorIs(t, ev.Err, remote.ErrUnavailable)
	assert.Equal(t, 1, ev.Streak)
	assert.False(t, ev.NotSyncing)

	// Changes wait for the backoff window.
	bus.Notify(Change{Kind: schema.KindGame, LocalID: "g"})
	select {
	case ev := <-events:
		t.Fatalf("pass ran inside backoff window: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	// A manual trigger does not.
	bus.TriggerNow()
	ev = waitEvent(t, events)
	assert.Equal(t, 2, ev.Streak)
	assert.True(t, ev.NotSyncing)
	assert.Equal(t, 2, bus.FailureStreak())

	runner.setFail(nil)
	bus.TriggerNow()
	ev = waitEvent(t, events)
	assert.NoError(t, ev.Err)
	assert.Zero(t, bus.FailureStreak())
}

func TestBus_AccountSwitch(t *testing.T) {
	runner := newFakeRunner()
	src := fakeSource{ch: make(chan string)}
	bus := NewBus(runner, "acct-1", testConfig())
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	startBus(t, bus, src)
	waitEvent(t, events)

	src.ch <- "acct-2"

	ev := waitEvent(t, events)
	assert.Equal(t, EventAccountReset, ev.Type)
	assert.Equal(t, "acct-2", ev.AccountID)

	ev = waitEvent(t, events)
	assert.Equal(t, EventPass, ev.Type)
	assert.Equal(t, "acct-2", ev.AccountID)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"acct-2"}, runner.resets)
	assert.Equal(t, []string{"acct-1", "acct-2"}, runner.passes)
}

func TestBus_SignedOutSkipsPasses(t *testing.T) {
	runner := newFakeRunner()
	bus := NewBus(runner, "", testConfig())
	startBus(t, bus, nil)

	bus.TriggerNow()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runner.passCount())
}

func TestBus_IgnoresOwnDatabaseWrites(t *testing.T) {
	runner := newFakeRunner()
	bus := NewBus(runner, "acct-1", testConfig())
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	startBus(t, bus, nil)
	waitEvent(t, events)

	bus.Notify(Change{})
	select {
	case ev := <-events:
		t.Fatalf("pass triggered by own write: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFileWatcher_ForwardsDatabaseWrites(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "syncd.db")
	require.NoError(t, os.WriteFile(dbPath, nil, 0o644))

	fw, err := NewFileWatcher(dbPath, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, fw.Start())
	assert.True(t, fw.IsRunning())
	defer fw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(dbPath+"-wal", []byte("x"), 0o644))

	select {
	case name := <-fw.Events():
		assert.Equal(t, dbPath+"-wal", name)
	case <-time.After(2 * time.Second):
		t.Fatal("no event for database write")
	}
}

func TestFileWatcher_StartTwice(t *testing.T) {
	fw, err := NewFileWatcher(filepath.Join(t.TempDir(), "syncd.db"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, fw.Start())
	defer fw.Stop()
	assert.Error(t, fw.Start())
}

var _ Runner = (*sync.Coordinator)(nil)
