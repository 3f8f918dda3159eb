// Package simulate runs several devices of one account against a shared
// remote store and checks that they converge.
//
// Each round every device makes random edits through the tracker and then
// all devices sync concurrently. After the last round the harness lets the
// devices settle and compares their stores.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"sort"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/diamondlog/syncd/internal/adapter"
	"github.com/diamondlog/syncd/internal/remote"
	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/stats"
	"github.com/diamondlog/syncd/internal/store"
	"github.com/diamondlog/syncd/internal/sync"
	"github.com/diamondlog/syncd/internal/tracker"
)

// Options configures a simulation.
type Options struct {
	// Dir holds one database per device.
	Dir       string
	AccountID string
	Devices   int
	Rounds    int
	// EditsPerRound is the number of edits each device makes per round.
	EditsPerRound int
	// OfflineChance is the probability that a device is offline for a round.
	OfflineChance float64
	Seed          int64
	Policy        adapter.Policy
	Logger        zerolog.Logger
}

// DefaultOptions returns a small three-device run.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:           dir,
		AccountID:     "sim-account",
		Devices:       3,
		Rounds:        5,
		EditsPerRound: 6,
		OfflineChance: 0.2,
		Seed:          42,
		Policy:        adapter.LastWriteWins,
		Logger:        zerolog.Nop(),
	}
}

// Device is one simulated installation.
type Device struct {
	Name    string
	Store   *store.Store
	Stats   *stats.Engine
	Tracker *tracker.Service
	Coord   *sync.Coordinator

	remote  *offlineStore
	rng     *rand.Rand
	account string
}

// Result summarizes a simulation.
type Result struct {
	Passes      int             `json:"passes" yaml:"passes"`
	FailedPass  int             `json:"failed_passes" yaml:"failed_passes"`
	Totals      sync.KindReport `json:"totals" yaml:"totals"`
	Latency     *LatencyStats   `json:"latency" yaml:"latency"`
	Converged   bool            `json:"converged" yaml:"converged"`
	Differences []string        `json:"differences,omitempty" yaml:"differences,omitempty"`
	// Career is the profile statistics every device agrees on.
	Career schema.Counters `json:"career" yaml:"career"`
}

// Harness owns the devices of one simulation.
type Harness struct {
	opts    Options
	remote  remote.Store
	devices []*Device
	logger  zerolog.Logger

	mu        gosync.Mutex
	latencies []time.Duration
	result    Result
}

// New opens one store per device against rs.
func New(ctx context.Context, rs remote.Store, opts Options) (*Harness, error) {
	if opts.Devices < 1 {
		return nil, fmt.Errorf("at least one device is required")
	}
	h := &Harness{opts: opts, remote: rs, logger: opts.Logger}

	for i := 0; i < opts.Devices; i++ {
		name := fmt.Sprintf("device-%d", i+1)
		logger := opts.Logger.With().Str("device", name).Logger()

		st, err := store.Open(filepath.Join(opts.Dir, name+".db"), store.WithLogger(logger))
		if err != nil {
			h.Close()
			return nil, err
		}
		if err := st.MigrateContext(ctx); err != nil {
			_ = st.Close()
			h.Close()
			return nil, err
		}

		engine := stats.NewEngine(st, logger)
		dev := &offlineStore{Store: rs}
		cfg := sync.DefaultConfig()
		cfg.Policy = opts.Policy
		cfg.Logger = logger

		h.devices = append(h.devices, &Device{
			Name:    name,
			Store:   st,
			Stats:   engine,
			Tracker: tracker.New(st, engine, nil, logger),
			Coord:   sync.New(st, dev, engine, cfg),
			remote:  dev,
			rng:     rand.New(rand.NewSource(opts.Seed + int64(i))),
			account: opts.AccountID,
		})
	}
	return h, nil
}

// Devices returns the simulated devices.
func (h *Harness) Devices() []*Device {
	return h.devices
}

// Close closes every device store.
func (h *Harness) Close() error {
	var first error
	for _, d := range h.devices {
		if err := d.Store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Run seeds the account, plays every round, settles and compares devices.
func (h *Harness) Run(ctx context.Context) (*Result, error) {
	if err := h.seed(ctx); err != nil {
		return nil, err
	}

	for round := 0; round < h.opts.Rounds; round++ {
		for _, d := range h.devices {
			d.remote.setOffline(d.rng.Float64() < h.opts.OfflineChance)
			for i := 0; i < h.opts.EditsPerRound; i++ {
				if err := d.edit(ctx); err != nil {
					return nil, fmt.Errorf("%s round %d: %w", d.Name, round, err)
				}
			}
		}
		if err := h.syncAll(ctx); err != nil {
			return nil, err
		}
	}

	if err := h.Settle(ctx); err != nil {
		return nil, err
	}

	diffs, career, err := h.Compare(ctx)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	res := h.result
	res.Latency = computeLatencyStats(h.latencies)
	res.Differences = diffs
	res.Converged = len(diffs) == 0
	res.Career = career
	return &res, nil
}

// seed creates the profile and season on the first device and spreads them.
func (h *Harness) seed(ctx context.Context) error {
	first := h.devices[0]
	profile := &schema.Profile{Name: "Sim Athlete", Position: "CF"}
	if err := first.Tracker.CreateProfile(ctx, h.opts.AccountID, profile); err != nil {
		return err
	}
	season := &schema.Season{Name: "Sim Season", Year: 2026, Active: true}
	if err := first.Tracker.CreateSeason(ctx, profile.LocalID, season); err != nil {
		return err
	}
	if _, err := first.pass(ctx, h); err != nil {
		return err
	}
	return h.syncAll(ctx)
}

// Settle brings every device online and syncs until a full round is quiet.
func (h *Harness) Settle(ctx context.Context) error {
	for _, d := range h.devices {
		d.remote.setOffline(false)
	}
	for i := 0; i < 2*len(h.devices)+2; i++ {
		quiet := true
		for _, d := range h.devices {
			report, err := d.pass(ctx, h)
			if err != nil {
				return fmt.Errorf("%s settle pass: %w", d.Name, err)
			}
			if !report.Quiet() || len(report.Failures) > 0 {
				quiet = false
			}
		}
		if quiet {
			return nil
		}
	}
	return fmt.Errorf("devices did not settle")
}

// syncAll runs one pass on every device concurrently. Offline failures are
// expected and counted.
func (h *Harness) syncAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range h.devices {
		g.Go(func() error {
			_, err := d.pass(gctx, h)
			if err != nil && !errors.Is(err, remote.ErrUnavailable) {
				return fmt.Errorf("%s: %w", d.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Device) pass(ctx context.Context, h *Harness) (*sync.Report, error) {
	start := time.Now()
	report, err := d.Coord.RunPass(ctx, d.account)
	elapsed := time.Since(start)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latencies = append(h.latencies, elapsed)
	h.result.Passes++
	if err != nil {
		h.result.FailedPass++
	}
	t := report.Totals()
	h.result.Totals.Uploaded += t.Uploaded
	h.result.Totals.Downloaded += t.Downloaded
	h.result.Totals.Conflicts += t.Conflicts
	h.result.Totals.Failed += t.Failed
	h.result.Totals.Deferred += t.Deferred
	h.result.Totals.Skipped += t.Skipped
	h.result.Totals.Orphaned += t.Orphaned
	return report, err
}

// Compare returns the differences between device stores and the career
// counters of the first device.
func (h *Harness) Compare(ctx context.Context) ([]string, schema.Counters, error) {
	var (
		diffs  []string
		career schema.Counters
	)

	views := make([]map[string]string, len(h.devices))
	for i, d := range h.devices {
		view, unsynced, err := d.view(ctx)
		if err != nil {
			return nil, career, err
		}
		views[i] = view
		for _, u := range unsynced {
			diffs = append(diffs, fmt.Sprintf("%s: %s not synced", d.Name, u))
		}
	}

	for i := 1; i < len(views); i++ {
		diffs = append(diffs, diffViews(h.devices[0].Name, views[0], h.devices[i].Name, views[i])...)
	}

	for i, d := range h.devices {
		c, err := d.career(ctx)
		if err != nil {
			return nil, career, err
		}
		if i == 0 {
			career = c
		} else if c != career {
			diffs = append(diffs, fmt.Sprintf("%s career statistics %+v differ from %+v", d.Name, c, career))
		}
	}
	sort.Strings(diffs)
	return diffs, career, nil
}

// view maps kind/remote id to the remote version and visibility of every
// record, and lists records that never reached the remote store.
func (d *Device) view(ctx context.Context) (map[string]string, []string, error) {
	view := make(map[string]string)
	var unsynced []string
	for _, kind := range schema.SyncOrder {
		all, err := d.Store.ListAll(ctx, d.account, kind)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range all {
			m := e.SyncMeta()
			if m.RemoteID == "" || m.Dirty {
				unsynced = append(unsynced, fmt.Sprintf("%s %s", kind, m.LocalID))
				continue
			}
			view[string(kind)+"/"+m.RemoteID] = fmt.Sprintf("v%d visible=%t", m.Version, m.Visible())
		}
	}
	return view, unsynced, nil
}

func (d *Device) career(ctx context.Context) (schema.Counters, error) {
	profiles, err := d.Store.List(ctx, d.account, schema.KindProfile)
	if err != nil || len(profiles) == 0 {
		return schema.Counters{}, err
	}
	snap, err := d.Stats.Current(ctx, stats.ProfileScope(profiles[0].SyncMeta().LocalID))
	if err != nil {
		return schema.Counters{}, err
	}
	return snap.Counters, nil
}

func diffViews(aName string, a map[string]string, bName string, b map[string]string) []string {
	var diffs []string
	for k, av := range a {
		if bv, ok := b[k]; !ok {
			diffs = append(diffs, fmt.Sprintf("%s missing on %s", k, bName))
		} else if av != bv {
			diffs = append(diffs, fmt.Sprintf("%s: %s has %s, %s has %s", k, aName, av, bName, bv))
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			diffs = append(diffs, fmt.Sprintf("%s missing on %s", k, aName))
		}
	}
	return diffs
}

// PrintSummary writes a human-readable summary of res.
func (res *Result) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "Passes:      %d (%d failed)\n", res.Passes, res.FailedPass)
	fmt.Fprintf(w, "Uploaded:    %d\n", res.Totals.Uploaded)
	fmt.Fprintf(w, "Downloaded:  %d\n", res.Totals.Downloaded)
	fmt.Fprintf(w, "Conflicts:   %d\n", res.Totals.Conflicts)
	fmt.Fprintf(w, "Deferred:    %d\n", res.Totals.Deferred)
	fmt.Fprintf(w, "Career:      %d PA, %d H, %d HR\n", res.Career.PlateAppearances, res.Career.Hits, res.Career.HomeRuns)
	if res.Latency != nil {
		res.Latency.Print(w)
	}
	if res.Converged {
		fmt.Fprintln(w, "Converged:   yes")
		return
	}
	fmt.Fprintf(w, "Converged:   no (%d differences)\n", len(res.Differences))
	for _, d := range res.Differences {
		fmt.Fprintf(w, "  %s\n", d)
	}
}
