package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/diamondlog/syncd/internal/schema"
)

// Op names a remote operation for fault injection.
type Op string

const (
	OpGet  Op = "get"
	OpPut  Op = "put"
	OpList Op = "list"
)

// Fault decides whether an operation on a path fails. Returning a non-nil
// error fails the operation before it takes effect.
type Fault func(op Op, path string) error

// MemoryStore is an in-process Store. It is safe for concurrent use and is
// shared by several simulated devices in tests.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]*Document
	now     func() time.Time
	last    time.Time
	offline bool
	faults  []Fault
	// lostAcks counts, per path, Puts that commit but report ErrTimeout.
	lostAcks map[string]int
	puts     int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithServerClock replaces the clock used for server timestamps.
func WithServerClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		docs:     make(map[string]*Document),
		now:      time.Now,
		lostAcks: make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOffline makes every operation fail with ErrUnavailable while true.
func (m *MemoryStore) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// AddFault installs a fault hook consulted before every operation.
func (m *MemoryStore) AddFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, f)
}

// ClearFaults removes every fault hook and pending lost acknowledgement.
func (m *MemoryStore) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = nil
	m.lostAcks = make(map[string]int)
}

// LoseAcks makes the next n Puts to path commit and then report ErrTimeout,
// as if the response was lost on the way back. An empty path matches any
// document.
func (m *MemoryStore) LoseAcks(path string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lostAcks[path] += n
}

// FailPath returns a Fault failing op on path with err for the next n calls.
func FailPath(op Op, path string, err error, n int) Fault {
	var mu sync.Mutex
	return func(gotOp Op, gotPath string) error {
		mu.Lock()
		defer mu.Unlock()
		if gotOp != op || gotPath != path || n == 0 {
			return nil
		}
		n--
		return err
	}
}

// Documents returns a copy of every stored document, sorted by path.
func (m *MemoryStore) Documents() []*Document {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// PutCount returns the number of committed Puts.
func (m *MemoryStore) PutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// check runs with m.mu held.
func (m *MemoryStore) check(ctx context.Context, op Op, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.offline {
		return ErrUnavailable
	}
	for _, f := range m.faults {
		if err := f(op, path); err != nil {
			return err
		}
	}
	return nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return ErrUnavailable
	}
	return ctx.Err()
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, path string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, OpGet, path); err != nil {
		return nil, err
	}
	d, ok := m.docs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return d.Clone(), nil
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, doc *Document, expectedVersion int64) (*Document, error) {
	if err := validatePut(doc, expectedVersion); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, OpPut, doc.Path); err != nil {
		return nil, err
	}

	current, exists := m.docs[doc.Path]
	switch {
	case exists && current.Version != expectedVersion:
		return nil, &ConflictError{Path: doc.Path, Expected: expectedVersion, Current: current.Clone()}
	case !exists && expectedVersion != 0:
		return nil, &ConflictError{Path: doc.Path, Expected: expectedVersion}
	}

	stored := doc.Clone()
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = m.serverTime()
	m.docs[doc.Path] = stored
	m.puts++

	for _, key := range []string{doc.Path, ""} {
		if m.lostAcks[key] > 0 {
			m.lostAcks[key]--
			return nil, fmt.Errorf("put %s: %w", doc.Path, ErrTimeout)
		}
	}
	return stored.Clone(), nil
}

// ListSince implements Store.
func (m *MemoryStore) ListSince(ctx context.Context, accountID string, kind schema.Kind, since time.Time) ([]*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, OpList, string(kind)); err != nil {
		return nil, err
	}

	var out []*Document
	for _, d := range m.docs {
		if d.AccountID == accountID && d.Kind == kind && d.UpdatedAt.After(since) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

// serverTime returns a strictly increasing timestamp. Callers hold m.mu.
func (m *MemoryStore) serverTime() time.Time {
	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}
