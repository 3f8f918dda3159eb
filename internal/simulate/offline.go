package simulate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/diamondlog/syncd/internal/remote"
	"github.com/diamondlog/syncd/internal/schema"
)

var simTime = time.Date(2026, 4, 18, 19, 0, 0, 0, time.UTC)

// offlineStore cuts one device off the shared remote store.
type offlineStore struct {
	remote.Store
	offline atomic.Bool
}

func (s *offlineStore) setOffline(v bool) {
	s.offline.Store(v)
}

func (s *offlineStore) Ping(ctx context.Context) error {
	if s.offline.Load() {
		return remote.ErrUnavailable
	}
	return s.Store.Ping(ctx)
}

func (s *offlineStore) Get(ctx context.Context, path string) (*remote.Document, error) {
	if s.offline.Load() {
		return nil, remote.ErrUnavailable
	}
	return s.Store.Get(ctx, path)
}

func (s *offlineStore) Put(ctx context.Context, doc *remote.Document, expected int64) (*remote.Document, error) {
	if s.offline.Load() {
		return nil, remote.ErrUnavailable
	}
	return s.Store.Put(ctx, doc, expected)
}

func (s *offlineStore) ListSince(ctx context.Context, accountID string, kind schema.Kind, since time.Time) ([]*remote.Document, error) {
	if s.offline.Load() {
		return nil, remote.ErrUnavailable
	}
	return s.Store.ListSince(ctx, accountID, kind, since)
}

// Close leaves the shared store open.
func (s *offlineStore) Close() error {
	return nil
}
