package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diamondlog/syncd/internal/schema"
)

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout bounds every operation on next by d. An operation that runs out
// of its own deadline fails with ErrTimeout; cancellation of the caller's
// context is reported as is.
func WithTimeout(next Store, d time.Duration) Store {
	return &timeoutStore{next: next, timeout: d}
}

func (t *timeoutStore) classify(parent context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s after %s: %w", op, t.timeout, ErrTimeout)
	}
	return err
}

func (t *timeoutStore) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := t.classify(ctx, "ping", t.next.Ping(opCtx))
	if errors.Is(err, ErrTimeout) {
		// A store that cannot answer a ping is unreachable for the pass.
		return fmt.Errorf("%v: %w", err, ErrUnavailable)
	}
	return err
}

func (t *timeoutStore) Get(ctx context.Context, path string) (*Document, error) {
	opCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	d, err := t.next.Get(opCtx, path)
	return d, t.classify(ctx, "get "+path, err)
}

func (t *timeoutStore) Put(ctx context.Context, doc *Document, expectedVersion int64) (*Document, error) {
	opCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	op := "put"
	if doc != nil {
		op += " " + doc.Path
	}
	d, err := t.next.Put(opCtx, doc, expectedVersion)
	return d, t.classify(ctx, op, err)
}

func (t *timeoutStore) ListSince(ctx context.Context, accountID string, kind schema.Kind, since time.Time) ([]*Document, error) {
	opCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	docs, err := t.next.ListSince(opCtx, accountID, kind, since)
	return docs, t.classify(ctx, "list "+string(kind), err)
}

func (t *timeoutStore) Close() error {
	return t.next.Close()
}
