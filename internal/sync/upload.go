package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/diamondlog/syncd/internal/adapter"
	"github.com/diamondlog/syncd/internal/remote"
	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/store"
)

// tally collects per-kind counters from concurrent workers.
type tally struct {
	mu       gosync.Mutex
	kr       KindReport
	failures []EntityError
}

func (t *tally) count(fn func(kr *KindReport)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.kr)
}

func (t *tally) fail(e schema.Entity, err error) {
	m := e.SyncMeta()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kr.Failed++
	t.failures = append(t.failures, newEntityError(m.Kind, m.LocalID, m.RemoteID, err))
}

// upload sends the dirty records of one kind. Records whose parent has no
// remote id yet are deferred.
func (c *Coordinator) upload(ctx context.Context, accountID string, a adapter.Adapter, report *Report) (KindReport, error) {
	t := &tally{kr: KindReport{Kind: a.Kind()}}
	defer func() { report.Failures = append(report.Failures, t.failures...) }()

	dirty, err := c.store.ListDirty(ctx, accountID, a.Kind())
	if err != nil {
		return t.kr, err
	}

	var ready []schema.Entity
	for _, e := range dirty {
		if _, err := a.ParentReference(ctx, e); err != nil {
			if errors.Is(err, adapter.ErrParentNotSynced) {
				t.kr.Deferred++
				continue
			}
			return t.kr, err
		}
		ready = append(ready, e)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, e := range ready {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return c.uploadOne(gctx, a, e, t)
		})
	}
	if err := g.Wait(); err != nil {
		return t.kr, err
	}
	if err := ctx.Err(); err != nil {
		return t.kr, fmt.Errorf("sync pass cancelled during %s upload: %w", a.Kind(), err)
	}
	return t.kr, nil
}

// uploadOne writes one record. It returns an error only when the pass must
// stop: the remote store is unreachable, the context ended, or the local
// store failed.
func (c *Coordinator) uploadOne(ctx context.Context, a adapter.Adapter, e schema.Entity, t *tally) error {
	m := e.SyncMeta()
	log := c.logger.With().Str("kind", string(m.Kind)).Str("local_id", m.LocalID).Logger()

	if !m.HasRemote() {
		proposed, err := a.ProposeRemoteID(ctx, e)
		if err != nil {
			if errors.Is(err, adapter.ErrParentNotSynced) {
				t.count(func(kr *KindReport) { kr.Deferred++ })
				return nil
			}
			return err
		}
		id, err := c.store.ReservePendingRemoteID(ctx, m.Kind, m.LocalID, proposed)
		if err != nil {
			return err
		}
		m.PendingRemoteID = id
	}

	stored, err := c.put(ctx, a, e, m.Version)
	if err == nil {
		if err := c.ackUpload(ctx, e, stored); err != nil {
			return err
		}
		t.count(func(kr *KindReport) { kr.Uploaded++ })
		log.Debug().Str("remote_id", stored.ID).Int64("version", stored.Version).Msg("uploaded")
		return nil
	}

	var conflict *remote.ConflictError
	switch {
	case errors.As(err, &conflict):
		return c.resolveUpload(ctx, a, e, conflict, t)
	case remote.IsFatal(err):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}

	log.Warn().Err(err).Int("retries", m.RetryCount).Msg("upload failed, will retry")
	if err := c.store.MarkRetry(context.WithoutCancel(ctx), m.Kind, m.LocalID); err != nil {
		return err
	}
	t.fail(e, err)
	return nil
}

func (c *Coordinator) put(ctx context.Context, a adapter.Adapter, e schema.Entity, expected int64) (*remote.Document, error) {
	doc, err := a.Encode(ctx, e)
	if err != nil {
		return nil, err
	}
	return c.remote.Put(ctx, doc, expected)
}

// ackUpload records an accepted write. The remote already holds the new
// state, so this local write must not be cancelled.
func (c *Coordinator) ackUpload(ctx context.Context, e schema.Entity, stored *remote.Document) error {
	m := e.SyncMeta()
	return c.store.MarkUploaded(context.WithoutCancel(ctx), m.Kind, m.LocalID, store.Ack{
		RemoteID:   stored.ID,
		Version:    stored.Version,
		ModifiedAt: m.ModifiedAt,
		SyncedAt:   c.cfg.Now(),
	})
}

// resolveUpload settles a rejected write against the document that won.
func (c *Coordinator) resolveUpload(ctx context.Context, a adapter.Adapter, local schema.Entity, conflict *remote.ConflictError, t *tally) error {
	m := local.SyncMeta()

	if conflict.Current == nil {
		// The document we expected is gone; write it again from scratch.
		stored, err := c.put(ctx, a, local, 0)
		if err != nil {
			return c.retryLater(ctx, local, err, t)
		}
		t.count(func(kr *KindReport) { kr.Conflicts++; kr.Uploaded++ })
		return c.ackUpload(ctx, local, stored)
	}

	incoming, err := c.decode(ctx, a, conflict.Current)
	if err != nil {
		if errors.Is(err, adapter.ErrMalformed) || errors.Is(err, adapter.ErrParentMissing) {
			t.fail(local, fmt.Errorf("cannot resolve against remote document: %w", err))
			return nil
		}
		return err
	}
	incoming.SyncMeta().LocalID = m.LocalID

	res := a.Resolve(local, incoming, c.cfg.Policy)
	log := c.logger.With().Str("kind", string(m.Kind)).Str("local_id", m.LocalID).
		Str("winner", res.Outcome.String()).Str("reason", res.Reason).Logger()

	if res.Echo {
		// Our own earlier write whose acknowledgement was lost.
		if err := c.ackUpload(ctx, local, conflict.Current); err != nil {
			return err
		}
		t.count(func(kr *KindReport) { kr.Uploaded++ })
		log.Debug().Msg("adopted own write")
		return nil
	}

	t.count(func(kr *KindReport) { kr.Conflicts++ })
	log.Info().Int64("remote_version", conflict.Current.Version).Msg("resolved upload conflict")

	if res.Outcome == adapter.TakeRemote {
		return c.adopt(ctx, a, local, incoming, t)
	}

	stored, err := c.put(ctx, a, local, conflict.Current.Version)
	if err != nil {
		return c.retryLater(ctx, local, err, t)
	}
	if err := c.ackUpload(ctx, local, stored); err != nil {
		return err
	}
	t.count(func(kr *KindReport) { kr.Uploaded++ })
	return nil
}

func (c *Coordinator) retryLater(ctx context.Context, e schema.Entity, err error, t *tally) error {
	if remote.IsFatal(err) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m := e.SyncMeta()
	if err := c.store.MarkRetry(context.WithoutCancel(ctx), m.Kind, m.LocalID); err != nil {
		return err
	}
	t.fail(e, err)
	return nil
}

// adopt replaces local with the remote state incoming.
func (c *Coordinator) adopt(ctx context.Context, a adapter.Adapter, local, incoming schema.Entity, t *tally) error {
	var base *schema.Meta
	if local != nil {
		lm := *local.SyncMeta()
		base = &lm
		if err := a.CheckUpdate(local, incoming); err != nil {
			t.mu.Lock()
			t.kr.Skipped++
			t.mu.Unlock()
			c.logger.Warn().Err(err).Str("local_id", lm.LocalID).Msg("rejected remote update")
			return nil
		}
		a.Carry(local, incoming)
	}

	im := incoming.SyncMeta()
	now := c.cfg.Now()
	im.Dirty = false
	im.Deleted = false
	im.PendingRemoteID = ""
	im.RetryCount = 0
	im.LastSyncedAt = &now

	if im.DeletedRemotely {
		if local == nil {
			return nil
		}
		n, err := c.store.MarkDeletedRemotely(context.WithoutCancel(ctx), im.Kind, im.LocalID, store.Tombstone{
			Version:    im.Version,
			ModifiedAt: im.ModifiedAt,
			Origin:     im.Origin,
			SyncedAt:   now,
		})
		if err != nil {
			return err
		}
		t.count(func(kr *KindReport) { kr.Orphaned += n })
		return nil
	}

	err := c.store.ApplyRemote(context.WithoutCancel(ctx), incoming, base)
	if errors.Is(err, store.ErrStale) {
		// Edited locally meanwhile; the edit uploads on the next pass.
		t.count(func(kr *KindReport) { kr.Skipped++ })
		return nil
	}
	return err
}
