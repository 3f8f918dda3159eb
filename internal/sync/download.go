package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/diamondlog/syncd/internal/adapter"
	"github.com/diamondlog/syncd/internal/remote"
	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/store"
)

// download applies remote documents of one kind newer than its watermark.
//
// Documents are applied in server-time order. The watermark advances to the
// last document applied before the first one whose parent is not present
// locally, so that document is listed again on the next pass.
func (c *Coordinator) download(ctx context.Context, accountID string, a adapter.Adapter, report *Report) (KindReport, error) {
	t := &tally{kr: KindReport{Kind: a.Kind()}}
	defer func() { report.Failures = append(report.Failures, t.failures...) }()

	since, err := c.store.Watermark(ctx, accountID, a.Kind())
	if err != nil {
		return t.kr, err
	}

	docs, err := c.remote.ListSince(ctx, accountID, a.Kind(), since)
	if err != nil {
		if remote.IsFatal(err) || ctx.Err() != nil {
			return t.kr, err
		}
		// The kind is retried as a whole on the next pass.
		t.kr.Failed++
		t.failures = append(t.failures, newEntityError(a.Kind(), "", "", err))
		c.logger.Warn().Err(err).Str("kind", string(a.Kind())).Msg("listing remote documents failed")
		return t.kr, nil
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].UpdatedAt.Before(docs[j].UpdatedAt) })

	through := since
	blocked := false
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			c.keepProgress(accountID, a.Kind(), since, through)
			return t.kr, fmt.Errorf("sync pass cancelled during %s download: %w", a.Kind(), err)
		}

		applied, err := c.downloadOne(ctx, a, doc, t, report)
		if err != nil {
			c.keepProgress(accountID, a.Kind(), since, through)
			return t.kr, err
		}
		if !applied {
			blocked = true
		}
		if !blocked {
			through = doc.UpdatedAt
		}
	}

	if err := c.advance(accountID, a.Kind(), since, through); err != nil {
		return t.kr, err
	}
	return t.kr, nil
}

// keepProgress records the documents applied before an aborted download.
// The pass is already failing, so a watermark error is only logged.
func (c *Coordinator) keepProgress(accountID string, kind schema.Kind, since, through time.Time) {
	if err := c.advance(accountID, kind, since, through); err != nil {
		c.logger.Error().Err(err).Str("kind", string(kind)).Time("through", through).
			Msg("failed to save download watermark")
	}
}

func (c *Coordinator) advance(accountID string, kind schema.Kind, since, through time.Time) error {
	if !through.After(since) {
		return nil
	}
	return c.store.SetWatermark(context.Background(), accountID, kind, through)
}

// downloadOne applies one document. It returns false when the document must
// be seen again on a later pass because its parent is not local yet.
func (c *Coordinator) downloadOne(ctx context.Context, a adapter.Adapter, doc *remote.Document, t *tally, report *Report) (bool, error) {
	incoming, err := c.decode(ctx, a, doc)
	switch {
	case errors.Is(err, adapter.ErrMalformed):
		report.Malformed = append(report.Malformed, newEntityError(doc.Kind, "", doc.ID, err))
		t.kr.Skipped++
		c.logger.Warn().Err(err).Str("kind", string(doc.Kind)).Str("remote_id", doc.ID).Msg("skipping malformed document")
		return true, nil
	case errors.Is(err, adapter.ErrParentMissing):
		t.kr.Deferred++
		c.logger.Debug().Str("kind", string(doc.Kind)).Str("remote_id", doc.ID).Msg("parent not local yet")
		return false, nil
	case err != nil:
		return false, err
	}

	im := incoming.SyncMeta()
	local, err := c.store.GetAny(ctx, a.Kind(), im.LocalID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		local = nil
	case err != nil:
		return false, err
	}

	if local != nil && doc.Version <= local.SyncMeta().Version {
		// Already have this version, typically our own upload.
		return true, nil
	}
	if local == nil && doc.IsDeleted {
		// Never seen here; nothing to delete.
		return true, nil
	}

	if local == nil || !local.SyncMeta().Dirty {
		if err := c.adopt(ctx, a, local, incoming, t); err != nil {
			return false, err
		}
		t.kr.Downloaded++
		return true, nil
	}

	lm := local.SyncMeta()
	res := a.Resolve(local, incoming, c.cfg.Policy)
	switch {
	case res.Echo:
		if err := c.ackUpload(ctx, local, doc); err != nil {
			return false, err
		}
		return true, nil
	case res.Outcome == adapter.TakeRemote:
		t.kr.Conflicts++
		c.logger.Info().Str("kind", string(lm.Kind)).Str("local_id", lm.LocalID).
			Str("reason", res.Reason).Msg("remote won download conflict")
		return true, c.adopt(ctx, a, local, incoming, t)
	default:
		t.kr.Conflicts++
		c.logger.Info().Str("kind", string(lm.Kind)).Str("local_id", lm.LocalID).
			Str("reason", res.Reason).Msg("local won download conflict")
		// Move onto the remote version so the pending upload is accepted.
		return true, c.store.Rebase(context.WithoutCancel(ctx), lm.Kind, lm.LocalID, doc.Version, lm.ModifiedAt)
	}
}

// decode deserializes doc. A document whose parent was deleted remotely,
// purged here or not, is materialized as an orphan instead of waiting forever
// or pinning the tombstone.
func (c *Coordinator) decode(ctx context.Context, a adapter.Adapter, doc *remote.Document) (schema.Entity, error) {
	incoming, err := a.Deserialize(ctx, doc)
	if err == nil {
		return incoming, c.detachFromTombstone(ctx, incoming)
	}
	if !errors.Is(err, adapter.ErrParentMissing) {
		return nil, err
	}

	pa, ok := c.registry.For(doc.ParentKind)
	if !ok {
		return nil, err
	}
	parent, getErr := c.remote.Get(ctx, remote.Join(pa.CollectionPath(doc.AccountID), doc.ParentID))
	switch {
	case getErr == nil && parent.IsDeleted:
	case errors.Is(getErr, remote.ErrNotFound):
	case getErr != nil && remote.IsFatal(getErr):
		return nil, getErr
	default:
		return nil, err
	}

	detached := doc.Clone()
	detached.ParentID = ""
	detached.ParentKind = ""
	return a.Deserialize(ctx, detached)
}

// detachFromTombstone orphans e when the local parent it resolved to is a
// tombstone awaiting purge.
func (c *Coordinator) detachFromTombstone(ctx context.Context, e schema.Entity) error {
	m := e.SyncMeta()
	if m.ParentLocalID == "" {
		return nil
	}
	parent, err := c.store.GetAny(ctx, m.ParentKind, m.ParentLocalID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	if parent.SyncMeta().DeletedRemotely {
		m.ParentLocalID = ""
		m.Orphaned = true
	}
	return nil
}
