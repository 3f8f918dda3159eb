package store

import (
	"context"
	"fmt"
	"time"

	"github.com/diamondlog/syncd/internal/schema"
)

// KindStatus summarizes the sync state of one kind for an account.
type KindStatus struct {
	Kind      schema.Kind `json:"kind" yaml:"kind"`
	Total     int         `json:"total" yaml:"total"`
	Dirty     int         `json:"dirty" yaml:"dirty"`
	Deleted   int         `json:"deleted" yaml:"deleted"`
	Orphaned  int         `json:"orphaned" yaml:"orphaned"`
	Retrying  int         `json:"retrying" yaml:"retrying"`
	Watermark time.Time   `json:"watermark" yaml:"watermark"`
}

// Status returns one KindStatus per kind in sync order.
func (s *Store) Status(ctx context.Context, accountID string) ([]KindStatus, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT kind,
			SUM(CASE WHEN deleted = 0 AND deleted_remotely = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN dirty = 1 AND deleted_remotely = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN deleted = 1 OR deleted_remotely = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN orphaned = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN retry_count > 0 AND dirty = 1 THEN 1 ELSE 0 END)
		FROM entities
		WHERE account_id = ?
		GROUP BY kind`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status: %w", err)
	}
	defer rows.Close()

	byKind := make(map[schema.Kind]KindStatus)
	for rows.Next() {
		var (
			kind string
			ks   KindStatus
		)
		if err := rows.Scan(&kind, &ks.Total, &ks.Dirty, &ks.Deleted, &ks.Orphaned, &ks.Retrying); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		byKind[schema.Kind(kind)] = ks
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status: %w", err)
	}

	out := make([]KindStatus, 0, len(schema.SyncOrder))
	for _, kind := range schema.SyncOrder {
		ks := byKind[kind]
		ks.Kind = kind
		wm, err := s.Watermark(ctx, accountID, kind)
		if err != nil {
			return nil, err
		}
		ks.Watermark = wm
		out = append(out, ks)
	}
	return out, nil
}
