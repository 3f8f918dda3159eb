package adapter

import (
	"context"
	"fmt"

	"github.com/diamondlog/syncd/internal/schema"
)

// FileResolver finds the local copy of a stored video file.
type FileResolver interface {
	LocalPath(storageRef string) (string, bool)
}

// NewProfile returns the adapter for profiles.
func NewProfile(lookup Lookup) Adapter {
	return newBase(traits{
		kind:       schema.KindProfile,
		collection: "profiles",
		tieBreak:   []string{"name", "jersey_number", "position"},
	}, lookup)
}

// NewSeason returns the adapter for seasons.
func NewSeason(lookup Lookup) Adapter {
	return newBase(traits{
		kind:       schema.KindSeason,
		collection: "seasons",
		tieBreak:   []string{"year", "name", "active"},
	}, lookup)
}

// NewGame returns the adapter for games.
func NewGame(lookup Lookup) Adapter {
	return newBase(traits{
		kind:       schema.KindGame,
		collection: "games",
		tieBreak:   []string{"played_at", "opponent", "team_runs", "opponent_runs", "finalized"},
	}, lookup)
}

// NewPractice returns the adapter for practices.
func NewPractice(lookup Lookup) Adapter {
	return newBase(traits{
		kind:       schema.KindPractice,
		collection: "practices",
		tieBreak:   []string{"practiced_at", "title", "notes"},
	}, lookup)
}

// NewVideoClip returns the adapter for clip metadata. The local file path
// never leaves the device; downloaded clips are pointed at a local file when
// files has one for their storage reference.
func NewVideoClip(lookup Lookup, files FileResolver) Adapter {
	return newBase(traits{
		kind:       schema.KindVideoClip,
		collection: "video_clips",
		tieBreak:   []string{"recorded_at", "file_name", "storage_ref", "highlight"},
		wire: func(e schema.Entity) schema.Entity {
			c := *e.(*schema.VideoClip)
			c.LocalPath = ""
			return &c
		},
		decoded: func(e schema.Entity) {
			clip := e.(*schema.VideoClip)
			clip.LocalPath = ""
			if files == nil || clip.StorageRef == "" {
				return
			}
			if p, ok := files.LocalPath(clip.StorageRef); ok {
				clip.LocalPath = p
			}
		},
		carry: func(local, incoming schema.Entity) {
			l, in := local.(*schema.VideoClip), incoming.(*schema.VideoClip)
			if in.LocalPath == "" && l.StorageRef == in.StorageRef {
				in.LocalPath = l.LocalPath
			}
		},
	}, lookup)
}

// NewPlayResult returns the adapter for play results. Plays are immutable:
// an incoming state that changes the type of a known play is malformed.
func NewPlayResult(lookup Lookup) Adapter {
	return newBase(traits{
		kind:       schema.KindPlayResult,
		collection: "play_results",
		tieBreak:   []string{"recorded_at", "type", "inning"},
		check: func(local, incoming schema.Entity) error {
			l, in := local.(*schema.PlayResult), incoming.(*schema.PlayResult)
			if l.Type != in.Type {
				return fmt.Errorf("play %s changed type from %s to %s: %w", l.LocalID, l.Type, in.Type, ErrMalformed)
			}
			return nil
		},
	}, lookup)
}

// NewStatistics returns the adapter for statistics snapshots.
//
// Snapshot ids are derived from their scope so that devices recomputing the
// same scope write the same document instead of creating duplicates.
func NewStatistics(lookup Lookup) Adapter {
	return newBase(traits{
		kind:       schema.KindStatistics,
		collection: "statistics",
		tieBreak:   []string{"play_count", "counters.plate_appearances", "counters.hits", "computed_at"},
		localID: func(e schema.Entity) string {
			snap := e.(*schema.StatisticsSnapshot)
			if snap.ParentLocalID == "" {
				return ""
			}
			return schema.SnapshotLocalID(snap.ParentKind, snap.ParentLocalID)
		},
		remoteID: func(ctx context.Context, b *base, e schema.Entity) (string, error) {
			parent, err := b.ParentReference(ctx, e)
			if err != nil {
				return "", err
			}
			if parent == "" {
				return "", fmt.Errorf("snapshot %s has no scope: %w", e.SyncMeta().LocalID, ErrParentNotSynced)
			}
			return SnapshotRemoteID(e.SyncMeta().ParentKind, parent), nil
		},
	}, lookup)
}

// SnapshotRemoteID returns the remote id of the snapshot of a scope.
func SnapshotRemoteID(scopeKind schema.Kind, scopeRemoteID string) string {
	return fmt.Sprintf("%s-%s", scopeKind, scopeRemoteID)
}
