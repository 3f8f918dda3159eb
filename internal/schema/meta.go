package schema

import (
	"fmt"
	"time"
)

// Meta is the sync bookkeeping carried by every entity.
//
// Meta is never part of the wire payload. The sync engine maps it to and from
// the remote document envelope (version, timestamps, tombstone flag).
type Meta struct {
	Kind      Kind
	LocalID   string
	AccountID string

	// RemoteID is empty until the first successful upload.
	RemoteID string
	// PendingRemoteID is reserved before the first create so a retried create
	// targets the same remote document.
	PendingRemoteID string

	ParentKind    Kind
	ParentLocalID string

	// Version is the last remote version acknowledged for this entity.
	Version int64

	Dirty           bool
	Deleted         bool // deleted locally, tombstone not yet uploaded
	DeletedRemotely bool
	Orphaned        bool // parent vanished; historical record kept

	// ModifiedAt is the wall-clock time of the last write, local or remote.
	ModifiedAt time.Time
	// Origin is the device id of the last writer.
	Origin string

	LastSyncedAt *time.Time
	RetryCount   int
}

// SyncMeta returns the metadata block. Entities get this method by embedding Meta.
func (m *Meta) SyncMeta() *Meta {
	return m
}

// HasRemote reports whether the entity has been acknowledged by the remote store.
func (m *Meta) HasRemote() bool {
	return m.RemoteID != ""
}

// Visible reports whether the entity belongs on local read paths.
func (m *Meta) Visible() bool {
	return !m.Deleted && !m.DeletedRemotely
}

// ValidateMeta checks the fields every stored entity must have.
func (m *Meta) ValidateMeta() error {
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid kind %q", m.Kind)
	}
	if m.LocalID == "" {
		return fmt.Errorf("local id is required")
	}
	if m.AccountID == "" {
		return fmt.Errorf("account id is required")
	}
	if m.Version < 0 {
		return fmt.Errorf("version must be non-negative (got %d)", m.Version)
	}
	if m.ParentKind != "" && !m.Kind.AcceptsParent(m.ParentKind) {
		return fmt.Errorf("%s cannot belong to %s", m.Kind, m.ParentKind)
	}
	if !m.Kind.IsRoot() && m.ParentLocalID == "" && !m.Orphaned {
		return fmt.Errorf("%s requires a parent", m.Kind)
	}
	return nil
}

// Entity is implemented by every synchronized type.
type Entity interface {
	SyncMeta() *Meta
	Validate() error
}

// New returns an empty entity of the given kind with Meta.Kind set.
func New(kind Kind) (Entity, error) {
	var e Entity
	switch kind {
	case KindProfile:
		e = &Profile{}
	case KindSeason:
		e = &Season{}
	case KindGame:
		e = &Game{}
	case KindPractice:
		e = &Practice{}
	case KindVideoClip:
		e = &VideoClip{}
	case KindPlayResult:
		e = &PlayResult{}
	case KindStatistics:
		e = &StatisticsSnapshot{}
	default:
		return nil, fmt.Errorf("unknown entity kind: %q", kind)
	}
	e.SyncMeta().Kind = kind
	return e, nil
}

// KindOf returns the kind of e's concrete type, regardless of Meta.Kind.
func KindOf(e Entity) Kind {
	switch e.(type) {
	case *Profile:
		return KindProfile
	case *Season:
		return KindSeason
	case *Game:
		return KindGame
	case *Practice:
		return KindPractice
	case *VideoClip:
		return KindVideoClip
	case *PlayResult:
		return KindPlayResult
	case *StatisticsSnapshot:
		return KindStatistics
	}
	return ""
}
