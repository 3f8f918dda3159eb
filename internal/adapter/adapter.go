package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/mod/semver"

	"github.com/diamondlog/syncd/internal/remote"
	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/store"
)

// WireSchema is the version of the document payload format written by this
// build. Documents with a different major version are rejected as malformed.
const WireSchema = "v1.0.0"

var (
	// ErrMalformed is returned for documents that cannot be decoded into a
	// valid entity. They are skipped and reported, never retried.
	ErrMalformed = errors.New("malformed document")

	// ErrParentNotSynced is returned when an entity's parent has no remote
	// id yet. The entity is deferred to a later pass.
	ErrParentNotSynced = errors.New("parent not synced")

	// ErrParentMissing is returned when a downloaded document names a parent
	// that is not present locally yet.
	ErrParentMissing = errors.New("parent not present locally")
)

// Lookup maps between local and remote ids. *store.Store implements it.
type Lookup interface {
	RemoteIDOf(ctx context.Context, kind schema.Kind, localID string) (string, error)
	LocalIDByRemote(ctx context.Context, kind schema.Kind, remoteID string) (string, error)
}

// Adapter encapsulates how one entity kind is synchronized.
type Adapter interface {
	Kind() schema.Kind

	// CollectionPath returns the remote collection holding the account's
	// documents of this kind.
	CollectionPath(accountID string) string

	// TieBreakFields lists the payload fields compared, in order, when two
	// writes carry the same timestamp and origin.
	TieBreakFields() []string

	// Serialize returns the wire payload of e. Device-only fields are omitted.
	Serialize(e schema.Entity) ([]byte, error)

	// Deserialize decodes doc into an entity with sync metadata taken from
	// the document and local ids resolved through the Lookup.
	Deserialize(ctx context.Context, doc *remote.Document) (schema.Entity, error)

	// ParentReference returns the remote id of e's parent, "" when e has
	// none, or ErrParentNotSynced.
	ParentReference(ctx context.Context, e schema.Entity) (string, error)

	// ProposeRemoteID returns the id to reserve before the first create.
	ProposeRemoteID(ctx context.Context, e schema.Entity) (string, error)

	// Encode builds the document to write for e. e must have a remote id or
	// a reserved pending id.
	Encode(ctx context.Context, e schema.Entity) (*remote.Document, error)

	// CheckUpdate rejects incoming states that may not replace local.
	CheckUpdate(local, incoming schema.Entity) error

	// Carry copies device-only state from local into incoming before
	// incoming is stored.
	Carry(local, incoming schema.Entity)

	// Resolve settles a conflict between a local record and the remote
	// document that replaced it.
	Resolve(local, incoming schema.Entity, policy Policy) Resolution
}

// traits declares the behavior that varies between kinds.
type traits struct {
	kind       schema.Kind
	collection string
	tieBreak   []string

	// localID derives the local id of a record first seen remotely.
	localID func(e schema.Entity) string
	// remoteID derives the remote id of a record created here.
	remoteID func(ctx context.Context, b *base, e schema.Entity) (string, error)
	// wire prepares a copy of e for serialization.
	wire func(e schema.Entity) schema.Entity
	// decoded post-processes a deserialized entity.
	decoded func(e schema.Entity)
	check   func(local, incoming schema.Entity) error
	carry   func(local, incoming schema.Entity)
}

type base struct {
	traits
	lookup Lookup
}

func newBase(s traits, lookup Lookup) *base {
	return &base{traits: s, lookup: lookup}
}

func (b *base) Kind() schema.Kind {
	return b.kind
}

func (b *base) CollectionPath(accountID string) string {
	return fmt.Sprintf("accounts/%s/%s", accountID, b.collection)
}

func (b *base) TieBreakFields() []string {
	return b.tieBreak
}

func (b *base) Serialize(e schema.Entity) ([]byte, error) {
	if e.SyncMeta().Kind != b.kind {
		return nil, fmt.Errorf("%s adapter cannot serialize %s", b.kind, e.SyncMeta().Kind)
	}
	if b.wire != nil {
		e = b.wire(e)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", b.kind, err)
	}
	return data, nil
}

func (b *base) Deserialize(ctx context.Context, doc *remote.Document) (schema.Entity, error) {
	if doc.Kind != b.kind {
		return nil, fmt.Errorf("%s adapter got %s document %s: %w", b.kind, doc.Kind, doc.ID, ErrMalformed)
	}
	if !semver.IsValid(doc.Schema) || semver.Major(doc.Schema) != semver.Major(WireSchema) {
		return nil, fmt.Errorf("document %s has schema %q: %w", doc.ID, doc.Schema, ErrMalformed)
	}

	e, err := schema.New(b.kind)
	if err != nil {
		return nil, err
	}
	if len(doc.Fields) > 0 {
		if err := json.Unmarshal(doc.Fields, e); err != nil {
			return nil, fmt.Errorf("document %s: %v: %w", doc.ID, err, ErrMalformed)
		}
	}

	m := e.SyncMeta()
	m.AccountID = doc.AccountID
	m.RemoteID = doc.ID
	m.Version = doc.Version
	m.ModifiedAt = doc.ModifiedAt
	m.Origin = doc.Origin
	m.DeletedRemotely = doc.IsDeleted

	if doc.ParentID != "" {
		if !b.kind.AcceptsParent(doc.ParentKind) {
			return nil, fmt.Errorf("document %s: %s cannot belong to %s: %w", doc.ID, b.kind, doc.ParentKind, ErrMalformed)
		}
		m.ParentKind = doc.ParentKind
		parentLocal, err := b.lookup.LocalIDByRemote(ctx, doc.ParentKind, doc.ParentID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if !doc.IsDeleted {
				return nil, fmt.Errorf("document %s parent %s %s: %w", doc.ID, doc.ParentKind, doc.ParentID, ErrParentMissing)
			}
			m.Orphaned = true
		case err != nil:
			return nil, err
		default:
			m.ParentLocalID = parentLocal
		}
	} else if !b.kind.IsRoot() {
		m.Orphaned = true
	}

	localID, err := b.lookup.LocalIDByRemote(ctx, b.kind, doc.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		localID = b.newLocalID(e)
	case err != nil:
		return nil, err
	}
	m.LocalID = localID

	if b.decoded != nil {
		b.decoded(e)
	}

	if !doc.IsDeleted {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("document %s: %v: %w", doc.ID, err, ErrMalformed)
		}
	}
	return e, nil
}

func (b *base) newLocalID(e schema.Entity) string {
	if b.localID != nil {
		if id := b.localID(e); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func (b *base) ParentReference(ctx context.Context, e schema.Entity) (string, error) {
	m := e.SyncMeta()
	if m.ParentLocalID == "" {
		return "", nil
	}
	remoteID, err := b.lookup.RemoteIDOf(ctx, m.ParentKind, m.ParentLocalID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%s %s parent %s %s: %w", m.Kind, m.LocalID, m.ParentKind, m.ParentLocalID, ErrParentNotSynced)
	}
	if err != nil {
		return "", err
	}
	if remoteID == "" {
		return "", fmt.Errorf("%s %s: %w", m.Kind, m.LocalID, ErrParentNotSynced)
	}
	return remoteID, nil
}

func (b *base) ProposeRemoteID(ctx context.Context, e schema.Entity) (string, error) {
	if b.remoteID != nil {
		return b.remoteID(ctx, b, e)
	}
	return ulid.Make().String(), nil
}

func (b *base) Encode(ctx context.Context, e schema.Entity) (*remote.Document, error) {
	m := e.SyncMeta()
	id := m.RemoteID
	if id == "" {
		id = m.PendingRemoteID
	}
	if id == "" {
		return nil, fmt.Errorf("%s %s has no remote id reserved", m.Kind, m.LocalID)
	}

	parentID, err := b.ParentReference(ctx, e)
	if err != nil {
		return nil, err
	}
	fields, err := b.Serialize(e)
	if err != nil {
		return nil, err
	}

	doc := &remote.Document{
		Path:       remote.Join(b.CollectionPath(m.AccountID), id),
		ID:         id,
		AccountID:  m.AccountID,
		Kind:       b.kind,
		ParentID:   parentID,
		Schema:     WireSchema,
		Version:    m.Version,
		ModifiedAt: m.ModifiedAt,
		Origin:     m.Origin,
		IsDeleted:  m.Deleted,
		Fields:     fields,
	}
	if parentID != "" {
		doc.ParentKind = m.ParentKind
	}
	return doc, nil
}

func (b *base) CheckUpdate(local, incoming schema.Entity) error {
	if b.check == nil || local == nil || incoming.SyncMeta().DeletedRemotely {
		return nil
	}
	return b.check(local, incoming)
}

func (b *base) Carry(local, incoming schema.Entity) {
	if b.carry != nil && local != nil {
		b.carry(local, incoming)
	}
}

func (b *base) Resolve(local, incoming schema.Entity, policy Policy) Resolution {
	return resolve(b, local, incoming, policy)
}
