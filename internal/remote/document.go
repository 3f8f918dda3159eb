package remote

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/goccy/go-json"

	"github.com/diamondlog/syncd/internal/schema"
)

// Document is one entity as stored remotely.
type Document struct {
	Path       string          `json:"path"`
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	Kind       schema.Kind     `json:"kind"`
	ParentID   string          `json:"parent_id,omitempty"`
	ParentKind schema.Kind     `json:"parent_kind,omitempty"`
	Schema     string          `json:"schema"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`  // assigned by the server
	ModifiedAt time.Time       `json:"modified_at"` // writer's wall clock
	Origin     string          `json:"origin"`
	IsDeleted  bool            `json:"is_deleted"`
	Fields     json.RawMessage `json:"fields"`
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Fields != nil {
		c.Fields = append(json.RawMessage(nil), d.Fields...)
	}
	return &c
}

// Store is the remote document store.
type Store interface {
	// Ping checks that the store is reachable. It returns ErrUnavailable
	// when it is not.
	Ping(ctx context.Context) error

	// Get returns the document at path, including tombstones.
	Get(ctx context.Context, path string) (*Document, error)

	// Put writes doc if the stored version equals expectedVersion (0 for a
	// create). The stored document, with its new version and server
	// timestamp, is returned.
	Put(ctx context.Context, doc *Document, expectedVersion int64) (*Document, error)

	// ListSince returns the account's documents of a kind whose server
	// timestamp is after since, oldest first. Tombstones are included.
	ListSince(ctx context.Context, accountID string, kind schema.Kind, since time.Time) ([]*Document, error)

	Close() error
}

// Join builds a document path from a collection path and a document id.
func Join(collection, id string) string {
	return path.Join(collection, id)
}

func validatePut(doc *Document, expectedVersion int64) error {
	if doc == nil {
		return fmt.Errorf("nil document")
	}
	if doc.Path == "" || doc.ID == "" {
		return fmt.Errorf("document path and id are required")
	}
	if doc.AccountID == "" || !doc.Kind.IsValid() {
		return fmt.Errorf("document %s: account and kind are required", doc.Path)
	}
	if expectedVersion < 0 {
		return fmt.Errorf("document %s: expected version must be non-negative", doc.Path)
	}
	return nil
}
