// Package backup writes an account's local records to a JSONL file and reads
// such files back.
//
// Each line holds one record: its sync metadata and the payload fields.
// Records are written in sync order so parents precede children.
package backup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/diamondlog/syncd/internal/schema"
)

// Lister is the part of the local store a backup reads.
type Lister interface {
	ListAll(ctx context.Context, accountID string, kind schema.Kind) ([]schema.Entity, error)
}

// Record is one line of a backup file.
type Record struct {
	Kind          schema.Kind     `json:"kind"`
	LocalID       string          `json:"local_id"`
	AccountID     string          `json:"account_id"`
	RemoteID      string          `json:"remote_id,omitempty"`
	ParentKind    schema.Kind     `json:"parent_kind,omitempty"`
	ParentLocalID string          `json:"parent_local_id,omitempty"`
	Version       int64           `json:"version"`
	Dirty         bool            `json:"dirty,omitempty"`
	Deleted       bool            `json:"deleted,omitempty"`
	Orphaned      bool            `json:"orphaned,omitempty"`
	ModifiedAt    time.Time       `json:"modified_at"`
	Origin        string          `json:"origin,omitempty"`
	Fields        json.RawMessage `json:"fields"`
}

// Result counts what a backup wrote or read.
type Result struct {
	Path    string              `json:"path,omitempty" yaml:"path,omitempty"`
	Records int                 `json:"records" yaml:"records"`
	ByKind  map[schema.Kind]int `json:"by_kind" yaml:"by_kind"`
}

func newResult(path string) *Result {
	return &Result{Path: path, ByKind: make(map[schema.Kind]int)}
}

func (r *Result) add(kind schema.Kind) {
	r.Records++
	r.ByKind[kind]++
}

// FileName returns the backup path for a backup taken at now.
func FileName(dir string, now time.Time) string {
	return filepath.Join(dir, "syncd-"+now.UTC().Format("20060102-150405")+".jsonl")
}

func toRecord(e schema.Entity) (*Record, error) {
	fields, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	m := e.SyncMeta()
	return &Record{
		Kind:          m.Kind,
		LocalID:       m.LocalID,
		AccountID:     m.AccountID,
		RemoteID:      m.RemoteID,
		ParentKind:    m.ParentKind,
		ParentLocalID: m.ParentLocalID,
		Version:       m.Version,
		Dirty:         m.Dirty,
		Deleted:       m.Deleted || m.DeletedRemotely,
		Orphaned:      m.Orphaned,
		ModifiedAt:    m.ModifiedAt,
		Origin:        m.Origin,
		Fields:        fields,
	}, nil
}

// Entity rebuilds the record as a validated entity.
func (r *Record) Entity() (schema.Entity, error) {
	e, err := schema.New(r.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(r.Fields, e); err != nil {
		return nil, fmt.Errorf("invalid fields: %w", err)
	}
	m := e.SyncMeta()
	m.LocalID = r.LocalID
	m.AccountID = r.AccountID
	m.RemoteID = r.RemoteID
	m.ParentKind = r.ParentKind
	m.ParentLocalID = r.ParentLocalID
	m.Version = r.Version
	m.Dirty = r.Dirty
	m.Deleted = r.Deleted
	m.Orphaned = r.Orphaned
	m.ModifiedAt = r.ModifiedAt
	m.Origin = r.Origin
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Export writes every record of the account, tombstones included, to w.
func Export(ctx context.Context, st Lister, accountID string, w io.Writer) (*Result, error) {
	res := newResult("")
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	for _, kind := range schema.SyncOrder {
		all, err := st.ListAll(ctx, accountID, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", kind, err)
		}
		for _, e := range all {
			rec, err := toRecord(e)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s %s: %w", kind, e.SyncMeta().LocalID, err)
			}
			if err := enc.Encode(rec); err != nil {
				return nil, err
			}
			res.add(kind)
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return res, nil
}

// WriteFile exports the account to path, replacing it atomically.
func WriteFile(ctx context.Context, st Lister, accountID, path string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - path chosen by the operator
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	res, err := Export(ctx, st, accountID, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	res.Path = path
	return res, nil
}

// Read parses a backup and rebuilds its entities. Every line must decode and
// validate, and a child must not precede its parent.
func Read(r io.Reader) ([]schema.Entity, *Result, error) {
	res := newResult("")
	seen := make(map[string]bool)
	dec := json.NewDecoder(r)

	var out []schema.Entity
	for line := 1; ; line++ {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("invalid JSON at line %d: %w", line, err)
		}
		e, err := rec.Entity()
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %s %s: %w", line, rec.Kind, rec.LocalID, err)
		}
		if rec.ParentLocalID != "" && !seen[string(rec.ParentKind)+"/"+rec.ParentLocalID] {
			return nil, nil, fmt.Errorf("line %d: %s %s precedes its parent %s %s",
				line, rec.Kind, rec.LocalID, rec.ParentKind, rec.ParentLocalID)
		}
		seen[string(rec.Kind)+"/"+rec.LocalID] = true
		res.add(rec.Kind)
		out = append(out, e)
	}
	return out, res, nil
}

// ReadFile reads the backup at path.
func ReadFile(path string) ([]schema.Entity, *Result, error) {
	// #nosec G304 - path chosen by the operator
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	entities, res, err := Read(f)
	if err != nil {
		return nil, nil, err
	}
	res.Path = path
	return entities, res, nil
}
