// Package media maps clip storage references to files on this device.
package media

import (
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/afero"
)

// ErrInvalidRef is returned for a storage reference that escapes the media
// root or is empty.
var ErrInvalidRef = errors.New("invalid storage reference")

// Resolver finds the local file for a storage reference.
type Resolver interface {
	LocalPath(ref string) (string, bool)
}

// FSResolver keeps clip files under a root directory of an afero filesystem,
// one file per storage reference.
type FSResolver struct {
	fs   afero.Fs
	root string
}

// NewFSResolver returns a resolver rooted at root on fs.
func NewFSResolver(fs afero.Fs, root string) *FSResolver {
	return &FSResolver{fs: fs, root: root}
}

// NewRef returns a fresh storage reference for a clip file.
func NewRef(accountID, fileName string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate storage id: %w", err)
	}
	return path.Join("accounts", accountID, "clips", id, path.Base(filepath.ToSlash(fileName))), nil
}

func (r *FSResolver) path(ref string) (string, error) {
	clean := path.Clean("/" + ref)
	if ref == "" || clean == "/" || strings.Contains(ref, "..") {
		return "", fmt.Errorf("%q: %w", ref, ErrInvalidRef)
	}
	return filepath.Join(r.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// LocalPath returns the file holding ref and whether it exists here.
func (r *FSResolver) LocalPath(ref string) (string, bool) {
	p, err := r.path(ref)
	if err != nil {
		return "", false
	}
	ok, err := afero.Exists(r.fs, p)
	if err != nil || !ok {
		return "", false
	}
	return p, true
}

// Put stores the bytes of ref, as the file transfer does when a clip
// arrives on this device.
func (r *FSResolver) Put(ref string, src io.Reader) (string, error) {
	p, err := r.path(ref)
	if err != nil {
		return "", err
	}
	if err := r.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(p), err)
	}
	f, err := r.fs.Create(p)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", p, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", p, err)
	}
	return p, f.Close()
}

// Remove deletes the file of ref if present.
func (r *FSResolver) Remove(ref string) error {
	p, err := r.path(ref)
	if err != nil {
		return err
	}
	if err := r.fs.Remove(p); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
		return err
	}
	return nil
}
