// Package filesystem implements blob.Store on a local directory under
// file:// URLs.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/papercomputeco/keepsake/pkg/blob"
)

const scheme = "file://"

// Store writes objects beneath Root.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving blob root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root %s: %w", abs, err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Put writes o atomically by renaming a temp file into place.
func (s *Store) Put(_ context.Context, o blob.Object) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(o.Key()))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("creating blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(o.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing blob %s: %w", o.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing blob %s: %w", o.ID, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("committing blob %s: %w", o.ID, err)
	}

	return scheme + filepath.ToSlash(dst), nil
}

// Get reads the object at url.
func (s *Store) Get(_ context.Context, url string) ([]byte, string, error) {
	p, err := s.path(url)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", blob.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("reading blob %s: %w", url, err)
	}
	return data, blob.ContentTypeOf(p), nil
}

// Delete removes the object at url.
func (s *Store) Delete(_ context.Context, url string) error {
	p, err := s.path(url)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting blob %s: %w", url, err)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) path(url string) (string, error) {
	if !strings.HasPrefix(url, scheme) {
		return "", fmt.Errorf("not a file url: %s", url)
	}
	p := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(url, scheme)))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("blob url %s is outside %s", url, s.root)
	}
	return p, nil
}

var _ blob.Store = (*Store)(nil)
