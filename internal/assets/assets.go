// Package assets stores captured image files under the application data directory.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/marks/internal/domain"
)

// Kind selects the subdirectory an asset lives in
type Kind string

const (
	KindImage      Kind = "image"
	KindScreenshot Kind = "screenshot"
)

// KindFor maps an asset-backed mark type to its directory
func KindFor(t domain.MarkType) (Kind, bool) {
	switch t {
	case domain.MarkImage:
		return KindImage, true
	case domain.MarkScan:
		return KindScreenshot, true
	}
	return "", false
}

// Store writes and removes asset files below a root directory
type Store struct {
	root string
}

// New creates the root and its kind subdirectories
func New(root string) (*Store, error) {
	for _, k := range []Kind{KindImage, KindScreenshot} {
		if err := os.MkdirAll(filepath.Join(root, string(k)), 0o755); err != nil {
			return nil, fmt.Errorf("create asset dir %s: %w", k, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the data directory
func (s *Store) Root() string {
	return s.root
}

// Save writes data as <uuid><ext> under kind and returns the generated filename
func (s *Store) Save(kind Kind, ext string, data []byte) (string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := uuid.New().String() + strings.ToLower(ext)

	if err := os.WriteFile(s.Path(kind, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write asset: %w", err)
	}
	return name, nil
}

// Path returns the absolute location of a stored file
func (s *Store) Path(kind Kind, name string) string {
	return filepath.Join(s.root, string(kind), filepath.Base(name))
}

// Exists reports whether a stored file is present
func (s *Store) Exists(kind Kind, name string) bool {
	_, err := os.Stat(s.Path(kind, name))
	return err == nil
}

// Remove deletes a stored file, retrying once. A file that is already
// gone is not an error.
func (s *Store) Remove(kind Kind, name string) error {
	path := s.Path(kind, name)
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	time.Sleep(50 * time.Millisecond)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove asset %s: %w", path, err)
	}
	return nil
}

// IsRemote reports whether a mark URL points at a hosted copy rather than a local file
func IsRemote(url string) bool {
	return strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://")
}
