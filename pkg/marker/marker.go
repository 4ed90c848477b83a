// Package marker stores the last built and deployed image tags as plain
// text files in the project directory. The cluster stays authoritative;
// markers are only a fallback when it cannot be queried.
package marker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const Dir = ".shipctl"

// Kind names a marker file.
type Kind string

const (
	LastBuilt    Kind = "last-built-tag"
	LastDeployed Kind = "last-deployed-tag"
)

// Store reads and writes markers under a project directory.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore creates a store for projectDir.
func NewStore(fs afero.Fs, projectDir string) *Store {
	return &Store{fs: fs, dir: filepath.Join(projectDir, Dir)}
}

// Path returns the file backing a marker.
func (s *Store) Path(kind Kind) string {
	return filepath.Join(s.dir, string(kind))
}

// Write records tag under kind.
func (s *Store) Write(kind Kind, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return errors.New("marker: empty tag")
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", s.dir, err)
	}
	return afero.WriteFile(s.fs, s.Path(kind), []byte(tag+"\n"), 0o644)
}

// Read returns the recorded tag, or "" when the marker does not exist.
func (s *Store) Read(kind Kind) (string, error) {
	data, err := afero.ReadFile(s.fs, s.Path(kind))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading marker %s: %w", kind, err)
	}
	return strings.TrimSpace(string(data)), nil
}
