// Package store persists raw files and TOML documents under a root directory.
//
// Writes are atomic: data goes to a uniquely named temporary file in the
// target directory and is renamed into place, so a reader never observes a
// partially written file. Paths are slash-separated and relative to the root;
// paths escaping the root are rejected.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// ErrInvalidPath is returned for paths that are empty or leave the root.
var ErrInvalidPath = errors.New("invalid store path")

const (
	dirPerm  = 0o755
	filePerm = 0o644
	tmpExt   = ".tmp"
)

// Store is a directory of files and documents.
type Store struct {
	root string
}

// Open creates root if needed and returns a Store over it.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrInvalidPath)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}

	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Join builds a store path from elements.
func Join(elem ...string) string {
	return strings.Join(elem, "/")
}

func (s *Store) resolve(rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if rel == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}

	return filepath.Join(s.root, local), nil
}

// WriteFile atomically replaces the file at rel with data, creating parent directories.
func (s *Store) WriteFile(rel string, data []byte) error {
	path, err := s.resolve(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+tmpExt)
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return nil
}

// ReadFile returns the contents of the file at rel.
// A missing file yields an error matching fs.ErrNotExist.
func (s *Store) ReadFile(rel string) ([]byte, error) {
	path, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}

	return os.ReadFile(path)
}

// WriteDocument encodes v as TOML and writes it atomically to rel.
func (s *Store) WriteDocument(rel string, v any) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", rel, err)
	}

	return s.WriteFile(rel, buf.Bytes())
}

// ReadDocument decodes the TOML document at rel into v.
func (s *Store) ReadDocument(rel string, v any) error {
	data, err := s.ReadFile(rel)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", rel, err)
	}

	return nil
}

// Exists reports whether rel names an existing file or directory.
func (s *Store) Exists(rel string) bool {
	path, err := s.resolve(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)

	return err == nil
}

// Dirs returns the names of the subdirectories of rel, sorted.
// An empty rel lists the root. A missing directory yields no names.
func (s *Store) Dirs(rel string) ([]string, error) {
	return s.list(rel, true)
}

// Files returns the names of the regular files in rel, sorted.
// Temporary files of interrupted writes are not listed.
func (s *Store) Files(rel string) ([]string, error) {
	return s.list(rel, false)
}

func (s *Store) list(rel string, dirs bool) ([]string, error) {
	path := s.root
	if rel != "" {
		var err error
		if path, err = s.resolve(rel); err != nil {
			return nil, err
		}
	}

	entries, err := os.ReadDir(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() == dirs && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	return names, nil
}

// Remove deletes rel and everything below it. Removing a missing path is not an error.
func (s *Store) Remove(rel string) error {
	path, err := s.resolve(rel)
	if err != nil {
		return err
	}

	return os.RemoveAll(path)
}
