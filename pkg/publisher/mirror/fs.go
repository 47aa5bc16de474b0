package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// FSStore keeps objects as flat files under a root directory.
type FSStore struct {
	fs        afero.Fs
	root      string
	publicURL string
}

// NewFSStore creates a store rooted at root. A nil fs uses the OS filesystem.
func NewFSStore(fs afero.Fs, root, publicURL string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("mirror: root directory is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("mirror: create root: %w", err)
	}
	return &FSStore{fs: fs, root: root, publicURL: publicURL}, nil
}

// Put writes data through a temporary file and renames it into place.
func (s *FSStore) Put(_ context.Context, key string, data []byte) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	return nil
}

// Get reads a key.
func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	b, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Delete removes a key.
func (s *FSStore) Delete(_ context.Context, key string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns keys with the given prefix.
func (s *FSStore) List(_ context.Context, prefix string) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || strings.HasSuffix(name, ".tmp") || !strings.HasPrefix(name, prefix) {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys, nil
}

// URL returns the public URL of a key, or a file URL when none is configured.
func (s *FSStore) URL(key string) string {
	if u := joinURL(s.publicURL, key); u != "" {
		return u
	}
	return "file://" + filepath.ToSlash(filepath.Join(s.root, key))
}

func (s *FSStore) pathFor(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("mirror: invalid key %q", key)
	}
	return filepath.Join(s.root, key), nil
}
