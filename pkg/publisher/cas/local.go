package cas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/spf13/afero"
)

// LocalStore keeps objects on a filesystem, keyed by CIDv1. Objects are written once and
// re-verified against their id on every read.
type LocalStore struct {
	fs   afero.Fs
	root string
}

// NewLocalStore creates a store rooted at root on fs. A nil fs uses the OS filesystem.
func NewLocalStore(fs afero.Fs, root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("cas: root directory is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cas: create root: %w", err)
	}
	return &LocalStore{fs: fs, root: root}, nil
}

// Add writes data under its CID. Adding identical bytes twice is a no-op.
func (s *LocalStore) Add(_ context.Context, data []byte) (string, error) {
	id, err := ComputeCID(data)
	if err != nil {
		return "", err
	}

	path := s.pathFor(id)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := s.read(id)
			if rerr != nil || !bytes.Equal(existing, data) {
				return "", ErrImmutable
			}
			return id.String(), nil
		}
		return "", err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(path)
		return "", err
	}
	return id.String(), nil
}

// Fetch reads and verifies an object.
func (s *LocalStore) Fetch(_ context.Context, id string) ([]byte, error) {
	c, err := cid.Decode(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return s.read(c)
}

// Remove deletes an object.
func (s *LocalStore) Remove(_ context.Context, id string) error {
	c, err := cid.Decode(id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if err := s.fs.Remove(s.pathFor(c)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// URL returns a file URL for the object.
func (s *LocalStore) URL(id string) string {
	c, err := cid.Decode(id)
	if err != nil {
		return ""
	}
	return "file://" + filepath.ToSlash(s.pathFor(c))
}

func (s *LocalStore) read(id cid.Cid) ([]byte, error) {
	b, err := afero.ReadFile(s.fs, s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	got, err := ComputeCID(b)
	if err != nil {
		return nil, err
	}
	if !got.Equals(id) {
		return nil, ErrCIDMismatch
	}
	return b, nil
}

func (s *LocalStore) pathFor(id cid.Cid) string {
	str := id.String()
	if len(str) < 2 {
		return filepath.Join(s.root, str)
	}
	return filepath.Join(s.root, str[:2], str)
}
