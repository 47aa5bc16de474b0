// Package cas holds the content-addressed backends a snapshot is published to.
package cas

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	// ErrNotFound is returned when no object exists for a content id.
	ErrNotFound = errors.New("cas: not found")
	// ErrInvalidID is returned for ids that do not parse as a CID.
	ErrInvalidID = errors.New("cas: invalid content id")
	// ErrCIDMismatch is returned when stored bytes do not hash to their id.
	ErrCIDMismatch = errors.New("cas: content does not match id")
	// ErrImmutable is returned when an id already holds different bytes.
	ErrImmutable = errors.New("cas: object is immutable")
	// ErrUpload is returned when the backend rejects an upload.
	ErrUpload = errors.New("cas: upload failed")
)

// Store is a content-addressed object store.
type Store interface {
	// Add stores data and returns its content id.
	Add(ctx context.Context, data []byte) (string, error)
	// Fetch reads an object through the public read path.
	Fetch(ctx context.Context, id string) ([]byte, error)
	// Remove unpins or deletes an object. Missing objects return ErrNotFound.
	Remove(ctx context.Context, id string) error
	// URL returns the public read URL of an object.
	URL(id string) string
}

// ComputeCID returns the CIDv1 (raw codec, sha2-256) of data.
func ComputeCID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}
