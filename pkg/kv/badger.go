package kv

import (
	"fmt"

	badger "github.com/ipfs/go-ds-badger"
)

// OpenBadger opens (or creates) an embedded badger store at path.
func OpenBadger(path string) (*DatastoreStore, error) {
	opts := badger.DefaultOptions
	ds, err := badger.NewDatastore(path, &opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open badger at %s: %w", path, err)
	}
	return NewDatastore(ds), nil
}
