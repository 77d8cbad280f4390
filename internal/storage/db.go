package storage

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Open opens the database at dir, or an in-memory one when inMemory is set.
// Badger's own logger is disabled.
func Open(dir string, inMemory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
