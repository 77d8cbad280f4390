package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"tmcore/internal/safety"
	"tmcore/internal/storage"
)

// Store persists index snapshots between sessions.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Flush(ctx context.Context, state *State) error
}

const indexPrefix = "index"

// record is the persisted form of one path.
type record struct {
	Path     safety.Path `json:"path"`
	Entry    *Entry      `json:"entry,omitempty"`
	Baseline string      `json:"baseline,omitempty"`
}

func (r *record) GetID() string { return string(r.Path) }

// BadgerStore keeps one JSON record per path under the "index" prefix.
type BadgerStore struct {
	store *storage.BadgerStore
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{store: storage.NewBadgerStore(db, indexPrefix)}
}

func (s *BadgerStore) Load(ctx context.Context) (*State, error) {
	state := newState()
	err := s.store.Iterate(func(id string, val []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var r record
		if err := json.Unmarshal(val, &r); err != nil {
			return fmt.Errorf("decoding index record %s: %w", id, err)
		}
		if r.Entry != nil {
			state.entries[r.Path] = r.Entry
		}
		if r.Baseline != "" {
			state.baseline[r.Path] = r.Baseline
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Flush replaces everything stored with state in one transaction.
func (s *BadgerStore) Flush(ctx context.Context, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	byPath := make(map[safety.Path]*record, len(state.entries)+len(state.baseline))
	get := func(p safety.Path) *record {
		r, ok := byPath[p]
		if !ok {
			r = &record{Path: p}
			byPath[p] = r
		}
		return r
	}
	for p, e := range state.entries {
		get(p).Entry = e
	}
	for p, h := range state.baseline {
		get(p).Baseline = h
	}

	records := make([]storage.Entity, 0, len(byPath))
	for _, r := range byPath {
		records = append(records, r)
	}
	return s.store.Replace(records)
}
