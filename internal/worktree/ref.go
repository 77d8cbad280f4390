package worktree

import (
	"sync/atomic"
	"time"

	"tmcore/internal/errors"
)

// State of a worktree reference. Created -> Cleaned is the only transition.
type State int32

const (
	Created State = iota
	cleaning
	Cleaned
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case cleaning:
		return "cleaning"
	default:
		return "cleaned"
	}
}

// Ref is the exclusive handle to one worktree directory. It is consumed by
// Manager.Cleanup; afterwards every accessor that needs the directory fails
// with REFERENCE_INVALID.
type Ref struct {
	id        string
	name      string
	base      string
	root      string
	createdAt time.Time
	state     atomic.Int32
}

func (r *Ref) ID() string { return r.id }

func (r *Ref) Name() string { return r.name }

func (r *Ref) CreatedAt() time.Time { return r.createdAt }

func (r *Ref) State() State { return State(r.state.Load()) }

// Root returns the absolute worktree directory.
func (r *Ref) Root() (string, error) {
	if r == nil {
		return "", errors.ReferenceInvalid("nil worktree reference")
	}
	if r.State() != Created {
		return "", errors.ReferenceInvalid("worktree reference has been cleaned up")
	}
	return r.root, nil
}

// Base returns the directory the worktree was created in.
func (r *Ref) Base() string { return r.base }

func (r *Ref) record() *Record {
	return &Record{
		ID:        r.id,
		Name:      r.name,
		Base:      r.base,
		Root:      r.root,
		CreatedAt: r.createdAt,
	}
}

func (r *Ref) transition(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// Record is the registry entry of a worktree.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Base      string    `json:"base"`
	Root      string    `json:"root"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Record) GetID() string { return r.ID }
