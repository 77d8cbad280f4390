package index

import (
	"io/fs"
	"time"

	"tmcore/internal/safety"
	"tmcore/shared/utils"
)

// Status classifies a tracked path.
type Status string

const (
	StatusStaged    Status = "staged"
	StatusUnstaged  Status = "unstaged"
	StatusUntracked Status = "untracked"
)

// Entry is the index record for one path. Published entries are never
// modified; a batch replaces them.
type Entry struct {
	Path     safety.Path `json:"path"`
	Status   Status      `json:"status"`
	Hash     string      `json:"hash,omitempty"`
	Size     int64       `json:"size,omitempty"`
	Mode     fs.FileMode `json:"mode,omitempty"`
	ModTime  time.Time   `json:"mod_time,omitempty"`
	StagedAt time.Time   `json:"staged_at,omitempty"`
	// Prior is the entry this one replaced when it was staged; nil when the
	// path had no entry of its own.
	Prior *Entry `json:"prior,omitempty"`
}

// State is an immutable snapshot of the index. The zero value is empty.
type State struct {
	entries  map[safety.Path]*Entry
	baseline map[safety.Path]string
	version  uint64
}

func newState() *State {
	return &State{
		entries:  make(map[safety.Path]*Entry),
		baseline: make(map[safety.Path]string),
	}
}

// clone returns a shallow copy for the next batch to mutate. Entries are
// shared since they are immutable.
func (s *State) clone() *State {
	next := &State{
		entries:  make(map[safety.Path]*Entry, len(s.entries)),
		baseline: make(map[safety.Path]string, len(s.baseline)),
		version:  s.version + 1,
	}
	for p, e := range s.entries {
		next.entries[p] = e
	}
	for p, h := range s.baseline {
		next.baseline[p] = h
	}
	return next
}

// Version increases by one with every published batch.
func (s *State) Version() uint64 { return s.version }

// Entry returns a copy of the entry recorded for p.
func (s *State) Entry(p safety.Path) (Entry, bool) {
	e, ok := s.entries[p]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Status classifies p. A path known only from the baseline is unstaged.
func (s *State) Status(p safety.Path) (Status, bool) {
	if e, ok := s.entries[p]; ok {
		return e.Status, true
	}
	if _, ok := s.baseline[p]; ok {
		return StatusUnstaged, true
	}
	return "", false
}

// Baseline returns the last-known content hash of p.
func (s *State) Baseline(p safety.Path) (string, bool) {
	h, ok := s.baseline[p]
	return h, ok
}

// StagedHash returns the staged content hash of p.
func (s *State) StagedHash(p safety.Path) (string, bool) {
	e, ok := s.entries[p]
	if !ok || e.Status != StatusStaged {
		return "", false
	}
	return e.Hash, true
}

// Entries returns every entry in path order.
func (s *State) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, p := range utils.SortedKeys(s.entries) {
		out = append(out, *s.entries[p])
	}
	return out
}

// Tracked returns the staged paths and the baseline paths, sorted.
func (s *State) Tracked() []safety.Path {
	out := make([]safety.Path, 0, len(s.entries)+len(s.baseline))
	for p, e := range s.entries {
		if e.Status == StatusStaged {
			out = append(out, p)
		}
	}
	for p := range s.baseline {
		out = append(out, p)
	}
	return safety.SortPaths(out)
}

// Classification maps every classified path to its status.
func (s *State) Classification() map[safety.Path]Status {
	out := make(map[safety.Path]Status, len(s.entries)+len(s.baseline))
	for p := range s.baseline {
		out[p] = StatusUnstaged
	}
	for p, e := range s.entries {
		out[p] = e.Status
	}
	return out
}

// Count tallies paths by status.
func (s *State) Count() map[Status]int {
	counts := make(map[Status]int)
	for _, st := range s.Classification() {
		counts[st]++
	}
	return counts
}
