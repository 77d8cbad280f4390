package diff

import (
	"bytes"
	"fmt"
	"sort"

	"tmcore/internal/errors"
	"tmcore/internal/safety"
)

// Kind is the change recorded for one path.
type Kind string

const (
	Added    Kind = "added"
	Modified Kind = "modified"
	Deleted  Kind = "deleted"
)

// FileChange is the diff record of one path. Err is set when the path could
// not be compared; Kind is empty in that case.
type FileChange struct {
	Path    safety.Path   `json:"path"`
	Kind    Kind          `json:"kind,omitempty"`
	Binary  bool          `json:"binary,omitempty"`
	OldHash string        `json:"old_hash,omitempty"`
	NewHash string        `json:"new_hash,omitempty"`
	Hunks   []Hunk        `json:"hunks,omitempty"`
	Stats   Stats         `json:"stats"`
	Err     *errors.Error `json:"error,omitempty"`
}

// Result lists changed paths in path order, each at most once.
type Result struct {
	Entries []FileChange `json:"entries"`
}

func newResult(changes []FileChange) *Result {
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	out := changes[:0]
	for _, c := range changes {
		if len(out) > 0 && out[len(out)-1].Path == c.Path {
			continue
		}
		out = append(out, c)
	}
	return &Result{Entries: out}
}

// Paths returns the changed paths.
func (r *Result) Paths() []safety.Path {
	paths := make([]safety.Path, len(r.Entries))
	for i, e := range r.Entries {
		paths[i] = e.Path
	}
	return paths
}

// Failed returns the records that carry an error.
func (r *Result) Failed() []FileChange {
	var out []FileChange
	for _, e := range r.Entries {
		if e.Err != nil {
			out = append(out, e)
		}
	}
	return out
}

// Stats totals the line stats of every record.
func (r *Result) Stats() Stats {
	var s Stats
	for _, e := range r.Entries {
		s.Additions += e.Stats.Additions
		s.Deletions += e.Stats.Deletions
		s.Changes += e.Stats.Changes
	}
	return s
}

// Summary renders one line per path.
func (r *Result) Summary() string {
	var buf bytes.Buffer
	for _, e := range r.Entries {
		switch {
		case e.Err != nil:
			fmt.Fprintf(&buf, "!  %s (%s)\n", e.Path, e.Err.Type)
		case e.Binary:
			fmt.Fprintf(&buf, "%s  %s (binary)\n", marker(e.Kind), e.Path)
		default:
			fmt.Fprintf(&buf, "%s  %s +%d -%d\n", marker(e.Kind), e.Path, e.Stats.Additions, e.Stats.Deletions)
		}
	}
	return buf.String()
}

// Format renders every record as unified-style text.
func (r *Result) Format() string {
	var buf bytes.Buffer
	for _, e := range r.Entries {
		if e.Err != nil {
			fmt.Fprintf(&buf, "error %s: %s\n", e.Path, e.Err.Error())
			continue
		}

		oldName, newName := "a/"+string(e.Path), "b/"+string(e.Path)
		switch e.Kind {
		case Added:
			oldName = "/dev/null"
		case Deleted:
			newName = "/dev/null"
		}
		fmt.Fprintf(&buf, "--- %s\n+++ %s\n", oldName, newName)
		if e.Binary {
			fmt.Fprintf(&buf, "Binary files differ\n")
			continue
		}
		writeHunks(&buf, e.Hunks)
	}
	return buf.String()
}

func marker(k Kind) string {
	switch k {
	case Added:
		return "A"
	case Deleted:
		return "D"
	default:
		return "M"
	}
}
