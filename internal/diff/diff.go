// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type      LineType `json:"type"`
	Content   string   `json:"content"`
	OldNum    int      `json:"old_num,omitempty"`
	NewNum    int      `json:"new_num,omitempty"`
	NoNewline bool     `json:"no_newline,omitempty"` // last line of its side, without a trailing newline
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

func (t LineType) String() string {
	switch t {
	case Addition:
		return "addition"
	case Deletion:
		return "deletion"
	default:
		return "context"
	}
}

func (t LineType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Stats counts changed lines
type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Changes   int `json:"changes"`
}

// ContentDiff contains the line diff of two contents
type ContentDiff struct {
	Hunks []Hunk `json:"hunks,omitempty"`
	Stats Stats  `json:"stats"`
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Lines    []Line `json:"lines"`
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{
		contextLines: contextLines,
	}
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) (*ContentDiff, error) {
	dmp := diffpatch.New()
	// no deadline, so the same inputs always give the same hunks
	dmp.DiffTimeout = 0

	oldRunes, newRunes, lineArray := dmp.DiffLinesToRunes(string(oldContent), string(newContent))
	diffs := dmp.DiffMainRunes(oldRunes, newRunes, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	lines := numberLines(diffs)
	result := &ContentDiff{
		Hunks: buildHunks(lines, e.contextLines),
	}

	for _, line := range lines {
		switch line.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions

	return result, nil
}

// Format returns a unified-style representation of the diff
func (r *ContentDiff) Format() string {
	var buf bytes.Buffer
	writeHunks(&buf, r.Hunks)
	return buf.String()
}

func writeHunks(buf *bytes.Buffer, hunks []Hunk) {
	for _, hunk := range hunks {
		fmt.Fprintf(buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteByte('+')
			case Deletion:
				buf.WriteByte('-')
			case Context:
				buf.WriteByte(' ')
			}
			buf.WriteString(line.Content)
			buf.WriteByte('\n')
			if line.NoNewline {
				buf.WriteString("\\ No newline at end of file\n")
			}
		}
	}
}
