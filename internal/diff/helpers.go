package diff

import (
	"strings"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// numberLines flattens line-mode diffs into single lines with 1-based line
// numbers on the side(s) they belong to. The last line of a side that does
// not end in a newline is marked NoNewline.
func numberLines(diffs []diffpatch.Diff) []Line {
	var lines []Line
	oldNum, newNum := 0, 0

	for _, d := range diffs {
		for _, raw := range splitLines(d.Text) {
			text, ok := strings.CutSuffix(raw, "\n")
			line := Line{Content: text, NoNewline: !ok}
			switch d.Type {
			case diffpatch.DiffEqual:
				oldNum++
				newNum++
				line.Type, line.OldNum, line.NewNum = Context, oldNum, newNum
			case diffpatch.DiffDelete:
				oldNum++
				line.Type, line.OldNum = Deletion, oldNum
			case diffpatch.DiffInsert:
				newNum++
				line.Type, line.NewNum = Addition, newNum
			}
			lines = append(lines, line)
		}
	}

	return lines
}

// splitLines splits text after every newline, keeping the newlines.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	parts := strings.SplitAfter(text, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// buildHunks groups changed lines with up to contextLines of surrounding
// context. Changes closer than twice the context share a hunk.
func buildHunks(lines []Line, contextLines int) []Hunk {
	var hunks []Hunk

	i := 0
	for i < len(lines) {
		if lines[i].Type == Context {
			i++
			continue
		}

		start := max(0, i-contextLines)
		end := i
		for j := i; j < len(lines); j++ {
			if lines[j].Type != Context {
				end = j
				continue
			}
			if j-end > 2*contextLines {
				break
			}
		}
		stop := min(len(lines), end+contextLines+1)

		hunks = append(hunks, makeHunk(lines, start, stop))
		i = stop
	}

	return hunks
}

func makeHunk(lines []Line, start, stop int) Hunk {
	h := Hunk{Lines: append([]Line(nil), lines[start:stop]...)}

	// positions before the hunk on each side
	oldBefore, newBefore := 0, 0
	for _, l := range lines[:start] {
		if l.Type != Addition {
			oldBefore++
		}
		if l.Type != Deletion {
			newBefore++
		}
	}

	for _, l := range h.Lines {
		if l.Type != Addition {
			h.OldLines++
		}
		if l.Type != Deletion {
			h.NewLines++
		}
	}

	h.OldStart, h.NewStart = oldBefore, newBefore
	if h.OldLines > 0 {
		h.OldStart++
	}
	if h.NewLines > 0 {
		h.NewStart++
	}
	return h
}
