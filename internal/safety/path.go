package safety

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Path is a validated, root-relative, slash-separated path. "." is the root.
// Values are only produced by a Guard; converting a raw string to Path skips
// validation, so consumers re-check paths they did not normalize themselves.
type Path string

// RootPath denotes the root directory itself.
const RootPath Path = "."

func (p Path) String() string { return string(p) }

func (p Path) IsRoot() bool { return p == RootPath }

// Abs joins p onto root in OS form.
func (p Path) Abs(root string) string {
	if p.IsRoot() {
		return filepath.Clean(root)
	}
	return filepath.Join(root, filepath.FromSlash(string(p)))
}

// Within reports whether p is dir or lies beneath it.
func (p Path) Within(dir Path) bool {
	if dir.IsRoot() || p == dir {
		return true
	}
	return strings.HasPrefix(string(p), string(dir)+"/")
}

// Join appends a slash-separated element.
func (p Path) Join(elem string) Path {
	if p.IsRoot() {
		return Path(path.Clean(elem))
	}
	return Path(path.Join(string(p), elem))
}

// First returns the first component of p.
func (p Path) First() string {
	if i := strings.IndexByte(string(p), '/'); i >= 0 {
		return string(p[:i])
	}
	return string(p)
}

// SortPaths sorts in place and drops duplicates.
func SortPaths(paths []Path) []Path {
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	out := paths[:0]
	for _, p := range paths {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	return out
}
