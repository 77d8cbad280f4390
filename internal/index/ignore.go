package index

import (
	"strings"

	"tmcore/internal/safety"
)

// Ignore matches paths that have an ignored name in any component.
type Ignore struct {
	names map[string]bool
}

func NewIgnore(names ...string) *Ignore {
	ig := &Ignore{names: make(map[string]bool, len(names))}
	for _, n := range names {
		if n = strings.Trim(n, "/"); n != "" {
			ig.names[n] = true
		}
	}
	return ig
}

// Match reports whether p should be skipped. The root never matches.
func (ig *Ignore) Match(p safety.Path) bool {
	if ig == nil || p.IsRoot() {
		return false
	}
	for _, part := range strings.Split(string(p), "/") {
		if ig.names[part] {
			return true
		}
	}
	return false
}
