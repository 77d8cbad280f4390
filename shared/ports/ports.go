// Package ports declares the capabilities the core exposes to callers. Each
// port is implemented by one concrete component; callers should depend on
// the port so backends can be swapped at construction time.
package ports

import (
	"context"

	"tmcore/internal/diff"
	"tmcore/internal/index"
	"tmcore/internal/safety"
	"tmcore/internal/worktree"
)

// SafetyPort validates paths against a root.
type SafetyPort interface {
	Normalize(root, input string) (safety.Path, error)
	IsSafe(root, input string) bool
}

// IndexPort stages and unstages paths in batches.
type IndexPort interface {
	Stage(ctx context.Context, paths []string) error
	Unstage(ctx context.Context, paths []string) error

	// Snapshot returns the current state. It is never modified afterwards.
	Snapshot() *index.State
}

// DiffPort computes the changes selected by a spec.
type DiffPort interface {
	Diff(ctx context.Context, spec diff.Spec) (*diff.Result, error)
}

// WorktreePort creates and removes isolated working directories.
type WorktreePort interface {
	Create(base, name string) (*worktree.Ref, error)
	Cleanup(ref *worktree.Ref) error
}

var (
	_ SafetyPort   = (*safety.Guard)(nil)
	_ IndexPort    = (*index.Index)(nil)
	_ DiffPort     = (*diff.Differ)(nil)
	_ WorktreePort = (*worktree.Manager)(nil)
)
