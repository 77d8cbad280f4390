// Package vfs is the filesystem abstraction every component consumes.
//
// OSFS talks to the real disk. MemFS keeps everything in memory and is used
// by tests and throwaway sessions. Errors are *fs.PathError values wrapping
// the usual fs and syscall sentinels, so errors.Is works the same on both.
package vfs

import (
	"io"
	"io/fs"
)

// FS is the set of operations the core needs from a filesystem.
// Paths are absolute OS paths.
type FS interface {
	Open(name string) (io.ReadCloser, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error

	Stat(name string) (fs.FileInfo, error)
	// Lstat does not follow a final symlink.
	Lstat(name string) (fs.FileInfo, error)
	Readlink(name string) (string, error)
	ReadDir(name string) ([]fs.DirEntry, error)

	// Mkdir fails with fs.ErrExist when name is already present.
	Mkdir(name string, perm fs.FileMode) error
	MkdirAll(name string, perm fs.FileMode) error
	Remove(name string) error
	RemoveAll(name string) error

	// WalkDir walks in lexical order and does not follow symlinks.
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// IsBinary reports whether content looks like binary data: a NUL byte in the
// first 8KB, or more than 10% control characters other than tab, CR and LF.
func IsBinary(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	sample := content
	if len(sample) > 8192 {
		sample = sample[:8192]
	}

	nonText := 0
	for _, b := range sample {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonText++
		}
	}

	return float64(nonText)/float64(len(sample)) > 0.1
}
