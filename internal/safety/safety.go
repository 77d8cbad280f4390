// Package safety is the gatekeeper for every path argument in the system.
//
// A Guard turns untrusted input into a Path that is guaranteed to stay inside
// a root: `.`/`..` are collapsed, absolute inputs are refused unless allowed,
// reserved locations (the state directory) are refused, and every existing
// component is checked through the filesystem so a symlink cannot lead out of
// the root. Failures are *errors.Error values of type INVALID_PATH or
// NOT_FOUND and are meant to be passed to the caller as they are.
package safety

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"tmcore/internal/errors"
	"tmcore/internal/vfs"
)

// Mode selects what Normalize demands of the filesystem.
type Mode int

const (
	// Lexical accepts paths whose trailing components do not exist yet.
	Lexical Mode = iota
	// MustExist fails with NOT_FOUND unless every component exists.
	MustExist
)

const maxSymlinkHops = 255

// Options tune a single normalization.
type Options struct {
	Mode Mode
	// ResolveSymlinks returns the symlink-free form instead of the lexical one.
	ResolveSymlinks bool
	// AllowAbsolute accepts absolute input that lies inside the root.
	AllowAbsolute bool
}

// Guard validates paths against a root boundary.
type Guard struct {
	fs       vfs.FS
	reserved map[string]bool
	defaults Options
}

type GuardOption func(*Guard)

// WithReserved refuses paths whose first component is one of names.
func WithReserved(names ...string) GuardOption {
	return func(g *Guard) {
		for _, n := range names {
			if n != "" {
				g.reserved[n] = true
			}
		}
	}
}

// WithDefaults sets the options used by Normalize and IsSafe.
func WithDefaults(opts Options) GuardOption {
	return func(g *Guard) {
		g.defaults = opts
	}
}

func NewGuard(fsys vfs.FS, opts ...GuardOption) *Guard {
	g := &Guard{
		fs:       fsys,
		reserved: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Normalize resolves input against root with the guard's default options.
func (g *Guard) Normalize(root, input string) (Path, error) {
	return g.NormalizeWith(root, input, g.defaults)
}

// IsSafe reports whether Normalize would accept input. It never fails.
func (g *Guard) IsSafe(root, input string) bool {
	_, err := g.Normalize(root, input)
	return err == nil
}

// NormalizeWith resolves input against root, failing with INVALID_PATH when
// the result would leave root and with NOT_FOUND when opts.Mode is MustExist
// and a component is missing.
func (g *Guard) NormalizeWith(root, input string, opts Options) (Path, error) {
	if root == "" || !filepath.IsAbs(root) {
		return "", errors.InvalidPath(root, "root must be an absolute path")
	}
	if strings.ContainsRune(input, 0) || strings.ContainsRune(root, 0) {
		return "", errors.InvalidPath(input, "path contains a NUL byte")
	}
	root = filepath.Clean(root)

	rel := input
	if filepath.IsAbs(input) {
		if !opts.AllowAbsolute {
			return "", errors.InvalidPath(input, "absolute path not allowed")
		}
		r, err := filepath.Rel(root, filepath.Clean(input))
		if err != nil {
			return "", errors.InvalidPath(input, "path is outside the root")
		}
		rel = r
	}

	lexical, err := g.lexical(input, rel)
	if err != nil {
		return "", err
	}

	realRoot, complete, err := g.resolve(root)
	if err != nil {
		return "", err
	}
	if !complete {
		if opts.Mode == MustExist {
			return "", errors.NotFound(root, "root does not exist")
		}
		// nothing below a missing root can be a symlink
		return lexical, nil
	}

	real, complete, err := g.resolve(lexical.Abs(root))
	if err != nil {
		return "", err
	}
	if !complete && opts.Mode == MustExist {
		return "", errors.NotFound(string(lexical), "path does not exist")
	}

	resolved, ok := within(realRoot, real)
	if !ok {
		return "", errors.InvalidPath(input, "symlink leads outside the root")
	}
	if g.reserved[resolved.First()] {
		return "", errors.InvalidPath(input, "path is inside a reserved directory")
	}
	if opts.ResolveSymlinks {
		return resolved, nil
	}
	return lexical, nil
}

// lexical cleans rel and refuses traversal out of the root.
func (g *Guard) lexical(input, rel string) (Path, error) {
	cleaned := path.Clean(filepath.ToSlash(rel))
	if cleaned == "" {
		cleaned = "."
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.InvalidPath(input, "path escapes the root")
	}
	if strings.HasPrefix(cleaned, "/") {
		return "", errors.InvalidPath(input, "absolute path not allowed")
	}
	p := Path(cleaned)
	if g.reserved[p.First()] {
		return "", errors.InvalidPath(input, "path is inside a reserved directory")
	}
	return p, nil
}

// resolve follows every symlink in abs, one component at a time. When a
// component is missing the remainder is appended lexically and complete is
// false.
func (g *Guard) resolve(abs string) (resolved string, complete bool, err error) {
	pending := splitOS(abs)
	resolved = string(filepath.Separator)
	if vol := filepath.VolumeName(abs); vol != "" {
		resolved = vol + resolved
	}
	hops := 0

	for len(pending) > 0 {
		comp := pending[0]
		pending = pending[1:]

		switch comp {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, comp)
		info, err := g.fs.Lstat(next)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
				rest := filepath.Join(append([]string{next}, pending...)...)
				return filepath.Clean(rest), false, nil
			}
			return "", false, errors.IO(next, "inspecting path", err)
		}
		if info.Mode()&fs.ModeSymlink == 0 {
			resolved = next
			continue
		}

		hops++
		if hops > maxSymlinkHops {
			return "", false, errors.InvalidPath(abs, "too many levels of symbolic links")
		}
		target, err := g.fs.Readlink(next)
		if err != nil {
			return "", false, errors.IO(next, "reading symlink", err)
		}
		if filepath.IsAbs(target) {
			resolved = string(filepath.Separator)
		}
		pending = append(splitOS(target), pending...)
	}

	return resolved, true, nil
}

// within returns abs relative to root when it lies inside it.
func within(root, abs string) (Path, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return Path(rel), true
}

func splitOS(p string) []string {
	p = strings.TrimPrefix(p, filepath.VolumeName(p))
	return strings.Split(filepath.ToSlash(p), "/")
}

// Rooted binds a Guard to one root.
type Rooted struct {
	guard *Guard
	root  string
}

// Bind returns a gate that validates every path against root.
func (g *Guard) Bind(root string) *Rooted {
	return &Rooted{guard: g, root: root}
}

func (r *Rooted) Root() string { return r.root }

func (r *Rooted) NormalizePath(input string) (Path, error) {
	return r.guard.Normalize(r.root, input)
}

func (r *Rooted) IsSafe(input string) bool {
	return r.guard.IsSafe(r.root, input)
}
