// Package index tracks which paths of a working tree are staged, unstaged or
// untracked.
//
// Every mutation is a batch: it runs under one writer lock, builds a new
// State from the current one and publishes it with a single atomic swap.
// Readers take a Snapshot without locking and always see whole batches. A
// batch that fails leaves the published state untouched and releases any
// content it had already stored.
package index

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tmcore/internal/errors"
	"tmcore/internal/logging"
	"tmcore/internal/safety"
	"tmcore/internal/vfs"
)

// Blobs is the content store the index writes staged content to.
type Blobs interface {
	Put(name string, content []byte) (string, error)
	Get(hash string) ([]byte, error)
	Release(hash string) error
}

type Options struct {
	Root   string
	FS     vfs.FS
	Guard  *safety.Guard
	Blobs  Blobs
	Store  Store
	Ignore *Ignore
	Logger *zap.Logger
}

type Index struct {
	root   string
	fs     vfs.FS
	guard  *safety.Guard
	blobs  Blobs
	store  Store
	ignore *Ignore
	logger *zap.Logger

	mu    sync.Mutex
	state atomic.Pointer[State]
}

func New(opts Options) (*Index, error) {
	if opts.FS == nil || opts.Guard == nil || opts.Blobs == nil {
		return nil, errors.ValidationError("index requires a filesystem, a guard and a blob store", nil)
	}
	if !filepath.IsAbs(opts.Root) {
		return nil, errors.InvalidPath(opts.Root, "root must be an absolute path")
	}

	idx := &Index{
		root:   filepath.Clean(opts.Root),
		fs:     opts.FS,
		guard:  opts.Guard,
		blobs:  opts.Blobs,
		store:  opts.Store,
		ignore: opts.Ignore,
		logger: logging.OrNop(opts.Logger).Named("index"),
	}
	idx.state.Store(newState())
	return idx, nil
}

func (x *Index) Root() string { return x.root }

// Snapshot returns the current state without blocking writers.
func (x *Index) Snapshot() *State {
	return x.state.Load()
}

// Status classifies one path. Unknown paths are NOT_FOUND.
func (x *Index) Status(input string) (Status, error) {
	p, err := x.guard.NormalizeWith(x.root, input, safety.Options{})
	if err != nil {
		return "", err
	}
	st, ok := x.Snapshot().Status(p)
	if !ok {
		return "", errors.NotFound(string(p), "path is not tracked")
	}
	return st, nil
}

// Stage stores the current content of every path and marks it staged.
// Directories stage every file beneath them. Either every path is staged or
// none is.
func (x *Index) Stage(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return errors.ValidationError("no paths specified", nil)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	files, err := x.expand(ctx, paths)
	if err != nil {
		return err
	}

	cur := x.Snapshot()
	next := cur.clone()
	now := time.Now().UTC()

	var stored, superseded []string
	rollback := func() {
		for _, h := range stored {
			if err := x.blobs.Release(h); err != nil {
				x.logger.Warn("Failed to release content after aborted stage",
					zap.String("hash", h),
					zap.Error(err))
			}
		}
	}

	for _, p := range files {
		if err := ctx.Err(); err != nil {
			rollback()
			return errors.Canceled(err)
		}

		abs := p.Abs(x.root)
		content, err := x.fs.ReadFile(abs)
		if err != nil {
			rollback()
			return readError(p, err)
		}
		info, err := x.fs.Stat(abs)
		if err != nil {
			rollback()
			return readError(p, err)
		}

		hash, err := x.blobs.Put(string(p), content)
		if err != nil {
			rollback()
			return err
		}
		stored = append(stored, hash)

		entry := &Entry{
			Path:     p,
			Status:   StatusStaged,
			Hash:     hash,
			Size:     info.Size(),
			Mode:     info.Mode(),
			ModTime:  info.ModTime(),
			StagedAt: now,
		}
		if prior, ok := cur.entries[p]; ok {
			if prior.Status == StatusStaged {
				// restaging keeps the classification from before the first stage
				entry.Prior = prior.Prior
				superseded = append(superseded, prior.Hash)
			} else {
				entry.Prior = prior
			}
		}
		next.entries[p] = entry
	}

	x.state.Store(next)
	x.releaseAll(superseded)

	x.logger.Debug("Staged paths", zap.Int("count", len(files)))
	return nil
}

// Unstage restores every staged path at or beneath paths to the
// classification it had before it was staged. Paths that are not staged are
// skipped.
func (x *Index) Unstage(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return errors.ValidationError("no paths specified", nil)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	targets := make([]safety.Path, 0, len(paths))
	for _, input := range paths {
		p, err := x.guard.NormalizeWith(x.root, input, safety.Options{})
		if err != nil {
			return err
		}
		targets = append(targets, p)
	}
	if err := ctx.Err(); err != nil {
		return errors.Canceled(err)
	}

	cur := x.Snapshot()
	var next *State
	var released []string

	for p, e := range cur.entries {
		if e.Status != StatusStaged || !withinAny(p, targets) {
			continue
		}
		if next == nil {
			next = cur.clone()
		}
		if e.Prior != nil {
			next.entries[p] = e.Prior
		} else {
			delete(next.entries, p)
		}
		released = append(released, e.Hash)
	}

	if next == nil {
		return nil
	}
	x.state.Store(next)
	x.releaseAll(released)

	x.logger.Debug("Unstaged paths", zap.Int("count", len(released)))
	return nil
}

// Scan walks the working tree. Files with no classification become
// untracked; untracked entries whose file is gone are dropped.
func (x *Index) Scan(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	present := make(map[safety.Path]bool)
	err := x.walk(ctx, x.root, false, func(p safety.Path) error {
		present[p] = true
		return nil
	})
	if err != nil {
		return err
	}

	cur := x.Snapshot()
	next := cur.clone()
	changed := false

	for p := range present {
		if _, ok := cur.Status(p); ok {
			continue
		}
		next.entries[p] = &Entry{Path: p, Status: StatusUntracked}
		changed = true
	}
	for p, e := range cur.entries {
		if e.Status == StatusUntracked && !present[p] {
			delete(next.entries, p)
			changed = true
		}
	}

	if changed {
		x.state.Store(next)
	}
	return nil
}

// Checkpoint makes the staged content the new baseline and clears the staged
// entries. It returns the number of paths promoted.
func (x *Index) Checkpoint(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Canceled(err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	cur := x.Snapshot()
	next := cur.clone()
	var released []string
	promoted := 0

	for p, e := range cur.entries {
		if e.Status != StatusStaged {
			continue
		}
		if old, ok := cur.baseline[p]; ok {
			released = append(released, old)
		}
		next.baseline[p] = e.Hash
		delete(next.entries, p)
		promoted++
	}

	if promoted == 0 {
		return 0, nil
	}
	x.state.Store(next)
	x.releaseAll(released)

	x.logger.Info("Checkpoint created", zap.Int("paths", promoted))
	return promoted, nil
}

// Load replaces the in-memory state with the persisted one. Without a store
// it does nothing.
func (x *Index) Load(ctx context.Context) error {
	if x.store == nil {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	loaded, err := x.store.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Canceled(ctx.Err())
		}
		return errors.IO(x.root, "loading index", err)
	}
	loaded.version = x.Snapshot().version + 1
	x.state.Store(loaded)

	x.logger.Debug("Loaded index", zap.Int("entries", len(loaded.entries)), zap.Int("baseline", len(loaded.baseline)))
	return nil
}

// Flush persists the current state. Without a store it does nothing.
func (x *Index) Flush(ctx context.Context) error {
	if x.store == nil {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.store.Flush(ctx, x.Snapshot()); err != nil {
		if ctx.Err() != nil {
			return errors.Canceled(ctx.Err())
		}
		return errors.IO(x.root, "flushing index", err)
	}
	return nil
}

// expand validates every input and returns the files it names, without
// duplicates and in path order.
func (x *Index) expand(ctx context.Context, inputs []string) ([]safety.Path, error) {
	seen := make(map[safety.Path]bool)
	for _, input := range inputs {
		p, err := x.guard.NormalizeWith(x.root, input, safety.Options{Mode: safety.MustExist})
		if err != nil {
			return nil, err
		}

		info, err := x.fs.Stat(p.Abs(x.root))
		if err != nil {
			return nil, readError(p, err)
		}
		if !info.IsDir() {
			seen[p] = true
			continue
		}

		err = x.walk(ctx, p.Abs(x.root), true, func(f safety.Path) error {
			// files reached through the walk are checked like explicit ones
			if _, err := x.guard.NormalizeWith(x.root, string(f), safety.Options{Mode: safety.MustExist}); err != nil {
				return err
			}
			if info, err := x.fs.Stat(f.Abs(x.root)); err == nil && info.IsDir() {
				return nil
			}
			seen[f] = true
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	files := make([]safety.Path, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}
	return safety.SortPaths(files), nil
}

// walk calls fn for every non-directory beneath dir, skipping ignored names
// and anything the guard refuses. With strict set, an entry that cannot be
// read fails the walk; otherwise it is logged and skipped.
func (x *Index) walk(ctx context.Context, dir string, strict bool, fn func(safety.Path) error) error {
	return x.fs.WalkDir(dir, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			switch {
			case strict:
				return readError(x.rel(abs), err)
			case abs == dir:
				return errors.IO(abs, "walking directory", err)
			}
			x.logger.Warn("Failed to walk path", zap.String("path", abs), zap.Error(err))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.Canceled(err)
		}

		p := x.rel(abs)
		if p.IsRoot() {
			return nil
		}
		if x.ignore.Match(p) || !x.guard.IsSafe(x.root, string(p)) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		return fn(p)
	})
}

// rel maps an absolute path below the root to its Path. Anything outside
// the root maps to the root itself.
func (x *Index) rel(abs string) safety.Path {
	rel, err := filepath.Rel(x.root, abs)
	if err != nil {
		return safety.Path(".")
	}
	return safety.Path(path.Clean(filepath.ToSlash(rel)))
}

func (x *Index) releaseAll(hashes []string) {
	for _, h := range hashes {
		if err := x.blobs.Release(h); err != nil {
			x.logger.Warn("Failed to release content",
				zap.String("hash", h),
				zap.Error(err))
		}
	}
}

func withinAny(p safety.Path, dirs []safety.Path) bool {
	for _, d := range dirs {
		if p.Within(d) {
			return true
		}
	}
	return false
}

func readError(p safety.Path, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.NotFound(string(p), "path does not exist")
	}
	return errors.Unreadable(string(p), err)
}
