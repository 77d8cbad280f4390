// Package repo wires the index, diff and worktree components for one
// working tree root and its state directory.
package repo

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"tmcore/internal/config"
	"tmcore/internal/diff"
	"tmcore/internal/errors"
	"tmcore/internal/index"
	"tmcore/internal/logging"
	"tmcore/internal/objects"
	"tmcore/internal/safety"
	"tmcore/internal/storage"
	"tmcore/internal/vfs"
	"tmcore/internal/watch"
	"tmcore/internal/worktree"
)

// Repo is an opened working tree. Close must be called to persist the index.
type Repo struct {
	Root      string
	Config    *config.Config
	DB        *badger.DB
	Objects   *objects.Store
	Guard     *safety.Guard
	Index     *index.Index
	Differ    *diff.Differ
	Worktrees *worktree.Manager

	fs     vfs.FS
	ignore *index.Ignore
	logger *zap.Logger
}

type Option func(*Repo)

// WithFS replaces the OS filesystem. Watch still needs the real one.
func WithFS(fsys vfs.FS) Option {
	return func(r *Repo) { r.fs = fsys }
}

// Init creates the state directory below root and writes cfg to it unless
// a config file already exists.
func Init(root string, cfg *config.Config) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	fsys := vfs.NewOSFS()
	if err := makeDirs(fsys, abs, cfg); err != nil {
		return "", err
	}

	if existing := config.Locate(abs, cfg.StateDir); existing != "" {
		return existing, nil
	}
	p := filepath.Join(abs, cfg.StateDir, "config.yaml")
	if err := cfg.Save(p); err != nil {
		return "", errors.IO(p, "writing config", err)
	}
	return p, nil
}

// Open opens the working tree at root, creating its state directory when
// missing, and loads the persisted index.
func Open(root string, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Repo, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ValidationError(err.Error(), nil)
	}

	r := &Repo{
		Root:   abs,
		Config: cfg,
		fs:     vfs.NewOSFS(),
		logger: logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(r)
	}

	info, err := r.fs.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFound(abs, "root does not exist")
		}
		return nil, errors.Unreadable(abs, err)
	}
	if !info.IsDir() {
		return nil, errors.InvalidPath(abs, "root is not a directory")
	}

	if err := makeDirs(r.fs, abs, cfg); err != nil {
		return nil, err
	}

	stateDir := filepath.Join(abs, cfg.StateDir)
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(stateDir, "db")
	}
	if r.DB, err = storage.Open(dbPath, cfg.Database.InMemory); err != nil {
		return nil, errors.IO(dbPath, "opening database", err)
	}

	if err := r.build(stateDir); err != nil {
		r.DB.Close()
		return nil, err
	}

	if err := r.Index.Load(context.Background()); err != nil {
		r.DB.Close()
		return nil, err
	}

	r.logger.Debug("Opened repository",
		zap.String("root", abs),
		zap.Bool("in_memory", cfg.Database.InMemory))
	return r, nil
}

func (r *Repo) build(stateDir string) error {
	cfg := r.Config

	compression := objects.DefaultCompressionOptions()
	compression.MinSize = cfg.Objects.CompressMinSize
	compression.Level = cfg.Objects.CompressLevel

	var err error
	r.Objects, err = objects.New(r.fs, r.DB, objects.Options{
		Root:        filepath.Join(stateDir, "objects"),
		CacheSize:   cfg.Objects.CacheSize,
		Compression: compression,
		Logger:      r.logger,
	})
	if err != nil {
		return err
	}

	r.Guard = safety.NewGuard(r.fs, safety.WithReserved(cfg.StateDir))
	r.ignore = index.NewIgnore(append([]string{cfg.StateDir}, cfg.Ignore...)...)

	r.Index, err = index.New(index.Options{
		Root:   r.Root,
		FS:     r.fs,
		Guard:  r.Guard,
		Blobs:  r.Objects,
		Store:  index.NewBadgerStore(r.DB),
		Ignore: r.ignore,
		Logger: r.logger,
	})
	if err != nil {
		return err
	}

	r.Differ, err = diff.NewDiffer(diff.Options{
		Root:         r.Root,
		FS:           r.fs,
		Guard:        r.Guard,
		Index:        r.Index,
		Blobs:        r.Objects,
		ContextLines: cfg.Diff.ContextLines,
		Compare:      diff.Compare(cfg.Diff.Mode),
		Logger:       r.logger,
	})
	if err != nil {
		return err
	}

	r.Worktrees, err = worktree.NewManager(worktree.Options{
		Boundary: worktreeRoot(r.Root, cfg),
		FS:       r.fs,
		Guard:    safety.NewGuard(r.fs),
		DB:       r.DB,
		Logger:   r.logger,
	})
	return err
}

func makeDirs(fsys vfs.FS, root string, cfg *config.Config) error {
	stateDir := filepath.Join(root, cfg.StateDir)
	for _, dir := range []string{stateDir, filepath.Join(stateDir, "objects"), worktreeRoot(root, cfg)} {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return errors.IO(dir, "creating state directory", err)
		}
	}
	return nil
}

func worktreeRoot(root string, cfg *config.Config) string {
	switch {
	case cfg.Worktrees.Root == "":
		return filepath.Join(root, cfg.StateDir, "worktrees")
	case filepath.IsAbs(cfg.Worktrees.Root):
		return filepath.Clean(cfg.Worktrees.Root)
	default:
		return filepath.Join(root, cfg.Worktrees.Root)
	}
}

// Close persists the index and closes the database.
func (r *Repo) Close() error {
	flushErr := r.Index.Flush(context.Background())
	if err := r.DB.Close(); err != nil && flushErr == nil {
		return errors.IO(r.Root, "closing database", err)
	}
	return flushErr
}

// Checkout writes the index view of every tracked path, the staged content
// or else the baseline, into the worktree behind ref. It returns the number
// of files written.
func (r *Repo) Checkout(ctx context.Context, ref *worktree.Ref) (int, error) {
	wtRoot, err := ref.Root()
	if err != nil {
		return 0, err
	}
	guard := safety.NewGuard(r.fs)

	snap := r.Index.Snapshot()
	written := 0
	for _, p := range snap.Tracked() {
		if err := ctx.Err(); err != nil {
			return written, errors.Canceled(err)
		}

		hash, ok := snap.StagedHash(p)
		if !ok {
			if hash, ok = snap.Baseline(p); !ok {
				continue
			}
		}
		if _, err := guard.NormalizeWith(wtRoot, string(p), safety.Options{}); err != nil {
			return written, errors.PathUnsafe(string(p), err)
		}

		content, err := r.Objects.Get(hash)
		if err != nil {
			return written, err
		}

		abs := p.Abs(wtRoot)
		if err := r.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return written, errors.IO(abs, "creating parent directory", err)
		}
		perm := fs.FileMode(0o644)
		if e, ok := snap.Entry(p); ok && e.Status == index.StatusStaged && e.Mode.Perm() != 0 {
			perm = e.Mode.Perm()
		}
		if err := r.fs.WriteFile(abs, content, perm); err != nil {
			return written, errors.IO(abs, "writing file", err)
		}
		written++
	}

	r.logger.Info("Checked out worktree",
		zap.String("id", ref.ID()),
		zap.Int("files", written))
	return written, nil
}

// Watch rescans the index whenever the working tree changes, until ctx is
// done.
func (r *Repo) Watch(ctx context.Context) error {
	w, err := watch.New(watch.Options{
		Root:     r.Root,
		Ignore:   r.ignore,
		Debounce: time.Duration(r.Config.Watch.DebounceMillis) * time.Millisecond,
		Logger:   r.logger,
	}, func(paths []safety.Path) {
		if err := r.Index.Scan(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("Failed to rescan working tree", zap.Int("changed", len(paths)), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
