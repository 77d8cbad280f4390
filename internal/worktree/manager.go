// Package worktree manages isolated working directories inside a boundary
// directory. Each worktree is created with an atomic mkdir, handed out as an
// exclusive *Ref and destroyed by Cleanup, which consumes the Ref.
package worktree

import (
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tmcore/internal/errors"
	"tmcore/internal/logging"
	"tmcore/internal/safety"
	"tmcore/internal/storage"
	"tmcore/internal/vfs"
)

const registryPrefix = "worktree"

type Options struct {
	// Boundary is the absolute directory every worktree must live under.
	Boundary string
	FS       vfs.FS
	Guard    *safety.Guard
	// DB enables the registry used by List, Reclaim and Prune across restarts.
	DB     *badger.DB
	Logger *zap.Logger
}

// Manager creates and removes worktrees. Operations on distinct worktrees
// run in parallel; the lock only guards the table of live references.
type Manager struct {
	boundary string
	fs       vfs.FS
	guard    *safety.Guard
	registry *storage.BadgerStore
	logger   *zap.Logger

	mu   sync.Mutex
	live map[string]*Ref
}

func NewManager(opts Options) (*Manager, error) {
	if opts.FS == nil || opts.Guard == nil {
		return nil, errors.ValidationError("worktree manager requires a filesystem and a guard", nil)
	}
	if !filepath.IsAbs(opts.Boundary) {
		return nil, errors.InvalidPath(opts.Boundary, "boundary must be an absolute path")
	}

	m := &Manager{
		boundary: filepath.Clean(opts.Boundary),
		fs:       opts.FS,
		guard:    opts.Guard,
		logger:   logging.OrNop(opts.Logger).Named("worktree"),
		live:     make(map[string]*Ref),
	}
	if opts.DB != nil {
		m.registry = storage.NewBadgerStore(opts.DB, registryPrefix)
	}
	return m, nil
}

func (m *Manager) Boundary() string { return m.boundary }

// Create makes the directory base/name and returns the exclusive reference
// to it. base may be absolute or relative to the boundary.
func (m *Manager) Create(base, name string) (*Ref, error) {
	basePath, err := m.guard.NormalizeWith(m.boundary, base, safety.Options{
		Mode:          safety.MustExist,
		AllowAbsolute: true,
	})
	if err != nil {
		return nil, err
	}

	baseAbs := basePath.Abs(m.boundary)
	info, err := m.fs.Stat(baseAbs)
	if err != nil {
		return nil, errors.IO(baseAbs, "inspecting base directory", err)
	}
	if !info.IsDir() {
		return nil, errors.InvalidPath(baseAbs, "base is not a directory")
	}

	if err := ValidateName(name); err != nil {
		return nil, err
	}
	target := basePath.Join(name)
	if _, err := m.guard.NormalizeWith(m.boundary, string(target), safety.Options{}); err != nil {
		return nil, err
	}

	root := target.Abs(m.boundary)
	if err := m.fs.Mkdir(root, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, errors.AlreadyExists(root)
		}
		return nil, errors.IO(root, "creating worktree", err)
	}

	ref := &Ref{
		id:        uuid.NewString(),
		name:      name,
		base:      baseAbs,
		root:      root,
		createdAt: time.Now().UTC(),
	}

	if m.registry != nil {
		if err := m.registry.Create(ref.record()); err != nil {
			if rmErr := m.fs.RemoveAll(root); rmErr != nil {
				m.logger.Warn("Failed to remove unregistered worktree", zap.String("path", root), zap.Error(rmErr))
			}
			return nil, errors.IO(root, "registering worktree", err)
		}
	}

	m.mu.Lock()
	m.live[ref.id] = ref
	m.mu.Unlock()

	m.logger.Info("Created worktree",
		zap.String("id", ref.id),
		zap.String("path", root))
	return ref, nil
}

// Cleanup removes the worktree directory and consumes ref. When removal
// fails the ref stays usable so the caller may retry.
func (m *Manager) Cleanup(ref *Ref) error {
	if ref == nil {
		return errors.ReferenceInvalid("nil worktree reference")
	}
	if !ref.transition(Created, cleaning) {
		return errors.ReferenceInvalid("worktree reference already cleaned up or in use")
	}

	// the directory may have been swapped for a link since Create
	if _, err := m.guard.NormalizeWith(m.boundary, ref.root, safety.Options{AllowAbsolute: true}); err != nil {
		ref.transition(cleaning, Created)
		return err
	}

	if err := m.fs.RemoveAll(ref.root); err != nil {
		ref.transition(cleaning, Created)
		if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
			return errors.NotEmpty(ref.root, err)
		}
		return errors.IO(ref.root, "removing worktree", err)
	}

	ref.transition(cleaning, Cleaned)
	m.forget(ref.id)

	m.logger.Info("Cleaned up worktree",
		zap.String("id", ref.id),
		zap.String("path", ref.root))
	return nil
}

// List returns the registered worktrees, or the live ones without a
// registry, oldest first.
func (m *Manager) List() ([]Record, error) {
	var records []Record
	if m.registry != nil {
		if err := m.registry.List(&records); err != nil {
			return nil, errors.IO(m.boundary, "listing worktrees", err)
		}
	} else {
		m.mu.Lock()
		for _, ref := range m.live {
			records = append(records, *ref.record())
		}
		m.mu.Unlock()
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].Root < records[j].Root
	})
	return records, nil
}

// Reclaim hands out the reference to a registered worktree, typically after
// a restart. There is at most one live reference per worktree.
func (m *Manager) Reclaim(id string) (*Ref, error) {
	if m.registry == nil {
		return nil, errors.NotFound(id, "no worktree registry configured")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live[id]; ok {
		return nil, errors.ReferenceInvalid("worktree already has a live reference")
	}

	var rec Record
	if err := m.registry.Get(id, &rec); err != nil {
		return nil, err
	}
	if _, err := m.guard.NormalizeWith(m.boundary, rec.Root, safety.Options{Mode: safety.MustExist, AllowAbsolute: true}); err != nil {
		return nil, err
	}

	ref := &Ref{
		id:        rec.ID,
		name:      rec.Name,
		base:      rec.Base,
		root:      rec.Root,
		createdAt: rec.CreatedAt,
	}
	m.live[id] = ref
	return ref, nil
}

// Prune drops registry records whose directory no longer exists and returns
// how many were dropped. Live references to them become invalid.
func (m *Manager) Prune() (int, error) {
	records, err := m.List()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, rec := range records {
		if _, err := m.fs.Stat(rec.Root); !errors.Is(err, fs.ErrNotExist) {
			continue
		}

		m.mu.Lock()
		if ref, ok := m.live[rec.ID]; ok {
			if !ref.transition(Created, Cleaned) {
				// a cleanup is running; it owns the record now
				m.mu.Unlock()
				continue
			}
			delete(m.live, rec.ID)
		}
		m.mu.Unlock()

		if m.registry != nil {
			if err := m.registry.Delete(rec.ID); err != nil && !errors.Is(err, errors.ErrNotFound) {
				return pruned, errors.IO(rec.Root, "pruning worktree record", err)
			}
		}
		pruned++
		m.logger.Info("Pruned worktree", zap.String("id", rec.ID), zap.String("path", rec.Root))
	}
	return pruned, nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()

	if m.registry == nil {
		return
	}
	if err := m.registry.Delete(id); err != nil && !errors.Is(err, errors.ErrNotFound) {
		m.logger.Warn("Failed to remove worktree record", zap.String("id", id), zap.Error(err))
	}
}
