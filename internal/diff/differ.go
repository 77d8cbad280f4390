package diff

import (
	"context"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"tmcore/internal/errors"
	"tmcore/internal/index"
	"tmcore/internal/logging"
	"tmcore/internal/safety"
	"tmcore/internal/vfs"
	"tmcore/shared/utils"
)

// Mode selects the two sides a diff compares.
type Mode string

const (
	// AgainstIndex compares the working tree with the staged content, or
	// the baseline when a path is not staged.
	AgainstIndex Mode = "index"
	// IndexVsBaseline compares the staged content with the baseline.
	IndexVsBaseline Mode = "staged"
	// AgainstBaseline compares the working tree with the baseline.
	AgainstBaseline Mode = "baseline"
)

// Compare selects how content is compared.
type Compare string

const (
	CompareLines Compare = "lines"
	CompareBytes Compare = "bytes"
)

// Spec restricts a diff to some paths. The zero value diffs every tracked
// path against the index.
type Spec struct {
	mode    Mode
	compare Compare
	paths   []string
}

func NewSpec(mode Mode, paths ...string) Spec {
	return Spec{mode: mode, paths: append([]string(nil), paths...)}
}

// WithCompare returns a copy of s using c instead of the differ's default.
func (s Spec) WithCompare(c Compare) Spec {
	s.paths = append([]string(nil), s.paths...)
	s.compare = c
	return s
}

func (s Spec) Mode() Mode {
	if s.mode == "" {
		return AgainstIndex
	}
	return s.mode
}

func (s Spec) Compare() Compare { return s.compare }

func (s Spec) Paths() []string { return append([]string(nil), s.paths...) }

func (s Spec) Empty() bool { return len(s.paths) == 0 }

// ParseMode accepts the names used on the command line.
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case "", AgainstIndex:
		return AgainstIndex, nil
	case IndexVsBaseline, AgainstBaseline:
		return Mode(name), nil
	}
	return "", errors.ValidationError("unknown diff mode", map[string]string{"mode": name})
}

// Snapshotter provides the index state a diff reads.
type Snapshotter interface {
	Snapshot() *index.State
}

// ContentGetter reads stored content by hash.
type ContentGetter interface {
	Get(hash string) ([]byte, error)
}

type Options struct {
	Root         string
	FS           vfs.FS
	Guard        *safety.Guard
	Index        Snapshotter
	Blobs        ContentGetter
	ContextLines int
	Compare      Compare
	Logger       *zap.Logger
}

// Differ computes path-level diffs of a working tree.
type Differ struct {
	root    string
	fs      vfs.FS
	guard   *safety.Guard
	index   Snapshotter
	blobs   ContentGetter
	engine  *Engine
	compare Compare
	logger  *zap.Logger
}

func NewDiffer(opts Options) (*Differ, error) {
	if opts.FS == nil || opts.Guard == nil || opts.Index == nil || opts.Blobs == nil {
		return nil, errors.ValidationError("differ requires a filesystem, a guard, an index and a blob store", nil)
	}
	if !filepath.IsAbs(opts.Root) {
		return nil, errors.InvalidPath(opts.Root, "root must be an absolute path")
	}
	if opts.Compare == "" {
		opts.Compare = CompareLines
	}

	return &Differ{
		root:    filepath.Clean(opts.Root),
		fs:      opts.FS,
		guard:   opts.Guard,
		index:   opts.Index,
		blobs:   opts.Blobs,
		engine:  NewEngine(opts.ContextLines),
		compare: opts.Compare,
		logger:  logging.OrNop(opts.Logger).Named("diff"),
	}, nil
}

// side is one version of a path's content.
type side struct {
	exists  bool
	hash    string
	content []byte
}

// Diff compares the paths selected by spec. Unsafe spec paths and an
// unreadable root fail the whole call; failures on single paths are recorded
// on their entry.
func (d *Differ) Diff(ctx context.Context, spec Spec) (*Result, error) {
	info, err := d.fs.Stat(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFound(d.root, "root does not exist")
		}
		return nil, errors.Unreadable(d.root, err)
	}
	if !info.IsDir() {
		return nil, errors.InvalidPath(d.root, "root is not a directory")
	}

	snap := d.index.Snapshot()
	paths, err := d.selectPaths(spec, snap)
	if err != nil {
		return nil, err
	}

	compare := spec.Compare()
	if compare == "" {
		compare = d.compare
	}

	changes := make([]FileChange, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, errors.Canceled(err)
		}
		change, ok := d.diffPath(snap, spec.Mode(), compare, p)
		if ok {
			changes = append(changes, change)
		}
	}

	d.logger.Debug("Computed diff",
		zap.String("mode", string(spec.Mode())),
		zap.Int("paths", len(paths)),
		zap.Int("changes", len(changes)))
	return newResult(changes), nil
}

// selectPaths validates the spec and expands directories to the tracked
// paths beneath them.
func (d *Differ) selectPaths(spec Spec, snap *index.State) ([]safety.Path, error) {
	tracked := snap.Tracked()
	if spec.Empty() {
		return tracked, nil
	}

	var out []safety.Path
	for _, input := range spec.paths {
		p, err := d.guard.NormalizeWith(d.root, input, safety.Options{})
		if err != nil {
			return nil, errors.PathUnsafe(input, err)
		}

		matched := false
		for _, t := range tracked {
			if t.Within(p) {
				out = append(out, t)
				matched = true
			}
		}
		if !matched && !p.IsRoot() {
			out = append(out, p)
		}
	}
	return safety.SortPaths(out), nil
}

func (d *Differ) diffPath(snap *index.State, mode Mode, compare Compare, p safety.Path) (FileChange, bool) {
	change := FileChange{Path: p}

	oldSide, newSide, err := d.sides(snap, mode, p)
	if err != nil {
		var e *errors.Error
		if !errors.As(err, &e) {
			e = errors.Unreadable(string(p), err)
		}
		change.Err = e
		return change, true
	}

	switch {
	case !oldSide.exists && !newSide.exists:
		return change, false
	case !oldSide.exists:
		change.Kind = Added
	case !newSide.exists:
		change.Kind = Deleted
	case oldSide.hash == newSide.hash:
		return change, false
	default:
		change.Kind = Modified
	}
	change.OldHash, change.NewHash = oldSide.hash, newSide.hash

	if vfs.IsBinary(oldSide.content) || vfs.IsBinary(newSide.content) {
		// no line detail for binary content
		change.Binary = true
		return change, true
	}
	if compare == CompareBytes {
		return change, true
	}

	cd, err := d.engine.Diff(oldSide.content, newSide.content)
	if err != nil {
		change.Kind = ""
		change.Err = errors.IO(string(p), "diffing content", err)
		return change, true
	}
	change.Hunks = cd.Hunks
	change.Stats = cd.Stats
	return change, true
}

func (d *Differ) sides(snap *index.State, mode Mode, p safety.Path) (side, side, error) {
	baseline := func() (side, error) {
		h, ok := snap.Baseline(p)
		if !ok {
			return side{}, nil
		}
		return d.stored(p, h)
	}
	indexed := func() (side, error) {
		if h, ok := snap.StagedHash(p); ok {
			return d.stored(p, h)
		}
		return baseline()
	}

	var oldSide, newSide side
	var err error
	switch mode {
	case IndexVsBaseline:
		if oldSide, err = baseline(); err != nil {
			return side{}, side{}, err
		}
		newSide, err = indexed()
	case AgainstBaseline:
		if oldSide, err = baseline(); err != nil {
			return side{}, side{}, err
		}
		newSide, err = d.working(p)
	default:
		if oldSide, err = indexed(); err != nil {
			return side{}, side{}, err
		}
		newSide, err = d.working(p)
	}
	return oldSide, newSide, err
}

func (d *Differ) stored(p safety.Path, hash string) (side, error) {
	content, err := d.blobs.Get(hash)
	if err != nil {
		return side{}, errors.Unreadable(string(p), err)
	}
	return side{exists: true, hash: hash, content: content}, nil
}

func (d *Differ) working(p safety.Path) (side, error) {
	// tracked paths can turn into escaping symlinks after staging
	if _, err := d.guard.NormalizeWith(d.root, string(p), safety.Options{}); err != nil {
		return side{}, errors.PathUnsafe(string(p), err)
	}

	abs := p.Abs(d.root)
	content, err := d.fs.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return side{}, nil
		}
		if info, statErr := d.fs.Stat(abs); statErr == nil && info.IsDir() {
			// a directory in place of a tracked file counts as deleted
			return side{}, nil
		}
		return side{}, errors.Unreadable(string(p), err)
	}
	return side{exists: true, hash: utils.HashContent(content), content: content}, nil
}
