// Package watch reports changes below a working tree root. Bursts of events
// are collapsed into one callback carrying every path touched in the burst.
package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"tmcore/internal/errors"
	"tmcore/internal/logging"
	"tmcore/internal/safety"
)

const DefaultDebounce = 200 * time.Millisecond

// Matcher reports paths the watcher should not descend into or report.
type Matcher interface {
	Match(p safety.Path) bool
}

type Options struct {
	Root     string
	Ignore   Matcher
	Debounce time.Duration
	Logger   *zap.Logger
}

// Watcher watches a directory tree with fsnotify.
type Watcher struct {
	root     string
	ignore   Matcher
	debounce time.Duration
	onChange func([]safety.Path)
	logger   *zap.Logger

	fsw       *fsnotify.Watcher
	closeOnce sync.Once
}

// New starts watching every directory below opts.Root. Events are delivered
// to onChange only while Run is active.
func New(opts Options, onChange func([]safety.Path)) (*Watcher, error) {
	if !filepath.IsAbs(opts.Root) {
		return nil, errors.InvalidPath(opts.Root, "root must be an absolute path")
	}
	if onChange == nil {
		return nil, errors.ValidationError("watcher requires a change callback", nil)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.IO(opts.Root, "creating file watcher", err)
	}

	w := &Watcher{
		root:     filepath.Clean(opts.Root),
		ignore:   opts.Ignore,
		debounce: opts.Debounce,
		onChange: onChange,
		logger:   logging.OrNop(opts.Logger).Named("watch"),
		fsw:      fsw,
	}
	if _, err := w.addRecursive(w.root); err != nil {
		fsw.Close()
		return nil, errors.IO(opts.Root, "watching root", err)
	}
	return w, nil
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	pending := make(map[safety.Path]bool)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			changed := w.handle(ev)
			if len(changed) == 0 {
				continue
			}
			for _, p := range changed {
				pending[p] = true
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			paths := make([]safety.Path, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

			w.logger.Debug("Detected changes", zap.Int("paths", len(paths)))
			w.onChange(paths)
		}
	}
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fsw.Close() })
	return err
}

// handle returns the paths an event touches. A new directory is watched and
// the files already inside it are reported too.
func (w *Watcher) handle(ev fsnotify.Event) []safety.Path {
	p, ok := w.rel(ev.Name)
	if !ok || p.IsRoot() || w.ignored(p) {
		return nil
	}
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return nil
	}

	changed := []safety.Path{p}
	if ev.Has(fsnotify.Create) {
		found, err := w.addRecursive(ev.Name)
		if err != nil {
			w.logger.Warn("Failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
		}
		changed = append(changed, found...)
	}
	return changed
}

// addRecursive watches dir and its subdirectories, returning the files it
// walked past. A dir that is not a directory is a no-op.
func (w *Watcher) addRecursive(dir string) ([]safety.Path, error) {
	var files []safety.Path
	err := filepath.WalkDir(dir, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			if name == dir {
				// vanished before we got to it
				return filepath.SkipDir
			}
			return nil
		}
		p, ok := w.rel(name)
		if !ok {
			return filepath.SkipDir
		}
		if w.ignored(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if name != dir {
				files = append(files, p)
			}
			return nil
		}
		return w.fsw.Add(name)
	})
	return files, err
}

func (w *Watcher) rel(name string) (safety.Path, bool) {
	r, err := filepath.Rel(w.root, name)
	if err != nil {
		return "", false
	}
	p := safety.Path(filepath.ToSlash(r))
	if p == ".." || strings.HasPrefix(string(p), "../") {
		return "", false
	}
	if p == "." {
		return safety.RootPath, true
	}
	return p, true
}

func (w *Watcher) ignored(p safety.Path) bool {
	if p.IsRoot() {
		return false
	}
	return w.ignore != nil && w.ignore.Match(p)
}
