package worktree

import (
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tmcore/internal/errors"
	"tmcore/internal/safety"
	"tmcore/internal/storage"
	"tmcore/internal/vfs"
)

const boundary = "/boundary"

// failingFS fails RemoveAll with err until err is cleared.
type failingFS struct {
	*vfs.MemFS
	mu  sync.Mutex
	err error
}

func (f *failingFS) RemoveAll(name string) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return &fs.PathError{Op: "removeall", Path: name, Err: err}
	}
	return f.MemFS.RemoveAll(name)
}

func (f *failingFS) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newFS(t *testing.T) *vfs.MemFS {
	t.Helper()
	m := vfs.NewMemFS()
	require.NoError(t, m.MkdirAll(boundary+"/base", 0o755))
	require.NoError(t, m.WriteFile(boundary+"/file.txt", []byte("x"), 0o644))
	require.NoError(t, m.MkdirAll("/outside", 0o755))
	return m
}

func newDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := storage.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newManager(t *testing.T, fsys vfs.FS, db *badger.DB) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Boundary: boundary,
		FS:       fsys,
		Guard:    safety.NewGuard(fsys),
		DB:       db,
	})
	require.NoError(t, err)
	return m
}

func TestNewManager(t *testing.T) {
	m := vfs.NewMemFS()

	_, err := NewManager(Options{Boundary: "rel", FS: m, Guard: safety.NewGuard(m)})
	assert.ErrorIs(t, err, errors.ErrInvalidPath)

	_, err = NewManager(Options{Boundary: boundary})
	assert.Equal(t, errors.ErrorTypeValidation, errors.TypeOf(err))
}

func TestCreate(t *testing.T) {
	fsys := newFS(t)
	mgr := newManager(t, fsys, nil)

	ref, err := mgr.Create("base", "feature-1")
	require.NoError(t, err)

	root, err := ref.Root()
	require.NoError(t, err)
	assert.Equal(t, "/boundary/base/feature-1", root)
	assert.Equal(t, "/boundary/base", ref.Base())
	assert.Equal(t, "feature-1", ref.Name())
	assert.NotEmpty(t, ref.ID())
	assert.Equal(t, Created, ref.State())

	info, err := fsys.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	t.Run("AbsoluteBase", func(t *testing.T) {
		ref, err := mgr.Create("/boundary/base", "abs")
		require.NoError(t, err)
		root, err := ref.Root()
		require.NoError(t, err)
		assert.Equal(t, "/boundary/base/abs", root)
	})

	t.Run("AlreadyExists", func(t *testing.T) {
		_, err := mgr.Create("base", "feature-1")
		assert.ErrorIs(t, err, errors.ErrAlreadyExists)

		// the first reference is unaffected
		_, err = ref.Root()
		assert.NoError(t, err)
	})
}

func TestCreate_InvalidBase(t *testing.T) {
	fsys := newFS(t)
	require.NoError(t, fsys.Symlink("/outside", boundary+"/escape"))
	mgr := newManager(t, fsys, nil)

	tests := []struct {
		name string
		base string
		want error
	}{
		{"Missing", "nope", errors.ErrNotFound},
		{"Traversal", "../outside", errors.ErrInvalidPath},
		{"OutsideAbsolute", "/outside", errors.ErrInvalidPath},
		{"EscapingLink", "escape", errors.ErrInvalidPath},
		{"File", "file.txt", errors.ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Create(tt.base, "wt")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	entries, err := fsys.ReadDir("/outside")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreate_InvalidName(t *testing.T) {
	fsys := newFS(t)
	mgr := newManager(t, fsys, nil)

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "a\x00b", "a..b", "sp ace", "semi;colon", strings.Repeat("a", MaxNameLength+1)} {
		t.Run(fmt.Sprintf("%q", name), func(t *testing.T) {
			_, err := mgr.Create("base", name)
			assert.ErrorIs(t, err, errors.ErrNameInvalid)
		})
	}

	entries, err := fsys.ReadDir(boundary + "/base")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanup(t *testing.T) {
	fsys := newFS(t)
	mgr := newManager(t, fsys, nil)

	ref, err := mgr.Create("base", "wt")
	require.NoError(t, err)
	root, _ := ref.Root()
	require.NoError(t, fsys.MkdirAll(root+"/nested/deep", 0o755))
	require.NoError(t, fsys.WriteFile(root+"/nested/deep/f.txt", []byte("data"), 0o644))

	require.NoError(t, mgr.Cleanup(ref))
	assert.Equal(t, Cleaned, ref.State())

	_, err = fsys.Stat(root)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = ref.Root()
	assert.ErrorIs(t, err, errors.ErrReferenceInvalid)

	err = mgr.Cleanup(ref)
	assert.ErrorIs(t, err, errors.ErrReferenceInvalid)

	err = mgr.Cleanup(nil)
	assert.ErrorIs(t, err, errors.ErrReferenceInvalid)

	// the name can be reused once the old worktree is gone
	again, err := mgr.Create("base", "wt")
	require.NoError(t, err)
	assert.NotEqual(t, ref.ID(), again.ID())
}

func TestCleanup_AlreadyRemoved(t *testing.T) {
	fsys := newFS(t)
	mgr := newManager(t, fsys, nil)

	ref, err := mgr.Create("base", "wt")
	require.NoError(t, err)
	root, _ := ref.Root()
	require.NoError(t, fsys.RemoveAll(root))

	assert.NoError(t, mgr.Cleanup(ref))
	assert.Equal(t, Cleaned, ref.State())
}

func TestCleanup_SwappedForLink(t *testing.T) {
	fsys := newFS(t)
	require.NoError(t, fsys.WriteFile("/outside/keep.txt", []byte("keep"), 0o644))
	mgr := newManager(t, fsys, nil)

	ref, err := mgr.Create("base", "wt")
	require.NoError(t, err)
	root, _ := ref.Root()
	require.NoError(t, fsys.RemoveAll(root))
	require.NoError(t, fsys.Symlink("/outside", root))

	err = mgr.Cleanup(ref)
	assert.ErrorIs(t, err, errors.ErrInvalidPath)
	assert.Equal(t, Created, ref.State())

	data, err := fsys.ReadFile("/outside/keep.txt")
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestCleanup_Failure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"NotEmpty", syscall.ENOTEMPTY, errors.ErrNotEmpty},
		{"IO", syscall.EACCES, errors.ErrIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := &failingFS{MemFS: newFS(t)}
			mgr := newManager(t, fsys, nil)

			ref, err := mgr.Create("base", "wt")
			require.NoError(t, err)

			fsys.fail(tt.err)
			err = mgr.Cleanup(ref)
			assert.ErrorIs(t, err, tt.want)

			// the reference survives a failed cleanup
			root, err := ref.Root()
			require.NoError(t, err)
			_, err = fsys.Stat(root)
			require.NoError(t, err)

			fsys.fail(nil)
			require.NoError(t, mgr.Cleanup(ref))
			_, err = fsys.Stat(root)
			assert.ErrorIs(t, err, fs.ErrNotExist)
		})
	}
}

func TestConcurrentCreate(t *testing.T) {
	t.Run("DistinctNames", func(t *testing.T) {
		fsys := newFS(t)
		mgr := newManager(t, fsys, newDB(t))

		const n = 16
		refs := make([]*Ref, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ref, err := mgr.Create("base", fmt.Sprintf("wt-%02d", i))
				assert.NoError(t, err)
				refs[i] = ref
			}(i)
		}
		wg.Wait()

		records, err := mgr.List()
		require.NoError(t, err)
		assert.Len(t, records, n)

		for _, ref := range refs {
			wg.Add(1)
			go func(ref *Ref) {
				defer wg.Done()
				assert.NoError(t, mgr.Cleanup(ref))
			}(ref)
		}
		wg.Wait()

		entries, err := fsys.ReadDir(boundary + "/base")
		require.NoError(t, err)
		assert.Empty(t, entries)

		records, err = mgr.List()
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("SameName", func(t *testing.T) {
		fsys := newFS(t)
		mgr := newManager(t, fsys, nil)

		var created, exists atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := mgr.Create("base", "same")
				switch {
				case err == nil:
					created.Add(1)
				case errors.Is(err, errors.ErrAlreadyExists):
					exists.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), created.Load())
		assert.Equal(t, int32(15), exists.Load())
	})

	t.Run("SameRef", func(t *testing.T) {
		fsys := newFS(t)
		mgr := newManager(t, fsys, nil)
		ref, err := mgr.Create("base", "wt")
		require.NoError(t, err)

		var ok atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mgr.Cleanup(ref); err == nil {
					ok.Add(1)
				} else {
					assert.ErrorIs(t, err, errors.ErrReferenceInvalid)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), ok.Load())
	})
}

func TestRegistry(t *testing.T) {
	fsys := newFS(t)
	db := newDB(t)
	mgr := newManager(t, fsys, db)

	first, err := mgr.Create("base", "first")
	require.NoError(t, err)
	second, err := mgr.Create("base", "second")
	require.NoError(t, err)

	records, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID(), records[0].ID)
	assert.Equal(t, "/boundary/base/second", records[1].Root)

	t.Run("ReclaimWhileLive", func(t *testing.T) {
		_, err := mgr.Reclaim(first.ID())
		assert.ErrorIs(t, err, errors.ErrReferenceInvalid)
	})

	t.Run("ReclaimAfterRestart", func(t *testing.T) {
		restarted := newManager(t, fsys, db)

		records, err := restarted.List()
		require.NoError(t, err)
		assert.Len(t, records, 2)

		ref, err := restarted.Reclaim(second.ID())
		require.NoError(t, err)
		root, err := ref.Root()
		require.NoError(t, err)
		assert.Equal(t, "/boundary/base/second", root)
		assert.Equal(t, "second", ref.Name())

		_, err = restarted.Reclaim(second.ID())
		assert.ErrorIs(t, err, errors.ErrReferenceInvalid)

		require.NoError(t, restarted.Cleanup(ref))
		_, err = fsys.Stat(root)
		assert.ErrorIs(t, err, fs.ErrNotExist)

		records, err = restarted.List()
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, first.ID(), records[0].ID)
	})

	t.Run("ReclaimUnknown", func(t *testing.T) {
		_, err := mgr.Reclaim("missing")
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("ReclaimWithoutRegistry", func(t *testing.T) {
		_, err := newManager(t, fsys, nil).Reclaim(first.ID())
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})
}

func TestPrune(t *testing.T) {
	fsys := newFS(t)
	mgr := newManager(t, fsys, newDB(t))

	gone, err := mgr.Create("base", "gone")
	require.NoError(t, err)
	kept, err := mgr.Create("base", "kept")
	require.NoError(t, err)

	root, _ := gone.Root()
	require.NoError(t, fsys.RemoveAll(root))

	n, err := mgr.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = gone.Root()
	assert.ErrorIs(t, err, errors.ErrReferenceInvalid)
	_, err = kept.Root()
	assert.NoError(t, err)

	records, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, kept.ID(), records[0].ID)

	n, err = mgr.Prune()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListWithoutRegistry(t *testing.T) {
	fsys := newFS(t)
	mgr := newManager(t, fsys, nil)

	_, err := mgr.Create("base", "b")
	require.NoError(t, err)
	_, err = mgr.Create("base", "a")
	require.NoError(t, err)

	records, err := mgr.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
