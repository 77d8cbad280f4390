package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tmcore/internal/config"
	"tmcore/internal/diff"
	"tmcore/internal/errors"
	"tmcore/internal/index"
	"tmcore/internal/vfs"
)

func memConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.InMemory = true
	return cfg
}

func openMem(t *testing.T) (*Repo, *vfs.MemFS) {
	t.Helper()
	m := vfs.NewMemFS()
	require.NoError(t, m.MkdirAll("/repo/src", 0o755))
	require.NoError(t, m.WriteFile("/repo/src/main.go", []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, m.WriteFile("/repo/README.md", []byte("hello\n"), 0o644))

	r, err := Open("/repo", memConfig(), nil, WithFS(m))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, m
}

func TestOpen(t *testing.T) {
	r, m := openMem(t)

	for _, dir := range []string{"/repo/.tm", "/repo/.tm/objects", "/repo/.tm/worktrees"} {
		info, err := m.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, "/repo/.tm/worktrees", r.Worktrees.Boundary())

	// the state directory is reserved
	_, err := r.Guard.Normalize(r.Root, ".tm/objects")
	assert.ErrorIs(t, err, errors.ErrInvalidPath)
}

func TestOpen_InvalidRoot(t *testing.T) {
	m := vfs.NewMemFS()
	require.NoError(t, m.WriteFile("/file", []byte("x"), 0o644))

	_, err := Open("/missing", memConfig(), nil, WithFS(m))
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = Open("/file", memConfig(), nil, WithFS(m))
	assert.ErrorIs(t, err, errors.ErrInvalidPath)

	cfg := memConfig()
	cfg.Diff.Mode = "words"
	_, err = Open("/", cfg, nil, WithFS(m))
	assert.Equal(t, errors.ErrorTypeValidation, errors.TypeOf(err))
}

func TestStageAndDiff(t *testing.T) {
	ctx := context.Background()
	r, m := openMem(t)

	require.NoError(t, r.Index.Stage(ctx, []string{"src"}))
	require.NoError(t, m.WriteFile("/repo/src/main.go", []byte("package main\n\nfunc main() { run() }\n"), 0o644))

	res, err := r.Differ.Diff(ctx, diff.Spec{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, diff.Modified, res.Entries[0].Kind)
	assert.Equal(t, 1, res.Entries[0].Stats.Additions)
	assert.Equal(t, 1, res.Entries[0].Stats.Deletions)

	require.NoError(t, r.Index.Scan(ctx))
	st, err := r.Index.Status("README.md")
	require.NoError(t, err)
	assert.Equal(t, index.StatusUntracked, st)
}

func TestCheckout(t *testing.T) {
	ctx := context.Background()
	r, m := openMem(t)

	require.NoError(t, r.Index.Stage(ctx, []string{"src/main.go", "README.md"}))
	_, err := r.Index.Checkpoint(ctx)
	require.NoError(t, err)

	// staged content wins over the baseline
	require.NoError(t, m.WriteFile("/repo/README.md", []byte("staged\n"), 0o644))
	require.NoError(t, r.Index.Stage(ctx, []string{"README.md"}))
	require.NoError(t, m.WriteFile("/repo/README.md", []byte("working\n"), 0o644))

	ref, err := r.Worktrees.Create(".", "checkout")
	require.NoError(t, err)

	n, err := r.Checkout(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	root, err := ref.Root()
	require.NoError(t, err)
	data, err := m.ReadFile(filepath.Join(root, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "staged\n", string(data))
	data, err = m.ReadFile(filepath.Join(root, "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}\n", string(data))

	require.NoError(t, r.Worktrees.Cleanup(ref))
	_, err = r.Checkout(ctx, ref)
	assert.ErrorIs(t, err, errors.ErrReferenceInvalid)
}

func TestCheckout_RefusesPlantedLink(t *testing.T) {
	ctx := context.Background()
	r, m := openMem(t)
	require.NoError(t, m.MkdirAll("/elsewhere", 0o755))

	require.NoError(t, r.Index.Stage(ctx, []string{"src/main.go"}))
	ref, err := r.Worktrees.Create(".", "planted")
	require.NoError(t, err)
	root, _ := ref.Root()
	require.NoError(t, m.Symlink("/elsewhere", filepath.Join(root, "src")))

	_, err = r.Checkout(ctx, ref)
	assert.ErrorIs(t, err, errors.ErrPathUnsafe)

	entries, err := m.ReadDir("/elsewhere")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a\n"), 0o644))

	cfgPath, err := Init(root, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".tm", "config.yaml"), cfgPath)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	r, err := Open(root, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, r.Index.Stage(ctx, []string{"a.txt"}))
	ref, err := r.Worktrees.Create(".", "kept")
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r, err = Open(root, cfg, nil)
	require.NoError(t, err)
	defer r.Close()

	st, err := r.Index.Status("a.txt")
	require.NoError(t, err)
	assert.Equal(t, index.StatusStaged, st)

	records, err := r.Worktrees.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ref.ID(), records[0].ID)

	// Init leaves an existing config alone
	again, err := Init(root, nil)
	require.NoError(t, err)
	assert.Equal(t, cfgPath, again)
}

func TestInit_CustomStateDir(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.StateDir = ".state"
	cfg.Diff.ContextLines = 7

	p, err := Init(root, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".state", "config.yaml"), p)

	// a second run finds the file instead of writing the defaults over it
	again, err := Init(root, &config.Config{StateDir: ".state"})
	require.NoError(t, err)
	assert.Equal(t, p, again)

	loaded, err := config.Load(p)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Diff.ContextLines)
	assert.Equal(t, ".state", loaded.StateDir)
}

func TestWatch(t *testing.T) {
	root := t.TempDir()
	cfg := memConfig()
	cfg.Watch.DebounceMillis = 5

	r, err := Open(root, cfg, nil)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	// rewrite on every poll so a write made before the watcher was ready is
	// not the only one
	name := filepath.Join(root, "new.txt")
	require.Eventually(t, func() bool {
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			return false
		}
		st, err := r.Index.Status("new.txt")
		return err == nil && st == index.StatusUntracked
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
