package vfs

import (
	"io"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemFS_ReadWrite(t *testing.T) {
	m := NewMemFS()
	require.NoError(t, m.MkdirAll("/repo/src", 0o755))
	require.NoError(t, m.WriteFile("/repo/src/a.txt", []byte("hello"), 0o644))

	content, err := m.ReadFile("/repo/src/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	rc, err := m.Open("/repo//src/./a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := m.Stat("/repo/src/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	assert.False(t, info.IsDir())

	_, err = m.ReadFile("/repo/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = m.ReadFile("/repo/src")
	assert.ErrorIs(t, err, syscall.EISDIR)

	err = m.WriteFile("/nowhere/a.txt", nil, 0o644)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemFS_Mkdir(t *testing.T) {
	m := NewMemFS()
	require.NoError(t, m.Mkdir("/base", 0o755))

	err := m.Mkdir("/base", 0o755)
	assert.ErrorIs(t, err, fs.ErrExist)

	err = m.Mkdir("/missing/child", 0o755)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, m.WriteFile("/base/file", []byte("x"), 0o644))
	err = m.MkdirAll("/base/file/sub", 0o755)
	assert.ErrorIs(t, err, syscall.ENOTDIR)
}

func TestMemFS_Remove(t *testing.T) {
	m := NewMemFS()
	require.NoError(t, m.MkdirAll("/wt/x/y", 0o755))
	require.NoError(t, m.WriteFile("/wt/x/y/f", []byte("1"), 0o644))

	err := m.Remove("/wt/x")
	assert.ErrorIs(t, err, syscall.ENOTEMPTY)

	require.NoError(t, m.RemoveAll("/wt/x"))
	_, err = m.Stat("/wt/x")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Empty(t, m.Files())

	// removing something absent is not an error
	assert.NoError(t, m.RemoveAll("/wt/x"))

	_, err = m.Stat("/wt")
	assert.NoError(t, err)
}

func TestMemFS_Symlinks(t *testing.T) {
	m := NewMemFS()
	require.NoError(t, m.MkdirAll("/repo/real", 0o755))
	require.NoError(t, m.WriteFile("/repo/real/f.txt", []byte("data"), 0o644))
	require.NoError(t, m.Symlink("real", "/repo/link"))
	require.NoError(t, m.Symlink("/etc", "/repo/escape"))

	content, err := m.ReadFile("/repo/link/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))

	info, err := m.Lstat("/repo/link")
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&fs.ModeSymlink)

	info, err = m.Stat("/repo/link")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	target, err := m.Readlink("/repo/escape")
	require.NoError(t, err)
	assert.Equal(t, "/etc", target)

	_, err = m.Readlink("/repo/real")
	assert.ErrorIs(t, err, syscall.EINVAL)

	require.NoError(t, m.Symlink("loop2", "/repo/loop1"))
	require.NoError(t, m.Symlink("loop1", "/repo/loop2"))
	_, err = m.Stat("/repo/loop1")
	assert.ErrorIs(t, err, syscall.ELOOP)
}

func TestMemFS_WalkDir(t *testing.T) {
	m := NewMemFS()
	require.NoError(t, m.MkdirAll("/r/b", 0o755))
	require.NoError(t, m.MkdirAll("/r/skip", 0o755))
	require.NoError(t, m.WriteFile("/r/b/2.txt", nil, 0o644))
	require.NoError(t, m.WriteFile("/r/a.txt", nil, 0o644))
	require.NoError(t, m.WriteFile("/r/skip/x", nil, 0o644))

	var seen []string
	err := m.WalkDir("/r", func(p string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() && d.Name() == "skip" {
			return fs.SkipDir
		}
		seen = append(seen, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/r", "/r/a.txt", "/r/b", "/r/b/2.txt"}, seen)
}

func TestMemFS_InjectError(t *testing.T) {
	m := NewMemFS()
	require.NoError(t, m.WriteFile("/secret", []byte("x"), 0o600))
	m.InjectError("/secret", fs.ErrPermission)

	_, err := m.ReadFile("/secret")
	assert.ErrorIs(t, err, fs.ErrPermission)

	m.InjectError("/secret", nil)
	_, err = m.ReadFile("/secret")
	assert.NoError(t, err)

	require.NoError(t, m.MkdirAll("/locked/sub", 0o755))
	m.InjectError("/locked", fs.ErrPermission)
	_, err = m.ReadDir("/locked")
	assert.ErrorIs(t, err, fs.ErrPermission)

	var walkErr error
	_ = m.WalkDir("/locked", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			walkErr = err
		}
		return nil
	})
	assert.ErrorIs(t, walkErr, fs.ErrPermission)
}

func TestIsBinary(t *testing.T) {
	assert.False(t, IsBinary(nil))
	assert.False(t, IsBinary([]byte("plain text\nwith lines\r\n\tand tabs")))
	assert.True(t, IsBinary([]byte{'a', 0, 'b'}))
	assert.True(t, IsBinary([]byte{1, 2, 3, 4, 'a'}))
}
