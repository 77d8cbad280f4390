package objects

import (
	"bytes"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tmcore/internal/errors"
	"tmcore/internal/storage"
	"tmcore/internal/vfs"
	"tmcore/shared/utils"
)

func setupStore(t *testing.T) (*Store, *vfs.MemFS) {
	t.Helper()
	db, err := storage.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m := vfs.NewMemFS()
	s, err := New(m, db, Options{
		Root:        "/repo/.tm/objects",
		CacheSize:   8,
		Compression: DefaultCompressionOptions(),
	})
	require.NoError(t, err)
	return s, m
}

func TestStore_PutGet(t *testing.T) {
	s, _ := setupStore(t)

	hash, err := s.Put("a.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, utils.HashContent([]byte("hello")), hash)

	content, err := s.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	ok, err := s.Exists(hash)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.Verify(hash))
}

func TestStore_EmptyContent(t *testing.T) {
	s, _ := setupStore(t)

	hash, err := s.Put("empty", nil)
	require.NoError(t, err)

	content, err := s.Get(hash)
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestStore_Compression(t *testing.T) {
	s, m := setupStore(t)
	big := []byte(strings.Repeat("compressible line of text\n", 200))

	hash, err := s.Put("big.txt", big)
	require.NoError(t, err)

	raw, err := m.ReadFile(filepath.Join("/repo/.tm/objects", hash[:2], hash[2:]))
	require.NoError(t, err)
	assert.Less(t, len(raw), len(big))
	assert.True(t, bytes.HasPrefix(raw, zstdMagic))

	// bypass the cache so the blob is decoded from disk
	s.cache.Purge()
	content, err := s.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, big, content)

	skipped, err := s.Put("big.zip", append([]byte("zip"), big...))
	require.NoError(t, err)
	raw, err = m.ReadFile(filepath.Join("/repo/.tm/objects", skipped[:2], skipped[2:]))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("zip")))
}

func TestStore_RefCounting(t *testing.T) {
	s, m := setupStore(t)

	h1, err := s.Put("a", []byte("same"))
	require.NoError(t, err)
	h2, err := s.Put("b", []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	n, err := s.RefCount(h1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	require.NoError(t, s.Release(h1))
	_, err = s.Get(h1)
	require.NoError(t, err)

	require.NoError(t, s.Release(h1))
	ok, err := s.Exists(h1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Stat(filepath.Join("/repo/.tm/objects", h1[:2], h1[2:]))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.ErrorIs(t, s.Release(h1), errors.ErrNotFound)
}

func TestStore_InvalidHash(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Get("nothex")
	assert.Equal(t, errors.ErrorTypeValidation, errors.TypeOf(err))
	_, err = s.Exists(strings.Repeat("z", 64))
	assert.Equal(t, errors.ErrorTypeValidation, errors.TypeOf(err))
}

func TestStore_Corruption(t *testing.T) {
	s, m := setupStore(t)

	hash, err := s.Put("a", []byte("original"))
	require.NoError(t, err)
	require.NoError(t, m.WriteFile(filepath.Join("/repo/.tm/objects", hash[:2], hash[2:]), []byte("tampered"), 0o644))

	assert.ErrorIs(t, s.Verify(hash), errors.ErrUnreadable)
}

func TestStore_MissingBlobRewritten(t *testing.T) {
	s, m := setupStore(t)

	hash, err := s.Put("a", []byte("data"))
	require.NoError(t, err)
	blob := filepath.Join("/repo/.tm/objects", hash[:2], hash[2:])
	require.NoError(t, m.Remove(blob))

	s.cache.Purge()
	_, err = s.Get(hash)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = s.Put("a", []byte("data"))
	require.NoError(t, err)
	content, err := s.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))
}
