// Package objects is the content-addressed blob store behind the index.
//
// Blobs are keyed by the lowercase hex SHA-256 of their content and written
// once under root/ab/cdef...; metadata and reference counts live in badger.
// Every Put takes a reference and every Release drops one; the blob is
// removed when the count reaches zero.
package objects

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"tmcore/internal/errors"
	"tmcore/internal/logging"
	"tmcore/internal/storage"
	"tmcore/internal/vfs"
	"tmcore/shared/utils"
)

const metaPrefix = "object"

// ContentMeta stores metadata about stored content
type ContentMeta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	RefCount   uint32    `json:"ref_count"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

func (m *ContentMeta) GetID() string { return m.Hash }

// Options configures a Store
type Options struct {
	Root        string
	CacheSize   int
	Compression CompressionOptions
	Logger      *zap.Logger
}

// Store provides deduplicated content storage
type Store struct {
	root   string
	fs     vfs.FS
	meta   *storage.BadgerStore
	cache  *lru.Cache[string, []byte]
	cm     *compressionManager
	logger *zap.Logger

	// serializes reference count updates
	mu sync.Mutex
}

func New(fsys vfs.FS, db *badger.DB, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.ValidationError("object root directory is required", nil)
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}

	if err := fsys.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, errors.IO(opts.Root, "creating object directory", err)
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	cm, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, err
	}

	return &Store{
		root:   opts.Root,
		fs:     fsys,
		meta:   storage.NewBadgerStore(db, metaPrefix),
		cache:  cache,
		cm:     cm,
		logger: logging.OrNop(opts.Logger).Named("objects"),
	}, nil
}

// Put stores content and returns its hash, taking one reference. name is
// only a hint for compression.
func (s *Store) Put(name string, content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}
	hash := utils.HashContent(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(hash)
	switch {
	case err == nil:
		if _, statErr := s.fs.Stat(s.contentPath(hash)); statErr != nil {
			// metadata survived but the blob did not; write it again
			if meta.Compressed, err = s.writeBlob(name, hash, content); err != nil {
				return "", err
			}
		}
		meta.RefCount++
		if err := s.meta.Put(&meta); err != nil {
			return "", fmt.Errorf("incrementing ref count: %w", err)
		}
		s.cache.Add(hash, content)
		return hash, nil
	case !errors.Is(err, errors.ErrNotFound):
		return "", fmt.Errorf("checking existence: %w", err)
	}

	compressed, err := s.writeBlob(name, hash, content)
	if err != nil {
		return "", err
	}

	meta = ContentMeta{
		Hash:       hash,
		Size:       int64(len(content)),
		RefCount:   1,
		Compressed: compressed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.meta.Put(&meta); err != nil {
		s.fs.Remove(s.contentPath(hash))
		return "", fmt.Errorf("storing metadata: %w", err)
	}

	s.cache.Add(hash, content)
	s.logger.Debug("stored object",
		zap.String("hash", hash),
		zap.Int("size", len(content)),
		zap.Bool("compressed", compressed))
	return hash, nil
}

// Get retrieves content by hash. The returned slice must not be modified.
func (s *Store) Get(hash string) ([]byte, error) {
	if !isValidHash(hash) {
		return nil, invalidHash(hash)
	}

	if content, ok := s.cache.Get(hash); ok {
		return content, nil
	}

	meta, err := s.getMeta(hash)
	if err != nil {
		return nil, err
	}

	content, err := s.fs.ReadFile(s.contentPath(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFound(hash, "object content missing")
		}
		return nil, errors.Unreadable(hash, err)
	}

	if meta.Compressed {
		content, err = s.cm.decompress(content)
		if err != nil {
			return nil, errors.Unreadable(hash, err)
		}
	}

	if utils.HashContent(content) != hash {
		return nil, errors.Unreadable(hash, errors.New("content hash mismatch"))
	}

	s.cache.Add(hash, content)
	return content, nil
}

// Release drops one reference and deletes the blob at zero.
func (s *Store) Release(hash string) error {
	if !isValidHash(hash) {
		return invalidHash(hash)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(hash)
	if err != nil {
		return err
	}

	if meta.RefCount > 1 {
		meta.RefCount--
		if err := s.meta.Put(&meta); err != nil {
			return fmt.Errorf("updating metadata: %w", err)
		}
		return nil
	}

	if err := s.fs.Remove(s.contentPath(hash)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.IO(hash, "removing object", err)
	}
	if err := s.meta.Delete(hash); err != nil {
		return fmt.Errorf("deleting metadata: %w", err)
	}
	s.cache.Remove(hash)

	s.logger.Debug("removed object", zap.String("hash", hash))
	return nil
}

func (s *Store) Exists(hash string) (bool, error) {
	if !isValidHash(hash) {
		return false, invalidHash(hash)
	}

	if s.cache.Contains(hash) {
		return true, nil
	}

	_, err := s.getMeta(hash)
	if errors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Verify re-reads a blob from disk and checks it against its hash.
func (s *Store) Verify(hash string) error {
	s.cache.Remove(hash)
	_, err := s.Get(hash)
	return err
}

// RefCount reports the number of live references to hash; 0 when absent.
func (s *Store) RefCount(hash string) (uint32, error) {
	meta, err := s.getMeta(hash)
	if errors.Is(err, errors.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return meta.RefCount, nil
}

func (s *Store) writeBlob(name, hash string, content []byte) (bool, error) {
	contentPath := s.contentPath(hash)
	if err := s.fs.MkdirAll(filepath.Dir(contentPath), 0o755); err != nil {
		return false, errors.IO(contentPath, "creating object directory", err)
	}

	data, compressed := s.cm.compress(name, content)
	if err := s.fs.WriteFile(contentPath, data, 0o644); err != nil {
		return false, errors.IO(contentPath, "writing object", err)
	}
	return compressed, nil
}

func (s *Store) getMeta(hash string) (ContentMeta, error) {
	var meta ContentMeta
	err := s.meta.Get(hash, &meta)
	return meta, err
}

func (s *Store) contentPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

func isValidHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func invalidHash(hash string) error {
	return errors.ValidationError("invalid content hash", map[string]string{"hash": hash})
}
