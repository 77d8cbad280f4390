package vfs

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// OSFS implements FS on top of package os.
type OSFS struct{}

func NewOSFS() *OSFS {
	return &OSFS{}
}

var _ FS = (*OSFS)(nil)

func (*OSFS) Open(name string) (io.ReadCloser, error) { return os.Open(name) }

func (*OSFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (*OSFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (*OSFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (*OSFS) Lstat(name string) (fs.FileInfo, error) { return os.Lstat(name) }

func (*OSFS) Readlink(name string) (string, error) { return os.Readlink(name) }

func (*OSFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }

func (*OSFS) Mkdir(name string, perm fs.FileMode) error { return os.Mkdir(name, perm) }

func (*OSFS) MkdirAll(name string, perm fs.FileMode) error { return os.MkdirAll(name, perm) }

func (*OSFS) Remove(name string) error { return os.Remove(name) }

func (*OSFS) RemoveAll(name string) error { return os.RemoveAll(name) }

func (*OSFS) WalkDir(root string, fn fs.WalkDirFunc) error { return filepath.WalkDir(root, fn) }
