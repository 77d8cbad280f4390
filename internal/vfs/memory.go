package vfs

import (
	"bytes"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

var (
	errIsDir    = syscall.EISDIR
	errNotDir   = syscall.ENOTDIR
	errNotEmpty = syscall.ENOTEMPTY
	errLoop     = syscall.ELOOP
	errInval    = syscall.EINVAL
)

const maxLinkHops = 40

// MemFS implements FS in memory, including symlinks.
// It is safe for concurrent use.
type MemFS struct {
	mu     sync.RWMutex
	files  map[string]*memFile
	dirs   map[string]time.Time
	links  map[string]string
	faults map[string]error
}

type memFile struct {
	content []byte
	mode    fs.FileMode
	modTime time.Time
}

func NewMemFS() *MemFS {
	return &MemFS{
		files:  make(map[string]*memFile),
		dirs:   map[string]time.Time{"/": time.Now()},
		links:  make(map[string]string),
		faults: make(map[string]error),
	}
}

var _ FS = (*MemFS)(nil)

// InjectError makes every read of name fail with err, including listing it
// when it is a directory. A nil err clears it.
func (m *MemFS) InjectError(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = clean(name)
	if err == nil {
		delete(m.faults, name)
		return
	}
	m.faults[name] = err
}

// Symlink creates link pointing at target, like os.Symlink.
func (m *MemFS) Symlink(target, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link = clean(link)
	parent, err := m.resolve(path.Dir(link), true)
	if err != nil {
		return &fs.PathError{Op: "symlink", Path: link, Err: err}
	}
	if _, ok := m.dirs[parent]; !ok {
		return &fs.PathError{Op: "symlink", Path: link, Err: fs.ErrNotExist}
	}
	full := path.Join(parent, path.Base(link))
	if m.exists(full) {
		return &fs.PathError{Op: "symlink", Path: link, Err: fs.ErrExist}
	}
	m.links[full] = target
	return nil
}

func (m *MemFS) Open(name string) (io.ReadCloser, error) {
	content, err := m.read("open", name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (m *MemFS) ReadFile(name string) ([]byte, error) {
	return m.read("read", name)
}

func (m *MemFS) read(op, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = clean(name)
	if err, ok := m.faults[name]; ok {
		return nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	p, err := m.resolve(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	f, ok := m.files[p]
	if !ok {
		if _, isDir := m.dirs[p]; isDir {
			return nil, &fs.PathError{Op: op, Path: name, Err: errIsDir}
		}
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}

	content := make([]byte, len(f.content))
	copy(content, f.content)
	return content, nil
}

func (m *MemFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = clean(name)
	p, err := m.resolve(name, true)
	if err != nil {
		return &fs.PathError{Op: "write", Path: name, Err: err}
	}
	if _, isDir := m.dirs[p]; isDir {
		return &fs.PathError{Op: "write", Path: name, Err: errIsDir}
	}
	if _, ok := m.dirs[path.Dir(p)]; !ok {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrNotExist}
	}

	content := make([]byte, len(data))
	copy(content, data)
	m.files[p] = &memFile{content: content, mode: perm & fs.ModePerm, modTime: time.Now()}
	return nil
}

func (m *MemFS) Stat(name string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = clean(name)
	p, err := m.resolve(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	info, ok := m.info(p)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return info, nil
}

func (m *MemFS) Lstat(name string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = clean(name)
	p, err := m.resolve(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	info, ok := m.info(p)
	if !ok {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: fs.ErrNotExist}
	}
	return info, nil
}

func (m *MemFS) Readlink(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = clean(name)
	p, err := m.resolve(name, false)
	if err != nil {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: err}
	}
	target, ok := m.links[p]
	if !ok {
		if m.exists(p) {
			return "", &fs.PathError{Op: "readlink", Path: name, Err: errInval}
		}
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrNotExist}
	}
	return target, nil
}

func (m *MemFS) ReadDir(name string) ([]fs.DirEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = clean(name)
	p, err := m.resolve(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return m.readDir(p, name)
}

func (m *MemFS) readDir(p, name string) ([]fs.DirEntry, error) {
	if err, ok := m.faults[name]; ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if _, ok := m.dirs[p]; !ok {
		if _, isFile := m.files[p]; isFile {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: errNotDir}
		}
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}

	var entries []fs.DirEntry
	for _, child := range m.children(p) {
		info, _ := m.info(child)
		entries = append(entries, fs.FileInfoToDirEntry(info))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (m *MemFS) Mkdir(name string, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = clean(name)
	parent, err := m.resolve(path.Dir(name), true)
	if err != nil {
		return &fs.PathError{Op: "mkdir", Path: name, Err: err}
	}
	if _, ok := m.dirs[parent]; !ok {
		if _, isFile := m.files[parent]; isFile {
			return &fs.PathError{Op: "mkdir", Path: name, Err: errNotDir}
		}
		return &fs.PathError{Op: "mkdir", Path: name, Err: fs.ErrNotExist}
	}
	full := path.Join(parent, path.Base(name))
	if m.exists(full) {
		return &fs.PathError{Op: "mkdir", Path: name, Err: fs.ErrExist}
	}
	m.dirs[full] = time.Now()
	return nil
}

func (m *MemFS) MkdirAll(name string, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = clean(name)
	cur := "/"
	for _, part := range split(name) {
		next, err := m.resolve(path.Join(cur, part), true)
		if err != nil {
			return &fs.PathError{Op: "mkdir", Path: name, Err: err}
		}
		if _, isFile := m.files[next]; isFile {
			return &fs.PathError{Op: "mkdir", Path: name, Err: errNotDir}
		}
		if _, ok := m.dirs[next]; !ok {
			m.dirs[next] = time.Now()
		}
		cur = next
	}
	return nil
}

func (m *MemFS) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = clean(name)
	p, err := m.resolve(name, false)
	if err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	switch {
	case m.isLink(p):
		delete(m.links, p)
	case m.isFile(p):
		delete(m.files, p)
	case m.isDir(p):
		if len(m.children(p)) > 0 {
			return &fs.PathError{Op: "remove", Path: name, Err: errNotEmpty}
		}
		delete(m.dirs, p)
	default:
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	return nil
}

func (m *MemFS) RemoveAll(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = clean(name)
	p, err := m.resolve(name, false)
	if err != nil {
		return nil
	}
	if p == "/" {
		return &fs.PathError{Op: "removeall", Path: name, Err: errInval}
	}
	prefix := p + "/"
	for k := range m.files {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(m.files, k)
		}
	}
	for k := range m.links {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(m.links, k)
		}
	}
	for k := range m.dirs {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(m.dirs, k)
		}
	}
	return nil
}

func (m *MemFS) WalkDir(root string, fn fs.WalkDirFunc) error {
	root = clean(root)
	info, err := m.Lstat(root)
	if err != nil {
		err = fn(root, nil, err)
	} else {
		err = m.walk(root, fs.FileInfoToDirEntry(info), fn)
	}
	if err == fs.SkipDir || err == fs.SkipAll {
		return nil
	}
	return err
}

func (m *MemFS) walk(name string, d fs.DirEntry, fn fs.WalkDirFunc) error {
	if err := fn(name, d, nil); err != nil || !d.IsDir() {
		if err == fs.SkipDir && d.IsDir() {
			err = nil
		}
		return err
	}

	m.mu.RLock()
	entries, err := m.readDir(name, name)
	m.mu.RUnlock()
	if err != nil {
		err = fn(name, d, err)
		if err != nil {
			if err == fs.SkipDir && d.IsDir() {
				err = nil
			}
			return err
		}
	}

	for _, e := range entries {
		if err := m.walk(path.Join(name, e.Name()), e, fn); err != nil {
			if err == fs.SkipDir {
				break
			}
			return err
		}
	}
	return nil
}

// Files lists every regular file path, sorted.
func (m *MemFS) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// resolve follows symlinks in every component of p; the final component is
// followed only when followLast is set. p must be clean and absolute.
func (m *MemFS) resolve(p string, followLast bool) (string, error) {
	hops := 0
	for {
		parts := split(p)
		cur := "/"
		restarted := false
		for i, part := range parts {
			next := path.Join(cur, part)
			target, ok := m.links[next]
			last := i == len(parts)-1
			if !ok || (last && !followLast) {
				cur = next
				continue
			}
			hops++
			if hops > maxLinkHops {
				return "", errLoop
			}
			if !path.IsAbs(target) {
				target = path.Join(cur, target)
			}
			p = path.Join(append([]string{target}, parts[i+1:]...)...)
			restarted = true
			break
		}
		if !restarted {
			return cur, nil
		}
	}
}

func (m *MemFS) info(p string) (fs.FileInfo, bool) {
	if f, ok := m.files[p]; ok {
		return &memInfo{name: path.Base(p), size: int64(len(f.content)), mode: f.mode, modTime: f.modTime}, true
	}
	if t, ok := m.dirs[p]; ok {
		return &memInfo{name: path.Base(p), mode: fs.ModeDir | 0o755, modTime: t}, true
	}
	if target, ok := m.links[p]; ok {
		return &memInfo{name: path.Base(p), size: int64(len(target)), mode: fs.ModeSymlink | 0o777}, true
	}
	return nil, false
}

func (m *MemFS) children(dir string) []string {
	var out []string
	add := func(p string) {
		if p != dir && path.Dir(p) == dir {
			out = append(out, p)
		}
	}
	for p := range m.files {
		add(p)
	}
	for p := range m.dirs {
		add(p)
	}
	for p := range m.links {
		add(p)
	}
	return out
}

func (m *MemFS) exists(p string) bool { return m.isFile(p) || m.isDir(p) || m.isLink(p) }

func (m *MemFS) isFile(p string) bool { _, ok := m.files[p]; return ok }

func (m *MemFS) isDir(p string) bool { _, ok := m.dirs[p]; return ok }

func (m *MemFS) isLink(p string) bool { _, ok := m.links[p]; return ok }

func clean(p string) string {
	return path.Clean("/" + p)
}

func split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

type memInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (i *memInfo) Name() string       { return i.name }
func (i *memInfo) Size() int64        { return i.size }
func (i *memInfo) Mode() fs.FileMode  { return i.mode }
func (i *memInfo) ModTime() time.Time { return i.modTime }
func (i *memInfo) IsDir() bool        { return i.mode.IsDir() }
func (i *memInfo) Sys() any           { return nil }
