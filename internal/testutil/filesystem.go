package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"dupscan/internal/dupscan"
)

// MockFile represents an entry in the mock filesystem.
type MockFile struct {
	Content     []byte
	Permissions fs.FileMode
	ModTime     time.Time
	IsDirectory bool
	// Target is set for symbolic links.
	Target string
	// Stat data - set once when the entry is created
	Atime time.Time
	Ctime time.Time
	Inode uint64
}

func (f *MockFile) mode() fs.FileMode {
	switch {
	case f.IsDirectory:
		return fs.ModeDir | f.Permissions
	case f.Target != "":
		return fs.ModeSymlink | f.Permissions
	}
	return f.Permissions
}

// MockFilesystemManager is an in-memory filesystem for testing.
// Failures can be injected per path. It is safe for concurrent use.
type MockFilesystemManager struct {
	mu        sync.Mutex
	files     map[string]*MockFile
	nextInode uint64

	statErrors   map[string]error
	openErrors   map[string]error
	moveErrors   map[string]error
	removeErrors map[string]error
}

// NewMockFilesystemManager creates a new mock filesystem containing only "/".
func NewMockFilesystemManager() *MockFilesystemManager {
	m := &MockFilesystemManager{
		files:        make(map[string]*MockFile),
		statErrors:   make(map[string]error),
		openErrors:   make(map[string]error),
		moveErrors:   make(map[string]error),
		removeErrors: make(map[string]error),
	}
	m.files["/"] = m.newEntry(nil, true)
	return m
}

func (m *MockFilesystemManager) newEntry(content []byte, dir bool) *MockFile {
	now := time.Now()
	m.nextInode++
	perm := fs.FileMode(0644)
	if dir {
		perm = 0755
	}
	return &MockFile{
		Content:     content,
		Permissions: perm,
		ModTime:     now,
		IsDirectory: dir,
		Atime:       now,
		Ctime:       now,
		Inode:       m.nextInode,
	}
}

// mkdirAll creates path and its parents. Caller holds mu.
func (m *MockFilesystemManager) mkdirAll(path string) {
	for p := path; ; p = filepath.Dir(p) {
		if _, ok := m.files[p]; !ok {
			m.files[p] = m.newEntry(nil, true)
		}
		if p == filepath.Dir(p) {
			return
		}
	}
}

// AddFile adds a file, creating missing parent directories. An existing file
// keeps its inode and gets the new content and a fresh modification time.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(filepath.Dir(path))
	if f, ok := m.files[path]; ok && !f.IsDirectory {
		f.Content = content
		f.ModTime = f.ModTime.Add(time.Second)
		return
	}
	m.files[path] = m.newEntry(content, false)
}

// AddDirectory adds a directory and its parents.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(path)
}

// AddSymlink adds a symbolic link at path pointing to the absolute target.
func (m *MockFilesystemManager) AddSymlink(path, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(filepath.Dir(path))
	f := m.newEntry(nil, false)
	f.Target = target
	f.Permissions = 0777
	m.files[path] = f
}

// SetModTime overrides the modification time of an entry.
func (m *MockFilesystemManager) SetModTime(path string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[path]; ok {
		f.ModTime = t
	}
}

// Content returns the content of a regular file.
func (m *MockFilesystemManager) Content(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, f, err := m.resolve(path)
	if err != nil || f.IsDirectory {
		return nil, false
	}
	return f.Content, true
}

// Exists reports whether an entry exists at path (the final link is not followed).
func (m *MockFilesystemManager) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _, err := m.canonical(path, false, 0)
	return err == nil
}

// FailStat makes Stat and Lstat of path return err.
func (m *MockFilesystemManager) FailStat(path string, err error) { m.inject(m.statErrors, path, err) }

// FailOpen makes Open of path return err.
func (m *MockFilesystemManager) FailOpen(path string, err error) { m.inject(m.openErrors, path, err) }

// FailMove makes Move from path return err.
func (m *MockFilesystemManager) FailMove(path string, err error) { m.inject(m.moveErrors, path, err) }

// FailRemove makes Remove of path return err.
func (m *MockFilesystemManager) FailRemove(path string, err error) {
	m.inject(m.removeErrors, path, err)
}

func (m *MockFilesystemManager) inject(into map[string]error, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(into, path)
		return
	}
	into[path] = err
}

func notExist(op, path string) error {
	return &fs.PathError{Op: op, Path: path, Err: fs.ErrNotExist}
}

// canonical resolves symlinks in every parent of path, and in path itself
// when follow is set. Caller holds mu.
func (m *MockFilesystemManager) canonical(path string, follow bool, hops int) (string, *MockFile, error) {
	if hops > 40 {
		return "", nil, &fs.PathError{Op: "stat", Path: path, Err: errors.New("too many levels of symbolic links")}
	}
	path = filepath.Clean(path)
	if path == "/" {
		return path, m.files[path], nil
	}
	parent, dir, err := m.canonical(filepath.Dir(path), true, hops)
	if err != nil {
		return "", nil, err
	}
	if !dir.IsDirectory {
		return "", nil, &fs.PathError{Op: "stat", Path: path, Err: errors.New("not a directory")}
	}
	p := filepath.Join(parent, filepath.Base(path))
	f, ok := m.files[p]
	if !ok {
		return "", nil, notExist("stat", path)
	}
	if follow && f.Target != "" {
		return m.canonical(f.Target, true, hops+1)
	}
	return p, f, nil
}

func (m *MockFilesystemManager) resolve(path string) (string, *MockFile, error) {
	return m.canonical(path, true, 0)
}

func (m *MockFilesystemManager) Abs(rawPath string) (string, error) {
	return filepath.Abs(rawPath)
}

func (m *MockFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.statErrors[path]; ok {
		return nil, err
	}
	_, f, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	return newMockFileInfo(path, f), nil
}

func (m *MockFilesystemManager) Lstat(path string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.statErrors[path]; ok {
		return nil, err
	}
	_, f, err := m.canonical(path, false, 0)
	if err != nil {
		return nil, err
	}
	return newMockFileInfo(path, f), nil
}

func (m *MockFilesystemManager) ExtractStatData(info fs.FileInfo) (*dupscan.StatData, error) {
	// Get the MockFile from Sys() to return consistent stat data
	mockFile, ok := info.Sys().(*MockFile)
	if !ok {
		return nil, fmt.Errorf("cannot extract stat data: expected *MockFile, got %T", info.Sys())
	}

	return &dupscan.StatData{
		AccessedAt: mockFile.Atime,
		ChangedAt:  mockFile.Ctime,
		Identity:   fmt.Sprintf("mock:%d", mockFile.Inode),
	}, nil
}

func (m *MockFilesystemManager) ReadDir(path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.statErrors[path]; ok {
		return nil, err
	}
	resolved, dir, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	if !dir.IsDirectory {
		return nil, fmt.Errorf("not a directory: %s", path)
	}

	var names []string
	for p := range m.files {
		if p != resolved && filepath.Dir(p) == resolved {
			names = append(names, filepath.Base(p))
		}
	}
	slices.Sort(names)
	return names, nil
}

func (m *MockFilesystemManager) Open(path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.openErrors[path]; ok {
		return nil, err
	}
	_, f, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	if f.IsDirectory {
		return nil, fmt.Errorf("cannot open directory: %s", path)
	}
	return io.NopCloser(bytes.NewReader(f.Content)), nil
}

func (m *MockFilesystemManager) Move(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.moveErrors[src]; ok {
		return err
	}
	from, f, err := m.canonical(src, false, 0)
	if err != nil {
		return err
	}
	if _, _, err := m.canonical(dst, false, 0); err == nil {
		return fmt.Errorf("destination exists: %s", dst)
	}
	parent, dir, err := m.resolve(filepath.Dir(dst))
	if err != nil {
		return err
	}
	if !dir.IsDirectory {
		return fmt.Errorf("not a directory: %s", parent)
	}
	if f.IsDirectory {
		return fmt.Errorf("moving directories is not supported: %s", src)
	}
	delete(m.files, from)
	m.files[filepath.Join(parent, filepath.Base(dst))] = f
	return nil
}

func (m *MockFilesystemManager) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.removeErrors[path]; ok {
		return err
	}
	p, f, err := m.canonical(path, false, 0)
	if err != nil {
		return err
	}
	if f.IsDirectory {
		return fmt.Errorf("refusing to remove directory: %s", path)
	}
	delete(m.files, p)
	return nil
}

func (m *MockFilesystemManager) WriteFile(path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading content: %w", err)
	}
	m.AddFile(path, data)
	return nil
}

// mockFileInfo implements fs.FileInfo
type mockFileInfo struct {
	name     string
	size     int64
	mode     fs.FileMode
	modTime  time.Time
	mockFile *MockFile // reference to get stat data
}

func newMockFileInfo(path string, f *MockFile) *mockFileInfo {
	size := int64(len(f.Content))
	if f.Target != "" {
		size = int64(len(f.Target))
	}
	return &mockFileInfo{
		name:     filepath.Base(path),
		size:     size,
		mode:     f.mode(),
		modTime:  f.ModTime,
		mockFile: f,
	}
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.mode.IsDir() }
func (m *mockFileInfo) Sys() any           { return m.mockFile }

// Compile-time check
var _ dupscan.FilesystemManager = (*MockFilesystemManager)(nil)
