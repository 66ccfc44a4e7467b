// Package fsx provides the filesystem abstraction that the resolver and
// version registry read through. It exists so tests can swap in an
// in-memory tree without touching the real disk, the same split esbuild's
// internal/fs makes between a real and a mock implementation.
package fsx

import (
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"sync"
)

// EntryKind distinguishes directory entries without a second stat call in
// the common case.
type EntryKind uint8

const (
	FileEntry EntryKind = iota + 1
	DirEntry
)

type Entry struct {
	Kind EntryKind
}

// FS is everything the resolver and source reader need from the local
// filesystem. Paths are always platform-native absolute paths (not
// locators); callers convert to/from file:// locators at the boundary.
type FS interface {
	ReadFile(path string) (string, error)
	ReadDirectory(path string) (map[string]Entry, error)
	EvalSymlinks(path string) (string, error)
	Abs(path string) (string, error)
	Dir(path string) string
	Base(path string) string
	Join(parts ...string) string
}

// realFS talks to the actual operating system filesystem. ReadFile results
// are memoized per path the way internal/fs.realFS (the teacher) memoizes
// directory listings in its entries map -- spec §4.4's "Memoization"
// requires source-reads be cached per-REPL, not just hashes. Failed reads
// are cached too, and every entry stays until Invalidate drops it.
type realFS struct {
	mu    sync.Mutex
	files map[string]fileOrErr
}

type fileOrErr struct {
	contents string
	err      error
}

func Real() FS {
	return &realFS{files: make(map[string]fileOrErr)}
}

func (fs *realFS) ReadFile(p string) (string, error) {
	fs.mu.Lock()
	if cached, ok := fs.files[p]; ok {
		fs.mu.Unlock()
		return cached.contents, cached.err
	}
	fs.mu.Unlock()

	b, err := ioutil.ReadFile(p)
	if pathErr, ok := err.(*os.PathError); ok {
		err = pathErr.Unwrap()
	}
	contents := string(b)

	fs.mu.Lock()
	fs.files[p] = fileOrErr{contents: contents, err: err}
	fs.mu.Unlock()

	return contents, err
}

// Invalidate drops a cached ReadFile result for p, so the next read picks
// up on-disk changes -- the counterpart to internal/version.Registry's own
// Invalidate. No file watcher in this module calls either one.
func (fs *realFS) Invalidate(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, p)
}

func (*realFS) ReadDirectory(p string) (map[string]Entry, error) {
	infos, err := ioutil.ReadDir(p)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]Entry, len(infos))
	for _, info := range infos {
		kind := FileEntry
		if info.IsDir() {
			kind = DirEntry
		}
		entries[info.Name()] = Entry{Kind: kind}
	}
	return entries, nil
}

func (*realFS) EvalSymlinks(p string) (string, error) {
	return filepath.EvalSymlinks(p)
}

func (*realFS) Abs(p string) (string, error) {
	return filepath.Abs(p)
}

func (*realFS) Dir(p string) string  { return filepath.Dir(p) }
func (*realFS) Base(p string) string { return filepath.Base(p) }
func (*realFS) Join(parts ...string) string {
	return filepath.Join(parts...)
}

// mockFS is an in-memory tree keyed by slash-separated absolute paths,
// used by resolver and version registry tests. Mirrors esbuild's
// internal/fs.MockFS but without the Windows path-separator concerns,
// since Replete's locators are always slash-separated file:// URLs.
type mockFS struct {
	files map[string]string
	dirs  map[string]map[string]Entry
}

func Mock(files map[string]string) FS {
	dirs := make(map[string]map[string]Entry)
	for file := range files {
		child := file
		for {
			parent := path.Dir(child)
			d, ok := dirs[parent]
			if !ok {
				d = make(map[string]Entry)
				dirs[parent] = d
			}
			kind := DirEntry
			if child == file {
				kind = FileEntry
			}
			d[path.Base(child)] = Entry{Kind: kind}
			if parent == child {
				break
			}
			child = parent
		}
	}
	return &mockFS{files: files, dirs: dirs}
}

func (m *mockFS) ReadFile(p string) (string, error) {
	if contents, ok := m.files[p]; ok {
		return contents, nil
	}
	return "", os.ErrNotExist
}

func (m *mockFS) ReadDirectory(p string) (map[string]Entry, error) {
	if entries, ok := m.dirs[p]; ok {
		return entries, nil
	}
	return nil, os.ErrNotExist
}

func (m *mockFS) EvalSymlinks(p string) (string, error) { return p, nil }
func (m *mockFS) Abs(p string) (string, error)          { return path.Clean(path.Join("/", p)), nil }
func (m *mockFS) Dir(p string) string                   { return path.Dir(p) }
func (m *mockFS) Base(p string) string                  { return path.Base(p) }
func (m *mockFS) Join(parts ...string) string           { return path.Clean(path.Join(parts...)) }
