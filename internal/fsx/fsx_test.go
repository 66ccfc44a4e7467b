package fsx

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMockBasic(t *testing.T) {
	fs := Mock(map[string]string{
		"/a.js":             "a",
		"/node_modules/b.js": "b",
	})

	if _, err := fs.ReadFile("/missing.js"); err == nil {
		t.Fatal("expected /missing.js to be absent")
	}

	contents, err := fs.ReadFile("/a.js")
	if err != nil || contents != "a" {
		t.Fatalf("got (%q, %v), want (\"a\", nil)", contents, err)
	}

	entries, err := fs.ReadDirectory("/node_modules")
	if err != nil {
		t.Fatalf("expected /node_modules to exist: %v", err)
	}
	if _, ok := entries["b.js"]; !ok {
		t.Fatal("expected b.js entry in /node_modules")
	}

	root, err := fs.ReadDirectory("/")
	if err != nil {
		t.Fatalf("expected / to exist: %v", err)
	}
	if e, ok := root["node_modules"]; !ok || e.Kind != DirEntry {
		t.Fatalf("expected / to contain node_modules dir entry, got %+v", root)
	}
}

func TestRealFSCachesReadFileUntilInvalidated(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.js")
	if err := os.WriteFile(p, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := Real().(*realFS)

	contents, err := fs.ReadFile(p)
	if err != nil || contents != "one" {
		t.Fatalf("got (%q, %v), want (\"one\", nil)", contents, err)
	}

	// Mutating the file on disk must not change what a cached read sees.
	if err := os.WriteFile(p, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	contents, err = fs.ReadFile(p)
	if err != nil || contents != "one" {
		t.Fatalf("stale cache: got (%q, %v), want cached (\"one\", nil)", contents, err)
	}

	fs.Invalidate(p)

	contents, err = fs.ReadFile(p)
	if err != nil || contents != "two" {
		t.Fatalf("after Invalidate: got (%q, %v), want (\"two\", nil)", contents, err)
	}
}
