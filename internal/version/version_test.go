package version_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/replete-lang/replete/internal/version"
)

// fileGraph is a tiny in-memory stand-in for C1+fsx: locator -> source, with
// a resolver that treats a bare relative specifier as "same directory".
type fileGraph struct {
	files map[string]string
	reads map[string]int
}

func (g *fileGraph) read(locator string) (string, error) {
	src, ok := g.files[locator]
	if !ok {
		return "", fmt.Errorf("no such file: %s", locator)
	}
	if g.reads != nil {
		g.reads[locator]++
	}
	return src, nil
}

func (g *fileGraph) resolve(specifier, parent string) (string, error) {
	dir := parent[:strings.LastIndex(parent, "/")+1]
	specifier = strings.TrimPrefix(specifier, "./")
	return dir + specifier, nil
}

func (g *fileGraph) deps(locator, source string) ([]string, error) {
	var specs []string
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, `import "`) {
			start := strings.Index(line, `"`) + 1
			end := strings.LastIndex(line, `"`)
			specs = append(specs, line[start:end])
		}
	}
	return specs, nil
}

func TestVersionPropagatesAndNeverDecreases(t *testing.T) {
	g := &fileGraph{files: map[string]string{
		"file:///a.js": `import "./b.js"`,
		"file:///b.js": `export const b = "b";`,
	}}
	reg, err := version.New(g.resolve, g.read, g.deps)
	if err != nil {
		t.Fatal(err)
	}

	va, err := reg.Version("file:///a.js")
	if err != nil || va != 0 {
		t.Fatalf("initial version(a) = %d, %v; want 0, nil", va, err)
	}
	vb, err := reg.Version("file:///b.js")
	if err != nil || vb != 0 {
		t.Fatalf("initial version(b) = %d, %v; want 0, nil", vb, err)
	}

	// Edit b.js.
	g.files["file:///b.js"] = `export const b = "b2";`
	reg.Invalidate("file:///b.js")
	reg.Invalidate("file:///a.js")

	vb, err = reg.Version("file:///b.js")
	if err != nil || vb != 1 {
		t.Fatalf("version(b) after edit = %d, %v; want 1, nil", vb, err)
	}
	va, err = reg.Version("file:///a.js")
	if err != nil || va != 1 {
		t.Fatalf("version(a) after dependency edit = %d, %v; want 1, nil", va, err)
	}

	// Edit b.js back to its original content.
	g.files["file:///b.js"] = `export const b = "b";`
	reg.Invalidate("file:///b.js")
	reg.Invalidate("file:///a.js")

	vb, err = reg.Version("file:///b.js")
	if err != nil || vb != 2 {
		t.Fatalf("version(b) after revert = %d, %v; want 2, nil (versions never decrease)", vb, err)
	}
	va, err = reg.Version("file:///a.js")
	if err != nil || va != 2 {
		t.Fatalf("version(a) after revert = %d, %v; want 2, nil", va, err)
	}
}

func TestHashDependsOnlyOnOwnTextAndDirectDeps(t *testing.T) {
	g := &fileGraph{files: map[string]string{
		"file:///x.js": `import "./y.js"`,
		"file:///y.js": `export const y = "y";`,
		"file:///z.js": "import \"./y.js\"\nexport const z = \"z\";",
	}}
	reg, _ := version.New(g.resolve, g.read, g.deps)

	hy, ok, err := reg.Hash("file:///y.js")
	if err != nil || !ok {
		t.Fatalf("hash(y) error: %v ok: %v", err, ok)
	}

	// x.js and z.js have different own text but the same single dependency;
	// their hashes must differ from each other (different source_hash) while
	// both transitively depend on the same hash(y).
	hx, _, err := reg.Hash("file:///x.js")
	if err != nil {
		t.Fatal(err)
	}
	hz, _, err := reg.Hash("file:///z.js")
	if err != nil {
		t.Fatal(err)
	}
	if hx == hz {
		t.Fatalf("x.js and z.js have different source text but equal hashes")
	}
	_ = hy
}

// TestHashIsMemoizedAcrossSeparateCalls covers spec §4.4's "Memoization"
// requirement and the exponential-recomputation hazard §9's "Dependency-
// hash explosion" note names: a diamond DAG (a and b both import shared)
// must read "shared" exactly once across two independent top-level Hash
// calls, not once per importer.
func TestHashIsMemoizedAcrossSeparateCalls(t *testing.T) {
	g := &fileGraph{
		files: map[string]string{
			"file:///a.js":      `import "./shared.js"`,
			"file:///b.js":      `import "./shared.js"`,
			"file:///shared.js": `export const s = "s";`,
		},
		reads: make(map[string]int),
	}
	reg, err := version.New(g.resolve, g.read, g.deps)
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := reg.Hash("file:///a.js"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.Hash("file:///b.js"); err != nil {
		t.Fatal(err)
	}
	// Compute hash(a) and hash(b) again -- a fully memoized registry must
	// not re-read anything at all the second time around.
	if _, _, err := reg.Hash("file:///a.js"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.Hash("file:///b.js"); err != nil {
		t.Fatal(err)
	}

	if g.reads["file:///shared.js"] != 1 {
		t.Fatalf("shared.js read %d times, want exactly 1 (memoized across a.js and b.js and repeat calls)", g.reads["file:///shared.js"])
	}
	if g.reads["file:///a.js"] != 1 {
		t.Fatalf("a.js read %d times, want exactly 1", g.reads["file:///a.js"])
	}
	if g.reads["file:///b.js"] != 1 {
		t.Fatalf("b.js read %d times, want exactly 1", g.reads["file:///b.js"])
	}
}

func TestVersionizeInsertsVersionAndToken(t *testing.T) {
	g := &fileGraph{files: map[string]string{
		"file:///a.js": `export const a = "a";`,
	}}
	reg, _ := version.New(g.resolve, g.read, g.deps)

	locator, err := reg.Versionize("file:///a.js")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(locator, "file:///v0/") {
		t.Fatalf("versionize(a) = %q, want file:///v0/<token>/a.js", locator)
	}
	if !strings.HasSuffix(locator, "/a.js") {
		t.Fatalf("versionize(a) = %q, want it to end in /a.js", locator)
	}
}

func TestVersionizeNonFileLocatorPassesThrough(t *testing.T) {
	g := &fileGraph{files: map[string]string{}}
	reg, _ := version.New(g.resolve, g.read, g.deps)

	locator, err := reg.Versionize("https://example.com/mod.js")
	if err != nil {
		t.Fatal(err)
	}
	if locator != "https://example.com/mod.js" {
		t.Fatalf("versionize on non-file locator changed it: %q", locator)
	}
}
