package replize

import (
	"strings"
	"testing"

	"github.com/replete-lang/replete/internal/analyzer"
	"github.com/replete-lang/replete/internal/jsast"
)

// buildVarDecl constructs a VariableDeclaration node whose Range spans decl
// in source and records its bound names the way a real parser would.
func buildVarDecl(source, decl string, names []string, destructuring, array, initialized bool) *jsast.Node {
	start := strings.Index(source, decl)
	if start < 0 {
		panic("fragment not found: " + decl)
	}
	return &jsast.Node{
		Type:          jsast.VariableDeclaration,
		Range:         jsast.Range{Start: start, Len: len(decl)},
		BoundNames:    names,
		Destructuring: destructuring,
		ArrayPattern:  array,
		Initialized:   initialized,
	}
}

func buildFuncDecl(source, decl, name string) *jsast.Node {
	start := strings.Index(source, decl)
	if start < 0 {
		panic("fragment not found: " + decl)
	}
	return &jsast.Node{
		Type:            jsast.FunctionDeclaration,
		Range:           jsast.Range{Start: start, Len: len(decl)},
		Name:            name,
		IsFunctionScope: true,
	}
}

// S4 -- continuity: "const x = "x"; let y = "y"; z(); function z(){ return
// "z"; } const {a, b} = {a: "a", b: "b"};" is evaluated as a single
// fragment; every bound name must end up reachable via the persisted
// scope.
func TestReplizeContinuityFragment(t *testing.T) {
	source := `const x = "x"; let y = "y"; z(); function z(){ return "z"; } const {a, b} = {a: "a", b: "b"};`

	xDecl := buildVarDecl(source, `const x = "x";`, []string{"x"}, false, false, true)
	yDecl := buildVarDecl(source, `let y = "y";`, []string{"y"}, false, false, true)
	call := &jsast.Node{Type: jsast.ExpressionStatement, Range: jsast.Range{Start: strings.Index(source, `z();`), Len: len(`z();`)}}
	zFn := buildFuncDecl(source, `function z(){ return "z"; }`, "z")
	abDecl := buildVarDecl(source, `const {a, b} = {a: "a", b: "b"};`, []string{"a", "b"}, true, false, true)

	root := &jsast.Node{Type: jsast.Program, Children: []*jsast.Node{xDecl, yDecl, call, zFn, abDecl}}
	mod := analyzer.AnalyzeModule(root)
	top := analyzer.AnalyzeTop(root)

	result, err := Replize(source, root, mod, top, Options{Scope: "s1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"x", "y", "z", "a", "b"} {
		found := false
		for _, got := range result.BoundNames {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected bound name %q, got %+v", want, result.BoundNames)
		}
	}

	if strings.Contains(result.Script, "const ") || strings.Contains(result.Script, "let ") {
		t.Fatalf("expected all var/let/const keywords stripped, got:\n%s", result.Script)
	}
	if !strings.Contains(result.Script, `(a, b} = {a: "a", b: "b"});`) && !strings.Contains(result.Script, `({a, b}`) {
		t.Fatalf("expected destructuring assignment to be parenthesized, got:\n%s", result.Script)
	}
	if !strings.Contains(result.Script, "z = $z;") {
		t.Fatalf("expected hoisted function prepend \"z = $z;\", got:\n%s", result.Script)
	}
	if !strings.Contains(result.Script, "function $z") {
		t.Fatalf("expected function declaration renamed to $z, got:\n%s", result.Script)
	}
	if !strings.Contains(result.Script, `globalThis.$scopes["s1"]`) {
		t.Fatalf("expected scope registry keyed by scope name, got:\n%s", result.Script)
	}
}

// S5 -- top-level await: "if (true) { let a; a = await 42; a + 1; }" must
// produce an async harness.
func TestReplizeTopLevelAwaitWrapsAsync(t *testing.T) {
	source := `if (true) { let a; a = await 42; a + 1; }`

	aDecl := buildVarDecl(source, `let a;`, []string{"a"}, false, false, false)
	awaitExpr := &jsast.Node{Type: jsast.AwaitExpression}
	assign := &jsast.Node{Type: jsast.ExpressionStatement, Range: jsast.Range{Start: strings.Index(source, "a = await 42;"), Len: len("a = await 42;")}, Children: []*jsast.Node{awaitExpr}}
	plusOne := &jsast.Node{Type: jsast.ExpressionStatement, Range: jsast.Range{Start: strings.Index(source, "a + 1;"), Len: len("a + 1;")}}
	block := &jsast.Node{Type: jsast.Other, Children: []*jsast.Node{aDecl, assign, plusOne}}

	root := &jsast.Node{Type: jsast.Program, Children: []*jsast.Node{block}}
	mod := analyzer.AnalyzeModule(root)
	top := analyzer.AnalyzeTop(root)

	if !top.Wait {
		t.Fatal("expected top-level await to be detected")
	}

	result, err := Replize(source, root, mod, top, Options{Scope: "s2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result.Script, "async function ()") {
		t.Fatalf("expected async harness for top-level await, got:\n%s", result.Script)
	}
	// "let a;" lives inside an if-block, not at the top level, so it stays
	// an ordinary block-scoped declaration -- only Program-direct-child
	// declarations get rewritten into $scope assignments.
	if !strings.Contains(result.Script, "let a;") {
		t.Fatalf("expected block-scoped declaration to remain untouched, got:\n%s", result.Script)
	}
	if !strings.Contains(result.Script, "$values.push(a = await 42)") {
		t.Fatalf("expected the assignment expression statement captured as a value, got:\n%s", result.Script)
	}
	if !strings.Contains(result.Script, "$values.push(a + 1)") {
		t.Fatalf("expected the trailing expression statement captured as a value, got:\n%s", result.Script)
	}
}

func TestReplizeImportsBecomeAwaitedDynamicImport(t *testing.T) {
	source := `import x from "a"; x();`
	imp := &jsast.Node{
		Type:           jsast.ImportDeclaration,
		Range:          jsast.Range{Start: 0, Len: len(`import x from "a";`)},
		Specifier:      "a",
		DefaultBinding: "x",
	}
	call := &jsast.Node{Type: jsast.ExpressionStatement, Range: jsast.Range{Start: strings.Index(source, "x();"), Len: len("x();")}}
	root := &jsast.Node{Type: jsast.Program, Children: []*jsast.Node{imp, call}}
	mod := analyzer.AnalyzeModule(root)
	top := analyzer.AnalyzeTop(root)

	result, err := Replize(source, root, mod, top, Options{Scope: "s3", ResolvedImports: []string{"file:///v1/abc/a.js"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(result.Script, "import x") {
		t.Fatalf("expected static import erased, got:\n%s", result.Script)
	}
	if !strings.Contains(result.Script, `await import("file:///v1/abc/a.js")`) {
		t.Fatalf("expected awaited dynamic import of the resolved locator, got:\n%s", result.Script)
	}
	if !strings.Contains(result.Script, "async function ()") {
		t.Fatalf("expected async harness whenever a static import is present, got:\n%s", result.Script)
	}
	if !result.NeedsAsync {
		t.Fatal("expected NeedsAsync to be true whenever a static import is present, even with no top-level await")
	}
	if top.Wait {
		t.Fatal("test fixture has no top-level await; NeedsAsync must come from the import alone")
	}
}
