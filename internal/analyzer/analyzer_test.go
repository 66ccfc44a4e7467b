package analyzer

import (
	"testing"

	"github.com/replete-lang/replete/internal/jsast"
)

func TestAnalyzeModuleCollectsImportsAndDynamicsEverywhere(t *testing.T) {
	// import x from "a"; function f() { import("b"); }
	dynamicInFn := &jsast.Node{
		Type:        jsast.ImportExpression,
		Specifier:   "b",
		ModuleRange: jsast.Range{Start: 41, Len: 3},
		ScriptRange: jsast.Range{Start: 41, Len: 3},
	}
	fn := &jsast.Node{
		Type:            jsast.FunctionDeclaration,
		Name:            "f",
		IsFunctionScope: true,
		Children:        []*jsast.Node{dynamicInFn},
	}
	imp := &jsast.Node{
		Type:           jsast.ImportDeclaration,
		Range:          jsast.Range{Start: 0, Len: 18},
		Specifier:      "a",
		DefaultBinding: "x",
	}
	root := &jsast.Node{Type: jsast.Program, Children: []*jsast.Node{imp, fn}}

	m := AnalyzeModule(root)

	if len(m.Imports) != 1 || m.Imports[0].Specifier != "a" {
		t.Fatalf("expected one import of %q, got %+v", "a", m.Imports)
	}
	if len(m.Dynamics) != 1 || m.Dynamics[0].Specifier != "b" {
		t.Fatalf("expected dynamic import of %q even nested in a function, got %+v", "b", m.Dynamics)
	}
}

func TestAnalyzeTopSkipsFunctionBodiesButNotBlocks(t *testing.T) {
	// if (true) { await 42; } function f() { g(); }
	awaitExpr := &jsast.Node{Type: jsast.AwaitExpression}
	exprInFn := &jsast.Node{Type: jsast.ExpressionStatement, Range: jsast.Range{Start: 100, Len: 5}}
	fn := &jsast.Node{Type: jsast.FunctionDeclaration, IsFunctionScope: true, Children: []*jsast.Node{exprInFn}}
	exprStmt := &jsast.Node{Type: jsast.ExpressionStatement, Range: jsast.Range{Start: 20, Len: 5}, Children: []*jsast.Node{awaitExpr}}
	ifBlock := &jsast.Node{Type: jsast.Other, Children: []*jsast.Node{exprStmt}}
	root := &jsast.Node{Type: jsast.Program, Children: []*jsast.Node{ifBlock, fn}}

	top := AnalyzeTop(root)

	if !top.Wait {
		t.Fatal("expected top-level await to be detected through a non-function block")
	}
	if len(top.Values) != 1 {
		t.Fatalf("expected exactly one top-level value-producing statement (the one outside the function), got %d", len(top.Values))
	}
}
