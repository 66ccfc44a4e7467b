// Package analyzer implements C2, the module analyzer: an exhaustive walk
// collecting imports/exports/dynamic-sites/import.meta.main sites, plus a
// separate top-level-only walk collecting value-producing statements and
// the top-level-await flag. Grounded on the visitor-dispatch shape of the
// teacher's internal/js_parser (a big switch on node type descending into
// children), applied to internal/jsast's tree instead of esbuild's own AST.
package analyzer

import "github.com/replete-lang/replete/internal/jsast"

// ImportRecord is one static import statement.
type ImportRecord struct {
	Range            jsast.Range
	Specifier        string
	SpecifierRange   jsast.Range
	DefaultBinding   string
	NamespaceBinding string
	NamedBindings    []jsast.ImportedName
}

// ExportRecord is one export statement: default, named (possibly
// re-exporting from a source), or a re-export-all.
type ExportRecord struct {
	Range          jsast.Range
	Kind           ExportKind
	Specifier      string // non-empty only for a re-export
	SpecifierRange jsast.Range
	Default        *DefaultExport
}

type ExportKind uint8

const (
	ExportDefault ExportKind = iota
	ExportNamed
	ExportAll
)

type DefaultExport struct {
	// ExprStart is the byte offset where the exported expression begins,
	// i.e. just past "export default ".
	ExprStart int
}

// DynamicSite is one of the three dynamic-specifier forms spec.md 4.2
// names: import(), import.meta.resolve(), or new URL(rel, import.meta.url).
type DynamicSite struct {
	Specifier   string
	ModuleRange jsast.Range
	ScriptRange jsast.Range
}

// MainSite is one occurrence of import.meta.main.
type MainSite struct {
	Range jsast.Range
}

// ModuleAnalysis is spec.md 3's "Module analysis" tuple.
type ModuleAnalysis struct {
	Imports  []ImportRecord
	Exports  []ExportRecord
	Dynamics []DynamicSite
	Mains    []MainSite
}

// AnalyzeModule performs the exhaustive walk: imports may appear only at
// top level but import.meta.* and import() may appear anywhere, so every
// node is visited regardless of nesting.
func AnalyzeModule(root *jsast.Node) ModuleAnalysis {
	var m ModuleAnalysis
	var walk func(n *jsast.Node)
	walk = func(n *jsast.Node) {
		if n == nil {
			return
		}
		switch n.Type {
		case jsast.ImportDeclaration:
			m.Imports = append(m.Imports, ImportRecord{
				Range:            n.Range,
				Specifier:        n.Specifier,
				SpecifierRange:   n.SpecifierRange,
				DefaultBinding:   n.DefaultBinding,
				NamespaceBinding: n.NamespaceBinding,
				NamedBindings:    n.NamedBindings,
			})
		case jsast.ExportDefaultDeclaration:
			m.Exports = append(m.Exports, ExportRecord{
				Range: n.Range,
				Kind:  ExportDefault,
				Default: &DefaultExport{
					ExprStart: n.DefaultStart,
				},
			})
		case jsast.ExportNamedDeclaration:
			m.Exports = append(m.Exports, ExportRecord{
				Range:          n.Range,
				Kind:           ExportNamed,
				Specifier:      n.Specifier,
				SpecifierRange: n.SpecifierRange,
			})
		case jsast.ExportAllDeclaration:
			m.Exports = append(m.Exports, ExportRecord{
				Range:          n.Range,
				Kind:           ExportAll,
				Specifier:      n.Specifier,
				SpecifierRange: n.SpecifierRange,
			})
		case jsast.ImportExpression, jsast.ImportMetaResolve, jsast.NewURLImportMetaURL:
			m.Dynamics = append(m.Dynamics, DynamicSite{
				Specifier:   n.Specifier,
				ModuleRange: n.ModuleRange,
				ScriptRange: n.ScriptRange,
			})
		case jsast.ImportMetaMain:
			m.Mains = append(m.Mains, MainSite{Range: n.Range})
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return m
}

// TopLevelStatement is a value-producing ExpressionStatement found by the
// top-level walk.
type TopLevelStatement struct {
	Range jsast.Range
}

// TopAnalysis is spec.md 3's "Top analysis" tuple.
type TopAnalysis struct {
	Values []TopLevelStatement
	Wait   bool
}

// AnalyzeTop walks only the top-level statement list, never descending
// into function bodies (spec.md 4.2: "A separate top-level walk ... must
// not descend into function bodies"). It does descend into ordinary
// control-flow blocks (if/for/while/try), since those run at module
// evaluation time, not deferred to a later call.
func AnalyzeTop(root *jsast.Node) TopAnalysis {
	var t TopAnalysis
	var walk func(n *jsast.Node)
	walk = func(n *jsast.Node) {
		if n == nil {
			return
		}
		switch n.Type {
		case jsast.ExpressionStatement:
			t.Values = append(t.Values, TopLevelStatement{Range: n.Range})
		case jsast.AwaitExpression, jsast.ForAwaitOfStatement:
			t.Wait = true
		}
		if n.IsFunctionScope {
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return t
}
