// Package replize implements C3, the REPL-izer: turning a module fragment
// into an eval-safe script per spec.md section 4.3. Edits are computed as
// disjoint byte-range replacements (plus a handful of zero-width
// insertions for hoisted-function prepends and class wrapping) and applied
// in one pass, the way the teacher's internal/printer assembles output by
// walking source positions -- except here the "print" step is a sparse
// edit list over the original text rather than a full re-print of a
// freshly-built AST, since spec.md's invariant is about preserving the
// original text's line count exactly.
package replize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/replete-lang/replete/internal/analyzer"
	"github.com/replete-lang/replete/internal/jsast"
)

// Options configures one REPL-ization.
type Options struct {
	Scope string

	// ResolvedDynamics[i] is the already-resolved+versioned replacement
	// string (unquoted) for analysis.Dynamics[i]. Supplied by C7 after
	// running each dynamic specifier through C1/C4.
	ResolvedDynamics []string

	// ResolvedImports[i] is the already-resolved+versioned locator for
	// analysis.Imports[i]. A static import has no direct eval-safe form, so
	// it is turned into an awaited dynamic import whose result populates
	// the same bindings the import statement would have.
	ResolvedImports []string
}

type edit struct {
	start, end int
	text       string
	order      int // insertion-order tiebreak for zero-width edits sharing a position
}

// Result is the script plus the names it binds into the scope, the latter
// feeding the coordinator's ListScopes introspection.
type Result struct {
	Script     string
	BoundNames []string

	// NeedsAsync reports whether Script is an async IIFE that resolves to a
	// Promise (spec.md 4.3 contract item 5: "returns a promise if and only
	// if top_analysis.wait"; that condition is also forced by the presence
	// of any static import, since those are lowered to an awaited dynamic
	// import). The caller must send this, or'd with top_analysis.wait, as
	// the wire command's "wait" field so the padawan awaits the result
	// before handing it to inspect (spec.md 4.6).
	NeedsAsync bool
}

// Replize produces the eval-safe script described by spec.md 4.3's
// contract. root must be the same tree analysis and top were computed
// from.
func Replize(source string, root *jsast.Node, analysis analyzer.ModuleAnalysis, top analyzer.TopAnalysis, opts Options) (Result, error) {
	if len(opts.ResolvedDynamics) != len(analysis.Dynamics) {
		return Result{}, fmt.Errorf("replize: %d resolved dynamics for %d dynamic sites", len(opts.ResolvedDynamics), len(analysis.Dynamics))
	}
	if len(opts.ResolvedImports) != len(analysis.Imports) {
		return Result{}, fmt.Errorf("replize: %d resolved imports for %d import statements", len(opts.ResolvedImports), len(analysis.Imports))
	}

	var edits []edit
	order := 0
	add := func(start, end int, text string) {
		edits = append(edits, edit{start: start, end: end, text: text, order: order})
		order++
	}

	// Imports are erased wholesale.
	for _, imp := range analysis.Imports {
		add(imp.Range.Start, imp.Range.End(), blank(source[imp.Range.Start:imp.Range.End()]))
	}

	// export * ... and export {...} [from ...] are erased unconditionally;
	// "export default X" and "export <decl>" are handled by the declaration
	// walk below so that the inner declaration's own rewrite rule still
	// applies.
	for _, exp := range analysis.Exports {
		switch exp.Kind {
		case analyzer.ExportAll, analyzer.ExportNamed:
			add(exp.Range.Start, exp.Range.End(), blank(source[exp.Range.Start:exp.Range.End()]))
		}
	}

	// import.meta.main -> true
	for _, main := range analysis.Mains {
		add(main.Range.Start, main.Range.End(), replacePreservingLines(source[main.Range.Start:main.Range.End()], "true"))
	}

	// Dynamic sites are rewritten to their script-context span.
	for i, dyn := range analysis.Dynamics {
		literal := strconv.Quote(opts.ResolvedDynamics[i])
		add(dyn.ScriptRange.Start, dyn.ScriptRange.End(), replacePreservingLines(source[dyn.ScriptRange.Start:dyn.ScriptRange.End()], literal))
	}

	// Each static import becomes an awaited dynamic import whose result
	// populates the same bindings the import statement declared. This is
	// why a module with any static import always runs inside an async
	// harness regardless of whether the fragment itself used top-level
	// await.
	var remembered []string
	var importPreface strings.Builder
	for i, imp := range analysis.Imports {
		target := strconv.Quote(opts.ResolvedImports[i])
		ns := fmt.Sprintf("$ns%d", i)
		importPreface.WriteString("var " + ns + " = await import(" + target + ");")
		if imp.DefaultBinding != "" {
			remembered = append(remembered, imp.DefaultBinding)
			importPreface.WriteString(imp.DefaultBinding + " = " + ns + ".default;")
		}
		if imp.NamespaceBinding != "" {
			remembered = append(remembered, imp.NamespaceBinding)
			importPreface.WriteString(imp.NamespaceBinding + " = " + ns + ";")
		}
		for _, nb := range imp.NamedBindings {
			local := nb.Local
			if local == "" {
				local = nb.Imported
			}
			remembered = append(remembered, local)
			importPreface.WriteString(local + " = " + ns + "." + nb.Imported + ";")
		}
	}

	var hoistPrefix strings.Builder

	// Walk only the direct top-level statement list (declarations nested
	// inside a block are block-scoped to that block and never touch
	// $scope).
	for _, n := range root.Children {
		switch n.Type {
		case jsast.ExportDefaultDeclaration:
			add(n.Range.Start, n.DefaultStart, replacePreservingLines(source[n.Range.Start:n.DefaultStart], "$default = "))

		case jsast.VariableDeclaration:
			editVariableDeclaration(n, source, add, &remembered)

		case jsast.FunctionDeclaration:
			editFunctionDeclaration(n, source, add, &remembered, &hoistPrefix)

		case jsast.ClassDeclaration:
			editClassDeclaration(n, source, add, &remembered)
		}
	}

	// Every top-level value-producing statement pushes its value onto
	// $values, so the script's result object carries one value per
	// statement, not just eval's native last-completion-value.
	for _, v := range top.Values {
		stmt := jsast.Node{Range: v.Range}
		bodyEnd := declarationBodyEnd(&stmt, source)
		add(v.Range.Start, v.Range.Start, "$values.push(")
		add(bodyEnd, bodyEnd, ")")
	}

	body := applyEdits(source, edits)
	body = "var $values = [];\n" + body +
		"\n$value = $values.length ? $values[$values.length - 1] : undefined;" +
		"\nreturn {default: $default, values: $values, value: $value};"
	if hoistPrefix.Len() > 0 {
		body = hoistPrefix.String() + body
	}
	if importPreface.Len() > 0 {
		body = importPreface.String() + body
	}

	boundNames := dedupe(remembered)
	needsAsync := top.Wait || len(analysis.Imports) > 0
	return Result{Script: wrap(body, opts.Scope, needsAsync, boundNames), BoundNames: boundNames, NeedsAsync: needsAsync}, nil
}

func editVariableDeclaration(n *jsast.Node, source string, add func(start, end int, text string), remembered *[]string) {
	*remembered = append(*remembered, n.BoundNames...)

	keywordEnd := declaratorStart(n, source)
	bodyEnd := declarationBodyEnd(n, source)

	if !n.Initialized {
		add(n.Range.Start, keywordEnd, blank(source[n.Range.Start:keywordEnd]))
		add(bodyEnd, bodyEnd, " = undefined")
		return
	}

	if n.Destructuring && !n.ArrayPattern {
		// "({a, b} = rhs);" -- the whole remainder after the keyword must be
		// parenthesized, not just the initializer, or the leading "{" is
		// parsed as a block statement instead of a destructuring pattern.
		add(n.Range.Start, keywordEnd, blank(source[n.Range.Start:keywordEnd])+"(")
		add(bodyEnd, bodyEnd, ")")
		return
	}

	add(n.Range.Start, keywordEnd, blank(source[n.Range.Start:keywordEnd]))
}

// declarationBodyEnd returns the offset of the declaration's trailing
// semicolon so insertions land before it ("a = undefined;", not
// "a; = undefined"), falling back to the node's own end if none is found.
func declarationBodyEnd(n *jsast.Node, source string) int {
	text := source[n.Range.Start:n.Range.End()]
	if idx := strings.LastIndex(text, ";"); idx >= 0 {
		return n.Range.Start + idx
	}
	return n.Range.End()
}

// declaratorStart finds the byte offset right after the "var"/"let"/"const"
// keyword token (and the whitespace following it, plus a leading "export"
// keyword when the declaration was written as "export const ..."), i.e.
// where the bare declarator begins.
func declaratorStart(n *jsast.Node, source string) int {
	i := skipKeyword(source, n.Range.Start, n.Range.End(), "export")
	for _, kw := range []string{"const", "let", "var"} {
		if j := skipKeyword(source, i, n.Range.End(), kw); j != i {
			return j
		}
	}
	return n.Range.Start
}

// skipKeyword advances past kw plus trailing whitespace if the text at
// offset start begins with it, returning start unchanged otherwise.
func skipKeyword(source string, start, end int, kw string) int {
	text := source[start:end]
	if !strings.HasPrefix(text, kw) {
		return start
	}
	i := len(kw)
	for i < len(text) && (text[i] == ' ' || text[i] == '\t') {
		i++
	}
	return start + i
}

func editFunctionDeclaration(n *jsast.Node, source string, add func(start, end int, text string), remembered *[]string, hoistPrefix *strings.Builder) {
	*remembered = append(*remembered, n.Name)
	hoistPrefix.WriteString(n.Name)
	hoistPrefix.WriteString(" = $")
	hoistPrefix.WriteString(n.Name)
	hoistPrefix.WriteString(";")

	if n.Exported {
		declStart := skipKeyword(source, n.Range.Start, n.Range.End(), "export")
		add(n.Range.Start, declStart, blank(source[n.Range.Start:declStart]))
	}

	// Rename the declared name to "$name" at its declaration site only; the
	// rest of the function body keeps referencing the original identifier
	// via the "with (scope)" frame once "name" is assigned in the harness.
	nameStart, nameEnd := functionNameRange(n, source)
	if nameStart >= 0 {
		add(nameStart, nameEnd, "$"+n.Name)
	}
}

func functionNameRange(n *jsast.Node, source string) (int, int) {
	text := source[n.Range.Start:n.Range.End()]
	idx := strings.Index(text, n.Name)
	if idx < 0 {
		return -1, -1
	}
	start := n.Range.Start + idx
	return start, start + len(n.Name)
}

func editClassDeclaration(n *jsast.Node, source string, add func(start, end int, text string), remembered *[]string) {
	*remembered = append(*remembered, n.Name)
	declStart := n.Range.Start
	if n.Exported {
		declStart = skipKeyword(source, n.Range.Start, n.Range.End(), "export")
		add(n.Range.Start, declStart, blank(source[n.Range.Start:declStart]))
	}
	add(declStart, declStart, n.Name+" = ")
	add(n.Range.End(), n.Range.End(), ";")
}

func blank(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c != '\n' {
			b[i] = ' '
		}
	}
	return string(b)
}

func replacePreservingLines(original, replacement string) string {
	origNL := strings.Count(original, "\n")
	repNL := strings.Count(replacement, "\n")
	if repNL < origNL {
		replacement += strings.Repeat("\n", origNL-repNL)
	}
	return replacement
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func applyEdits(source string, edits []edit) string {
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].start != edits[j].start {
			return edits[i].start < edits[j].start
		}
		return edits[i].order < edits[j].order
	})

	var b strings.Builder
	cursor := 0
	for _, e := range edits {
		if e.start < cursor {
			// Overlapping non-insertion edits would violate the disjoint-edit
			// contract; insertions (start==end) at an already-visited point
			// are simply skipped for their copy-forward but still emit text.
			if e.start != e.end {
				continue
			}
			b.WriteString(e.text)
			continue
		}
		b.WriteString(source[cursor:e.start])
		b.WriteString(e.text)
		cursor = e.end
	}
	b.WriteString(source[cursor:])
	return b.String()
}
