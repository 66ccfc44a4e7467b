// Package coordinator implements C7, gluing C1 (resolver), C2 (analyzer),
// C3 (replize), C4 (version registry), C5 (source server), and C6 (padawan
// transport, either cmdl or webl) into the single end-to-end evaluation
// spec.md 4.7 describes. Grounded on pkg/api's Build-entry-point /
// options-struct-method shape (one public struct wiring collaborators,
// one public method driving the pipeline) and cmd/esbuild/main.go's
// flag-to-config translation for the external-capability plumbing.
package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/replete-lang/replete/internal/analyzer"
	"github.com/replete-lang/replete/internal/jsast"
	"github.com/replete-lang/replete/internal/replize"
)

// Evaluate sends one command to whichever padawan transport (internal/cmdl
// or internal/webl) this coordinator was wired to and awaits its report.
// Declared as a function type rather than an interface because the two
// transports' Command/Report structs differ; cmd/replete supplies a small
// adapter closure per transport that does the struct translation.
type Evaluate func(ctx context.Context, script string, imports []string, wait bool, id string) (evaluation string, exception string, err error)

// CommandHook is the external "command(msg) -> msg'" capability: a
// source-transform applied before parsing.
type CommandHook func(source string) (string, error)

// Resolve is C1's contract.
type Resolve func(specifier, parent string) (string, error)

// Versionize is C4's contract.
type Versionize func(locator string) (string, error)

// Specify is the external hook translating between a file:// locator and
// the HTTP URL the specific padawan instance will request it from.
type Specify func(locator string) (string, error)

// Parse is the external parse(source) -> AST capability.
type Parse func(source string) (*jsast.Node, error)

// Coordinator drives one evaluation end-to-end per spec.md 4.7.
type Coordinator struct {
	Command    CommandHook
	Parse      Parse
	Resolve    Resolve
	Versionize Versionize
	Specify    Specify
	Evaluate   Evaluate

	mu     sync.Mutex
	nextID int

	// scopeNames records every bound name ever seen per scope, feeding the
	// ListScopes introspection SPEC_FULL.md adds beyond the distilled spec.
	scopeNames map[string]map[string]bool
}

func New() *Coordinator {
	return &Coordinator{scopeNames: make(map[string]map[string]bool)}
}

// Result is the coordinator's outcome for one evaluation: exactly one of
// Evaluation or Exception is set, mirroring the host protocol's result
// union (spec.md section 6).
type Result struct {
	Evaluation string
	Exception  string
}

// Eval implements spec.md 4.7's five steps for one (source, parentLocator,
// scope) triple.
func (c *Coordinator) Eval(ctx context.Context, source, parentLocator, scope string) (Result, error) {
	// 1. External command hook (source-transform).
	if c.Command != nil {
		transformed, err := c.Command(source)
		if err != nil {
			return Result{}, fmt.Errorf("command hook: %w", err)
		}
		source = transformed
	}

	// 2. Parse -> module analysis -> top analysis.
	root, err := c.Parse(source)
	if err != nil {
		return Result{}, fmt.Errorf("parse: %w", err)
	}
	moduleAnalysis := analyzer.AnalyzeModule(root)
	topAnalysis := analyzer.AnalyzeTop(root)

	// 3. Resolve and versionize every specifier, fully in parallel (spec
	// §5: "specifier resolution+versioning for dependencies is fully
	// parallel; the final command is emitted only after all resolutions
	// resolve"), then run each through the external specify hook.
	resolvedImports, err := c.resolveAll(parentLocator, specifiersOf(moduleAnalysis.Imports))
	if err != nil {
		return Result{}, err
	}
	resolvedDynamics, err := c.resolveAll(parentLocator, dynamicSpecifiersOf(moduleAnalysis.Dynamics))
	if err != nil {
		return Result{}, err
	}

	// 4. Produce the REPL-ized script with C3.
	result, err := replize.Replize(source, root, moduleAnalysis, topAnalysis, replize.Options{
		Scope:            scope,
		ResolvedDynamics: resolvedDynamics,
		ResolvedImports:  resolvedImports,
	})
	if err != nil {
		return Result{}, fmt.Errorf("replize: %w", err)
	}

	c.rememberBoundNames(scope, result.BoundNames)

	// 5. Send {script, imports, wait, id} via C6 and await the report.
	c.mu.Lock()
	c.nextID++
	id := strconv.Itoa(c.nextID)
	c.mu.Unlock()

	// A static import lowers to an awaited dynamic import regardless of
	// whether the fragment itself used top-level await, which forces the
	// generated script into an async IIFE that resolves to a Promise
	// (replize.Result.NeedsAsync). The wire "wait" field must reflect that,
	// or the padawan hands the raw Promise to inspect instead of awaiting it
	// first (spec.md 4.3 contract item 5; 4.6).
	wait := topAnalysis.Wait || result.NeedsAsync
	evaluation, exception, err := c.Evaluate(ctx, result.Script, resolvedImports, wait, id)
	if err != nil {
		// A TransportError during an in-flight evaluation is not surfaced
		// as a synthetic exception here -- the padawan transport already
		// settles the pending call with {exception: "CMDL died."} itself
		// (internal/cmdl.superviseExit / internal/webl.disconnect), so a
		// non-nil err here is a real transport-layer failure the caller
		// should treat as ineligible for retry within this evaluation.
		return Result{}, fmt.Errorf("transport: %w", err)
	}

	return Result{Evaluation: evaluation, Exception: exception}, nil
}

// ListScopes reports every scope this coordinator has evaluated into and
// the names bound in each, for host-side introspection tooling (a REPL
// autocomplete list, a debugger's variable pane).
func (c *Coordinator) ListScopes() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]string, len(c.scopeNames))
	for scope, names := range c.scopeNames {
		list := make([]string, 0, len(names))
		for name := range names {
			list = append(list, name)
		}
		out[scope] = list
	}
	return out
}

func (c *Coordinator) rememberBoundNames(scope string, names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.scopeNames[scope]
	if !ok {
		set = make(map[string]bool)
		c.scopeNames[scope] = set
	}
	for _, n := range names {
		set[n] = true
	}
}

// resolveAll resolves+versionizes+specifies every specifier against parent
// concurrently, per spec §5's parallel-resolution requirement, returning
// results in the original order. The first error encountered is returned;
// this rejects the whole evaluation request per spec §7's ResolveError/
// ReadError propagation rule.
func (c *Coordinator) resolveAll(parent string, specifiers []string) ([]string, error) {
	out := make([]string, len(specifiers))
	errs := make([]error, len(specifiers))

	var wg sync.WaitGroup
	for i, spec := range specifiers {
		wg.Add(1)
		go func(i int, spec string) {
			defer wg.Done()
			locator, err := c.Resolve(spec, parent)
			if err != nil {
				errs[i] = fmt.Errorf("cannot resolve %q from %q: %w", spec, parent, err)
				return
			}
			versioned, err := c.Versionize(locator)
			if err != nil {
				errs[i] = err
				return
			}
			specified := versioned
			if c.Specify != nil {
				specified, err = c.Specify(versioned)
				if err != nil {
					errs[i] = err
					return
				}
			}
			out[i] = specified
		}(i, spec)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func specifiersOf(imports []analyzer.ImportRecord) []string {
	out := make([]string, len(imports))
	for i, imp := range imports {
		out[i] = imp.Specifier
	}
	return out
}

func dynamicSpecifiersOf(dynamics []analyzer.DynamicSite) []string {
	out := make([]string, len(dynamics))
	for i, dyn := range dynamics {
		out[i] = dyn.Specifier
	}
	return out
}
