// Package sourceserver implements C5, the HTTP source server: serves a
// locator's rewritten (specifiers resolved+versioned) JS on request, or the
// raw bytes of anything else. Grounded on
// other_examples/esm-dev-esm.sh__dev_server.go's ServeHTTP dispatch-by-
// extension shape and its CORS/etag header handling, adapted from serving a
// package registry's module graph to serving a single REPL's live
// filesystem.
package sourceserver

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/replete-lang/replete/internal/analyzer"
	"github.com/replete-lang/replete/internal/jsast"
)

// MimeType is the external mime(locator) capability spec.md 4.5 names:
// looks up a locator's content type, ok=false if unrecognized.
type MimeType func(locator string) (contentType string, ok bool)

// ReadSource fetches a locator's raw bytes as a string.
type ReadSource func(locator string) (string, error)

// ParseModule is the external parse(source) -> AST capability (spec.md
// section 1), invoked only for JS content types.
type ParseModule func(source string) (*jsast.Node, error)

// Resolve maps a specifier to a locator given a parent locator (C1).
type Resolve func(specifier, parent string) (string, error)

// Versionize maps a locator to its versioned form (C4).
type Versionize func(locator string) (string, error)

// Specify is the external hook translating a versioned "file:///v<N>/..."
// locator into the HTTP URL this server is actually reachable at (spec.md
// 4.7 step 3: "passed through an external specify hook that converts
// between file URLs and the HTTP URL the specific padawan will request").
// A served module's own embedded import/export/dynamic-import specifiers
// need this exactly as much as the REPL-ized script's do -- a bare
// "file://" locator is not fetchable by any JS engine -- so Server applies
// the same hook internal/coordinator does. Nil means locators are served
// unspecified (only useful when every padawan already runs inside this
// process and can resolve file:// itself).
type Specify func(locator string) (string, error)

const jsContentType = "application/javascript"

// Server is C5's HTTP handler. Construct with the collaborators it needs
// and mount at any path; it strips its own "/v<N>/<unguessable>/" prefix
// before doing anything else, so it must see the full request path
// including that prefix.
type Server struct {
	Unguessable string
	Mime        MimeType
	Read        ReadSource
	Parse       ParseModule
	Resolve     Resolve
	Versionize  Versionize
	Specify     Specify
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}

	locator := stripVersionPrefix(r.URL.Path, s.Unguessable)

	contentType, ok := s.Mime(locator)
	if !ok {
		http.Error(w, fmt.Sprintf("cannot determine content type for %q", locator), http.StatusNotFound)
		return
	}

	source, err := s.Read(locator)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if contentType != jsContentType {
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(source))
		return
	}

	rewritten, err := s.rewrite(locator, source)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", jsContentType)
	w.Write([]byte(rewritten))
}

// stripVersionPrefix removes a leading "/v<N>/<token>/" segment pair when
// token matches this server's unguessable, per spec.md 4.5 step 1. Any
// other path is kept unchanged as the locator's path -- a request for an
// unversioned locator (e.g. the entry module) is legitimate.
func stripVersionPrefix(urlPath, unguessable string) string {
	trimmed := strings.TrimPrefix(urlPath, "/")
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) < 3 || !strings.HasPrefix(parts[0], "v") {
		return "file:///" + trimmed
	}
	if _, err := strconv.Atoi(parts[0][1:]); err != nil {
		return "file:///" + trimmed
	}
	if parts[1] != unguessable {
		return "file:///" + trimmed
	}
	return "file:///" + parts[2]
}

// rewrite implements spec.md 4.5 step 3: replace each static import literal,
// each dynamic site (in its module-range form, since the served document is
// still an ES module, not a REPL-ized script), and each re-export source
// literal with its resolved+versioned URL.
func (s *Server) rewrite(locator, source string) (string, error) {
	root, err := s.Parse(source)
	if err != nil {
		return "", err
	}
	m := analyzer.AnalyzeModule(root)

	type replacement struct {
		rng  jsast.Range
		text string
	}
	var reps []replacement

	target := func(specifier string) (string, error) {
		resolved, err := s.Resolve(specifier, locator)
		if err != nil {
			return "", err
		}
		versioned, err := s.Versionize(resolved)
		if err != nil {
			return "", err
		}
		if s.Specify == nil {
			return versioned, nil
		}
		return s.Specify(versioned)
	}

	for _, imp := range m.Imports {
		url, err := target(imp.Specifier)
		if err != nil {
			return "", err
		}
		reps = append(reps, replacement{imp.SpecifierRange, strconv.Quote(url)})
	}
	for _, exp := range m.Exports {
		if exp.Specifier == "" {
			continue
		}
		url, err := target(exp.Specifier)
		if err != nil {
			return "", err
		}
		reps = append(reps, replacement{exp.SpecifierRange, strconv.Quote(url)})
	}
	for _, dyn := range m.Dynamics {
		url, err := target(dyn.Specifier)
		if err != nil {
			return "", err
		}
		reps = append(reps, replacement{dyn.ModuleRange, strconv.Quote(url)})
	}

	sort.Slice(reps, func(i, j int) bool { return reps[i].rng.Start < reps[j].rng.Start })

	var b strings.Builder
	cursor := 0
	for _, rep := range reps {
		if rep.rng.Start < cursor {
			continue
		}
		b.WriteString(source[cursor:rep.rng.Start])
		b.WriteString(rep.text)
		cursor = rep.rng.End()
	}
	b.WriteString(source[cursor:])
	return b.String(), nil
}
