package sourceserver_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/replete-lang/replete/internal/jsast"
	"github.com/replete-lang/replete/internal/sourceserver"
)

func fakeParse(source string) (*jsast.Node, error) {
	// A single import statement: import x from "./b.js"
	quoteStart := strings.Index(source, `"`)
	quoteEnd := strings.LastIndex(source, `"`)
	stmtEnd := strings.Index(source, ";") + 1
	root := &jsast.Node{Type: jsast.Program, Range: jsast.RangeBetween(0, len(source))}
	imp := &jsast.Node{
		Type:           jsast.ImportDeclaration,
		Range:          jsast.RangeBetween(0, stmtEnd),
		Specifier:      "./b.js",
		SpecifierRange: jsast.RangeBetween(quoteStart, quoteEnd+1),
		DefaultBinding: "x",
	}
	root.Children = []*jsast.Node{imp}
	return root, nil
}

func TestServeHTTPRewritesJSImports(t *testing.T) {
	srv := &sourceserver.Server{
		Unguessable: "tok123",
		Mime: func(locator string) (string, bool) {
			return "application/javascript", true
		},
		Read: func(locator string) (string, error) {
			return `import x from "./b.js";
x();
`, nil
		},
		Parse: fakeParse,
		Resolve: func(specifier, parent string) (string, error) {
			return "file:///b.js", nil
		},
		Versionize: func(locator string) (string, error) {
			return "file:///v3/tok123" + strings.TrimPrefix(locator, "file://"), nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/a.js", nil)
	req.Header.Set("Origin", "null")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"file:///v3/tok123/b.js"`) {
		t.Fatalf("expected rewritten specifier in body, got %q", body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "null" {
		t.Fatalf("expected CORS header to echo request origin, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestServeHTTPAppliesSpecifyHook(t *testing.T) {
	srv := &sourceserver.Server{
		Unguessable: "tok123",
		Mime: func(locator string) (string, bool) {
			return "application/javascript", true
		},
		Read: func(locator string) (string, error) {
			return `import x from "./b.js";
x();
`, nil
		},
		Parse: fakeParse,
		Resolve: func(specifier, parent string) (string, error) {
			return "file:///b.js", nil
		},
		Versionize: func(locator string) (string, error) {
			return "file:///v3/tok123" + strings.TrimPrefix(locator, "file://"), nil
		},
		Specify: func(locator string) (string, error) {
			return "http://127.0.0.1:9999" + strings.TrimPrefix(locator, "file://"), nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/a.js", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `"http://127.0.0.1:9999/v3/tok123/b.js"`) {
		t.Fatalf("expected specify-translated URL in body, got %q", body)
	}
}

func TestServeHTTPStripsVersionPrefixAndServesVerbatim(t *testing.T) {
	var seenLocator string
	srv := &sourceserver.Server{
		Unguessable: "tok123",
		Mime: func(locator string) (string, bool) {
			seenLocator = locator
			return "text/css", true
		},
		Read: func(locator string) (string, error) {
			return "body { color: red }", nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/v5/tok123/style.css", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if seenLocator != "file:///style.css" {
		t.Fatalf("expected version prefix stripped to file:///style.css, got %q", seenLocator)
	}
	if rec.Body.String() != "body { color: red }" {
		t.Fatalf("expected verbatim body, got %q", rec.Body.String())
	}
}
