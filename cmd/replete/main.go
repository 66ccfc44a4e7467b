// Command replete runs a REPL coordinator: it speaks the line-delimited
// JSON host protocol (spec.md section 6) on stdin/stdout, serves rewritten
// module sources over HTTP (C5), and drives one command-line padawan (C6)
// over a loopback TCP socket. Grounded on cmd/esbuild/main.go's flag-
// parsing-then-dispatch shape, trimmed to the flags this coordinator
// actually needs.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/replete-lang/replete/internal/cmdl"
	"github.com/replete-lang/replete/internal/coordinator"
	"github.com/replete-lang/replete/internal/fsx"
	"github.com/replete-lang/replete/internal/jsast"
	"github.com/replete-lang/replete/internal/resolver"
	"github.com/replete-lang/replete/internal/sourceserver"
	"github.com/replete-lang/replete/internal/version"
)

const helpText = `
Usage:
  replete [options]

Options:
  --root=...       Root directory that all source reads are confined to
  --http=...       Address the source server (C5) listens on (default 127.0.0.1:0)
  --runtime=...    Command-line runtime to spawn as the padawan (default "node")
  --version        Print the current version and exit
`

// hostCommand is one line of the host -> core protocol (spec.md section 6).
type hostCommand struct {
	Source   string      `json:"source"`
	Locator  string      `json:"locator"`
	Platform string      `json:"platform"`
	Scope    string      `json:"scope"`
	ID       interface{} `json:"id,omitempty"`
}

// hostResult is one line of the core -> host protocol.
type hostResult struct {
	Evaluation *string     `json:"evaluation,omitempty"`
	Exception  *string     `json:"exception,omitempty"`
	Err        *string     `json:"err,omitempty"`
	ID         interface{} `json:"id,omitempty"`
}

func main() {
	root := flag.String("root", ".", "root directory that all source reads are confined to")
	httpAddr := flag.String("http", "127.0.0.1:0", "address the source server listens on")
	runtime := flag.String("runtime", "node", "command-line runtime to spawn as the padawan")
	printVersion := flag.Bool("version", false, "print the current version and exit")
	flag.Usage = func() { fmt.Fprint(os.Stderr, helpText) }
	flag.Parse()

	if *printVersion {
		fmt.Println(replVersion)
		return
	}

	if err := run(*root, *httpAddr, *runtime); err != nil {
		fmt.Fprintln(os.Stderr, "replete: "+err.Error())
		os.Exit(1)
	}
}

func run(root, httpAddr, runtime string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := fsx.Real()
	rslv := resolver.New(fs, resolver.DefaultNodeBuiltins())

	absRoot, err := fs.Abs(root)
	if err != nil {
		return err
	}
	readLocator := containedReader(fs, absRoot)

	reg, err := version.New(
		func(specifier, parent string) (string, error) { return rslv.Resolve(specifier, parent) },
		readLocator,
		dependenciesOf,
	)
	if err != nil {
		return err
	}

	srv := &sourceserver.Server{
		Unguessable: reg.Unguessable(),
		Mime:        lookupMime,
		Read:        readLocator,
		Parse:       parseSource,
		Resolve:     func(specifier, parent string) (string, error) { return rslv.Resolve(specifier, parent) },
		Versionize:  reg.Versionize,
	}

	listener, err := newHTTPListener(httpAddr)
	if err != nil {
		return err
	}
	specify := specifyOverHTTP(listener.Addr().String())
	srv.Specify = specify
	go http.Serve(listener, srv)

	padawan, err := cmdl.Start(ctx, func(addr string) *exec.Cmd {
		return exec.CommandContext(ctx, runtime, "--eval", cmdlHarness(addr))
	})
	if err != nil {
		return err
	}
	defer padawan.Stop()

	c := coordinator.New()
	c.Parse = parseSource
	c.Resolve = func(specifier, parent string) (string, error) { return rslv.Resolve(specifier, parent) }
	c.Versionize = reg.Versionize
	c.Specify = specify
	c.Evaluate = func(ctx context.Context, script string, imports []string, wait bool, id string) (string, string, error) {
		report, err := padawan.Evaluate(ctx, cmdl.Command{ID: id, Script: script, Imports: imports, Wait: wait})
		if err != nil {
			return "", "", err
		}
		return report.Evaluation, report.Exception, nil
	}

	return serveHostProtocol(ctx, c)
}

// serveHostProtocol implements the stdin/stdout half of the host<->
// coordinator protocol (spec.md section 6): one JSON hostCommand per line
// in, one JSON hostResult per line out.
func serveHostProtocol(ctx context.Context, c *coordinator.Coordinator) error {
	scanner := bufio.NewScanner(os.Stdin)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		var cmd hostCommand
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			errText := err.Error()
			encoder.Encode(hostResult{Err: &errText})
			continue
		}

		go func(cmd hostCommand) {
			result, err := c.Eval(ctx, cmd.Source, cmd.Locator, cmd.Scope)
			res := hostResult{ID: cmd.ID}
			if err != nil {
				errText := err.Error()
				res.Err = &errText
			} else if result.Exception != "" {
				res.Exception = &result.Exception
			} else {
				res.Evaluation = &result.Evaluation
			}
			encoder.Encode(res)
		}(cmd)
	}
	return scanner.Err()
}

// containedReader adapts fsx.FS.ReadFile (which takes a native path) to
// internal/version.Source and internal/sourceserver.ReadSource (which take
// a "file://" locator), rejecting any locator that escapes root -- spec
// §7's ForbiddenError ("read attempted outside the root locator").
func containedReader(fs fsx.FS, root string) func(locator string) (string, error) {
	return func(locator string) (string, error) {
		p, ok := pathFromFileLocator(locator)
		if !ok {
			return "", fmt.Errorf("not a file:// locator: %q", locator)
		}
		abs, err := fs.Abs(p)
		if err != nil {
			return "", err
		}
		if !withinRoot(abs, root) {
			return "", fmt.Errorf("ForbiddenError: %q is outside root %q", abs, root)
		}
		return fs.ReadFile(abs)
	}
}

func pathFromFileLocator(locator string) (string, bool) {
	const prefix = "file://"
	if len(locator) < len(prefix) || locator[:len(prefix)] != prefix {
		return "", false
	}
	return locator[len(prefix):], true
}

func withinRoot(abs, root string) bool {
	if abs == root {
		return true
	}
	return len(abs) > len(root) && abs[:len(root)] == root && abs[len(root)] == os.PathSeparator
}

func newHTTPListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// specifyOverHTTP is the external specify(locator) hook spec.md 4.7 step 3
// names: it rewrites a versioned "file:///v<N>/<token>/<path>" locator
// (produced by internal/version.Registry.Versionize) onto the HTTP URL
// internal/sourceserver.Server actually listens at, since that's a
// file:// URL no JS engine can fetch over the network -- padawans, in and
// out of process, always request this source server's own address.
func specifyOverHTTP(httpAddr string) func(locator string) (string, error) {
	return func(locator string) (string, error) {
		rest, ok := pathFromFileLocator(locator)
		if !ok {
			return "", fmt.Errorf("specify: not a file:// locator: %q", locator)
		}
		return "http://" + httpAddr + "/" + strings.TrimPrefix(rest, "/"), nil
	}
}

func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

// dependenciesOf implements internal/version's Dependencies contract by
// walking the parsed tree directly (not through internal/analyzer): every
// node that carries a specifier -- static import, dynamic site, or
// re-export -- contributes it, in source order, regardless of kind (spec §4.4 doesn't distinguish them
// for hashing purposes -- a change to a re-export's source should bump the
// hash the same as a change to a static import's).
func dependenciesOf(locator, source string) ([]string, error) {
	root, err := parseSource(source)
	if err != nil {
		return nil, err
	}
	m := analyzeForHashing(root)
	return m, nil
}

func analyzeForHashing(root *jsast.Node) []string {
	var specs []string
	var walk func(n *jsast.Node)
	walk = func(n *jsast.Node) {
		if n == nil {
			return
		}
		if n.Specifier != "" {
			specs = append(specs, n.Specifier)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return specs
}

// parseSource is the external parse(source) -> AST capability (spec.md
// section 1: "the core consumes only parse(source) -> AST ... from these
// collaborators") -- deliberately left as a thin seam rather than a real
// ECMAScript parser, which is explicitly out of this module's scope.
func parseSource(source string) (*jsast.Node, error) {
	return nil, fmt.Errorf("parseSource: no parser wired in; supply one via an external capability")
}

func lookupMime(locator string) (string, bool) {
	switch {
	case hasSuffix(locator, ".js") || hasSuffix(locator, ".mjs"):
		return "application/javascript", true
	case hasSuffix(locator, ".json"):
		return "application/json", true
	case hasSuffix(locator, ".css"):
		return "text/css", true
	case hasSuffix(locator, ".html"):
		return "text/html", true
	default:
		return "", false
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// cmdlHarness is the bootstrap script handed to the spawned runtime: it
// connects back to addr and speaks the CMDL wire protocol (spec.md 4.6).
// It imports cmd.imports in parallel into $imports, indirect-evals the
// script, and awaits the result when cmd.wait is set; results and
// exceptions are formatted with String(), not with a platform inspector.
func cmdlHarness(addr string) string {
	return fmt.Sprintf(`
const net = require("net");
const readline = require("readline");
const sock = net.connect(%d, "127.0.0.1");
sock.on("connect", () => {
  const rl = readline.createInterface({ input: sock });
  rl.on("line", async (line) => {
    const cmd = JSON.parse(line);
    try {
      const imports = await Promise.all((cmd.imports || []).map((u) => import(u)));
      globalThis.$imports = imports;
      const result = (0, eval)(cmd.script);
      const evaluation = cmd.wait ? await result : result;
      sock.write(JSON.stringify({ id: cmd.id, evaluation: String(evaluation) }) + "\n");
    } catch (e) {
      sock.write(JSON.stringify({ id: cmd.id, exception: String(e) }) + "\n");
    }
  });
});
`, portOf(addr))
}

const replVersion = "0.1.0"
