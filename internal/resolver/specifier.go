// Package resolver implements Replete's Node-style module resolver (C1):
// classifying specifiers, walking ancestor node_modules directories, and
// interpreting package.json's exports/main/module fields. The overall
// dirInfo/ancestor-walk shape is grounded on the teacher's
// internal/resolver/resolver.go, trimmed to the subset spec.md defines --
// no tsconfig paths, no yarn PnP, no browser-field remapping, no CommonJS.
package resolver

import (
	"strings"
)

// Kind classifies a specifier the way spec.md section 3 does.
type Kind uint8

const (
	KindBuiltin Kind = iota
	KindFullyQualified
	KindRelative
	KindAbsolute
	KindBare
)

// Builtins is the fixed allow-list of platform builtin module names.
// Supplied by whoever constructs the Resolver (cmd/replete passes
// DefaultNodeBuiltins); a resolver with a nil or empty set simply never
// classifies anything as KindBuiltin.
type Builtins map[string]bool

func DefaultNodeBuiltins() Builtins {
	names := []string{
		"assert", "buffer", "child_process", "cluster", "crypto", "dgram",
		"dns", "domain", "events", "fs", "http", "http2", "https", "net",
		"os", "path", "perf_hooks", "punycode", "querystring", "readline",
		"repl", "stream", "string_decoder", "sys", "timers", "tls", "tty",
		"url", "util", "v8", "vm", "worker_threads", "zlib", "module",
		"process", "console",
	}
	b := make(Builtins, len(names))
	for _, n := range names {
		b[n] = true
	}
	return b
}

func classify(specifier string, builtins Builtins) Kind {
	if builtins[specifier] || builtins[strings.TrimPrefix(specifier, "node:")] {
		return KindBuiltin
	}
	if hasURLScheme(specifier) {
		return KindFullyQualified
	}
	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") {
		return KindRelative
	}
	if strings.HasPrefix(specifier, "/") {
		return KindAbsolute
	}
	return KindBare
}

func hasURLScheme(specifier string) bool {
	colon := strings.IndexByte(specifier, ':')
	if colon <= 0 {
		return false
	}
	scheme := specifier[:colon]
	for i, r := range scheme {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isRest := (r >= '0' && r <= '9') || r == '+' || r == '-' || r == '.'
		if i == 0 && !isAlpha {
			return false
		}
		if i > 0 && !isAlpha && !isRest {
			return false
		}
	}
	return true
}

// splitPackageSpecifier splits a bare specifier into its package name (one
// segment, or two if scoped with a leading "@") and the "."-rooted subpath,
// per spec.md 4.1 step 2.
func splitPackageSpecifier(specifier string) (packageName, subpath string) {
	parts := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") && len(parts) >= 2 {
		packageName = parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			subpath = "./" + parts[2]
		} else {
			subpath = "."
		}
		return
	}
	packageName = parts[0]
	if len(parts) > 1 {
		subpath = "./" + strings.Join(parts[1:], "/")
	} else {
		subpath = "."
	}
	return
}
