package resolver

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/replete-lang/replete/internal/fsx"
)

var (
	ErrPackageNotFound = errors.New("Package not found.")
	ErrNotExported     = errors.New("Not exported.")
)

// ResolveError wraps a resolution failure with enough context for a host
// to build a descriptive message, per spec.md section 7.
type ResolveError struct {
	Specifier string
	Parent    string
	Err       error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("cannot resolve %q from %q: %s", e.Specifier, e.Parent, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Resolver implements C1. It is stateless with respect to content -- per
// spec.md's Memoization note, specifier resolution depends only on
// filesystem topology, so query results are never cache-invalidated on
// file edits, only reused. Callers that want caching wrap Resolve.
type Resolver struct {
	FS       fsx.FS
	Builtins Builtins

	// BuiltinScheme prefixes a resolved builtin locator, e.g. "node:" or
	// "deno:". Defaults to "node:" when empty.
	BuiltinScheme string

	// ExtensionOrder is probed, in order, against every resolved target
	// path: relative and absolute specifiers, and package targets whether
	// they came from "exports" or from main/module/the subpath. See
	// SPEC_FULL.md's "Supplemented features" section.
	ExtensionOrder []string
}

func New(fs fsx.FS, builtins Builtins) *Resolver {
	return &Resolver{
		FS:             fs,
		Builtins:       builtins,
		BuiltinScheme:  "node:",
		ExtensionOrder: []string{"", ".js", ".mjs", "/index.js"},
	}
}

// Resolve maps (specifier, parentLocator) to a locator, per spec.md 4.1.
func (r *Resolver) Resolve(specifier, parentLocator string) (string, error) {
	kind := classify(specifier, r.Builtins)

	switch kind {
	case KindBuiltin:
		name := strings.TrimPrefix(specifier, "node:")
		return r.BuiltinScheme + name, nil

	case KindFullyQualified:
		return specifier, nil

	case KindRelative, KindAbsolute:
		parentPath, err := fileLocatorToPath(parentLocator)
		if err != nil {
			return "", &ResolveError{specifier, parentLocator, err}
		}
		var target string
		if kind == KindAbsolute {
			target = specifier
		} else {
			target = path.Join(r.FS.Dir(parentPath), specifier)
		}
		resolved, err := r.loadFileOrIndex(target)
		if err != nil {
			return "", &ResolveError{specifier, parentLocator, err}
		}
		return pathToFileLocator(r.canonicalize(resolved)), nil

	default: // KindBare
		locator, err := r.resolveBare(specifier, parentLocator)
		if err != nil {
			return "", &ResolveError{specifier, parentLocator, err}
		}
		return locator, nil
	}
}

func (r *Resolver) resolveBare(specifier, parentLocator string) (string, error) {
	packageName, subpath := splitPackageSpecifier(specifier)

	parentPath, err := fileLocatorToPath(parentLocator)
	if err != nil {
		return "", err
	}

	dir := r.FS.Dir(parentPath)
	for {
		pkgDir := r.FS.Join(dir, "node_modules", packageName)
		manifestPath := r.FS.Join(pkgDir, "package.json")

		if contents, err := r.FS.ReadFile(manifestPath); err == nil {
			m, err := parseManifest(contents)
			if err != nil {
				return "", fmt.Errorf("malformed package.json at %s: %w", manifestPath, err)
			}

			resolvedRel, err := r.resolveManifestSubpath(m, subpath)
			if err != nil {
				return "", err
			}

			target := r.FS.Join(pkgDir, resolvedRel)
			loaded, err := r.loadFileOrIndex(target)
			if err != nil {
				return "", err
			}
			return pathToFileLocator(r.canonicalize(loaded)), nil
		}

		parent := r.FS.Dir(dir)
		if parent == dir {
			return "", ErrPackageNotFound
		}
		dir = parent
	}
}

func (r *Resolver) resolveManifestSubpath(m *manifest, subpath string) (string, error) {
	if m.hasExports() {
		root := newExportsValue(m.Exports)
		leaf, ok := resolveSubpath(root, subpath)
		if !ok {
			return "", ErrNotExported
		}
		str, ok := leaf.asString()
		if !ok {
			return "", ErrNotExported
		}
		return str, nil
	}

	if subpath == "." {
		if m.Module != "" {
			return m.Module, nil
		}
		if m.Main != "" {
			return m.Main, nil
		}
		return "./index.js", nil
	}

	return subpath, nil
}

// loadFileOrIndex resolves an extensionless or directory path to a file,
// per SPEC_FULL.md's extension-probing decision.
func (r *Resolver) loadFileOrIndex(target string) (string, error) {
	for _, suffix := range r.ExtensionOrder {
		candidate := target + suffix
		if _, err := r.FS.ReadFile(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPackageNotFound, target)
}

// canonicalize follows filesystem symlinks to a canonical path; if that
// fails, the non-canonical path is returned unchanged (spec.md 4.1 step 5).
func (r *Resolver) canonicalize(p string) string {
	if canon, err := r.FS.EvalSymlinks(p); err == nil {
		return canon
	}
	return p
}

func fileLocatorToPath(locator string) (string, error) {
	const prefix = "file://"
	if !strings.HasPrefix(locator, prefix) {
		return "", fmt.Errorf("not a file locator: %s", locator)
	}
	return locator[len(prefix):], nil
}

func pathToFileLocator(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "file://" + p
}
