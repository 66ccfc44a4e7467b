// Package version implements C4, the fingerprint and version registry: a
// content+dependency digest per locator, a monotonic version number derived
// from that digest, and the "versioned locator" rewrite the source server
// and REPL-izer hand out to defeat a runtime's immutable module cache.
// Grounded on the dev server's use of the teacher-adjacent
// github.com/ije/esbuild-internal/xxhash package for etag computation
// (esm-dev-esm.sh__dev_server.go), applied here to recursive dependency
// hashing instead of a single file's bytes, and on the per-path result
// cache internal/fs.realFS keeps for directory listings, applied here to
// completed hash results instead of entries.
package version

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/ije/esbuild-internal/xxhash"
)

// Resolve maps a specifier to a locator given a parent locator, the same
// contract internal/resolver.Resolver.Resolve exposes. It is declared here
// rather than imported to keep this package free of a hard dependency on
// internal/resolver's concrete type.
type Resolve func(specifier, parent string) (string, error)

// Source fetches the text content of a file-backed locator.
type Source func(locator string) (string, error)

// Dependencies returns every import/dynamic/re-export specifier appearing
// in a locator's source, in source order. cmd/replete supplies it
// (dependenciesOf), collecting every specifier found in the parsed tree.
type Dependencies func(locator, source string) ([]string, error)

// Registry is the process-wide fingerprint/version store. One Registry is
// created per coordinator instance (spec §3: "a per-REPL random token").
type Registry struct {
	resolve      Resolve
	readSource   Source
	dependencies Dependencies

	unguessable string

	mu       sync.Mutex
	cache    map[string]string // completed Hash results, persistent until Invalidate
	lastHash map[string]string
	versions map[string]int
	inflight map[string]*hashCall
}

type hashCall struct {
	wg  sync.WaitGroup
	val string
	ok  bool
	err error
}

// New creates a Registry with a fresh random unguessable token.
func New(resolve Resolve, readSource Source, dependencies Dependencies) (*Registry, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	return &Registry{
		resolve:      resolve,
		readSource:   readSource,
		dependencies: dependencies,
		unguessable:  token,
		cache:        make(map[string]string),
		lastHash:     make(map[string]string),
		versions:     make(map[string]int),
		inflight:     make(map[string]*hashCall),
	}, nil
}

// Unguessable returns this Registry's per-REPL random token, the value
// Versionize inserts into every versioned locator -- exposed so the
// source server can recognize and strip its own prefix (spec §4.5 step
// 1) rather than duplicating token generation.
func (r *Registry) Unguessable() string {
	return r.unguessable
}

func randomToken() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Invalidate drops the cached Hash result for locator alone, so the next
// Hash call recomputes it from fresh source. The last observed hash and the
// version counter are kept, so the next Version call compares against the
// pre-invalidation hash and versions never go back down. Locators that
// import this one are not invalidated here; the caller invalidates each of
// them itself.
func (r *Registry) Invalidate(locator string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, locator)
}

// Hash computes digest(source_hash(L), hash(dep1), hash(dep2), ...) for a
// file-backed JS locator. The result is memoized per locator until
// Invalidate clears it (spec §4.4 "Memoization": "C1, source-read, hash,
// and analyze are each memoized in a per-REPL map") -- without this, a
// shared dependency is rehashed once per importer, and spec §9's
// "Dependency-hash explosion" note becomes exponential in a DAG. Concurrent
// callers for the same not-yet-cached locator are single-flighted so they
// share one computation rather than racing duplicate work. Non-file-backed
// locators (builtins, http(s) URLs) have no hash: ok is false.
func (r *Registry) Hash(locator string) (digest string, ok bool, err error) {
	if !isFileLocator(locator) {
		return "", false, nil
	}

	r.mu.Lock()
	if hash, found := r.cache[locator]; found {
		r.mu.Unlock()
		return hash, true, nil
	}
	if call, found := r.inflight[locator]; found {
		r.mu.Unlock()
		call.wg.Wait()
		return call.val, call.ok, call.err
	}
	call := &hashCall{}
	call.wg.Add(1)
	r.inflight[locator] = call
	r.mu.Unlock()

	call.val, call.ok, call.err = r.computeHash(locator)

	r.mu.Lock()
	delete(r.inflight, locator)
	if call.err == nil && call.ok {
		r.cache[locator] = call.val
	}
	r.mu.Unlock()
	call.wg.Done()

	return call.val, call.ok, call.err
}

func (r *Registry) computeHash(locator string) (string, bool, error) {
	source, err := r.readSource(locator)
	if err != nil {
		return "", false, err
	}

	specs, err := r.dependencies(locator, source)
	if err != nil {
		return "", false, err
	}

	h := xxhash.New()
	sourceHash := xxhash.New()
	sourceHash.Write([]byte(source))
	fmt.Fprintf(h, "%x", sourceHash.Sum64())

	for _, spec := range specs {
		depLocator, err := r.resolve(spec, locator)
		if err != nil {
			// An unresolvable dependency still participates in the digest
			// (by its literal specifier) so that fixing the import changes
			// the parent's hash too.
			fmt.Fprintf(h, "|!%s", spec)
			continue
		}
		depHash, ok, err := r.Hash(depLocator)
		if err != nil {
			return "", false, err
		}
		if ok {
			fmt.Fprintf(h, "|%s", depHash)
		} else {
			fmt.Fprintf(h, "|=%s", depLocator)
		}
	}

	return fmt.Sprintf("%016x", h.Sum64()), true, nil
}

// Version returns the current version of locator, bumping it by exactly
// one the first time a query observes a changed hash since the last query
// (spec §3: "increases by exactly one whenever hash(L) changes"). Versions
// start at 0.
func (r *Registry) Version(locator string) (int, error) {
	hash, ok, err := r.Hash(locator)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, seen := r.lastHash[locator]
	if !seen {
		r.lastHash[locator] = hash
		r.versions[locator] = 0
		return 0, nil
	}
	if prev != hash {
		r.lastHash[locator] = hash
		r.versions[locator]++
	}
	return r.versions[locator], nil
}

// Versionize rewrites a file-backed locator to its versioned form,
// "file:///v<N>/<unguessable>/<path>". Any other locator is returned
// unchanged.
func (r *Registry) Versionize(locator string) (string, error) {
	if !isFileLocator(locator) {
		return locator, nil
	}
	version, err := r.Version(locator)
	if err != nil {
		return "", err
	}
	rest := locator[len("file://"):]
	return fmt.Sprintf("file:///v%d/%s%s", version, r.unguessable, rest), nil
}

func isFileLocator(locator string) bool {
	return len(locator) >= len("file://") && locator[:len("file://")] == "file://"
}
