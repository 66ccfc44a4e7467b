package resolver

import (
	"encoding/json"
)

// manifest is the parsed subset of package.json that spec.md 3 says the
// resolver recognizes: main, module, exports. Everything else (browser,
// bin, dependencies, ...) is intentionally not modeled -- see DESIGN.md's
// "browser field" Open Question decision.
type manifest struct {
	Name    string          `json:"name"`
	Main    string          `json:"main"`
	Module  string          `json:"module"`
	Exports json.RawMessage `json:"exports"`
}

func parseManifest(contents string) (*manifest, error) {
	var m manifest
	if err := json.Unmarshal([]byte(contents), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *manifest) hasExports() bool {
	return len(m.Exports) > 0 && string(m.Exports) != "null"
}

// exportsValue is a lazily-typed view over an "exports" (or "imports")
// JSON value: a string, an array, or an object whose keys are either
// subpaths ("." or "./...") or conditions ("import", "default", ...).
// The two object shapes are told apart by whether any key starts with ".".
type exportsValue struct {
	raw json.RawMessage
}

func newExportsValue(raw json.RawMessage) exportsValue {
	return exportsValue{raw: raw}
}

func (v exportsValue) isNull() bool {
	return len(v.raw) == 0 || string(v.raw) == "null"
}

func (v exportsValue) asString() (string, bool) {
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return s, true
	}
	return "", false
}

func (v exportsValue) asArray() ([]exportsValue, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(v.raw, &arr); err != nil {
		return nil, false
	}
	out := make([]exportsValue, len(arr))
	for i, item := range arr {
		out[i] = newExportsValue(item)
	}
	return out, true
}

// asObject returns the value as a map. Go's encoding/json does not
// preserve object key order, but condition priority is fixed by spec.md (
// import, module, default) and subpath lookup does exact-then-glob search,
// neither of which depends on source order, so map order loss is harmless.
func (v exportsValue) asObject() (map[string]exportsValue, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(v.raw, &obj); err != nil {
		return nil, false
	}
	out := make(map[string]exportsValue, len(obj))
	for k, raw := range obj {
		out[k] = newExportsValue(raw)
	}
	return out, true
}

// isSubpathMap reports whether an object's keys are subpaths ("."/"./...")
// rather than conditions.
func isSubpathMap(obj map[string]exportsValue) bool {
	for k := range obj {
		return k == "." || len(k) > 1 && k[0] == '.' && k[1] == '/'
	}
	return false
}

// conditionPriority is the fixed order spec.md 3 assigns; everything else
// is ignored.
var conditionPriority = []string{"import", "module", "default"}

// unwrapConditional recursively resolves a conditional object down to a
// concrete leaf (string, or nil if nothing exported), following
// spec.md 4.1 step 4: "unwrap by recursively taking the first present
// among import, module, default. Arrays unwrap to their first element."
func unwrapConditional(v exportsValue) (exportsValue, bool) {
	if v.isNull() {
		return v, false
	}
	if _, ok := v.asString(); ok {
		return v, true
	}
	if arr, ok := v.asArray(); ok {
		if len(arr) == 0 {
			return exportsValue{}, false
		}
		return unwrapConditional(arr[0])
	}
	if obj, ok := v.asObject(); ok {
		if isSubpathMap(obj) {
			// Not a conditional object -- caller made a mistake asking us
			// to unwrap a subpath map. Treat as not exported.
			return exportsValue{}, false
		}
		for _, cond := range conditionPriority {
			if branch, present := obj[cond]; present {
				return unwrapConditional(branch)
			}
		}
		return exportsValue{}, false
	}
	return exportsValue{}, false
}

// resolveSubpath implements spec.md 4.1 step 4's subpath lookup: exact
// match first, then a single "*" glob match.
func resolveSubpath(root exportsValue, subpath string) (exportsValue, bool) {
	if subpath == "." {
		if obj, ok := root.asObject(); ok && !isSubpathMap(obj) {
			return unwrapConditional(root)
		}
		if obj, ok := root.asObject(); ok {
			if leaf, present := obj["."]; present {
				return unwrapConditional(leaf)
			}
			return exportsValue{}, false
		}
		return unwrapConditional(root)
	}

	obj, ok := root.asObject()
	if !ok {
		return exportsValue{}, false
	}

	if leaf, present := obj[subpath]; present {
		return unwrapConditional(leaf)
	}

	var bestKey string
	var bestMiddle string
	found := false

	for key := range obj {
		star := indexByte(key, '*')
		if star < 0 {
			continue
		}
		prefix, suffix := key[:star], key[star+1:]
		if len(subpath) < len(prefix)+len(suffix) {
			continue
		}
		if subpath[:len(prefix)] != prefix || subpath[len(subpath)-len(suffix):] != suffix {
			continue
		}
		middle := subpath[len(prefix) : len(subpath)-len(suffix)]
		// Prefer the most specific (longest prefix) match, matching Node's
		// behavior of picking the pattern with the longest matched prefix.
		if !found || len(prefix) > len(bestKey[:indexByte(bestKey, '*')]) {
			found = true
			bestKey = key
			bestMiddle = middle
		}
	}

	if !found {
		return exportsValue{}, false
	}

	leaf, ok := unwrapConditional(obj[bestKey])
	if !ok {
		return exportsValue{}, false
	}
	str, ok := leaf.asString()
	if !ok {
		return leaf, true
	}
	star := indexByte(str, '*')
	if star < 0 {
		return leaf, true
	}
	substituted := str[:star] + bestMiddle + str[star+1:]
	b, _ := json.Marshal(substituted)
	return newExportsValue(b), true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
