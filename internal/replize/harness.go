package replize

import (
	"strconv"
	"strings"
)

// wrap assembles the fixed harness around an edited body: a scope object
// persisted in a global registry keyed by scope name, entered via a "with"
// statement that must live in a sloppy (non-strict) function since "with"
// is a syntax error in strict mode, around a nested strict function that
// actually runs the body -- a function nested lexically inside a "with"
// still resolves free identifiers through it, "use strict" notwithstanding.
//
// Stripping a declaration's var/let/const keyword turns it into a bare
// assignment, and a bare assignment to a name that has never existed
// throws a ReferenceError in strict mode. So every name the body assigns
// through the with-frame -- bound names, plus the fixed $default/$value
// slots every scope carries -- must already exist as an own property of
// $scope before the with-block runs; ensureNames seeds any that are
// missing (first use of the scope, or names new to this fragment) to
// undefined without disturbing ones a prior evaluation already populated.
func wrap(body string, scope string, async bool, names []string) string {
	key := strconv.Quote(scope)
	all := append(append([]string{}, names...), "$default", "$value")

	var ensure strings.Builder
	for _, n := range all {
		q := strconv.Quote(n)
		ensure.WriteString("if (!(" + q + " in $scope)) $scope[" + q + "] = undefined;\n")
	}

	var b strings.Builder
	b.WriteString("globalThis.$scopes = globalThis.$scopes || Object.create(null);\n")
	b.WriteString("(function ($scope) {\n")
	b.WriteString(ensure.String())
	b.WriteString("with ($scope) {\n")
	b.WriteString("return (")
	if async {
		b.WriteString("async ")
	}
	b.WriteString("function () {\n\"use strict\";\n")
	b.WriteString(body)
	b.WriteString("\n})();\n")
	b.WriteString("}\n")
	b.WriteString("})(globalThis.$scopes[" + key + "] || (globalThis.$scopes[" + key + "] = Object.create(null)));")
	return b.String()
}
