package airutil

import (
	"strings"

	"github.com/drone/envsubst"
)

// ExpandEnv substitutes ${VAR} style references. Only the
// braced form is expanded: a bare $VAR is left as is. Input
// that cannot be parsed is returned unchanged.
func ExpandEnv(s string) string {
	val, err := envsubst.EvalEnv(s)
	if err != nil {
		return s
	}
	return val
}

// ExpandEnvAll expands every string in place.
func ExpandEnvAll(ss ...*string) {
	for _, s := range ss {
		if s != nil {
			*s = ExpandEnv(*s)
		}
	}
}

// Unexpanded reports whether s still holds a variable
// reference after expansion.
func Unexpanded(s string) bool {
	return strings.Contains(s, "$")
}
