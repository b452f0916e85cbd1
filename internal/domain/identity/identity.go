// Package identity produces comparison keys for athlete and coach names.
package identity

import "strings"

// Name trims surrounding whitespace.
func Name(s string) string {
	return strings.TrimSpace(s)
}

// Key is the case-folded comparison key for a name.
func Key(s string) string {
	return strings.ToLower(Name(s))
}

// Equal reports whether two names refer to the same identity.
func Equal(a, b string) bool {
	return Key(a) == Key(b)
}

// Distinct returns the non-blank trimmed names that differ exactly from
// exclude, first occurrence first.
func Distinct(exclude string, names ...string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = Name(n)
		if n == "" || n == exclude {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
