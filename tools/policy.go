package tools

import "path/filepath"

// Policy filters which registered tools are visible and callable. Empty
// Allow means everything is allowed; Deny is checked afterward and wins
// on conflict. Patterns use filepath.Match syntax, so "git_*" covers all
// git tools.
type Policy struct {
	Allow []string
	Deny  []string
}

// Allows reports whether the named tool passes the filter.
func (p Policy) Allows(name string) bool {
	if len(p.Allow) > 0 && !matchAny(p.Allow, name) {
		return false
	}
	return !matchAny(p.Deny, name)
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
