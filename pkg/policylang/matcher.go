package policylang

import "strings"

// patternMatcher matches an action or resource string against a compiled
// glob pattern. "*" matches anything; "prefix/*" matches anything sharing
// that prefix; anything else must match exactly.
type patternMatcher struct {
	pattern string
}

func newPatternMatcher(pattern string) patternMatcher {
	return patternMatcher{pattern: pattern}
}

func (m patternMatcher) Match(value string) bool {
	if m.pattern == "*" {
		return true
	}
	if strings.HasSuffix(m.pattern, "/*") {
		return strings.HasPrefix(value, strings.TrimSuffix(m.pattern, "*"))
	}
	return m.pattern == value
}
