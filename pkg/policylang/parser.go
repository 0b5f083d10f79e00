package policylang

import (
	"fmt"
	"regexp"
	"strings"
)

// statementPattern matches: <effect>(action=<pattern>, resource=<pattern>)
// [when <condition>]. The "action="/"resource=" keys are optional; bare
// positional arguments are accepted too (scenario 4 in §8: permit(read, *)).
var statementPattern = regexp.MustCompile(
	`(?s)^\s*(permit|forbid)\s*\(\s*(?:action\s*=\s*)?([^,()]+?)\s*,\s*(?:resource\s*=\s*)?([^,()]+?)\s*\)\s*(?:when\s+(.+?))?\s*$`,
)

// SyntaxError reports a malformed policy document.
type SyntaxError struct {
	Line    int
	Col     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("policylang: syntax error at %d:%d: %s", e.Line, e.Col, e.Message)
}

// celLanguage is the default Language implementation, built on
// google/cel-go for condition evaluation.
type celLanguage struct{}

// New returns the CEL-backed PolicyLanguage implementation.
func New() Language { return celLanguage{} }

// Parse implements Language. A policy document is exactly one statement:
// this keeps the grammar total and unambiguous to compile deterministically
// (§4.4); a policy that needs multiple rules is expressed as multiple
// Policy documents attached to the same principal/group/OU.
func (celLanguage) Parse(text string) (AST, error) {
	trimmed := strings.TrimSpace(text)
	m := statementPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return AST{}, &SyntaxError{Line: 1, Col: 1, Message: "expected permit(...)|forbid(...) [when <condition>]"}
	}

	effect := Permit
	if m[1] == "forbid" {
		effect = Forbid
	}

	return AST{
		Effect:          effect,
		ActionPattern:   strings.TrimSpace(m[2]),
		ResourcePattern: strings.TrimSpace(m[3]),
		Condition:       strings.TrimSpace(m[4]),
	}, nil
}
