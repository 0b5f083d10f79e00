package policylang

import (
	"fmt"
	"strings"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/schema"
)

// TypeError reports a policy that references an undeclared entity type,
// action, or attribute, per §4.4's SchemaError/ReferenceError/
// UnsupportedConstruct taxonomy.
type TypeError struct {
	Code    string // "SchemaError" | "ReferenceError" | "UnsupportedConstruct"
	Message string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("policylang: %s: %s", e.Code, e.Message)
}

// Typecheck resolves the AST's action pattern against the schema's action
// declarations (unless it is the wildcard "*") and rejects SCP policies
// whose condition references principal attributes: SCPs are boundary
// constraints over actions/resources, not identity facts (§4.4, §4.7.1).
func (celLanguage) Typecheck(a AST, h schema.Handle, kind PolicyKind) (TypedAST, error) {
	if a.ActionPattern != "*" {
		if _, ok := h.Action(a.ActionPattern); !ok {
			return TypedAST{}, &TypeError{Code: "SchemaError", Message: fmt.Sprintf("unknown action %q", a.ActionPattern)}
		}
	}

	if kind == KindSCP && a.Condition != "" {
		if strings.Contains(a.Condition, "principal.") {
			return TypedAST{}, &TypeError{Code: "UnsupportedConstruct", Message: "SCP conditions may not reference principal attributes; SCPs constrain actions/resources only"}
		}
	}

	return TypedAST{AST: a, SchemaVersion: h.Version()}, nil
}
