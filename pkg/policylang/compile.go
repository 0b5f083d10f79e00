package policylang

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// compiledProgram wraps a compiled CEL program. A nil program means the
// statement has no `when` clause and always applies once its action/
// resource pattern matches.
type compiledProgram struct {
	prg cel.Program
}

var sharedEnv = mustBuildEnv()

func mustBuildEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("principal", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.StringType),
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("policylang: failed to build CEL environment: %v", err))
	}
	return env
}

// Compile implements Language. It is pure: the same (TypedAST, schema
// version) always produces the same compiled_hash (§4.4), since compilation
// does nothing but parse+typecheck the condition once and freeze matchers.
func (celLanguage) Compile(t TypedAST) (*CompiledForm, error) {
	cf := &CompiledForm{
		effect:          t.Effect,
		actionMatcher:   newPatternMatcher(t.ActionPattern),
		resourceMatcher: newPatternMatcher(t.ResourcePattern),
		conditionSource: t.Condition,
		schemaVersion:   t.SchemaVersion,
	}

	if t.Condition == "" {
		return cf, nil
	}

	parsed, issues := sharedEnv.Parse(t.Condition)
	if issues != nil && issues.Err() != nil {
		return nil, &SyntaxError{Message: issues.Err().Error()}
	}

	if detIssues := checkDeterministic(parsed.Expr()); len(detIssues) > 0 { //nolint:staticcheck // legacy AST accessor, matches upstream validator pattern
		return nil, &detIssues[0]
	}

	checked, issues := sharedEnv.Check(parsed)
	if issues != nil && issues.Err() != nil {
		return nil, &TypeError{Code: "SchemaError", Message: issues.Err().Error()}
	}

	prg, err := sharedEnv.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("policylang: program construction failed: %w", err)
	}

	cf.program = compiledProgram{prg: prg}
	return cf, nil
}
