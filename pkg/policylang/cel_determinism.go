package policylang

import (
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// checkDeterministic walks a parsed CEL expression tree and rejects
// constructs that would break compile determinism or evaluation
// determinism (§8): floating point literals (platform-dependent rounding),
// now() (wall-clock dependent), and map key/value iteration (Go map
// iteration order is randomized).
func checkDeterministic(e *exprpb.Expr) []TypeError {
	var issues []TypeError
	walkDeterminism(e, &issues)
	return issues
}

func walkDeterminism(e *exprpb.Expr, issues *[]TypeError) {
	if e == nil {
		return
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		if _, isFloat := k.ConstExpr.ConstantKind.(*exprpb.Constant_DoubleValue); isFloat {
			*issues = append(*issues, TypeError{Code: "UnsupportedConstruct", Message: "floating point literals are forbidden (non-deterministic rounding)"})
		}

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "now":
			*issues = append(*issues, TypeError{Code: "UnsupportedConstruct", Message: "now() is forbidden (breaks evaluation determinism)"})
		case "keys", "values":
			*issues = append(*issues, TypeError{Code: "UnsupportedConstruct", Message: "map iteration (keys/values) is forbidden (non-deterministic order)"})
		}
		if call.Target != nil {
			walkDeterminism(call.Target, issues)
		}
		for _, arg := range call.Args {
			walkDeterminism(arg, issues)
		}

	case *exprpb.Expr_SelectExpr:
		walkDeterminism(k.SelectExpr.Operand, issues)

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			walkDeterminism(el, issues)
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if entry.GetMapKey() != nil {
				walkDeterminism(entry.GetMapKey(), issues)
			}
			walkDeterminism(entry.Value, issues)
		}

	case *exprpb.Expr_ComprehensionExpr:
		c := k.ComprehensionExpr
		walkDeterminism(c.IterRange, issues)
		walkDeterminism(c.AccuInit, issues)
		walkDeterminism(c.LoopCondition, issues)
		walkDeterminism(c.LoopStep, issues)
		walkDeterminism(c.Result, issues)
	}
}
