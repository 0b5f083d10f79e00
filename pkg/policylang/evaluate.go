package policylang

import "fmt"

// Evaluate implements Language. It is deterministic and total: for fixed
// (CompiledForm, Request) it returns a byte-identical Outcome every time
// (§8's evaluation determinism property), since the only state it reads is
// the immutable CompiledForm and the Request itself.
func (celLanguage) Evaluate(c *CompiledForm, req Request, diagnosticsCap int) (Outcome, error) {
	resourceValue := req.Resource.ResourceType + "/" + req.Resource.ResourceID

	if !c.actionMatcher.Match(req.Action) || !c.resourceMatcher.Match(resourceValue) {
		return Outcome{Effect: NotApplicable}, nil
	}

	if c.program.prg == nil {
		return Outcome{Effect: c.effect, Trace: boundedTrace(diagnosticsCap, ConditionTrace{Result: true})}, nil
	}

	vars := map[string]any{
		"principal": req.Principal.Attributes,
		"action":    req.Action,
		"resource": map[string]any{
			"type": req.Resource.ResourceType,
			"id":   req.Resource.ResourceID,
			"hrn":  req.Resource.String(),
		},
		"context": req.Context,
	}

	out, _, err := c.program.prg.Eval(vars)
	if err != nil {
		trace := ConditionTrace{Expression: c.conditionSource, Error: err.Error()}
		return Outcome{Effect: NotApplicable, Trace: boundedTrace(diagnosticsCap, trace)}, nil
	}

	result, ok := out.Value().(bool)
	if !ok {
		return Outcome{}, fmt.Errorf("policylang: condition %q did not evaluate to a bool", c.conditionSource)
	}

	trace := ConditionTrace{Expression: c.conditionSource, Result: result}
	if !result {
		return Outcome{Effect: NotApplicable, Trace: boundedTrace(diagnosticsCap, trace)}, nil
	}

	return Outcome{Effect: c.effect, Trace: boundedTrace(diagnosticsCap, trace)}, nil
}

func boundedTrace(cap int, t ConditionTrace) []ConditionTrace {
	if cap <= 0 {
		return nil
	}
	return []ConditionTrace{t}
}
