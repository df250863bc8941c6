package policy

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mlgate/mlgate/pkg/subject"
)

// compileExpression builds a checker from a boolean expr condition over the
// evaluation context. The condition sees kind, namespace, name, the three
// attribute maps, and the opaque spec fields. Compile failures are config
// errors; runtime failures fail closed.
func compileExpression(policyName string, spec CheckSpec) (checker, error) {
	if spec.Expression == "" {
		return nil, NewConfigError("expression check needs a non-empty expression", nil).WithPolicy(policyName)
	}

	program, err := expr.Compile(spec.Expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, NewConfigError(fmt.Sprintf("compile expression %q", spec.Expression), err).WithPolicy(policyName)
	}

	override := spec.Message
	condition := spec.Expression

	return func(_ context.Context, sub *subject.Context) []finding {
		passed, err := runCondition(program, sub)
		if err != nil {
			return []finding{{
				message: fmt.Sprintf("expression %q could not be evaluated: %v", condition, err),
			}}
		}
		if passed {
			return nil
		}
		message := override
		if message == "" {
			message = fmt.Sprintf("expression %q is not satisfied", condition)
		}
		return []finding{{message: message}}
	}, nil
}

func runCondition(program *vm.Program, sub *subject.Context) (bool, error) {
	env := map[string]any{
		"kind":        sub.Kind,
		"namespace":   sub.Namespace,
		"name":        sub.Name,
		"labels":      sub.Labels,
		"annotations": sub.Annotations,
		"tags":        sub.Tags,
		"spec":        sub.Spec,
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	passed, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean")
	}
	return passed, nil
}
