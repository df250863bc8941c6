package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/mlgate/mlgate/pkg/subject"
)

// compileRego builds a checker from an inline Rego module. The module's
// deny set is queried; each entry becomes a finding. The query is prepared
// once at load so evaluation stays allocation-light and parse failures
// surface as config errors before the process starts serving.
func compileRego(policyName string, spec CheckSpec) (checker, error) {
	if spec.Rego == "" {
		return nil, NewConfigError("rego check needs a module body", nil).WithPolicy(policyName)
	}

	packageName := extractPackageName(spec.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	prepared, err := rego.New(
		rego.Module(policyName+".rego", spec.Rego),
		rego.Query(query),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, NewConfigError("compile rego module", err).WithPolicy(policyName)
	}

	return func(ctx context.Context, sub *subject.Context) []finding {
		input := map[string]any{
			"kind":        sub.Kind,
			"namespace":   sub.Namespace,
			"name":        sub.Name,
			"labels":      sub.Labels,
			"annotations": sub.Annotations,
			"tags":        sub.Tags,
			"spec":        sub.Spec,
		}

		results, err := prepared.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return []finding{{
				message: fmt.Sprintf("rego evaluation failed: %v", err),
			}}
		}

		var findings []finding
		for _, result := range results {
			for _, exprResult := range result.Expressions {
				denySet, ok := exprResult.Value.([]any)
				if !ok {
					continue
				}
				for _, entry := range denySet {
					findings = append(findings, regoFinding(entry))
				}
			}
		}
		return findings
	}, nil
}

// regoFinding converts a deny set entry into a finding. Entries are either
// plain message strings or objects with message and field keys.
func regoFinding(entry any) finding {
	switch v := entry.(type) {
	case string:
		return finding{message: v}
	case map[string]any:
		f := finding{}
		if msg, ok := v["message"].(string); ok {
			f.message = msg
		}
		if field, ok := v["field"].(string); ok {
			f.field = field
		}
		if f.message == "" {
			f.message = fmt.Sprintf("%v", v)
		}
		return f
	default:
		return finding{message: fmt.Sprintf("%v", entry)}
	}
}

// extractPackageName pulls the package declaration out of a Rego module
// body.
func extractPackageName(module string) string {
	for _, line := range strings.Split(module, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "mlgate.policies"
}
