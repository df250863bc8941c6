package policy

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mlgate/mlgate/pkg/subject"
)

// finding is a single failed check before it is stamped with the owning
// policy's name and enforcement level.
type finding struct {
	field   string
	message string
}

// checker is the logic half of a predicate: a pure function of the
// evaluation context returning zero or more findings. Checkers perform no
// I/O; the context parameter exists for the rego family's evaluator.
type checker func(ctx context.Context, sub *subject.Context) []finding

// compileCheck turns a CheckSpec into an executable checker. Parameter
// problems are config errors and abort the load.
func compileCheck(policyName string, spec CheckSpec) (checker, error) {
	switch spec.Type {
	case "required":
		return compileRequired(policyName, spec)
	case "allowed-values":
		return compileAllowedValues(policyName, spec)
	case "requires-field":
		return compileRequiresField(policyName, spec)
	case "max-value":
		return compileMaxValue(policyName, spec)
	case "expression":
		return compileExpression(policyName, spec)
	case "rego":
		return compileRego(policyName, spec)
	default:
		return nil, NewConfigError(fmt.Sprintf("unknown check type %q", spec.Type), nil).WithPolicy(policyName)
	}
}

// compileRequired builds a required-field presence check: the named
// label/annotation/tag must be present and non-empty.
func compileRequired(policyName string, spec CheckSpec) (checker, error) {
	if spec.Field == "" {
		return nil, NewConfigError("required check needs a field", nil).WithPolicy(policyName)
	}
	field := spec.Field
	message := spec.Message
	if message == "" {
		message = fmt.Sprintf("required field %q is missing or empty", field)
	}

	return func(_ context.Context, sub *subject.Context) []finding {
		value, ok := sub.Lookup(field)
		if ok && value != "" {
			return nil
		}
		return []finding{{field: field, message: message}}
	}, nil
}

// compileAllowedValues builds an enumerated-value membership check.
func compileAllowedValues(policyName string, spec CheckSpec) (checker, error) {
	if spec.Field == "" {
		return nil, NewConfigError("allowed-values check needs a field", nil).WithPolicy(policyName)
	}
	if len(spec.Values) == 0 {
		return nil, NewConfigError("allowed-values check needs a non-empty value set", nil).WithPolicy(policyName)
	}

	field := spec.Field
	allowed := make(map[string]struct{}, len(spec.Values))
	for _, v := range spec.Values {
		allowed[v] = struct{}{}
	}
	values := spec.Values
	override := spec.Message

	return func(_ context.Context, sub *subject.Context) []finding {
		value, ok := sub.Lookup(field)
		if !ok {
			// Presence is the required family's concern.
			return nil
		}
		if _, ok := allowed[value]; ok {
			return nil
		}
		message := override
		if message == "" {
			message = fmt.Sprintf("field %q has value %q, not in allowed set %v", field, value, values)
		}
		return []finding{{field: field, message: message}}
	}, nil
}

// compileRequiresField builds a cross-field conditional requirement: when
// the trigger field holds one of the trigger values, the target field must
// be present and non-empty.
func compileRequiresField(policyName string, spec CheckSpec) (checker, error) {
	if spec.Field == "" || spec.WhenField == "" {
		return nil, NewConfigError("requires-field check needs field and when_field", nil).WithPolicy(policyName)
	}
	if len(spec.WhenIn) == 0 {
		return nil, NewConfigError("requires-field check needs a non-empty when_in set", nil).WithPolicy(policyName)
	}

	field := spec.Field
	whenField := spec.WhenField
	trigger := make(map[string]struct{}, len(spec.WhenIn))
	for _, v := range spec.WhenIn {
		trigger[v] = struct{}{}
	}
	override := spec.Message

	return func(_ context.Context, sub *subject.Context) []finding {
		triggerValue, ok := sub.Lookup(whenField)
		if !ok {
			return nil
		}
		if _, ok := trigger[triggerValue]; !ok {
			return nil
		}
		value, ok := sub.Lookup(field)
		if ok && value != "" {
			return nil
		}
		message := override
		if message == "" {
			message = fmt.Sprintf("field %q is required when %q is %q", field, whenField, triggerValue)
		}
		return []finding{{field: field, message: message}}
	}, nil
}

// compileMaxValue builds a numeric threshold check. A present value that
// cannot be parsed as a number is a violation, not a pass: malformed input
// is itself a compliance failure.
func compileMaxValue(policyName string, spec CheckSpec) (checker, error) {
	if spec.Field == "" {
		return nil, NewConfigError("max-value check needs a field", nil).WithPolicy(policyName)
	}
	if spec.Limit == nil {
		return nil, NewConfigError("max-value check needs a limit", nil).WithPolicy(policyName)
	}

	field := spec.Field
	limit := *spec.Limit
	override := spec.Message

	return func(_ context.Context, sub *subject.Context) []finding {
		value, ok := sub.Lookup(field)
		if !ok {
			// Absent fields are the required family's concern.
			return nil
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return []finding{{
				field:   field,
				message: fmt.Sprintf("field %q has non-numeric value %q", field, value),
			}}
		}
		if parsed <= limit {
			return nil
		}
		message := override
		if message == "" {
			message = fmt.Sprintf("field %q value %s exceeds limit %s", field,
				strconv.FormatFloat(parsed, 'f', -1, 64),
				strconv.FormatFloat(limit, 'f', -1, 64))
		}
		return []finding{{field: field, message: message}}
	}, nil
}
