package subject

import (
	"fmt"
	"strconv"
	"strings"
)

// Context is the normalized view of a resource under evaluation.
// It is built fresh per evaluation and never mutated after construction.
type Context struct {
	// Kind is the resource kind, e.g. "Deployment" or "aws_instance".
	Kind string `json:"kind"`

	// Namespace is the Kubernetes namespace or infrastructure environment.
	Namespace string `json:"namespace,omitempty"`

	// Name identifies the resource instance, when known.
	Name string `json:"name,omitempty"`

	// Labels are Kubernetes metadata labels.
	Labels map[string]string `json:"labels,omitempty"`

	// Annotations are Kubernetes metadata annotations.
	Annotations map[string]string `json:"annotations,omitempty"`

	// Tags are cloud resource tags from a planned change.
	Tags map[string]string `json:"tags,omitempty"`

	// Spec holds the remaining structural fields opaquely, for checks
	// that need to inspect nested values.
	Spec map[string]any `json:"spec,omitempty"`
}

// MalformedInputError reports a subject resource that could not be
// normalized because a required structural field is absent or has the
// wrong shape. The evaluator converts it into a synthetic violation
// rather than crashing: malformed input is itself a compliance failure.
type MalformedInputError struct {
	// Field is the structural field that was missing or invalid.
	Field string

	// Err is the underlying parse error, if any.
	Err error
}

// Error implements the error interface.
func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed input: field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("malformed input: required field %q is missing or invalid", e.Field)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// Lookup resolves a dotted field path against the context and returns the
// scalar value as a string. Paths address the top-level attribute maps
// ("labels.team", "annotations.approved-by", "tags.CostCenter"), the
// structural fields ("kind", "namespace", "name"), or nested spec values
// ("spec.instance_type", "spec.containers.0.image"). The boolean result
// makes "missing key" explicit; a present composite value is not a scalar
// and reports as not found.
func (c *Context) Lookup(path string) (string, bool) {
	switch path {
	case "kind":
		return c.Kind, true
	case "namespace":
		return c.Namespace, true
	case "name":
		return c.Name, true
	}

	root, rest, ok := strings.Cut(path, ".")
	if !ok {
		return "", false
	}

	switch root {
	case "labels":
		v, ok := c.Labels[rest]
		return v, ok
	case "annotations":
		v, ok := c.Annotations[rest]
		return v, ok
	case "tags":
		v, ok := c.Tags[rest]
		return v, ok
	case "spec":
		raw, ok := c.LookupSpec(rest)
		if !ok {
			return "", false
		}
		return stringifyScalar(raw)
	}

	return "", false
}

// LookupSpec walks the opaque spec fields along a dotted path and returns
// the raw value. Numeric path segments index into arrays.
func (c *Context) LookupSpec(path string) (any, bool) {
	var cur any = c.Spec
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// stringifyScalar renders a scalar JSON value as a string without lossy
// coercion. Composite values (objects, arrays) report as not found.
func stringifyScalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case nil:
		return "", true
	default:
		return "", false
	}
}

// stringMap converts a decoded JSON map into a map[string]string. Label,
// annotation, and tag values must already be strings; any other value type
// is a structural error, not something to coerce silently.
func stringMap(field string, raw map[string]any) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, &MalformedInputError{
				Field: field + "." + k,
				Err:   fmt.Errorf("expected string value, got %T", v),
			}
		}
		out[k] = s
	}
	return out, nil
}
