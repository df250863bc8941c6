package policy

// EnforcementLevel is the severity tier of a policy. It determines whether
// a violation blocks the operation, is surfaced for an override workflow,
// or is advisory only.
type EnforcementLevel string

const (
	// LevelAdvisory violations are reported as warnings and never affect
	// the verdict.
	LevelAdvisory EnforcementLevel = "advisory"

	// LevelSoftMandatory violations are recorded but do not block by
	// default; they feed an override/waiver workflow.
	LevelSoftMandatory EnforcementLevel = "soft-mandatory"

	// LevelHardMandatory violations deny the operation.
	LevelHardMandatory EnforcementLevel = "hard-mandatory"
)

// IsValid reports whether the level is one of the three known tiers.
func (l EnforcementLevel) IsValid() bool {
	switch l {
	case LevelAdvisory, LevelSoftMandatory, LevelHardMandatory:
		return true
	}
	return false
}

// Blocking reports whether a violation at this level flips the verdict to
// deny.
func (l EnforcementLevel) Blocking() bool {
	return l == LevelHardMandatory
}

// Scope restricts a policy to particular resource kinds and namespaces.
// An empty list matches everything; a policy outside its scope auto-passes.
type Scope struct {
	Kinds      []string `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Namespaces []string `json:"namespaces,omitempty" yaml:"namespaces,omitempty"`
}

// Matches reports whether the scope applies to the given kind and namespace.
func (s Scope) Matches(kind, namespace string) bool {
	return matchesAny(s.Kinds, kind) && matchesAny(s.Namespaces, namespace)
}

func matchesAny(set []string, value string) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == value {
			return true
		}
	}
	return false
}

// CheckSpec is the data half of a predicate: it names one of the fixed
// checker families and carries its parameters. The predicate logic itself
// lives in the compiled checker functions.
type CheckSpec struct {
	// Type selects the checker family: required, allowed-values,
	// requires-field, max-value, expression, or rego.
	Type string `json:"type" yaml:"type" validate:"required,oneof=required allowed-values requires-field max-value expression rego"`

	// Field is the dotted path of the attribute under check, e.g.
	// "tags.CostCenter" or "spec.instance_type".
	Field string `json:"field,omitempty" yaml:"field,omitempty"`

	// Values is the allowed set for allowed-values checks.
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`

	// WhenField and WhenIn define the trigger for requires-field checks:
	// when WhenField holds one of WhenIn, Field must be present.
	WhenField string   `json:"when_field,omitempty" yaml:"when_field,omitempty"`
	WhenIn    []string `json:"when_in,omitempty" yaml:"when_in,omitempty"`

	// Limit is the inclusive ceiling for max-value checks.
	Limit *float64 `json:"limit,omitempty" yaml:"limit,omitempty"`

	// Expression is a boolean condition over the evaluation context for
	// expression checks. The check passes when it evaluates to true.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// Rego is an inline Rego module body for rego checks. Entries in its
	// deny set become violations.
	Rego string `json:"rego,omitempty" yaml:"rego,omitempty"`

	// Message overrides the generated violation message when set. It is
	// used verbatim in deny responses.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Policy is a named rule with a fixed enforcement level and a list of
// checks. Policies are immutable once loaded and identified by unique name
// within a registry.
type Policy struct {
	Name        string           `json:"name" yaml:"name" validate:"required"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Level       EnforcementLevel `json:"level" yaml:"level" validate:"required,oneof=advisory soft-mandatory hard-mandatory"`
	Scope       Scope            `json:"scope,omitempty" yaml:"scope,omitempty"`
	Checks      []CheckSpec      `json:"checks" yaml:"checks" validate:"required,min=1,dive"`
}

// Document is a policy source file: one or more policies, optionally
// versioned. Serialized as YAML or JSON.
type Document struct {
	Version  int      `json:"version,omitempty" yaml:"version,omitempty"`
	Policies []Policy `json:"policies" yaml:"policies" validate:"required,min=1,dive"`
}

// Violation is produced when a check fails. Its level is fixed at the
// owning policy's enforcement level and cannot change post-hoc.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Level is the enforcement level of the owning policy.
	Level EnforcementLevel `json:"level"`

	// Field is the attribute path that was missing or invalid, when the
	// check addresses a single field.
	Field string `json:"field,omitempty"`

	// Message names the specific problem. Deny responses carry it
	// verbatim.
	Message string `json:"message"`
}

// Decision is the aggregate verdict for one evaluation. Allowed is false
// iff at least one hard-mandatory policy produced a violation. Advisory
// findings are reported in Warnings and never affect Allowed.
type Decision struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []Violation `json:"warnings,omitempty"`
}

// DenyReason joins the blocking violation messages into the single string
// an admission response carries.
func (d Decision) DenyReason() string {
	if d.Allowed {
		return ""
	}
	reason := ""
	for _, v := range d.Violations {
		if !v.Level.Blocking() {
			continue
		}
		if reason != "" {
			reason += "; "
		}
		reason += v.Message
	}
	return reason
}
