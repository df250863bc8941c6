package policy

import (
	"fmt"
)

// compiledPolicy pairs a policy with its executable checkers.
type compiledPolicy struct {
	policy   Policy
	checkers []checker
}

// Registry is an immutable set of compiled policies in declaration order.
// It is built once at load and shared read-only across concurrent
// evaluations; no field is mutated after construction, so no locking is
// needed.
type Registry struct {
	policies []*compiledPolicy
	byName   map[string]*compiledPolicy
}

// NewRegistry compiles the given policies into a registry. Duplicate
// names, invalid enforcement levels, and malformed check parameters are
// config errors: the caller must refuse to start rather than run with a
// partial rule set.
func NewRegistry(policies []Policy) (*Registry, error) {
	reg := &Registry{
		policies: make([]*compiledPolicy, 0, len(policies)),
		byName:   make(map[string]*compiledPolicy, len(policies)),
	}

	for _, p := range policies {
		if p.Name == "" {
			return nil, NewConfigError("policy name is required", nil)
		}
		if !p.Level.IsValid() {
			return nil, NewConfigError(fmt.Sprintf("invalid enforcement level %q", p.Level), nil).WithPolicy(p.Name)
		}
		if _, exists := reg.byName[p.Name]; exists {
			return nil, NewConfigError(fmt.Sprintf("duplicate policy name %q", p.Name), nil)
		}
		if len(p.Checks) == 0 {
			return nil, NewConfigError("policy must declare at least one check", nil).WithPolicy(p.Name)
		}

		cp := &compiledPolicy{
			policy:   p,
			checkers: make([]checker, 0, len(p.Checks)),
		}
		for _, spec := range p.Checks {
			chk, err := compileCheck(p.Name, spec)
			if err != nil {
				return nil, err
			}
			cp.checkers = append(cp.checkers, chk)
		}

		reg.policies = append(reg.policies, cp)
		reg.byName[p.Name] = cp
	}

	return reg, nil
}

// Applicable returns the policies whose scope matches the given kind and
// namespace, in declaration order. The order is stable across calls.
func (r *Registry) Applicable(kind, namespace string) []Policy {
	var out []Policy
	for _, cp := range r.policies {
		if cp.policy.Scope.Matches(kind, namespace) {
			out = append(out, cp.policy)
		}
	}
	return out
}

// applicable is the compiled counterpart of Applicable used by the engine.
func (r *Registry) applicable(kind, namespace string) []*compiledPolicy {
	var out []*compiledPolicy
	for _, cp := range r.policies {
		if cp.policy.Scope.Matches(kind, namespace) {
			out = append(out, cp)
		}
	}
	return out
}

// Policies returns every policy in declaration order.
func (r *Registry) Policies() []Policy {
	out := make([]Policy, 0, len(r.policies))
	for _, cp := range r.policies {
		out = append(out, cp.policy)
	}
	return out
}

// Get returns the named policy.
func (r *Registry) Get(name string) (Policy, bool) {
	cp, ok := r.byName[name]
	if !ok {
		return Policy{}, false
	}
	return cp.policy, true
}

// Len returns the number of loaded policies.
func (r *Registry) Len() int {
	return len(r.policies)
}
