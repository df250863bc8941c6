package policy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mlgate/mlgate/pkg/subject"
)

// MalformedInputPolicy is the synthetic policy name attached to violations
// produced from unparseable subject resources.
const MalformedInputPolicy = "malformed-input"

// Engine aggregates check results into decisions. The registry is held
// behind an atomic pointer so a validated reload can swap it while
// concurrent evaluations proceed against the snapshot they started with.
type Engine struct {
	registry atomic.Pointer[Registry]
	logger   zerolog.Logger
}

// NewEngine creates an engine over the given registry.
func NewEngine(reg *Registry, logger zerolog.Logger) *Engine {
	e := &Engine{
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}
	e.registry.Store(reg)
	return e
}

// Registry returns the current registry snapshot.
func (e *Engine) Registry() *Registry {
	return e.registry.Load()
}

// Swap atomically replaces the registry. Callers must pass a fully
// validated registry; in-flight evaluations finish against the old one.
func (e *Engine) Swap(reg *Registry) {
	e.registry.Store(reg)
	e.logger.Info().Int("policies", reg.Len()).Msg("Registry swapped")
}

// Evaluate runs every applicable policy against the subject and reduces
// the findings to a verdict. Hard-mandatory violations deny; soft-mandatory
// violations are recorded without blocking; advisory findings become
// warnings. Evaluation always returns a Decision: checker faults are
// caught at the check boundary and converted into violations.
func (e *Engine) Evaluate(ctx context.Context, sub *subject.Context) Decision {
	start := time.Now()
	reg := e.registry.Load()

	decision := Decision{Allowed: true}

	for _, cp := range reg.applicable(sub.Kind, sub.Namespace) {
		for _, v := range e.runPolicy(ctx, cp, sub) {
			if v.Level == LevelAdvisory {
				decision.Warnings = append(decision.Warnings, v)
				continue
			}
			decision.Violations = append(decision.Violations, v)
			if v.Level.Blocking() {
				decision.Allowed = false
			}
		}
	}

	e.logger.Debug().
		Str("kind", sub.Kind).
		Str("namespace", sub.Namespace).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Int("warnings", len(decision.Warnings)).
		Dur("duration", time.Since(start)).
		Msg("Evaluation completed")

	return decision
}

// runPolicy executes one policy's checks in declaration order. A panicking
// checker is a fault in the checker, not non-compliance in the subject; it
// is converted into a violation naming the policy and logged distinctly so
// operators can tell the two apart.
func (e *Engine) runPolicy(ctx context.Context, cp *compiledPolicy, sub *subject.Context) (violations []Violation) {
	defer func() {
		if r := recover(); r != nil {
			fault := NewCheckFaultError(cp.policy.Name, "checker panicked", fmt.Errorf("%v", r))
			e.logger.Error().
				Err(fault).
				Str("policy", cp.policy.Name).
				Bool("check_fault", true).
				Msg("Checker fault")
			violations = append(violations, Violation{
				Policy:  cp.policy.Name,
				Level:   cp.policy.Level,
				Message: fmt.Sprintf("policy %q could not be evaluated: internal checker fault", cp.policy.Name),
			})
		}
	}()

	for _, chk := range cp.checkers {
		for _, f := range chk(ctx, sub) {
			violations = append(violations, Violation{
				Policy:  cp.policy.Name,
				Level:   cp.policy.Level,
				Field:   f.field,
				Message: f.message,
			})
		}
	}
	return violations
}

// DecisionForMalformedInput converts a subject normalization failure into
// a fail-closed decision carrying one synthetic violation. The operator
// must fix the input; it is never silently skipped.
func (e *Engine) DecisionForMalformedInput(err error) Decision {
	e.logger.Warn().Err(err).Msg("Malformed subject resource")
	return Decision{
		Allowed: false,
		Violations: []Violation{{
			Policy:  MalformedInputPolicy,
			Level:   LevelHardMandatory,
			Message: err.Error(),
		}},
	}
}

// EvaluateAdmission normalizes a raw admission review and evaluates it.
// The returned UID echoes the request for the response envelope. Malformed
// input yields a deny decision, not an error.
func (e *Engine) EvaluateAdmission(ctx context.Context, raw []byte) (Decision, string) {
	sub, uid, err := subject.FromAdmissionReview(raw)
	if err != nil {
		return e.DecisionForMalformedInput(err), uid
	}
	return e.Evaluate(ctx, sub), uid
}

// EvaluatePlan normalizes every resource change in a Terraform plan and
// evaluates each one. The aggregate decision denies if any resource is
// denied; per-resource decisions are returned alongside their contexts.
func (e *Engine) EvaluatePlan(ctx context.Context, raw []byte) (Decision, []ResourceDecision) {
	contexts, err := subject.FromTerraformPlan(raw)
	if err != nil {
		return e.DecisionForMalformedInput(err), nil
	}

	aggregate := Decision{Allowed: true}
	results := make([]ResourceDecision, 0, len(contexts))

	for _, sub := range contexts {
		d := e.Evaluate(ctx, sub)
		results = append(results, ResourceDecision{Subject: sub, Decision: d})
		if !d.Allowed {
			aggregate.Allowed = false
		}
		aggregate.Violations = append(aggregate.Violations, d.Violations...)
		aggregate.Warnings = append(aggregate.Warnings, d.Warnings...)
	}

	return aggregate, results
}

// ResourceDecision pairs one planned resource with its verdict.
type ResourceDecision struct {
	Subject  *subject.Context `json:"subject"`
	Decision Decision         `json:"decision"`
}
