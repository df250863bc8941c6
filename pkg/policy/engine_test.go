package policy

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mlgate/mlgate/pkg/subject"
)

func testEngine(t *testing.T, policies []Policy) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	reg, err := NewRegistry(policies)
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	return NewEngine(reg, logger)
}

func builtinEngine(t *testing.T) *Engine {
	return testEngine(t, Builtins())
}

func TestEvaluate_CompliantResourceAllowed(t *testing.T) {
	eng := builtinEngine(t)

	sub := &subject.Context{
		Kind: "aws_instance",
		Name: "trainer-1",
		Tags: map[string]string{
			"CostCenter":  "ml-research",
			"Owner":       "platform-team",
			"Environment": "development",
		},
		Spec: map[string]any{"gpu_count": 4},
	}

	decision := eng.Evaluate(context.Background(), sub)
	if !decision.Allowed {
		t.Fatalf("Expected allowed decision, got violations: %+v", decision.Violations)
	}
	if len(decision.Violations) != 0 {
		t.Errorf("Expected no violations, got %+v", decision.Violations)
	}
}

func TestEvaluate_MissingHardMandatoryField(t *testing.T) {
	eng := builtinEngine(t)

	sub := &subject.Context{
		Kind: "aws_instance",
		Name: "trainer-1",
		Tags: map[string]string{
			"Owner":       "platform-team",
			"Environment": "development",
		},
	}

	decision := eng.Evaluate(context.Background(), sub)
	if decision.Allowed {
		t.Fatal("Expected deny for missing CostCenter tag")
	}
	if len(decision.Violations) != 1 {
		t.Fatalf("Expected exactly one violation, got %+v", decision.Violations)
	}

	v := decision.Violations[0]
	if v.Policy != "required-cost-tags" {
		t.Errorf("Expected violation from required-cost-tags, got %q", v.Policy)
	}
	if v.Level != LevelHardMandatory {
		t.Errorf("Expected hard-mandatory level, got %q", v.Level)
	}
	if v.Field != "tags.CostCenter" {
		t.Errorf("Expected field tags.CostCenter, got %q", v.Field)
	}
}

func TestEvaluate_SoftMandatoryDoesNotBlock(t *testing.T) {
	limit := 2.0
	eng := testEngine(t, []Policy{{
		Name:  "gpu-budget",
		Level: LevelSoftMandatory,
		Checks: []CheckSpec{
			{Type: "max-value", Field: "spec.gpu_count", Limit: &limit},
		},
	}})

	sub := &subject.Context{
		Kind: "aws_instance",
		Spec: map[string]any{"gpu_count": 6},
	}

	decision := eng.Evaluate(context.Background(), sub)
	if !decision.Allowed {
		t.Error("Soft-mandatory violations must not deny")
	}
	if len(decision.Violations) != 1 {
		t.Fatalf("Expected the violation to be recorded, got %+v", decision.Violations)
	}
	if len(decision.Warnings) != 0 {
		t.Errorf("Soft-mandatory findings are violations, not warnings: %+v", decision.Warnings)
	}
}

func TestEvaluate_AdvisoryBecomesWarning(t *testing.T) {
	eng := testEngine(t, []Policy{{
		Name:  "team-ownership",
		Level: LevelAdvisory,
		Checks: []CheckSpec{
			{Type: "required", Field: "labels.team"},
		},
	}})

	sub := &subject.Context{Kind: "Deployment", Namespace: "default"}

	decision := eng.Evaluate(context.Background(), sub)
	if !decision.Allowed {
		t.Error("Advisory findings must not affect the verdict")
	}
	if len(decision.Violations) != 0 {
		t.Errorf("Expected no violations, got %+v", decision.Violations)
	}
	if len(decision.Warnings) != 1 {
		t.Fatalf("Expected one warning, got %+v", decision.Warnings)
	}
	if decision.Warnings[0].Policy != "team-ownership" {
		t.Errorf("Warning names wrong policy: %q", decision.Warnings[0].Policy)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	eng := builtinEngine(t)

	sub := &subject.Context{
		Kind:      "Deployment",
		Namespace: "production",
		Name:      "inference-api",
		Labels:    map[string]string{"app": "inference"},
		Spec:      map[string]any{"replicas": 30},
	}

	first := eng.Evaluate(context.Background(), sub)
	second := eng.Evaluate(context.Background(), sub)

	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	b, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("Evaluation is not idempotent:\n%s\n%s", a, b)
	}
}

func TestEvaluate_OutOfScopePolicyVacuouslyPasses(t *testing.T) {
	eng := builtinEngine(t)

	// production-approval is scoped to namespace production; the same
	// workload in development must not trigger it.
	sub := &subject.Context{
		Kind:      "Deployment",
		Namespace: "development",
		Name:      "inference-api",
		Labels:    map[string]string{"team": "ml-serving"},
	}

	decision := eng.Evaluate(context.Background(), sub)
	if !decision.Allowed {
		t.Fatalf("Expected allow outside production, got %+v", decision.Violations)
	}
	for _, v := range decision.Violations {
		if v.Policy == "production-approval" {
			t.Error("production-approval must not fire outside its namespace scope")
		}
	}
}

func TestEvaluate_ProductionApproval(t *testing.T) {
	eng := builtinEngine(t)

	tests := []struct {
		name          string
		annotations   map[string]string
		expectAllowed bool
	}{
		{
			name:          "approved deployment",
			annotations:   map[string]string{"approved-by": "alice@example.com"},
			expectAllowed: true,
		},
		{
			name:          "unapproved deployment",
			annotations:   nil,
			expectAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &subject.Context{
				Kind:        "Deployment",
				Namespace:   "production",
				Name:        "inference-api",
				Labels:      map[string]string{"team": "ml-serving"},
				Annotations: tt.annotations,
			}

			decision := eng.Evaluate(context.Background(), sub)
			if decision.Allowed != tt.expectAllowed {
				t.Fatalf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, decision.Allowed, decision.Violations)
			}
			if tt.expectAllowed {
				return
			}

			want := "production deployments require 'approved-by' annotation"
			if got := decision.DenyReason(); got != want {
				t.Errorf("Deny reason must carry the message verbatim:\ngot  %q\nwant %q", got, want)
			}
		})
	}
}

func TestEvaluate_NumericThreshold(t *testing.T) {
	limit := 2.0
	eng := testEngine(t, []Policy{{
		Name:  "gpu-ceiling",
		Level: LevelHardMandatory,
		Checks: []CheckSpec{
			{Type: "max-value", Field: "spec.gpu_count", Limit: &limit},
		},
	}})

	tests := []struct {
		name          string
		gpuCount      any
		expectAllowed bool
	}{
		{name: "over limit", gpuCount: "3", expectAllowed: false},
		{name: "at limit", gpuCount: "2", expectAllowed: true},
		{name: "non-numeric fails closed", gpuCount: "abc", expectAllowed: false},
		{name: "numeric json value", gpuCount: 1, expectAllowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &subject.Context{
				Kind: "aws_instance",
				Spec: map[string]any{"gpu_count": tt.gpuCount},
			}
			decision := eng.Evaluate(context.Background(), sub)
			if decision.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, decision.Allowed, decision.Violations)
			}
		})
	}
}

func TestEvaluate_CheckerFaultDoesNotCrash(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	reg := &Registry{
		byName: map[string]*compiledPolicy{},
	}
	cp := &compiledPolicy{
		policy: Policy{Name: "broken", Level: LevelHardMandatory},
		checkers: []checker{
			func(_ context.Context, _ *subject.Context) []finding {
				panic("boom")
			},
		},
	}
	reg.policies = append(reg.policies, cp)
	reg.byName["broken"] = cp

	eng := NewEngine(reg, logger)
	decision := eng.Evaluate(context.Background(), &subject.Context{Kind: "aws_instance"})

	if decision.Allowed {
		t.Fatal("A faulting hard-mandatory checker must fail closed")
	}
	if len(decision.Violations) != 1 {
		t.Fatalf("Expected one fault violation, got %+v", decision.Violations)
	}
	if !strings.Contains(decision.Violations[0].Message, "internal checker fault") {
		t.Errorf("Fault violation must be distinguishable: %q", decision.Violations[0].Message)
	}
}

func TestDecisionForMalformedInput(t *testing.T) {
	eng := builtinEngine(t)

	decision := eng.DecisionForMalformedInput(&subject.MalformedInputError{Field: "kind"})
	if decision.Allowed {
		t.Fatal("Malformed input must deny")
	}
	if len(decision.Violations) != 1 {
		t.Fatalf("Expected one synthetic violation, got %+v", decision.Violations)
	}
	if decision.Violations[0].Policy != MalformedInputPolicy {
		t.Errorf("Expected synthetic policy %q, got %q", MalformedInputPolicy, decision.Violations[0].Policy)
	}
	if decision.Violations[0].Level != LevelHardMandatory {
		t.Errorf("Synthetic violation must be hard-mandatory, got %q", decision.Violations[0].Level)
	}
}

func TestEngine_Swap(t *testing.T) {
	eng := builtinEngine(t)
	before := eng.Registry().Len()

	next, err := NewRegistry([]Policy{{
		Name:   "only-one",
		Level:  LevelAdvisory,
		Checks: []CheckSpec{{Type: "required", Field: "labels.team"}},
	}})
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}

	eng.Swap(next)
	if eng.Registry().Len() == before {
		t.Error("Swap did not replace the registry")
	}
	if eng.Registry().Len() != 1 {
		t.Errorf("Expected 1 policy after swap, got %d", eng.Registry().Len())
	}
}

func TestEvaluatePlan_AggregatesResources(t *testing.T) {
	eng := builtinEngine(t)

	plan := `{
		"format_version": "1.2",
		"resource_changes": [
			{
				"address": "aws_instance.good",
				"type": "aws_instance",
				"name": "good",
				"change": {
					"actions": ["create"],
					"after": {
						"tags": {"CostCenter": "ml", "Owner": "team", "Environment": "staging"}
					}
				}
			},
			{
				"address": "aws_instance.bad",
				"type": "aws_instance",
				"name": "bad",
				"change": {
					"actions": ["create"],
					"after": {
						"tags": {"Owner": "team", "Environment": "staging"}
					}
				}
			},
			{
				"address": "aws_instance.gone",
				"type": "aws_instance",
				"name": "gone",
				"change": {"actions": ["delete"], "after": null}
			}
		]
	}`

	decision, resources := eng.EvaluatePlan(context.Background(), []byte(plan))
	if decision.Allowed {
		t.Fatal("Expected aggregate deny when one resource is denied")
	}
	if len(resources) != 2 {
		t.Fatalf("Delete-only changes must be skipped; got %d resources", len(resources))
	}
	if !resources[0].Decision.Allowed {
		t.Errorf("Compliant resource denied: %+v", resources[0].Decision.Violations)
	}
	if resources[1].Decision.Allowed {
		t.Error("Non-compliant resource allowed")
	}
}

func TestEvaluatePlan_MalformedInputDenies(t *testing.T) {
	eng := builtinEngine(t)

	decision, resources := eng.EvaluatePlan(context.Background(), []byte(`{not json`))
	if decision.Allowed {
		t.Fatal("Malformed plan must deny")
	}
	if resources != nil {
		t.Errorf("Expected no per-resource decisions, got %+v", resources)
	}
	if decision.Violations[0].Policy != MalformedInputPolicy {
		t.Errorf("Expected %q violation, got %q", MalformedInputPolicy, decision.Violations[0].Policy)
	}
}

func TestEvaluateAdmission_EchoesUID(t *testing.T) {
	eng := builtinEngine(t)

	review := `{
		"request": {
			"uid": "1c3d7a2f-aaaa-bbbb-cccc-000000000001",
			"object": {
				"kind": "Deployment",
				"metadata": {
					"name": "inference-api",
					"namespace": "production",
					"labels": {"team": "ml-serving"},
					"annotations": {"approved-by": "alice@example.com"}
				},
				"spec": {"replicas": 3}
			}
		}
	}`

	decision, uid := eng.EvaluateAdmission(context.Background(), []byte(review))
	if uid != "1c3d7a2f-aaaa-bbbb-cccc-000000000001" {
		t.Errorf("UID not echoed: %q", uid)
	}
	if !decision.Allowed {
		t.Errorf("Expected allow, got violations: %+v", decision.Violations)
	}
}
