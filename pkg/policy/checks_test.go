package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/mlgate/mlgate/pkg/subject"
)

func runCheck(t *testing.T, spec CheckSpec, sub *subject.Context) []finding {
	t.Helper()
	chk, err := compileCheck("test-policy", spec)
	if err != nil {
		t.Fatalf("Failed to compile check: %v", err)
	}
	return chk(context.Background(), sub)
}

func TestRequiredCheck(t *testing.T) {
	spec := CheckSpec{Type: "required", Field: "tags.CostCenter"}

	tests := []struct {
		name        string
		tags        map[string]string
		expectFound bool
	}{
		{name: "present", tags: map[string]string{"CostCenter": "ml"}, expectFound: false},
		{name: "missing", tags: nil, expectFound: true},
		{name: "empty value", tags: map[string]string{"CostCenter": ""}, expectFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := runCheck(t, spec, &subject.Context{Kind: "aws_instance", Tags: tt.tags})
			if (len(findings) > 0) != tt.expectFound {
				t.Errorf("Expected finding=%v, got %+v", tt.expectFound, findings)
			}
		})
	}
}

func TestRequiredCheck_DefaultMessage(t *testing.T) {
	findings := runCheck(t,
		CheckSpec{Type: "required", Field: "tags.Owner"},
		&subject.Context{Kind: "aws_instance"})
	if len(findings) != 1 {
		t.Fatalf("Expected one finding, got %+v", findings)
	}
	want := `required field "tags.Owner" is missing or empty`
	if findings[0].message != want {
		t.Errorf("Default message mismatch:\ngot  %q\nwant %q", findings[0].message, want)
	}
}

func TestRequiredCheck_MessageOverride(t *testing.T) {
	findings := runCheck(t,
		CheckSpec{Type: "required", Field: "tags.Owner", Message: "who owns this?"},
		&subject.Context{Kind: "aws_instance"})
	if len(findings) != 1 || findings[0].message != "who owns this?" {
		t.Errorf("Message override must be used verbatim, got %+v", findings)
	}
}

func TestAllowedValuesCheck(t *testing.T) {
	spec := CheckSpec{
		Type:   "allowed-values",
		Field:  "tags.Environment",
		Values: []string{"development", "production"},
	}

	tests := []struct {
		name        string
		tags        map[string]string
		expectFound bool
	}{
		{name: "allowed value", tags: map[string]string{"Environment": "production"}, expectFound: false},
		{name: "disallowed value", tags: map[string]string{"Environment": "prod"}, expectFound: true},
		{name: "absent field auto-passes", tags: nil, expectFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := runCheck(t, spec, &subject.Context{Kind: "aws_instance", Tags: tt.tags})
			if (len(findings) > 0) != tt.expectFound {
				t.Errorf("Expected finding=%v, got %+v", tt.expectFound, findings)
			}
		})
	}
}

func TestRequiresFieldCheck(t *testing.T) {
	spec := CheckSpec{
		Type:      "requires-field",
		Field:     "spec.kms_key_id",
		WhenField: "tags.DataClassification",
		WhenIn:    []string{"confidential", "restricted"},
	}

	tests := []struct {
		name        string
		sub         *subject.Context
		expectFound bool
	}{
		{
			name: "trigger set and target present",
			sub: &subject.Context{
				Kind: "aws_s3_bucket",
				Tags: map[string]string{"DataClassification": "confidential"},
				Spec: map[string]any{"kms_key_id": "arn:aws:kms:key/abc"},
			},
			expectFound: false,
		},
		{
			name: "trigger set and target missing",
			sub: &subject.Context{
				Kind: "aws_s3_bucket",
				Tags: map[string]string{"DataClassification": "restricted"},
			},
			expectFound: true,
		},
		{
			name: "trigger not in set",
			sub: &subject.Context{
				Kind: "aws_s3_bucket",
				Tags: map[string]string{"DataClassification": "public"},
			},
			expectFound: false,
		},
		{
			name:        "trigger absent",
			sub:         &subject.Context{Kind: "aws_s3_bucket"},
			expectFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := runCheck(t, spec, tt.sub)
			if (len(findings) > 0) != tt.expectFound {
				t.Errorf("Expected finding=%v, got %+v", tt.expectFound, findings)
			}
		})
	}
}

func TestMaxValueCheck(t *testing.T) {
	limit := 8.0
	spec := CheckSpec{Type: "max-value", Field: "spec.gpu_count", Limit: &limit}

	tests := []struct {
		name          string
		spec          map[string]any
		expectFound   bool
		expectMessage string
	}{
		{name: "under limit", spec: map[string]any{"gpu_count": 4}, expectFound: false},
		{name: "at limit", spec: map[string]any{"gpu_count": 8}, expectFound: false},
		{name: "over limit", spec: map[string]any{"gpu_count": 16}, expectFound: true},
		{name: "absent auto-passes", spec: nil, expectFound: false},
		{
			name:          "non-numeric fails closed",
			spec:          map[string]any{"gpu_count": "lots"},
			expectFound:   true,
			expectMessage: `field "spec.gpu_count" has non-numeric value "lots"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := runCheck(t, spec, &subject.Context{Kind: "aws_instance", Spec: tt.spec})
			if (len(findings) > 0) != tt.expectFound {
				t.Fatalf("Expected finding=%v, got %+v", tt.expectFound, findings)
			}
			if tt.expectMessage != "" && findings[0].message != tt.expectMessage {
				t.Errorf("Message mismatch:\ngot  %q\nwant %q", findings[0].message, tt.expectMessage)
			}
		})
	}
}

func TestCompileCheck_ConfigErrors(t *testing.T) {
	limit := 1.0
	tests := []struct {
		name string
		spec CheckSpec
	}{
		{name: "unknown type", spec: CheckSpec{Type: "regex"}},
		{name: "required without field", spec: CheckSpec{Type: "required"}},
		{name: "allowed-values without values", spec: CheckSpec{Type: "allowed-values", Field: "tags.X"}},
		{name: "requires-field without trigger", spec: CheckSpec{Type: "requires-field", Field: "spec.x"}},
		{name: "requires-field without when_in", spec: CheckSpec{Type: "requires-field", Field: "spec.x", WhenField: "tags.Y"}},
		{name: "max-value without limit", spec: CheckSpec{Type: "max-value", Field: "spec.n"}},
		{name: "max-value without field", spec: CheckSpec{Type: "max-value", Limit: &limit}},
		{name: "expression with syntax error", spec: CheckSpec{Type: "expression", Expression: "kind =="}},
		{name: "rego that does not parse", spec: CheckSpec{Type: "rego", Rego: "not rego at all {"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileCheck("test-policy", tt.spec)
			if err == nil {
				t.Fatal("Expected a config error")
			}
			if !IsConfigError(err) {
				t.Errorf("Expected config error classification, got %v", err)
			}
		})
	}
}

func TestExpressionCheck(t *testing.T) {
	spec := CheckSpec{
		Type:       "expression",
		Expression: `namespace != "production" or (spec.replicas ?? 0) <= 20`,
	}

	tests := []struct {
		name        string
		sub         *subject.Context
		expectFound bool
	}{
		{
			name: "true passes",
			sub: &subject.Context{
				Kind:      "Deployment",
				Namespace: "production",
				Spec:      map[string]any{"replicas": 3},
			},
			expectFound: false,
		},
		{
			name: "false violates",
			sub: &subject.Context{
				Kind:      "Deployment",
				Namespace: "production",
				Spec:      map[string]any{"replicas": 50},
			},
			expectFound: true,
		},
		{
			name: "out of guarded branch passes",
			sub: &subject.Context{
				Kind:      "Deployment",
				Namespace: "development",
				Spec:      map[string]any{"replicas": 50},
			},
			expectFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := runCheck(t, spec, tt.sub)
			if (len(findings) > 0) != tt.expectFound {
				t.Errorf("Expected finding=%v, got %+v", tt.expectFound, findings)
			}
		})
	}
}

func TestExpressionCheck_RuntimeErrorFailsClosed(t *testing.T) {
	// Indexing into a missing array faults at runtime; the check must
	// report a violation rather than silently passing.
	spec := CheckSpec{
		Type:       "expression",
		Expression: `spec.containers[0].image != ""`,
	}

	findings := runCheck(t, spec, &subject.Context{Kind: "Pod", Spec: map[string]any{}})
	if len(findings) != 1 {
		t.Fatalf("Expected a fail-closed finding, got %+v", findings)
	}
	if !strings.Contains(findings[0].message, "could not be evaluated") {
		t.Errorf("Finding should name the evaluation failure: %q", findings[0].message)
	}
}

func TestRegoCheck(t *testing.T) {
	spec := CheckSpec{
		Type: "rego",
		Rego: `package mlgate.policies.test

import rego.v1

deny contains violation if {
	some c in input.spec.containers
	c.securityContext.privileged == true
	violation := {
		"message": sprintf("container %q must not run privileged", [c.name]),
		"field": "spec.containers",
	}
}`,
	}

	tests := []struct {
		name        string
		containers  []any
		expectFound bool
	}{
		{
			name: "privileged container denied",
			containers: []any{
				map[string]any{
					"name":            "worker",
					"securityContext": map[string]any{"privileged": true},
				},
			},
			expectFound: true,
		},
		{
			name: "unprivileged container passes",
			containers: []any{
				map[string]any{
					"name":            "worker",
					"securityContext": map[string]any{"privileged": false},
				},
			},
			expectFound: false,
		},
		{name: "no containers passes", containers: nil, expectFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &subject.Context{
				Kind: "Pod",
				Spec: map[string]any{"containers": tt.containers},
			}
			findings := runCheck(t, spec, sub)
			if (len(findings) > 0) != tt.expectFound {
				t.Fatalf("Expected finding=%v, got %+v", tt.expectFound, findings)
			}
			if tt.expectFound {
				if findings[0].message != `container "worker" must not run privileged` {
					t.Errorf("Unexpected deny message: %q", findings[0].message)
				}
				if findings[0].field != "spec.containers" {
					t.Errorf("Unexpected field: %q", findings[0].field)
				}
			}
		})
	}
}

func TestRegoCheck_StringDenyEntries(t *testing.T) {
	spec := CheckSpec{
		Type: "rego",
		Rego: `package mlgate.policies.simple

import rego.v1

deny contains "host network is not allowed" if {
	input.spec.hostNetwork == true
}`,
	}

	sub := &subject.Context{
		Kind: "Pod",
		Spec: map[string]any{"hostNetwork": true},
	}
	findings := runCheck(t, spec, sub)
	if len(findings) != 1 {
		t.Fatalf("Expected one finding, got %+v", findings)
	}
	if findings[0].message != "host network is not allowed" {
		t.Errorf("String deny entries become the message: %q", findings[0].message)
	}
}
