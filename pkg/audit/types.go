package audit

import (
	"time"
)

// Record is one persisted policy decision.
type Record struct {
	// ID is the unique decision identifier.
	ID string `json:"id"`

	// CreatedAt is when the decision was recorded.
	CreatedAt time.Time `json:"created_at"`

	// Source distinguishes plan gating from admission gating.
	Source string `json:"source"`

	// SubjectKind, SubjectNamespace, and SubjectName identify the
	// evaluated resource.
	SubjectKind      string `json:"subject_kind"`
	SubjectNamespace string `json:"subject_namespace,omitempty"`
	SubjectName      string `json:"subject_name,omitempty"`

	// Allowed is the verdict.
	Allowed bool `json:"allowed"`

	// Violations and Warnings are the finding counts.
	Violations int `json:"violations"`
	Warnings   int `json:"warnings"`

	// DenyReason is the verbatim reason string for denied decisions.
	DenyReason string `json:"deny_reason,omitempty"`

	// DurationMs is the evaluation duration in milliseconds.
	DurationMs int64 `json:"duration_ms"`
}

// Source constants for Record.Source.
const (
	SourcePlan      = "plan"
	SourceAdmission = "admission"
)
