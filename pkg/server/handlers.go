package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mlgate/mlgate/pkg/audit"
	"github.com/mlgate/mlgate/pkg/policy"
	"github.com/mlgate/mlgate/pkg/telemetry"
)

// maxBodyBytes caps request bodies. Terraform plan JSON for large estates
// can run to a few megabytes; admission reviews are far smaller.
const maxBodyBytes = 10 << 20

// planResponse is the body returned by the plan gate.
type planResponse struct {
	Allowed    bool                      `json:"allowed"`
	DenyReason string                    `json:"deny_reason,omitempty"`
	Violations []policy.Violation        `json:"violations,omitempty"`
	Warnings   []policy.Violation        `json:"warnings,omitempty"`
	Resources  []policy.ResourceDecision `json:"resources,omitempty"`
}

// admissionResponse is the AdmissionReview envelope echoed back to the
// API server. The request UID must be returned unchanged.
type admissionResponse struct {
	APIVersion string               `json:"apiVersion"`
	Kind       string               `json:"kind"`
	Response   admissionReviewReply `json:"response"`
}

type admissionReviewReply struct {
	UID      string           `json:"uid"`
	Allowed  bool             `json:"allowed"`
	Status   *admissionStatus `json:"status,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

type admissionStatus struct {
	Message string `json:"message"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	ctx, span := s.tel.Tracer.StartEvaluationSpan(r.Context(), audit.SourcePlan, "", "")
	defer span.End()

	start := time.Now()
	decision, resources := s.engine.EvaluatePlan(ctx, body)
	duration := time.Since(start)

	kind, namespace, name := planSubject(resources)
	s.record(ctx, audit.SourcePlan, decision, duration, kind, namespace, name)
	telemetry.RecordDecisionSpan(span, decision.Allowed, len(decision.Violations), len(decision.Warnings))

	writeJSON(w, http.StatusOK, planResponse{
		Allowed:    decision.Allowed,
		DenyReason: decision.DenyReason(),
		Violations: decision.Violations,
		Warnings:   decision.Warnings,
		Resources:  resources,
	})
}

func (s *Server) handleAdmission(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	ctx, span := s.tel.Tracer.StartEvaluationSpan(r.Context(), audit.SourceAdmission, "", "")
	defer span.End()

	start := time.Now()
	decision, uid := s.engine.EvaluateAdmission(ctx, body)
	duration := time.Since(start)

	kind, namespace, name := admissionSubject(body)
	s.record(ctx, audit.SourceAdmission, decision, duration, kind, namespace, name)
	telemetry.RecordDecisionSpan(span, decision.Allowed, len(decision.Violations), len(decision.Warnings))

	reply := admissionReviewReply{
		UID:     uid,
		Allowed: decision.Allowed,
	}
	if !decision.Allowed {
		reply.Status = &admissionStatus{Message: decision.DenyReason()}
	}
	for _, warn := range decision.Warnings {
		reply.Warnings = append(reply.Warnings, warn.Message)
	}

	writeJSON(w, http.StatusOK, admissionResponse{
		APIVersion: "admission.k8s.io/v1",
		Kind:       "AdmissionReview",
		Response:   reply,
	})
}

func (s *Server) handlePolicies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"policies": s.engine.Registry().Policies(),
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "audit store is not enabled", http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.store.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list audit records")
		http.Error(w, "failed to list decisions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": records})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"policies": s.engine.Registry().Len(),
	})
}

// record fans one decision out to metrics, events, and the audit store.
func (s *Server) record(ctx context.Context, source string, decision policy.Decision, duration time.Duration, kind, namespace, name string) {
	s.tel.Metrics.RecordDecision(source, decision.Allowed, duration)
	for _, v := range decision.Violations {
		s.tel.Metrics.RecordViolation(v.Policy, string(v.Level))
		if v.Policy == policy.MalformedInputPolicy {
			s.tel.Metrics.RecordMalformedInput()
		}
	}
	for _, v := range decision.Warnings {
		s.tel.Metrics.RecordViolation(v.Policy, string(v.Level))
	}

	decisionID := uuid.New().String()
	if err := s.tel.Events.PublishDecision(decisionID, kind, namespace, decision.Allowed, len(decision.Violations)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish decision event")
	}

	if s.store != nil {
		rec := &audit.Record{
			ID:               decisionID,
			Source:           source,
			SubjectKind:      kind,
			SubjectNamespace: namespace,
			SubjectName:      name,
			Allowed:          decision.Allowed,
			Violations:       len(decision.Violations),
			Warnings:         len(decision.Warnings),
			DenyReason:       decision.DenyReason(),
			DurationMs:       duration.Milliseconds(),
		}
		if err := s.store.Append(ctx, rec); err != nil {
			s.logger.Error().Err(err).Msg("Failed to append audit record")
		}
	}
}

// planSubject summarizes a multi-resource plan for the audit record. A
// single-resource plan keeps its identity; larger plans are rolled up.
func planSubject(resources []policy.ResourceDecision) (kind, namespace, name string) {
	if len(resources) == 1 {
		sub := resources[0].Subject
		return sub.Kind, sub.Namespace, sub.Name
	}
	return "terraform-plan", "", strconv.Itoa(len(resources)) + " resources"
}

// admissionSubject extracts the subject identity from the raw review for
// recording, tolerating malformed bodies.
func admissionSubject(raw []byte) (kind, namespace, name string) {
	var review struct {
		Request struct {
			Object struct {
				Kind     string `json:"kind"`
				Metadata struct {
					Name      string `json:"name"`
					Namespace string `json:"namespace"`
				} `json:"metadata"`
			} `json:"object"`
		} `json:"request"`
	}
	if err := json.Unmarshal(raw, &review); err != nil {
		return "", "", ""
	}
	obj := review.Request.Object
	return obj.Kind, obj.Metadata.Namespace, obj.Metadata.Name
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
