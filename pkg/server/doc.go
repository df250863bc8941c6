// Package server exposes the policy engine over HTTP: a Terraform plan
// gate, a Kubernetes admission webhook endpoint, policy introspection,
// and health probes. Decisions are recorded to metrics, traces, events,
// and the audit log at this layer; the engine itself stays side-effect
// free so library consumers get pure evaluation.
package server
