// Package subject normalizes incoming resource descriptions into the
// uniform evaluation context consumed by the policy engine. It accepts
// Terraform planned resource changes and Kubernetes admission reviews and
// produces an immutable attribute bag (kind, namespace, labels, annotations,
// tags, spec fields). Building a context is a pure function: the same raw
// input always yields an equal context.
package subject
