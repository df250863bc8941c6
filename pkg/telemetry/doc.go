// Package telemetry provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, and decision event publishing for mlgate.
// Evaluation itself performs no I/O; all instrumentation hangs off the
// serving and CLI boundaries.
package telemetry
