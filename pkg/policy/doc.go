// Package policy implements the mlgate policy decision engine: a rule
// registry loaded once at startup, a fixed set of composable checker
// functions parameterized by policy data, and a decision aggregator that
// reduces violations to an allow/deny/warn verdict per enforcement level.
//
// Policies are declarative. A policy names an enforcement level
// (advisory, soft-mandatory, hard-mandatory), an optional kind/namespace
// scope, and a list of checks. Checks are pure functions of the evaluation
// context; evaluation performs no I/O and is safe to run concurrently
// against a shared registry.
package policy
