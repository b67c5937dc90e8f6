// Package observe provides the logging, metrics and tracing primitives shared by
// the storage, pool, cache and resilience packages.
//
// It is a pure instrumentation library. Components accept a Logger and an
// *Instruments value in their configuration and fall back to no-ops when none
// is given, so telemetry is never on the success/failure path of an operation.
package observe
