// Package engine provides the run and task primitives the pipeline
// orchestrators are built on: awaitable child runs drained in completion
// order, detached fire-and-forget runs, task invocations with bounded retry
// and liveness heartbeats, and deterministic run identifier derivation so a
// retried launch collapses onto the same logical child.
package engine
