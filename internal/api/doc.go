// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to launch a pipeline run or a distillation sweep.
//   - GET /v1/runs and /v1/runs/{run_id}/entries for progress reporting out of
//     the in-memory run registry.
package api
