// Package main hosts the feedmill service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and run management endpoints. POST /v1/runs launches a
//     detached pipeline run (or a distillation sweep) and returns its root run ID; GET /v1/runs and
//     /v1/runs/{run_id}/entries read progress out of the in-memory run registry.
//   - Run engine: internal/engine provides the structured-concurrency runtime. The coordinator fans feeds out in
//     bounded groups, each feed spawns a fetch scheduler, and each scheduler spawns one child run per origin host so
//     fetches against a single site stay strictly sequential while distinct sites proceed in parallel.
//   - Ingestion: feeds are crawled with gofeed (honoring ETag/Last-Modified validators), new entries are inserted
//     idempotently under deterministic IDs, and article content is fetched with the Colly-based fetcher under a
//     per-host rate limit. Raw documents are archived to the configured BlobStore (memory/local/GCS).
//   - Distillation & fanout: fetched entries are batched and handed to the distiller service in detached runs;
//     distilled entries optionally flow on to the embedder, search indexer, knowledge graph, and evaluator clients.
//     Detached runs outlive the pipeline run that spawned them and are bounded only by the run timeout.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; progress events are buffered by the hub
//     and fanned out to the log, Prometheus, and optional Pub/Sub sinks.
//
// Operational notes:
//   - Concurrency model: feed groups run MaxConcurrentFeeds at a time; hosts within a feed run in parallel while
//     entries within a host run sequentially under the domain delay. Shutdown is coordinated via context
//     cancellation; detached runs are drained within the shutdown budget and abandoned past it.
//   - Rate limiting/backoff: a per-host limiter spaces fetches by pipeline.domain_delay_ms. Transient task failures
//     retry per tasks.max_attempts with tasks.retry_interval_ms between attempts.
//   - Observability: zap logs carry run IDs and feed IDs at key transitions; Prometheus counters/histograms track
//     feeds, fetches, batches, and HTTP activity; the run registry keeps finished runs queryable for
//     progress.retention_minutes. An OpenTelemetry trace provider is installed but no exporter is attached.
//   - Cloud Run: the HTTP server listens on the configured port. Health endpoints (/healthz, /readyz) remain
//     lightweight; the process reacts to SIGTERM for graceful drain of in-flight runs.
//
// Quick checklist:
//   - Configure env vars: FEEDMILL_SERVER_PORT, FEEDMILL_STORE_PROVIDER (memory/postgres) plus FEEDMILL_STORE_DSN,
//     FEEDMILL_BLOB_PROVIDER (memory/local/gcs), FEEDMILL_SERVICES_DISTILLER_URL (required), and the optional
//     embedder/evaluator/search/graph URLs and Pub/Sub settings.
//   - Run locally: go run ./cmd/feedmilld -config config.yaml (or rely solely on env overrides).
//   - Kick off a run: curl -X POST localhost:8080/v1/runs, then poll /v1/runs/{run_id} for the run tree.
package main
