// Package sinks provides progress.Sink implementations: structured logs for
// debugging, Prometheus collectors for scraping, and a Pub/Sub notifier that
// pushes coalesced run summaries to external observers.
package sinks
