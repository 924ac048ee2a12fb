// Package progress provides the run/entry state machine, the per-run tracker
// with its queryable snapshot, the non-blocking hub that batches transition
// events on a background goroutine, and the registry the API reads live runs
// from. Sinks such as Prometheus metrics or Pub/Sub notifications plug into
// the hub.
package progress
