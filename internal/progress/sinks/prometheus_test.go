package sinks

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/feedmill/feedmill/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and the running gauge are
// driven by consumed events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{Kind: progress.KindRunStart, RunID: "run-1", Run: "feed_run", State: "running"},
		{Kind: progress.KindEntry, RunID: "run-1", EntryID: "e1", Stage: "fetch", State: "fetching"},
		{Kind: progress.KindEntry, RunID: "run-1", EntryID: "e1", Stage: "fetch", State: "fetched"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("feed_run")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.transitions.WithLabelValues("fetch", "fetching")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.transitions.WithLabelValues("fetch", "fetched")))

	done := []progress.Event{
		{Kind: progress.KindRunDone, RunID: "run-1", Run: "feed_run", State: "completed"},
	}
	require.NoError(t, sink.Consume(context.Background(), done))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("feed_run", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("feed_run", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
}

// TestPrometheusSinkRunningGaugeDedupes ensures repeated start events for the
// same run move the gauge once and completion settles it to zero.
func TestPrometheusSinkRunningGaugeDedupes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{Kind: progress.KindRunStart, RunID: "run-1", Run: "domain_fetch", State: "running"},
		{Kind: progress.KindRunStart, RunID: "run-1", Run: "domain_fetch", State: "running"},
		{Kind: progress.KindRunError, RunID: "run-1", Run: "domain_fetch", State: "error"},
		{Kind: progress.KindRunError, RunID: "run-1", Run: "domain_fetch", State: "error"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("domain_fetch")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("domain_fetch", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
}

// TestPrometheusSinkUnlabeledEvents ensures events without run or stage names
// fall back to the unknown label instead of panicking.
func TestPrometheusSinkUnlabeledEvents(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	batch := []progress.Event{
		{Kind: progress.KindRunStart, RunID: "run-9", State: "running"},
		{Kind: progress.KindEntry, RunID: "run-9", EntryID: "e1", State: "pending"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("unknown")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.transitions.WithLabelValues("unknown", "pending")))
}
