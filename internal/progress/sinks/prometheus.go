package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/feedmill/feedmill/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns
// the collectors for runs started/completed/running and per-state entry
// transitions.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	transitions   *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedmill_runs_started_total",
			Help: "Total runs started partitioned by run name.",
		}, []string{"run"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedmill_runs_completed_total",
			Help: "Total runs finished partitioned by run name and result.",
		}, []string{"run", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedmill_runs_running",
			Help: "Current number of running runs.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedmill_entry_transitions_total",
			Help: "Entry state transitions partitioned by stage and state.",
		}, []string{"stage", "state"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.transitions,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindRunStart:
		s.runsStarted.WithLabelValues(runLabel(evt)).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.KindRunDone:
		s.runsCompleted.WithLabelValues(runLabel(evt), "success").Inc()
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.KindRunError, progress.KindRunFailed:
		s.runsCompleted.WithLabelValues(runLabel(evt), "error").Inc()
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.KindEntry:
		stage := evt.Stage
		if stage == "" {
			stage = "unknown"
		}
		s.transitions.WithLabelValues(stage, evt.State).Inc()
	}
}

func runLabel(evt progress.Event) string {
	if evt.Run == "" {
		return "unknown"
	}
	return evt.Run
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
