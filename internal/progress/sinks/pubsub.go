package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/ingest"
	"github.com/feedmill/feedmill/internal/progress"
)

// NotifySink pushes run summaries to an external notification topic. Within
// one batch it coalesces events per root run, publishing only the newest, so
// a burst of entry transitions costs one message.
type NotifySink struct {
	publisher ingest.Publisher
	topic     string
	logger    *zap.Logger
}

// RunSummary is the payload published for each run that saw transitions.
type RunSummary struct {
	RootRunID string                      `json:"root_run_id"`
	Status    string                      `json:"status"`
	Note      string                      `json:"note,omitempty"`
	Counts    map[progress.EntryState]int `json:"counts,omitempty"`
	Version   uint64                      `json:"version"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// NewNotifySink constructs a NotifySink for the provided publisher and topic.
func NewNotifySink(publisher ingest.Publisher, topic string, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes the newest summary per root run in the batch.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	latest := make(map[string]progress.Event, 1)
	for _, evt := range batch {
		if cur, ok := latest[evt.RootRunID]; !ok || evt.Version > cur.Version {
			latest[evt.RootRunID] = evt
		}
	}
	for _, evt := range latest {
		summary := RunSummary{
			RootRunID: evt.RootRunID,
			Status:    evt.State,
			Note:      evt.Note,
			Counts:    evt.Counts,
			Version:   evt.Version,
			UpdatedAt: evt.TS,
		}
		if _, err := s.publisher.Publish(ctx, s.topic, summary); err != nil {
			return fmt.Errorf("publish run summary: %w", err)
		}
		s.logger.Debug("run summary pushed",
			zap.String("root_run_id", evt.RootRunID), zap.Uint64("version", evt.Version))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *NotifySink) Close(context.Context) error {
	return nil
}
