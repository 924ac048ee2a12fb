package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where no external observer is wired up.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("root_run_id", evt.RootRunID),
			zap.String("run_id", evt.RunID),
			zap.String("kind", string(evt.Kind)),
			zap.String("state", evt.State),
			zap.Uint64("version", evt.Version),
		}
		if evt.Run != "" {
			fields = append(fields, zap.String("run", evt.Run))
		}
		if evt.EntryID != "" {
			fields = append(fields, zap.String("entry_id", evt.EntryID), zap.String("stage", evt.Stage))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
