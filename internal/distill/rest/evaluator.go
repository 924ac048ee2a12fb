package rest

import (
	"context"
	"fmt"

	"github.com/feedmill/feedmill/internal/ingest"
)

// Evaluator scores distilled entries. Callers treat it as best-effort.
type Evaluator struct {
	c *caller
}

// NewEvaluator builds a client against the evaluation service.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	c, err := newCaller(cfg)
	if err != nil {
		return nil, fmt.Errorf("evaluator: %w", err)
	}
	return &Evaluator{c: c}, nil
}

type evalRequest struct {
	EntryID string `json:"entry_id"`
	TraceID string `json:"trace_id"`
}

// Evaluate requests quality scores for one entry under the given trace ID.
func (e *Evaluator) Evaluate(ctx context.Context, entryID, traceID string) (ingest.EvalScores, error) {
	var scores ingest.EvalScores
	if err := e.c.postJSON(ctx, "/v1/evaluate", evalRequest{EntryID: entryID, TraceID: traceID}, &scores); err != nil {
		return ingest.EvalScores{}, fmt.Errorf("evaluate entry %s: %w", entryID, err)
	}
	if scores.EntryID == "" {
		scores.EntryID = entryID
	}
	if scores.TraceID == "" {
		scores.TraceID = traceID
	}
	return scores, nil
}
