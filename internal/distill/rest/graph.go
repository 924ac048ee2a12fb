package rest

import (
	"context"
	"fmt"

	"github.com/feedmill/feedmill/internal/ingest"
)

// GraphWriter adds distilled entries to the knowledge graph.
type GraphWriter struct {
	c *caller
}

// NewGraphWriter builds a client against the graph service.
func NewGraphWriter(cfg Config) (*GraphWriter, error) {
	c, err := newCaller(cfg)
	if err != nil {
		return nil, fmt.Errorf("graph writer: %w", err)
	}
	return &GraphWriter{c: c}, nil
}

type graphRequest struct {
	Documents []ingest.DistillOutput `json:"documents"`
}

// AddToGraph writes distilled documents to the graph service. Failures of
// individual documents are reported in the stats, not as an error.
func (g *GraphWriter) AddToGraph(ctx context.Context, docs []ingest.DistillOutput) (ingest.GraphStats, error) {
	if len(docs) == 0 {
		return ingest.GraphStats{}, nil
	}
	var stats ingest.GraphStats
	if err := g.c.postJSON(ctx, "/v1/graph", graphRequest{Documents: docs}, &stats); err != nil {
		return ingest.GraphStats{}, fmt.Errorf("write graph: %w", err)
	}
	return stats, nil
}
