package rest

import (
	"context"
	"fmt"

	"github.com/feedmill/feedmill/internal/ingest"
)

// Embedder asks the embedding service to compute vectors for distilled
// entries.
type Embedder struct {
	c *caller
}

// NewEmbedder builds a client against the embedding service.
func NewEmbedder(cfg Config) (*Embedder, error) {
	c, err := newCaller(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	return &Embedder{c: c}, nil
}

type embedRequest struct {
	EntryIDs []string `json:"entry_ids"`
}

// ComputeEmbeddings triggers embedding computation for the given entries and
// reports how many succeeded.
func (e *Embedder) ComputeEmbeddings(ctx context.Context, entryIDs []string) (ingest.EmbedCounts, error) {
	if len(entryIDs) == 0 {
		return ingest.EmbedCounts{}, nil
	}
	var counts ingest.EmbedCounts
	if err := e.c.postJSON(ctx, "/v1/embeddings", embedRequest{EntryIDs: entryIDs}, &counts); err != nil {
		return ingest.EmbedCounts{}, fmt.Errorf("compute embeddings: %w", err)
	}
	return counts, nil
}
