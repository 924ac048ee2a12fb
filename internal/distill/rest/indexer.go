package rest

import (
	"context"
	"fmt"

	"github.com/feedmill/feedmill/internal/ingest"
)

// SearchIndexer makes distilled entries searchable.
type SearchIndexer struct {
	c *caller
}

// NewSearchIndexer builds a client against the search service.
func NewSearchIndexer(cfg Config) (*SearchIndexer, error) {
	c, err := newCaller(cfg)
	if err != nil {
		return nil, fmt.Errorf("search indexer: %w", err)
	}
	return &SearchIndexer{c: c}, nil
}

type indexRequest struct {
	Documents []ingest.DistillOutput `json:"documents"`
}

// IndexEntries submits distilled documents to the search index.
func (s *SearchIndexer) IndexEntries(ctx context.Context, docs []ingest.DistillOutput) error {
	if len(docs) == 0 {
		return nil
	}
	if err := s.c.postJSON(ctx, "/v1/index", indexRequest{Documents: docs}, nil); err != nil {
		return fmt.Errorf("index %d entries: %w", len(docs), err)
	}
	return nil
}
