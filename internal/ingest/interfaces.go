package ingest

import (
	"context"
	"time"
)

// FeedDirectory lists feeds and stores their crawl cache-validators.
type FeedDirectory interface {
	ListFeeds(ctx context.Context) ([]Feed, error)
	FeedOptions(ctx context.Context, feedID string) (FeedOptions, error)
	UpdateCacheInfo(ctx context.Context, feedID, etag, lastModified string, checkedAt time.Time) error
}

// FeedCrawler retrieves and parses a feed document, honoring cache-validators.
type FeedCrawler interface {
	Crawl(ctx context.Context, req CrawlRequest) (CrawlResult, error)
}

// ContentFetcher retrieves one entry's full document and extracts its content.
type ContentFetcher interface {
	FetchContent(ctx context.Context, req ContentRequest) (ContentResult, error)
}

// EntryStore persists entries and their pipeline artifacts.
type EntryStore interface {
	InsertEntries(ctx context.Context, entries []Entry) (int, error)
	SaveContent(ctx context.Context, entryID, content, rawURI string) error
	Entries(ctx context.Context, ids []string) ([]Entry, error)
	ListUndistilled(ctx context.Context, limit int) ([]Entry, error)
	SaveDistillation(ctx context.Context, out DistillOutput) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Distiller filters and summarizes a batch of entries.
type Distiller interface {
	Distill(ctx context.Context, inputs []DistillInput) ([]DistillOutput, error)
}

// Embedder computes vector embeddings for distilled entries.
type Embedder interface {
	ComputeEmbeddings(ctx context.Context, entryIDs []string) (EmbedCounts, error)
}

// Evaluator scores one distilled entry (best-effort).
type Evaluator interface {
	Evaluate(ctx context.Context, entryID, traceID string) (EvalScores, error)
}

// SearchIndexer makes distilled entries searchable.
type SearchIndexer interface {
	IndexEntries(ctx context.Context, docs []DistillOutput) error
}

// GraphWriter adds distilled entries to the knowledge graph.
type GraphWriter interface {
	AddToGraph(ctx context.Context, docs []DistillOutput) (GraphStats, error)
}

// Publisher pushes progress events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
