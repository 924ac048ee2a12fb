// Package ingest defines core types shared across pipeline subsystems.
package ingest

import (
	"time"
)

// MediaKind classifies the primary media of a feed entry.
type MediaKind string

// Media kinds recognized by the fetch policy.
const (
	MediaArticle MediaKind = "article"
	MediaAudio   MediaKind = "audio"
	MediaVideo   MediaKind = "video"
)

// Fetchable reports whether full content should be retrieved for this kind.
// Audio and video entries carry their payload out of band and are skipped.
func (m MediaKind) Fetchable() bool {
	return m == MediaArticle || m == ""
}

// Feed describes one external content source.
type Feed struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	FetchContent bool      `json:"fetch_content"`
	Active       bool      `json:"active"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	CheckedAt    time.Time `json:"checked_at,omitempty"`
}

// FeedOptions carries per-feed tuning read fresh at the start of each run.
type FeedOptions struct {
	FetchLimit int             `json:"fetch_limit"`
	Rules      ExtractionRules `json:"rules"`
}

// ExtractionRules selects the content-bearing parts of a fetched document.
type ExtractionRules struct {
	TitleSelector    string   `json:"title_selector,omitempty"`
	BodySelector     string   `json:"body_selector,omitempty"`
	ExcludeSelectors []string `json:"exclude_selectors,omitempty"`
}

// Entry is the persisted record for one content item.
type Entry struct {
	ID          string     `json:"id"`
	FeedID      string     `json:"feed_id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	GUID        string     `json:"guid"`
	Media       MediaKind  `json:"media"`
	Published   time.Time  `json:"published_at,omitempty"`
	Inline      string     `json:"inline,omitempty"`
	Content     string     `json:"content,omitempty"`
	RawURI      string     `json:"raw_uri,omitempty"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	FetchedAt   *time.Time `json:"fetched_at,omitempty"`
	DistilledAt *time.Time `json:"distilled_at,omitempty"`
}

// CrawlRequest asks for the current state of a feed document.
type CrawlRequest struct {
	URL          string
	ETag         string
	LastModified string
	Limit        int
}

// CrawlResult is returned by a FeedCrawler implementation.
type CrawlResult struct {
	NotModified  bool
	Items        []FeedItem
	ETag         string
	LastModified string
}

// FeedItem is one item parsed out of a feed document.
type FeedItem struct {
	Title     string
	URL       string
	GUID      string
	Media     MediaKind
	Published time.Time
	Inline    string
	Thumbnail string
}

// ContentRequest captures everything needed to fetch one entry's document.
type ContentRequest struct {
	URL   string
	Rules ExtractionRules
}

// ContentResult is the result returned by a ContentFetcher implementation.
type ContentResult struct {
	Content    string
	Title      string
	Raw        []byte
	Thumbnail  string
	StatusCode int
	Duration   time.Duration
}

// DistillInput is one entry handed to the distillation service.
type DistillInput struct {
	EntryID string `json:"entry_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// DistillOutput is the distillation service's result for one entry. An empty
// Summary marks the entry as filtered out rather than failed wholesale.
type DistillOutput struct {
	EntryID         string `json:"entry_id"`
	Summary         string `json:"summary"`
	FilteredContent string `json:"filtered_content"`
}

// EmbedCounts reports how many embeddings a computation pass produced.
type EmbedCounts struct {
	Computed int `json:"computed"`
	Failed   int `json:"failed"`
}

// EvalScores is the best-effort quality verdict for one distilled entry.
type EvalScores struct {
	EntryID string             `json:"entry_id"`
	TraceID string             `json:"trace_id"`
	Scores  map[string]float64 `json:"scores,omitempty"`
}

// GraphStats reports per-entry outcomes of a knowledge-graph write.
type GraphStats struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// PipelineStatus is the terminal status of a whole pipeline run.
type PipelineStatus string

// Pipeline run outcomes.
const (
	PipelineCompleted PipelineStatus = "completed"
	PipelineNoFeeds   PipelineStatus = "no_feeds"
	PipelineError     PipelineStatus = "error"
)

// FeedStatus is the terminal status of one feed's ingestion run.
type FeedStatus string

// Feed run outcomes.
const (
	FeedCompleted FeedStatus = "completed"
	FeedSkipped   FeedStatus = "skipped"
	FeedError     FeedStatus = "error"
)

// AggregateResult summarizes a whole pipeline run across all feeds.
type AggregateResult struct {
	RunID            string         `json:"run_id"`
	Status           PipelineStatus `json:"status"`
	FeedsProcessed   int            `json:"feeds_processed"`
	FeedsSkipped     int            `json:"feeds_skipped"`
	FeedsFailed      int            `json:"feeds_failed"`
	EntriesCreated   int            `json:"entries_created"`
	ContentsFetched  int            `json:"contents_fetched"`
	EntriesDistilled int            `json:"entries_distilled"`
}

// FeedResult summarizes one feed's ingestion run.
type FeedResult struct {
	FeedID           string     `json:"feed_id"`
	Status           FeedStatus `json:"status"`
	EntriesCreated   int        `json:"entries_created"`
	ContentsFetched  int        `json:"contents_fetched"`
	FetchFailed      int        `json:"fetch_failed"`
	EntriesSkipped   int        `json:"entries_skipped"`
	EntriesDistilled int        `json:"entries_distilled"`
	Error            string     `json:"error,omitempty"`
}

// ScheduleResult summarizes one fetch-scheduling run. Distillation counts are
// absent: batches are dispatched detached and only their number is tracked.
type ScheduleResult struct {
	Fetched           int      `json:"fetched"`
	Failed            int      `json:"failed"`
	Skipped           int      `json:"skipped"`
	FetchedIDs        []string `json:"fetched_ids"`
	BatchesDispatched int      `json:"batches_dispatched"`
}

// DomainResult summarizes one host's sequential fetch run.
type DomainResult struct {
	Domain     string   `json:"domain"`
	Fetched    int      `json:"fetched"`
	Failed     int      `json:"failed"`
	FetchedIDs []string `json:"fetched_ids"`
}

// DistillationStatus is the terminal status of one distillation run.
type DistillationStatus string

// Distillation run outcomes.
const (
	DistillationCompleted DistillationStatus = "completed"
	DistillationNoEntries DistillationStatus = "no_entries"
)

// DistillationResult summarizes one batch distillation run.
type DistillationResult struct {
	Status    DistillationStatus `json:"status"`
	Distilled int                `json:"distilled"`
	Failed    int                `json:"failed"`
	Embedded  int                `json:"embedded"`
	Indexed   int                `json:"indexed"`
	Graph     GraphStats         `json:"graph"`
	Evaluated int                `json:"evaluated"`
}
