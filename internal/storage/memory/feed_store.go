package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feedmill/feedmill/internal/ingest"
)

// FeedStore is an in-memory FeedDirectory.
type FeedStore struct {
	mu      sync.RWMutex
	feeds   map[string]ingest.Feed
	options map[string]ingest.FeedOptions
}

// NewFeedStore constructs an empty FeedStore.
func NewFeedStore() *FeedStore {
	return &FeedStore{
		feeds:   make(map[string]ingest.Feed),
		options: make(map[string]ingest.FeedOptions),
	}
}

// AddFeed registers a feed together with its per-feed options.
func (s *FeedStore) AddFeed(feed ingest.Feed, opts ingest.FeedOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[feed.ID] = feed
	s.options[feed.ID] = opts
}

// ListFeeds returns active feeds sorted by ID.
func (s *FeedStore) ListFeeds(_ context.Context) ([]ingest.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		if f.Active {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FeedOptions returns the tuning for one feed.
func (s *FeedStore) FeedOptions(_ context.Context, feedID string) (ingest.FeedOptions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.feeds[feedID]; !ok {
		return ingest.FeedOptions{}, fmt.Errorf("%w: %s", ingest.ErrFeedNotFound, feedID)
	}
	return s.options[feedID], nil
}

// UpdateCacheInfo stores the validators returned by the last crawl.
func (s *FeedStore) UpdateCacheInfo(_ context.Context, feedID, etag, lastModified string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[feedID]
	if !ok {
		return fmt.Errorf("%w: %s", ingest.ErrFeedNotFound, feedID)
	}
	feed.ETag = etag
	feed.LastModified = lastModified
	feed.CheckedAt = checkedAt
	s.feeds[feedID] = feed
	return nil
}

// Feed returns one feed by ID.
func (s *FeedStore) Feed(id string) (ingest.Feed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.feeds[id]
	return f, ok
}
