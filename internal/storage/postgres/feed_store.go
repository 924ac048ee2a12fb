package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feedmill/feedmill/internal/ingest"
)

const listFeedsQuery = `
SELECT id, title, url, fetch_content, active, etag, last_modified, checked_at
FROM feeds
WHERE active
ORDER BY id`

const feedOptionsQuery = `
SELECT fetch_limit, COALESCE(rules, '{}'::jsonb)
FROM feeds
WHERE id = $1`

const updateCacheInfoQuery = `
UPDATE feeds
SET etag = $2, last_modified = $3, checked_at = $4
WHERE id = $1`

// FeedStore reads feeds and writes back crawl cache-validators.
type FeedStore struct {
	pool dbPool
}

// NewFeedStore wraps an existing connection pool.
func NewFeedStore(pool *pgxpool.Pool) *FeedStore {
	return &FeedStore{pool: pool}
}

// NewFeedStoreWithPool accepts any pool implementation, primarily for tests.
func NewFeedStoreWithPool(pool dbPool) (*FeedStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &FeedStore{pool: pool}, nil
}

// ListFeeds returns every active feed ordered by ID.
func (s *FeedStore) ListFeeds(ctx context.Context) ([]ingest.Feed, error) {
	rows, err := s.pool.Query(ctx, listFeedsQuery)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []ingest.Feed
	for rows.Next() {
		var (
			f       ingest.Feed
			checked *time.Time
		)
		if err := rows.Scan(&f.ID, &f.Title, &f.URL, &f.FetchContent, &f.Active,
			&f.ETag, &f.LastModified, &checked); err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		if checked != nil {
			f.CheckedAt = *checked
		}
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feeds: %w", err)
	}
	return feeds, nil
}

// FeedOptions loads per-feed tuning. The rules column holds extraction
// selectors as JSON.
func (s *FeedStore) FeedOptions(ctx context.Context, feedID string) (ingest.FeedOptions, error) {
	var (
		opts  ingest.FeedOptions
		rules []byte
	)
	err := s.pool.QueryRow(ctx, feedOptionsQuery, feedID).Scan(&opts.FetchLimit, &rules)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.FeedOptions{}, fmt.Errorf("%w: %s", ingest.ErrFeedNotFound, feedID)
	}
	if err != nil {
		return ingest.FeedOptions{}, fmt.Errorf("load feed options: %w", err)
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &opts.Rules); err != nil {
			return ingest.FeedOptions{}, fmt.Errorf("decode feed rules: %w", err)
		}
	}
	return opts, nil
}

// UpdateCacheInfo stores the validators returned by the last crawl.
func (s *FeedStore) UpdateCacheInfo(ctx context.Context, feedID, etag, lastModified string, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, updateCacheInfoQuery, feedID, etag, lastModified, checkedAt)
	if err != nil {
		return fmt.Errorf("update feed cache info: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ingest.ErrFeedNotFound, feedID)
	}
	return nil
}
