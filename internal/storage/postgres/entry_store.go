package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feedmill/feedmill/internal/ingest"
)

const insertEntryQuery = `
INSERT INTO entries (id, feed_id, title, url, guid, media, published_at, inline_content, thumbnail, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (feed_id, guid) DO NOTHING`

const saveContentQuery = `
UPDATE entries
SET content = $2, raw_uri = $3, fetched_at = $4
WHERE id = $1`

const entryColumns = `
SELECT id, feed_id, title, url, guid, media, published_at, inline_content,
       content, raw_uri, thumbnail, summary, created_at, fetched_at, distilled_at
FROM entries`

const selectEntriesQuery = entryColumns + `
WHERE id = ANY($1)
ORDER BY created_at, id`

const listUndistilledQuery = entryColumns + `
WHERE distilled_at IS NULL AND (content <> '' OR inline_content <> '')
ORDER BY created_at, id
LIMIT NULLIF($1, 0)`

const saveDistillationQuery = `
UPDATE entries
SET summary = $2,
    content = CASE WHEN $3 <> '' THEN $3 ELSE content END,
    distilled_at = $4
WHERE id = $1`

// EntryStore persists entries and the artifacts each pipeline stage attaches
// to them.
type EntryStore struct {
	pool dbPool
	now  func() time.Time
}

// NewEntryStore wraps an existing connection pool.
func NewEntryStore(pool *pgxpool.Pool) *EntryStore {
	return &EntryStore{pool: pool, now: time.Now}
}

// NewEntryStoreWithPool accepts any pool implementation, primarily for tests.
func NewEntryStoreWithPool(pool dbPool) (*EntryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &EntryStore{pool: pool, now: time.Now}, nil
}

// WithNow overrides the timestamp source.
func (s *EntryStore) WithNow(now func() time.Time) *EntryStore {
	s.now = now
	return s
}

// InsertEntries writes new entries and reports how many were actually
// created. Entries whose (feed, guid) pair already exists are left untouched.
func (s *EntryStore) InsertEntries(ctx context.Context, entries []ingest.Entry) (int, error) {
	created := 0
	for _, e := range entries {
		var published *time.Time
		if !e.Published.IsZero() {
			p := e.Published
			published = &p
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.now()
		}
		tag, err := s.pool.Exec(ctx, insertEntryQuery,
			e.ID, e.FeedID, e.Title, e.URL, e.GUID, string(e.Media),
			published, e.Inline, e.Thumbnail, createdAt)
		if err != nil {
			return created, fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

// SaveContent attaches fetched content and its raw-artifact URI to an entry.
func (s *EntryStore) SaveContent(ctx context.Context, entryID, content, rawURI string) error {
	tag, err := s.pool.Exec(ctx, saveContentQuery, entryID, content, rawURI, s.now())
	if err != nil {
		return fmt.Errorf("save content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ingest.ErrEntryNotFound, entryID)
	}
	return nil
}

// Entries loads the given entries in creation order. Unknown IDs are silently
// absent from the result.
func (s *EntryStore) Entries(ctx context.Context, ids []string) ([]ingest.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, selectEntriesQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListUndistilled returns entries that have content but no distillation yet,
// oldest first. A limit of zero means no cap.
func (s *EntryStore) ListUndistilled(ctx context.Context, limit int) ([]ingest.Entry, error) {
	if limit < 0 {
		limit = 0
	}
	rows, err := s.pool.Query(ctx, listUndistilledQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("list undistilled: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// SaveDistillation stores the distiller's summary, replaces the entry content
// with the filtered version when one was produced, and stamps the entry
// distilled.
func (s *EntryStore) SaveDistillation(ctx context.Context, out ingest.DistillOutput) error {
	tag, err := s.pool.Exec(ctx, saveDistillationQuery,
		out.EntryID, out.Summary, out.FilteredContent, s.now())
	if err != nil {
		return fmt.Errorf("save distillation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ingest.ErrEntryNotFound, out.EntryID)
	}
	return nil
}

func collectEntries(rows pgx.Rows) ([]ingest.Entry, error) {
	var entries []ingest.Entry
	for rows.Next() {
		var (
			e         ingest.Entry
			media     string
			published *time.Time
		)
		if err := rows.Scan(&e.ID, &e.FeedID, &e.Title, &e.URL, &e.GUID, &media,
			&published, &e.Inline, &e.Content, &e.RawURI, &e.Thumbnail, &e.Summary,
			&e.CreatedAt, &e.FetchedAt, &e.DistilledAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Media = ingest.MediaKind(media)
		if published != nil {
			e.Published = *published
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
