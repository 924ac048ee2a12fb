package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/feedmill/feedmill/internal/ingest"
)

// EntryStore is an in-memory EntryStore. Entry IDs are derived from the feed
// and GUID upstream, so deduplication by ID matches the database's conflict
// target.
type EntryStore struct {
	mu      sync.RWMutex
	entries map[string]ingest.Entry
	order   []string
	now     func() time.Time
}

// NewEntryStore constructs an empty EntryStore.
func NewEntryStore() *EntryStore {
	return &EntryStore{
		entries: make(map[string]ingest.Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// InsertEntries stores entries not seen before and returns the created count.
func (s *EntryStore) InsertEntries(_ context.Context, entries []ingest.Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, e := range entries {
		if _, exists := s.entries[e.ID]; exists {
			continue
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.now()
		}
		s.entries[e.ID] = e
		s.order = append(s.order, e.ID)
		created++
	}
	return created, nil
}

// SaveContent records the fetched content and raw artifact URI for an entry.
func (s *EntryStore) SaveContent(_ context.Context, entryID, content, rawURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("%w: %s", ingest.ErrEntryNotFound, entryID)
	}
	e.Content = content
	e.RawURI = rawURI
	now := s.now()
	e.FetchedAt = &now
	s.entries[entryID] = e
	return nil
}

// Entries returns the stored entries for the given IDs, skipping unknown ones.
func (s *EntryStore) Entries(_ context.Context, ids []string) ([]ingest.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListUndistilled returns entries that have content but no distillation yet,
// oldest first.
func (s *EntryStore) ListUndistilled(_ context.Context, limit int) ([]ingest.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.Entry
	for _, id := range s.order {
		e := s.entries[id]
		if e.DistilledAt != nil {
			continue
		}
		if e.Content == "" && e.Inline == "" {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SaveDistillation records the distillation result for an entry.
func (s *EntryStore) SaveDistillation(_ context.Context, out ingest.DistillOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[out.EntryID]
	if !ok {
		return fmt.Errorf("%w: %s", ingest.ErrEntryNotFound, out.EntryID)
	}
	e.Summary = out.Summary
	if out.FilteredContent != "" {
		e.Content = out.FilteredContent
	}
	now := s.now()
	e.DistilledAt = &now
	s.entries[out.EntryID] = e
	return nil
}

// Entry returns one entry by ID.
func (s *EntryStore) Entry(id string) (ingest.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}
