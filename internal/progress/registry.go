package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry indexes live and recently finished trackers by root run ID so the
// API can serve snapshot queries for any run in the process.
type Registry struct {
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	trackers map[string]*Tracker
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		trackers: make(map[string]*Tracker),
	}
}

// Add registers a tracker under its root run ID.
func (r *Registry) Add(t *Tracker) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[t.RootRunID()] = t
}

// Get returns the tracker for a root run ID.
func (r *Registry) Get(rootRunID string) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[rootRunID]
	return t, ok
}

// List returns a snapshot per known run, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(trackers))
	for _, t := range trackers {
		snaps = append(snaps, t.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].StartedAt.After(snaps[j].StartedAt)
	})
	return snaps
}

// Prune drops finished runs whose last update is older than retention.
// It returns the number of runs removed.
func (r *Registry) Prune(retention time.Duration) int {
	cutoff := r.now().Add(-retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, t := range r.trackers {
		snap := t.Snapshot()
		if snap.Status == RunRunning {
			continue
		}
		if snap.UpdatedAt.Before(cutoff) {
			delete(r.trackers, id)
			removed++
		}
	}
	return removed
}

// PruneLoop prunes at the given interval until ctx ends.
func (r *Registry) PruneLoop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.Prune(retention); removed > 0 {
				r.logger.Debug("pruned finished runs", zap.Int("removed", removed))
			}
		}
	}
}
