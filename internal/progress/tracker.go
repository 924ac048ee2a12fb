package progress

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBadTransition is returned when a write would move an entry backward.
var ErrBadTransition = errors.New("non-monotonic entry transition")

// ErrUnknownEntry is returned when a transition targets an untracked entry.
var ErrUnknownEntry = errors.New("unknown entry")

// RunNode is the snapshot view of one run in the tree.
type RunNode struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	Label     string    `json:"label,omitempty"`
	Status    RunStatus `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryTask is the snapshot view of one entry moving through the pipeline.
type EntryTask struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Stage     string     `json:"stage,omitempty"`
	State     EntryState `json:"state"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Snapshot is a serializable, point-in-time view of a run tree and every
// entry task it is responsible for.
type Snapshot struct {
	RootRunID string             `json:"root_run_id"`
	Status    RunStatus          `json:"status"`
	Message   string             `json:"message,omitempty"`
	Error     string             `json:"error,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Version   uint64             `json:"version"`
	Runs      []RunNode          `json:"runs"`
	Entries   []EntryTask        `json:"entries"`
	Counts    map[EntryState]int `json:"counts"`
}

// Tracker is the progress store for one pipeline run tree. Orchestrators are
// the only writers; Snapshot may be called concurrently from any goroutine
// and serves a cached view unless the tree changed since the last read.
type Tracker struct {
	rootID  string
	emitter Emitter
	now     func() time.Time

	mu         sync.Mutex
	runs       map[string]*RunNode
	runOrder   []string
	entries    map[string]*EntryTask
	entryOrder []string
	counts     map[EntryState]int
	updatedAt  time.Time

	version atomic.Uint64
	snap    atomic.Pointer[Snapshot]
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithEmitter wires transition events into an emitter such as the Hub.
func WithEmitter(e Emitter) Option {
	return func(t *Tracker) { t.emitter = e }
}

// WithNow overrides the clock, mainly for tests.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker with the given root run already running.
func NewTracker(rootID, name, label string, opts ...Option) *Tracker {
	t := &Tracker{
		rootID:  rootID,
		now:     func() time.Time { return time.Now().UTC() },
		runs:    make(map[string]*RunNode),
		entries: make(map[string]*EntryTask),
		counts:  make(map[EntryState]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	now := t.now()
	t.runs[rootID] = &RunNode{
		ID:        rootID,
		Name:      name,
		Label:     label,
		Status:    RunRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	t.runOrder = append(t.runOrder, rootID)
	t.updatedAt = now
	t.version.Store(1)
	return t
}

// RootRunID returns the identifier of the tree's root run.
func (t *Tracker) RootRunID() string { return t.rootID }

// StartRun records a child run as running. Re-recording an existing run is a
// no-op so retried launches stay idempotent.
func (t *Tracker) StartRun(id, parentID, name, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.runs[id]; exists {
		return
	}
	now := t.now()
	t.runs[id] = &RunNode{
		ID:        id,
		ParentID:  parentID,
		Name:      name,
		Label:     label,
		Status:    RunRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	t.runOrder = append(t.runOrder, id)
	t.bumpLocked(now)
	t.emitLocked(Event{Kind: KindRunStart, RunID: id, Run: name, State: string(RunRunning)})
}

// CompleteRun marks a run completed with an optional message.
func (t *Tracker) CompleteRun(id, message string) {
	t.finishRun(id, RunCompleted, message, "")
}

// FailRun marks a run failed with the given reason.
func (t *Tracker) FailRun(id, reason string) {
	t.finishRun(id, RunError, "", reason)
}

func (t *Tracker) finishRun(id string, status RunStatus, message, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[id]
	if !ok || run.Status != RunRunning {
		return
	}
	now := t.now()
	run.Status = status
	run.Message = message
	run.Error = reason
	run.UpdatedAt = now
	t.bumpLocked(now)
	kind := KindRunDone
	if status == RunError {
		kind = KindRunError
	}
	t.emitLocked(Event{Kind: kind, RunID: id, Run: run.Name, State: string(status), Note: reason})
}

// Track registers an entry as pending under the given stage. Tracking an
// already-known entry is a no-op.
func (t *Tracker) Track(runID, entryID, title, stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[entryID]; exists {
		return
	}
	now := t.now()
	t.entries[entryID] = &EntryTask{
		ID:        entryID,
		Title:     title,
		Stage:     stage,
		State:     EntryPending,
		UpdatedAt: now,
	}
	t.entryOrder = append(t.entryOrder, entryID)
	t.counts[EntryPending]++
	t.bumpLocked(now)
	t.emitLocked(Event{Kind: KindEntry, RunID: runID, EntryID: entryID, Stage: stage, State: string(EntryPending)})
}

// Transition moves an entry to the next state under the owning stage. It
// enforces the monotonic state machine and reports violations as errors so
// mis-ordered writes surface instead of silently rewinding progress.
func (t *Tracker) Transition(runID, entryID, stage string, state EntryState, note string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[entryID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, entryID)
	}
	if !entry.State.CanTransition(state) {
		return fmt.Errorf("%w: %s %s -> %s", ErrBadTransition, entryID, entry.State, state)
	}
	now := t.now()
	if entry.State != state {
		t.counts[entry.State]--
		t.counts[state]++
	}
	entry.State = state
	entry.Stage = stage
	entry.Error = note
	entry.UpdatedAt = now
	t.bumpLocked(now)
	t.emitLocked(Event{Kind: KindEntry, RunID: runID, EntryID: entryID, Stage: stage, State: string(state), Note: note})
	return nil
}

// Complete marks the root run completed.
func (t *Tracker) Complete(message string) {
	t.finishRun(t.rootID, RunCompleted, message, "")
}

// Fail marks every still-in-flight entry and still-running run as failed and
// then fails the root. Callers invoke it before propagating a run failure so
// observers always see a terminal, explained state.
func (t *Tracker) Fail(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, id := range t.entryOrder {
		entry := t.entries[id]
		if entry.State.Terminal() {
			continue
		}
		t.counts[entry.State]--
		t.counts[EntryError]++
		entry.State = EntryError
		entry.Error = reason
		entry.UpdatedAt = now
	}
	for _, id := range t.runOrder {
		run := t.runs[id]
		if run.Status != RunRunning {
			continue
		}
		run.Status = RunError
		run.Error = reason
		run.UpdatedAt = now
	}
	t.bumpLocked(now)
	t.emitLocked(Event{Kind: KindRunFailed, RunID: t.rootID, State: string(RunError), Note: reason})
}

// Snapshot returns the current view of the run tree. The fast path serves a
// cached copy; a rebuild happens only after a write.
func (t *Tracker) Snapshot() Snapshot {
	if cached := t.snap.Load(); cached != nil && cached.Version == t.version.Load() {
		return *cached
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.buildLocked()
	t.snap.Store(&snap)
	return snap
}

func (t *Tracker) buildLocked() Snapshot {
	root := t.runs[t.rootID]
	snap := Snapshot{
		RootRunID: t.rootID,
		Status:    root.Status,
		Message:   root.Message,
		Error:     root.Error,
		StartedAt: root.StartedAt,
		UpdatedAt: t.updatedAt,
		Version:   t.version.Load(),
		Runs:      make([]RunNode, 0, len(t.runOrder)),
		Entries:   make([]EntryTask, 0, len(t.entryOrder)),
		Counts:    t.copyCountsLocked(),
	}
	for _, id := range t.runOrder {
		snap.Runs = append(snap.Runs, *t.runs[id])
	}
	for _, id := range t.entryOrder {
		snap.Entries = append(snap.Entries, *t.entries[id])
	}
	return snap
}

func (t *Tracker) bumpLocked(now time.Time) {
	t.updatedAt = now
	t.version.Add(1)
}

func (t *Tracker) copyCountsLocked() map[EntryState]int {
	out := make(map[EntryState]int, len(t.counts))
	for state, n := range t.counts {
		if n != 0 {
			out[state] = n
		}
	}
	return out
}

func (t *Tracker) emitLocked(evt Event) {
	if t.emitter == nil {
		return
	}
	evt.RootRunID = t.rootID
	evt.TS = t.updatedAt
	evt.Version = t.version.Load()
	evt.Counts = t.copyCountsLocked()
	t.emitter.Emit(evt)
}
