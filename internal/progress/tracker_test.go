package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestTrackerInitialSnapshot(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "nightly ingest")
	snap := tr.Snapshot()

	require.Equal(t, "root-1", snap.RootRunID)
	require.Equal(t, RunRunning, snap.Status)
	require.Len(t, snap.Runs, 1)
	require.Equal(t, "pipeline", snap.Runs[0].Name)
	require.Empty(t, snap.Entries)
}

func TestTrackerEntryLifecycle(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "")
	tr.Track("root-1", "e1", "first", "crawl")

	require.NoError(t, tr.Transition("root-1", "e1", "fetch", EntryFetching, ""))
	require.NoError(t, tr.Transition("root-1", "e1", "fetch", EntryFetched, ""))
	require.NoError(t, tr.Transition("root-1", "e1", "distill", EntryDistilling, ""))
	require.NoError(t, tr.Transition("root-1", "e1", "distill", EntryCompleted, ""))

	snap := tr.Snapshot()
	require.Len(t, snap.Entries, 1)
	require.Equal(t, EntryCompleted, snap.Entries[0].State)
	require.Equal(t, "distill", snap.Entries[0].Stage)
	require.Equal(t, map[EntryState]int{EntryCompleted: 1}, snap.Counts)
}

func TestTrackerRejectsBackwardTransition(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "")
	tr.Track("root-1", "e1", "", "crawl")
	require.NoError(t, tr.Transition("root-1", "e1", "fetch", EntryFetched, ""))

	err := tr.Transition("root-1", "e1", "fetch", EntryFetching, "")
	require.ErrorIs(t, err, ErrBadTransition)

	snap := tr.Snapshot()
	require.Equal(t, EntryFetched, snap.Entries[0].State)
}

func TestTrackerTerminalStatesStay(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "")
	tr.Track("root-1", "e1", "", "crawl")
	require.NoError(t, tr.Transition("root-1", "e1", "fetch", EntryError, "dns failure"))

	require.ErrorIs(t, tr.Transition("root-1", "e1", "fetch", EntryFetched, ""), ErrBadTransition)
	require.ErrorIs(t, tr.Transition("root-1", "e1", "distill", EntryCompleted, ""), ErrBadTransition)

	snap := tr.Snapshot()
	require.Equal(t, EntryError, snap.Entries[0].State)
	require.Equal(t, "dns failure", snap.Entries[0].Error)
}

func TestTrackerSkippedOnlyFromPending(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "")
	tr.Track("root-1", "e1", "", "crawl")
	tr.Track("root-1", "e2", "", "crawl")

	require.NoError(t, tr.Transition("root-1", "e1", "schedule", EntrySkipped, "media not fetchable"))

	require.NoError(t, tr.Transition("root-1", "e2", "fetch", EntryFetching, ""))
	require.ErrorIs(t, tr.Transition("root-1", "e2", "schedule", EntrySkipped, ""), ErrBadTransition)
}

func TestTrackerIdempotentReMark(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "")
	tr.Track("root-1", "e1", "", "crawl")
	require.NoError(t, tr.Transition("root-1", "e1", "fetch", EntryFetched, ""))
	require.NoError(t, tr.Transition("root-1", "e1", "fetch", EntryFetched, ""))

	snap := tr.Snapshot()
	require.Equal(t, map[EntryState]int{EntryFetched: 1}, snap.Counts)
}

func TestTrackerUnknownEntry(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "")
	err := tr.Transition("root-1", "ghost", "fetch", EntryFetching, "")
	require.ErrorIs(t, err, ErrUnknownEntry)
}

func TestTrackerTrackIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "")
	tr.Track("root-1", "e1", "first", "crawl")
	require.NoError(t, tr.Transition("root-1", "e1", "fetch", EntryFetching, ""))
	tr.Track("root-1", "e1", "first again", "crawl")

	snap := tr.Snapshot()
	require.Len(t, snap.Entries, 1)
	require.Equal(t, EntryFetching, snap.Entries[0].State)
	require.Equal(t, "first", snap.Entries[0].Title)
}

func TestTrackerChildRunLifecycle(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "")
	tr.StartRun("child-1", "root-1", "feed_ingest", "daily news")
	tr.StartRun("child-1", "root-1", "feed_ingest", "daily news")
	tr.CompleteRun("child-1", "7 entries")
	tr.FailRun("child-1", "too late")

	snap := tr.Snapshot()
	require.Len(t, snap.Runs, 2)
	child := snap.Runs[1]
	require.Equal(t, "child-1", child.ID)
	require.Equal(t, "root-1", child.ParentID)
	require.Equal(t, RunCompleted, child.Status, "a finished run must not change status again")
	require.Equal(t, "7 entries", child.Message)
}

func TestTrackerFailMarksInFlight(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "")
	tr.StartRun("child-1", "root-1", "feed_ingest", "")
	tr.Track("root-1", "done", "", "distill")
	tr.Track("root-1", "stuck", "", "fetch")
	require.NoError(t, tr.Transition("root-1", "done", "distill", EntryCompleted, ""))
	require.NoError(t, tr.Transition("root-1", "stuck", "fetch", EntryFetching, ""))

	tr.Fail("worker lost")

	snap := tr.Snapshot()
	require.Equal(t, RunError, snap.Status)
	require.Equal(t, "worker lost", snap.Error)
	for _, run := range snap.Runs {
		require.Equal(t, RunError, run.Status)
	}
	byID := map[string]EntryTask{}
	for _, e := range snap.Entries {
		byID[e.ID] = e
	}
	require.Equal(t, EntryCompleted, byID["done"].State, "terminal entries keep their state")
	require.Equal(t, EntryError, byID["stuck"].State)
	require.Equal(t, "worker lost", byID["stuck"].Error)
	require.Equal(t, map[EntryState]int{EntryCompleted: 1, EntryError: 1}, snap.Counts)
}

func TestTrackerEmitsTransitionEvents(t *testing.T) {
	t.Parallel()

	rec := &recordingEmitter{}
	tr := NewTracker("root-1", "pipeline", "", WithEmitter(rec))
	tr.StartRun("child-1", "root-1", "feed_ingest", "")
	tr.Track("child-1", "e1", "", "crawl")
	require.NoError(t, tr.Transition("child-1", "e1", "fetch", EntryFetched, ""))
	tr.Complete("done")

	events := rec.Events()
	require.Len(t, events, 4)
	require.Equal(t, KindRunStart, events[0].Kind)
	require.Equal(t, KindEntry, events[1].Kind)
	require.Equal(t, string(EntryPending), events[1].State)
	require.Equal(t, KindEntry, events[2].Kind)
	require.Equal(t, string(EntryFetched), events[2].State)
	require.Equal(t, KindRunDone, events[3].Kind)
	for _, evt := range events {
		require.Equal(t, "root-1", evt.RootRunID)
		require.NoError(t, evt.Validate())
	}
	require.Greater(t, events[3].Version, events[0].Version)
}

func TestTrackerSnapshotCachesBetweenWrites(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "")
	first := tr.Snapshot()
	second := tr.Snapshot()
	require.Equal(t, first.Version, second.Version)

	tr.Track("root-1", "e1", "", "crawl")
	third := tr.Snapshot()
	require.Greater(t, third.Version, first.Version)
	require.Len(t, third.Entries, 1)
}

func TestTrackerConcurrentReaders(t *testing.T) {
	t.Parallel()

	tr := NewTracker("root-1", "pipeline", "")
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = tr.Snapshot()
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		id := string(rune('a' + i%26))
		tr.Track("root-1", id+"-entry", "", "crawl")
		_ = tr.Transition("root-1", id+"-entry", "fetch", EntryFetching, "")
		time.Sleep(time.Microsecond)
	}
	close(stop)
	wg.Wait()

	snap := tr.Snapshot()
	require.NotEmpty(t, snap.Entries)
}
