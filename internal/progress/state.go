package progress

// RunStatus is the lifecycle state of one orchestrator run.
type RunStatus string

// Run statuses exposed through snapshots.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

// EntryState is the pipeline state of one entry task.
type EntryState string

// Entry states, in forward order. Skipped is reachable only from pending;
// error is reachable from any non-terminal state.
const (
	EntryPending    EntryState = "pending"
	EntryFetching   EntryState = "fetching"
	EntryFetched    EntryState = "fetched"
	EntryDistilling EntryState = "distilling"
	EntryCompleted  EntryState = "completed"
	EntryError      EntryState = "error"
	EntrySkipped    EntryState = "skipped"
)

// Terminal reports whether no further transition may leave s.
func (s EntryState) Terminal() bool {
	switch s {
	case EntryCompleted, EntryError, EntrySkipped:
		return true
	default:
		return false
	}
}

func (s EntryState) rank() int {
	switch s {
	case EntryPending:
		return 0
	case EntryFetching:
		return 1
	case EntryFetched:
		return 2
	case EntryDistilling:
		return 3
	case EntryCompleted:
		return 4
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next keeps the entry's
// status sequence monotonic. Re-marking the current state is allowed so
// at-least-once delivery stays idempotent.
func (s EntryState) CanTransition(next EntryState) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	switch next {
	case EntryError:
		return true
	case EntrySkipped:
		return s == EntryPending
	default:
		return s.rank() >= 0 && next.rank() > s.rank()
	}
}
