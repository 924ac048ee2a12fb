// Package progress defines the event structures emitted on state transitions.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the type of transition represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindRunStart  Kind = "RUN_START"
	KindRunDone   Kind = "RUN_DONE"
	KindRunError  Kind = "RUN_ERROR"
	KindEntry     Kind = "ENTRY"
	KindRunFailed Kind = "RUN_FINAL_ERROR"
)

// Event captures a single progress transition within one pipeline run tree.
type Event struct {
	// RootRunID identifies the pipeline run the transition belongs to.
	RootRunID string
	// RunID identifies the run that changed, or that owns the entry.
	RunID string
	// TS is the UTC timestamp recorded by the tracker.
	TS time.Time
	// Kind denotes which transition occurred.
	Kind Kind
	// Run is the run name for run-level events.
	Run string
	// EntryID scopes entry events to one entry task.
	EntryID string
	// Stage names the pipeline stage that owns the entry transition.
	Stage string
	// State carries the new run status or entry state.
	State string
	// Note carries low-volume context such as error text.
	Note string
	// Counts is the entry-state tally at emit time.
	Counts map[EntryState]int
	// Version is the snapshot version after the transition.
	Version uint64
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RootRunID == "" {
		return errors.New("root run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStart, KindRunDone, KindRunError, KindRunFailed:
		if e.RunID == "" {
			return errors.New("run event requires run id")
		}
	case KindEntry:
		if e.EntryID == "" {
			return errors.New("entry event requires entry id")
		}
		if e.State == "" {
			return errors.New("entry event requires state")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}
