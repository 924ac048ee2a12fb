package ingest

import "errors"

// Sentinel errors shared by store providers.
var (
	ErrFeedNotFound  = errors.New("feed not found")
	ErrEntryNotFound = errors.New("entry not found")
)
