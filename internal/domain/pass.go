package domain

import (
	"time"

	"github.com/google/uuid"
)

// PassStatus is the terminal state of one traversal pass.
type PassStatus string

const (
	PassExhausted   PassStatus = "exhausted"    // reached the end of the matches, possibly after an absorbed fault
	PassDriverError PassStatus = "driver_error" // the view could not be prepared, nothing was harvested
	PassAborted     PassStatus = "aborted"      // context cancelled mid-pass
)

// HarvestPass represents the ordered output of one traversal of the view
type HarvestPass struct {
	ID        uuid.UUID
	StartedAt time.Time
	Records   []LogRecord
	Matches   int // matches visited, including intra-pass duplicates
	Status    PassStatus
}

// SyncReport summarizes one sync step. Skipped is the total across
// all skip reasons.
type SyncReport struct {
	Committed  int
	Skipped    int
	Denylisted int // message matched a denylist entry
	Stale      int // timestamp behind the store cursor
	Duplicate  int // line id already present in the store
}
