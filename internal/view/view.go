// Package view abstracts the log dashboard the traversal engine walks.
// The engine only needs search, current match, progress and advance;
// how a driver locates matches in the page is its own business.
package view

import (
	"context"
	"errors"
)

// Outcomes a driver reports besides generic faults.
var (
	ErrNoMatch         = errors.New("no match highlighted in the view")
	ErrProgressUnknown = errors.New("match progress not available")
	ErrNoMoreMatches   = errors.New("no more matches to advance to")
)

// Match is one highlighted line in the view.
type Match struct {
	LineID string // stable position identifier shown next to the line
	Text   string // raw line text as rendered
}

// View is the capability the traversal engine consumes.
type View interface {
	// Reset brings the view back to a known baseline (full reload).
	Reset(ctx context.Context) error

	// FocusSearch scopes the view to lines matching the query.
	FocusSearch(ctx context.Context, query string) error

	// CurrentMatch returns the currently highlighted match, or
	// ErrNoMatch when nothing is highlighted.
	CurrentMatch(ctx context.Context) (Match, error)

	// MatchProgress reports the 1-based position within the total match
	// count, or ErrProgressUnknown when the view does not expose it.
	MatchProgress(ctx context.Context) (current, total int, err error)

	// Advance moves the highlight to the next match, or returns
	// ErrNoMoreMatches when the last match has been reached.
	Advance(ctx context.Context) error
}
