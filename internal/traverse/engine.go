// Package traverse walks every current match in the view once and
// turns the visited lines into one ordered HarvestPass.
package traverse

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/runwatch/log-harvester/internal/domain"
	"github.com/runwatch/log-harvester/internal/extract"
	"github.com/runwatch/log-harvester/internal/view"
)

// DefaultMaxMatches bounds a pass against a view whose advance never
// reports the end.
const DefaultMaxMatches = 10000

type state int

const (
	stateInit state = iota
	stateSearching
	stateAtMatch
	stateAdvancing
	stateDone
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateSearching:
		return "searching"
	case stateAtMatch:
		return "at_match"
	case stateAdvancing:
		return "advancing"
	default:
		return "done"
	}
}

// Engine drives one harvesting pass at a time. Not safe for concurrent
// use: the view's highlight position is shared state.
type Engine struct {
	view       view.View
	extractor  *extract.Extractor
	query      string
	maxMatches int
}

// NewEngine wires a view and an extractor to the fixed search query
// that scopes the stream to the lines worth harvesting.
func NewEngine(v view.View, extractor *extract.Extractor, query string, maxMatches int) *Engine {
	if maxMatches <= 0 {
		maxMatches = DefaultMaxMatches
	}
	return &Engine{
		view:       v,
		extractor:  extractor,
		query:      query,
		maxMatches: maxMatches,
	}
}

// RunPass resets the view, issues the search and walks matches until
// exhaustion. Faults after a successful setup are absorbed: the pass
// ends as exhausted with whatever was collected, and the next
// scheduled pass re-scans from the top. Only setup failures surface as
// driver_error; cancellation surfaces as aborted.
func (e *Engine) RunPass(ctx context.Context) domain.HarvestPass {
	pass := domain.HarvestPass{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		Status:    domain.PassExhausted,
	}
	seen := make(map[string]struct{})
	logger := log.With().Str("pass_id", pass.ID.String()).Logger()

	st := stateInit
	var current view.Match

	for st != stateDone {
		if err := ctx.Err(); err != nil {
			pass.Status = domain.PassAborted
			logger.Warn().Err(err).Str("state", st.String()).Msg("Pass aborted")
			return pass
		}

		switch st {
		case stateInit:
			if err := e.view.Reset(ctx); err != nil {
				pass.Status = domain.PassDriverError
				logger.Error().Err(err).Msg("View reset failed")
				return pass
			}
			if err := e.view.FocusSearch(ctx, e.query); err != nil {
				pass.Status = domain.PassDriverError
				logger.Error().Err(err).Str("query", e.query).Msg("Search failed")
				return pass
			}
			st = stateSearching

		case stateSearching:
			m, err := e.view.CurrentMatch(ctx)
			switch {
			case errors.Is(err, view.ErrNoMatch):
				logger.Info().Msg("No matches in view")
				st = stateDone
			case err != nil:
				logger.Warn().Err(err).Msg("Locating first match failed, ending pass")
				st = stateDone
			default:
				current = m
				st = stateAtMatch
			}

		case stateAtMatch:
			pass.Matches++
			if _, dup := seen[current.LineID]; dup {
				logger.Debug().Str("line_id", current.LineID).Msg("Line already visited this pass")
			} else {
				seen[current.LineID] = struct{}{}
				record := e.extractor.Extract(current.Text)
				record.LineID = current.LineID
				if record.RawText != "" {
					pass.Records = append(pass.Records, record)
				}
			}
			if pass.Matches >= e.maxMatches {
				logger.Warn().Int("matches", pass.Matches).Msg("Match cap reached, ending pass")
				st = stateDone
				break
			}
			st = stateAdvancing

		case stateAdvancing:
			// Progress is advisory: when the counter is readable and we
			// are at the last match, stop without another click.
			if pos, total, err := e.view.MatchProgress(ctx); err == nil && pos >= total {
				st = stateDone
				break
			}
			if err := e.view.Advance(ctx); err != nil {
				if !errors.Is(err, view.ErrNoMoreMatches) {
					logger.Warn().Err(err).Msg("Advance failed, ending pass")
				}
				st = stateDone
				break
			}
			m, err := e.view.CurrentMatch(ctx)
			if err != nil {
				if !errors.Is(err, view.ErrNoMatch) {
					logger.Warn().Err(err).Msg("Reading match after advance failed, ending pass")
				}
				st = stateDone
				break
			}
			current = m
			st = stateAtMatch
		}
	}

	logger.Info().
		Int("matches", pass.Matches).
		Int("records", len(pass.Records)).
		Str("status", string(pass.Status)).
		Msg("Pass finished")
	return pass
}
