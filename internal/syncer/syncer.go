// Package syncer decides which harvested records are genuinely new
// against the store's current state and appends them exactly once.
package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/runwatch/log-harvester/internal/domain"
	"github.com/runwatch/log-harvester/internal/store"
)

// Policy selects how a pass's records reach the store.
type Policy string

const (
	// PolicyBatch filters the whole pass first and appends survivors in
	// bounded sequential batches.
	PolicyBatch Policy = "batch"

	// PolicyStream appends record by record, so a partial failure loses
	// at most the in-flight record.
	PolicyStream Policy = "stream"
)

// DefaultBatchSize caps rows per append operation.
const DefaultBatchSize = 100

// DefaultDenylist returns the message substrings that are noise or
// summaries already recorded elsewhere, never worth committing.
func DefaultDenylist() []string {
	return []string{
		"Compression data successfully sent to dashboard",
		"Updating miner manager with 5 compression miner scores after synthetic requests processing",
		"Synthetic compression scoring results for 5 miners",
		"Uids:",
	}
}

// cursor is the engine's view of the store for one sync step. It is
// re-derived from the store every pass and advanced in memory as
// records are accepted; it is never cached across passes.
type cursor struct {
	timestamp time.Time           // last committed timestamp, zero when none
	seen      map[string]struct{} // committed line ids, nil under the stream policy
}

// Engine applies the skip filters and performs the append.
type Engine struct {
	store     store.TabularStore
	policy    Policy
	denylist  []string
	batchSize int
}

// NewEngine builds a sync engine for the given store and policy. A nil
// denylist falls back to the default one; a non-positive batch size
// falls back to DefaultBatchSize.
func NewEngine(s store.TabularStore, policy Policy, denylist []string, batchSize int) *Engine {
	if denylist == nil {
		denylist = DefaultDenylist()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		store:     s,
		policy:    policy,
		denylist:  denylist,
		batchSize: batchSize,
	}
}

// Sync commits the pass's new records and reports what was committed
// and skipped. Reading the store's prior state is the one step that
// can fail the sync as a whole; append failures are absorbed per unit
// and show up as a lower committed count. Re-running Sync with the
// same pass commits nothing the second time.
func (e *Engine) Sync(ctx context.Context, pass domain.HarvestPass) (domain.SyncReport, error) {
	var report domain.SyncReport

	rows, err := e.store.ReadAllRows(ctx)
	if err != nil {
		return report, fmt.Errorf("read store state: %w", err)
	}
	cur := deriveCursor(rows, e.policy == PolicyBatch)

	if len(rows) == 0 {
		if err := e.store.AppendRow(ctx, domain.HeaderRow()); err != nil {
			return report, fmt.Errorf("write header row: %w", err)
		}
		log.Info().Str("pass_id", pass.ID.String()).Msg("Header row written to empty store")
	}

	if e.policy == PolicyStream {
		e.syncStream(ctx, pass, &cur, &report)
	} else {
		e.syncBatch(ctx, pass, &cur, &report)
	}

	log.Info().
		Str("pass_id", pass.ID.String()).
		Str("policy", string(e.policy)).
		Int("records", len(pass.Records)).
		Int("committed", report.Committed).
		Int("skipped", report.Skipped).
		Int("denylisted", report.Denylisted).
		Int("stale", report.Stale).
		Int("duplicate", report.Duplicate).
		Msg("Sync finished")
	return report, nil
}

// syncBatch filters every record against the advancing cursor, then
// appends the survivors in sequential bounded batches. A failed batch
// is logged and its rows stay uncommitted; later batches still run.
func (e *Engine) syncBatch(ctx context.Context, pass domain.HarvestPass, cur *cursor, report *domain.SyncReport) {
	commitTime := time.Now()

	var rows [][]string
	for _, record := range pass.Records {
		if !e.filterRecord(record, cur, report) {
			continue
		}
		advanceCursor(cur, record)
		rows = append(rows, record.Row(commitTime))
	}

	for start := 0; start < len(rows); start += e.batchSize {
		end := start + e.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		if err := e.store.AppendRows(ctx, chunk); err != nil {
			log.Error().Err(err).
				Str("pass_id", pass.ID.String()).
				Int("rows", len(chunk)).
				Msg("Batch append failed, continuing with next batch")
			continue
		}
		report.Committed += len(chunk)
	}
}

// syncStream appends each surviving record immediately and advances
// the cursor only on a successful append, so a failed record does not
// hold back the ones after it.
func (e *Engine) syncStream(ctx context.Context, pass domain.HarvestPass, cur *cursor, report *domain.SyncReport) {
	for _, record := range pass.Records {
		if !e.filterRecord(record, cur, report) {
			continue
		}
		if err := e.store.AppendRow(ctx, record.Row(time.Now())); err != nil {
			log.Error().Err(err).
				Str("pass_id", pass.ID.String()).
				Str("line_id", record.LineID).
				Msg("Append failed, continuing with next record")
			continue
		}
		report.Committed++
		advanceCursor(cur, record)
	}
}

// filterRecord applies the skip rules in order: content denylist,
// timestamp monotonicity, then line id identity when the cursor
// carries one. Skips are bookkeeping, never errors.
func (e *Engine) filterRecord(record domain.LogRecord, cur *cursor, report *domain.SyncReport) bool {
	if e.denylisted(record.Message) {
		report.Skipped++
		report.Denylisted++
		return false
	}
	if !monotonic(record.Timestamp, cur.timestamp) {
		report.Skipped++
		report.Stale++
		return false
	}
	if cur.seen != nil {
		if _, dup := cur.seen[record.LineID]; dup {
			report.Skipped++
			report.Duplicate++
			return false
		}
	}
	return true
}

func (e *Engine) denylisted(message string) bool {
	if message == "" {
		return false
	}
	for _, pattern := range e.denylist {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}

// advanceCursor moves the cursor past an accepted record so the next
// record in the pass compares against the latest baseline.
func advanceCursor(cur *cursor, record domain.LogRecord) {
	if !record.Timestamp.IsZero() {
		cur.timestamp = record.Timestamp.Truncate(time.Second)
	}
	if cur.seen != nil && record.LineID != "" {
		cur.seen[record.LineID] = struct{}{}
	}
}

// monotonic reports whether ts may follow last. Comparison is at
// whole-second granularity: the store's own commit stamps carry no
// fraction, so finer precision would reject legitimate records. A
// record without a timestamp and an empty cursor both allow.
func monotonic(ts, last time.Time) bool {
	if ts.IsZero() || last.IsZero() {
		return true
	}
	return !ts.Truncate(time.Second).Before(last.Truncate(time.Second))
}

// deriveCursor rebuilds the store cursor from the rows read at the
// start of a sync step. Only the newest row's timestamp matters; an
// empty or unparsable cell leaves the cursor open. Under the batch
// policy every line id cell feeds the identity set.
func deriveCursor(rows [][]string, withIdentity bool) cursor {
	cur := cursor{}
	if withIdentity {
		cur.seen = make(map[string]struct{}, len(rows))
		for _, row := range rows {
			if len(row) > domain.ColLineID && row[domain.ColLineID] != "" {
				cur.seen[row[domain.ColLineID]] = struct{}{}
			}
		}
	}
	if len(rows) > 1 {
		last := rows[len(rows)-1]
		if len(last) > domain.ColTimestamp {
			if ts, ok := parseCellTimestamp(last[domain.ColTimestamp]); ok {
				cur.timestamp = ts
			}
		}
	}
	return cur
}

// parseCellTimestamp parses a row's timestamp cell at whole-second
// granularity, cutting any fractional part first.
func parseCellTimestamp(cell string) (time.Time, bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return time.Time{}, false
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	ts, err := time.Parse(domain.CommitTimeFormat, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
