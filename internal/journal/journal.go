// Package journal keeps per-pass outcome summaries in a local BoltDB
// file for post-hoc diagnosis. The tabular store stays the single
// source of truth; nothing here ever feeds the sync cursor.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"github.com/runwatch/log-harvester/internal/domain"
)

const bucketName = "passes"

// Summary is the journaled outcome of one pass.
type Summary struct {
	PassID     string    `json:"pass_id"`
	StartedAt  time.Time `json:"started_at"`
	Status     string    `json:"status"`
	Matches    int       `json:"matches"`
	Records    int       `json:"records"`
	Committed  int       `json:"committed"`
	Skipped    int       `json:"skipped"`
	DurationMS int64     `json:"duration_ms"`
}

// Summarize folds a finished pass and its sync report into one entry.
func Summarize(pass domain.HarvestPass, report domain.SyncReport, duration time.Duration) Summary {
	return Summary{
		PassID:     pass.ID.String(),
		StartedAt:  pass.StartedAt,
		Status:     string(pass.Status),
		Matches:    pass.Matches,
		Records:    len(pass.Records),
		Committed:  report.Committed,
		Skipped:    report.Skipped,
		DurationMS: duration.Milliseconds(),
	}
}

// Journal is an append-only BoltDB log of pass summaries keyed by
// pass start time.
type Journal struct {
	db *bbolt.DB
}

// Open opens or creates the journal file.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", path).
		Msg("Pass journal opened")

	return &Journal{db: db}, nil
}

// Record appends one summary.
func (j *Journal) Record(ctx context.Context, s Summary) error {
	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(s.StartedAt.UnixNano()))

	err = j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put(key, val)
	})
	if err != nil {
		return fmt.Errorf("failed to record pass summary: %w", err)
	}

	log.Debug().
		Str("pass_id", s.PassID).
		Str("status", s.Status).
		Int("committed", s.Committed).
		Msg("Pass summary journaled")

	return nil
}

// Recent returns up to n summaries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Summary, error) {
	var out []Summary

	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var s Summary
			if err := json.Unmarshal(v, &s); err != nil {
				continue
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pass summaries: %w", err)
	}

	return out, nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	log.Info().Msg("Closing pass journal")
	return j.db.Close()
}
