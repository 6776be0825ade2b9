// Package snapshot dumps a pass's records to a JSON file for offline
// inspection. The file is a side artifact; the harvester never reads
// it back.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/runwatch/log-harvester/internal/domain"
)

// DefaultPath is where the per-pass dump lands unless configured.
const DefaultPath = "info_logs.json"

// entry mirrors LogRecord with explicit nulls for absent fields.
type entry struct {
	LineID    string  `json:"line_id"`
	Timestamp *string `json:"timestamp"`
	EntryID   *string `json:"entry_id"`
	Message   *string `json:"message"`
	RawText   string  `json:"raw_text"`
}

// Write serializes the records to path as an indented JSON document,
// replacing whatever the previous pass left there. The file lands via
// a temp file and rename so a reader never sees a half-written dump.
func Write(path string, records []domain.LogRecord) error {
	entries := make([]entry, 0, len(records))
	for _, r := range records {
		e := entry{LineID: r.LineID, RawText: r.RawText}
		if !r.Timestamp.IsZero() {
			ts := r.Timestamp.Format(domain.TimestampFormat)
			e.Timestamp = &ts
		}
		if r.EntryID != "" {
			id := r.EntryID
			e.EntryID = &id
		}
		if r.Message != "" {
			msg := r.Message
			e.Message = &msg
		}
		entries = append(entries, e)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot %s: %w", path, err)
	}
	return nil
}
