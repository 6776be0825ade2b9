package domain

import "time"

// Row cell formats. Record timestamps keep millisecond precision;
// commit time matches the store's whole-second stamps.
const (
	TimestampFormat  = "2006-01-02 15:04:05.000"
	CommitTimeFormat = "2006-01-02 15:04:05"
)

// Store column order. Every row follows it.
const (
	ColLineID = iota
	ColTimestamp
	ColEntryID
	ColMessage
	ColRawText
	ColCommitTime
)

// HeaderRow is written once when the store is empty.
func HeaderRow() []string {
	return []string{"Line ID", "Timestamp", "Entry ID", "Message", "Raw Text", "Committed At"}
}

// LogRecord represents a single harvested log line
type LogRecord struct {
	LineID    string    // position identifier from the view, stable while the stream is not truncated
	Timestamp time.Time // event time, zero when the line carried no parseable timestamp
	EntryID   string    // numeric identifier extracted from the message, "" when absent
	Message   string    // free text after the marker, "" when the line grammar did not match
	RawText   string    // full normalized line text, always non-empty
}

// Row serializes the record into the store's column order.
func (r LogRecord) Row(commitTime time.Time) []string {
	var ts string
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.Format(TimestampFormat)
	}
	return []string{
		r.LineID,
		ts,
		r.EntryID,
		r.Message,
		r.RawText,
		commitTime.Format(CommitTimeFormat),
	}
}
