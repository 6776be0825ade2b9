package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/runwatch/log-harvester/internal/domain"
)

// Extractor parses raw dashboard lines into LogRecords. Parsing never
// fails: a line that matches no pattern still yields a record carrying
// its normalized raw text, so one odd line can never abort a pass.
type Extractor struct {
	timestampPattern *regexp.Regexp
	grammarPattern   *regexp.Regexp
}

// NewExtractor compiles the line patterns for the given marker. The
// marker is the fixed substring preceding the numeric entry id in the
// lines this harvester cares about.
func NewExtractor(marker string) *Extractor {
	return &Extractor{
		// Timestamp: 2024-01-01 10:00:00.123 anywhere in the line, first match wins
		timestampPattern: regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2}:\d{2}\.\d{3})`),

		// Line grammar: <marker><id> - <message>
		grammarPattern: regexp.MustCompile(regexp.QuoteMeta(marker) + `(\d+)\s*-\s*(.+)`),
	}
}

// Normalize collapses non-breaking spaces to regular spaces and trims
// the result. Dashboard rows carry NBSP both as U+00A0 and as the
// literal entity.
func Normalize(raw string) string {
	s := strings.ReplaceAll(raw, " ", " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	return strings.TrimSpace(s)
}

// Extract parses one raw line. Sub-patterns that do not match leave
// the corresponding fields zero; only RawText is always populated.
// The caller assigns LineID, which comes from the view, not the text.
func (e *Extractor) Extract(rawLine string) domain.LogRecord {
	record := domain.LogRecord{RawText: Normalize(rawLine)}
	if record.RawText == "" {
		return record
	}

	if m := e.timestampPattern.FindStringSubmatch(record.RawText); m != nil {
		if ts, err := time.Parse(domain.TimestampFormat, m[1]+" "+m[2]); err == nil {
			record.Timestamp = ts
		}
	}

	if m := e.grammarPattern.FindStringSubmatch(record.RawText); m != nil {
		record.EntryID = m[1]
		record.Message = strings.TrimSpace(m[2])
	}

	return record
}
