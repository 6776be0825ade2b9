package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runwatch/log-harvester/internal/domain"
)

// fakeStore is an in-memory TabularStore with scriptable failures.
type fakeStore struct {
	rows [][]string

	readErr      error
	failLineIDs  map[string]bool // AppendRow fails for these line ids
	failRowsCall map[int]bool    // AppendRows fails on these call numbers, 1-based

	appendRowsCalls int
}

func (f *fakeStore) ReadAllRows(ctx context.Context) ([][]string, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([][]string, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeStore) AppendRow(ctx context.Context, row []string) error {
	if f.failLineIDs[row[domain.ColLineID]] {
		return errors.New("quota exceeded for write requests")
	}
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeStore) AppendRows(ctx context.Context, rows [][]string) error {
	f.appendRowsCalls++
	if f.failRowsCall[f.appendRowsCalls] {
		return errors.New("backend error")
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func rec(lineID, ts, entryID, message string) domain.LogRecord {
	r := domain.LogRecord{
		LineID:  lineID,
		EntryID: entryID,
		Message: message,
		RawText: "raw line " + lineID,
	}
	if ts != "" {
		parsed, err := time.Parse(domain.TimestampFormat, ts)
		if err != nil {
			panic(err)
		}
		r.Timestamp = parsed
	}
	return r
}

func passOf(records ...domain.LogRecord) domain.HarvestPass {
	return domain.HarvestPass{
		ID:      uuid.New(),
		Records: records,
		Matches: len(records),
		Status:  domain.PassExhausted,
	}
}

// seededStore returns a store already holding the header and one
// committed row with the given line id and timestamp cell.
func seededStore(lineID, tsCell string) *fakeStore {
	return &fakeStore{rows: [][]string{
		domain.HeaderRow(),
		{lineID, tsCell, "1", "earlier record", "raw line " + lineID, "2024-01-01 10:00:01"},
	}}
}

func TestSyncIdempotence(t *testing.T) {
	fake := &fakeStore{}
	engine := NewEngine(fake, PolicyBatch, nil, 0)
	pass := passOf(
		rec("100", "2024-01-01 10:00:00.000", "1", "first"),
		rec("101", "2024-01-01 10:00:01.000", "2", "second"),
		rec("102", "2024-01-01 10:00:02.000", "3", "third"),
	)

	first, err := engine.Sync(context.Background(), pass)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Committed)
	assert.Equal(t, 0, first.Skipped)

	second, err := engine.Sync(context.Background(), pass)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Committed)
	assert.Equal(t, 3, second.Skipped)

	// Header plus the three rows from the first run, nothing more.
	assert.Len(t, fake.rows, 4)
}

func TestSyncDenylistedOnEmptyStore(t *testing.T) {
	fake := &fakeStore{}
	engine := NewEngine(fake, PolicyBatch, nil, 0)
	pass := passOf(rec("100", "2024-01-01 10:00:00.000", "5", "Uids: [1,2]"))

	report, err := engine.Sync(context.Background(), pass)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Committed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Denylisted)

	// The header still lands so the store is initialized, but no data row.
	require.Len(t, fake.rows, 1)
	assert.Equal(t, domain.HeaderRow(), fake.rows[0])
}

func TestSyncMonotonicityBoundary(t *testing.T) {
	// Store cursor sits at 10:00:00. A record half a second earlier is
	// stale; a record inside the same second passes the >= comparison.
	fake := seededStore("50", "2024-01-01 10:00:00")
	engine := NewEngine(fake, PolicyBatch, nil, 0)

	report, err := engine.Sync(context.Background(), passOf(
		rec("51", "2024-01-01 09:59:59.500", "1", "too old"),
		rec("52", "2024-01-01 10:00:00.100", "2", "same second"),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 1, report.Stale)
	require.Len(t, fake.rows, 3)
	assert.Equal(t, "52", fake.rows[2][domain.ColLineID])
}

func TestSyncBatchIdentityFilter(t *testing.T) {
	fake := seededStore("100", "2024-01-01 10:00:01")
	engine := NewEngine(fake, PolicyBatch, nil, 0)

	report, err := engine.Sync(context.Background(), passOf(
		rec("100", "2024-01-01 10:00:05.000", "1", "re-observed line"),
		rec("101", "2024-01-01 10:00:06.000", "2", "new line"),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 1, report.Duplicate)
	require.Len(t, fake.rows, 3)
	assert.Equal(t, "101", fake.rows[2][domain.ColLineID])
}

func TestSyncStreamHasNoIdentityFilter(t *testing.T) {
	// The stream policy relies on the monotonicity filter alone; a
	// re-observed line id with a current timestamp goes through again.
	fake := seededStore("100", "2024-01-01 10:00:01")
	engine := NewEngine(fake, PolicyStream, nil, 0)

	report, err := engine.Sync(context.Background(), passOf(
		rec("100", "2024-01-01 10:00:02.000", "1", "re-observed line"),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 0, report.Duplicate)
	assert.Len(t, fake.rows, 3)
}

func TestSyncStreamPartialFailureContinues(t *testing.T) {
	fake := &fakeStore{failLineIDs: map[string]bool{"201": true}}
	engine := NewEngine(fake, PolicyStream, nil, 0)

	report, err := engine.Sync(context.Background(), passOf(
		rec("200", "2024-01-01 10:00:00.000", "1", "first"),
		rec("201", "2024-01-01 10:00:01.000", "2", "loses the append"),
		rec("202", "2024-01-01 10:00:02.000", "3", "third"),
	))
	require.NoError(t, err)

	// The failed record is neither committed nor skipped.
	assert.Equal(t, 2, report.Committed)
	assert.Equal(t, 0, report.Skipped)

	require.Len(t, fake.rows, 3) // header + 2 rows
	assert.Equal(t, "200", fake.rows[1][domain.ColLineID])
	assert.Equal(t, "202", fake.rows[2][domain.ColLineID])
}

func TestSyncBatchSplitsLargeAppends(t *testing.T) {
	fake := &fakeStore{}
	engine := NewEngine(fake, PolicyBatch, nil, 2)

	report, err := engine.Sync(context.Background(), passOf(
		rec("300", "2024-01-01 10:00:00.000", "1", "a"),
		rec("301", "2024-01-01 10:00:01.000", "2", "b"),
		rec("302", "2024-01-01 10:00:02.000", "3", "c"),
		rec("303", "2024-01-01 10:00:03.000", "4", "d"),
		rec("304", "2024-01-01 10:00:04.000", "5", "e"),
	))
	require.NoError(t, err)

	assert.Equal(t, 5, report.Committed)
	assert.Equal(t, 3, fake.appendRowsCalls)
	assert.Len(t, fake.rows, 6)
}

func TestSyncBatchFailedChunkDoesNotStopLaterChunks(t *testing.T) {
	fake := &fakeStore{failRowsCall: map[int]bool{1: true}}
	engine := NewEngine(fake, PolicyBatch, nil, 1)

	report, err := engine.Sync(context.Background(), passOf(
		rec("400", "2024-01-01 10:00:00.000", "1", "lost with its chunk"),
		rec("401", "2024-01-01 10:00:01.000", "2", "still lands"),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Committed)
	require.Len(t, fake.rows, 2) // header + second chunk
	assert.Equal(t, "401", fake.rows[1][domain.ColLineID])
}

func TestSyncHeaderWrittenOnce(t *testing.T) {
	fake := &fakeStore{}
	engine := NewEngine(fake, PolicyBatch, nil, 0)

	_, err := engine.Sync(context.Background(), passOf(rec("500", "2024-01-01 10:00:00.000", "1", "a")))
	require.NoError(t, err)
	_, err = engine.Sync(context.Background(), passOf(rec("501", "2024-01-01 10:00:01.000", "2", "b")))
	require.NoError(t, err)

	headers := 0
	for _, row := range fake.rows {
		if row[domain.ColLineID] == domain.HeaderRow()[domain.ColLineID] {
			headers++
		}
	}
	assert.Equal(t, 1, headers)
	assert.Len(t, fake.rows, 3)
}

func TestSyncCommitsStayMonotonicWithinPass(t *testing.T) {
	// Accepting a record moves the baseline forward, so an older record
	// later in the same pass is stale even against an empty store.
	fake := &fakeStore{}
	engine := NewEngine(fake, PolicyBatch, nil, 0)

	report, err := engine.Sync(context.Background(), passOf(
		rec("600", "2024-01-01 10:00:05.000", "1", "newer first"),
		rec("601", "2024-01-01 10:00:01.000", "2", "older second"),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 1, report.Stale)
	require.Len(t, fake.rows, 2)
	assert.Equal(t, "600", fake.rows[1][domain.ColLineID])
}

func TestSyncRecordWithoutTimestampAlwaysEligible(t *testing.T) {
	fake := seededStore("700", "2024-01-01 10:00:01")
	engine := NewEngine(fake, PolicyBatch, nil, 0)

	report, err := engine.Sync(context.Background(), passOf(
		rec("701", "", "", "unparsed line"),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Committed)
	require.Len(t, fake.rows, 3)
	assert.Equal(t, "", fake.rows[2][domain.ColTimestamp])
}

func TestSyncUnparsableCursorAllowsEverything(t *testing.T) {
	fake := &fakeStore{rows: [][]string{
		domain.HeaderRow(),
		{"800", "not a timestamp", "1", "odd row", "raw", "2024-01-01 10:00:01"},
	}}
	engine := NewEngine(fake, PolicyBatch, nil, 0)

	report, err := engine.Sync(context.Background(), passOf(
		rec("801", "2020-01-01 00:00:00.000", "1", "ancient but allowed"),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Committed)
}

func TestSyncReadFailureReturnsError(t *testing.T) {
	fake := &fakeStore{readErr: errors.New("service unavailable")}
	engine := NewEngine(fake, PolicyBatch, nil, 0)

	_, err := engine.Sync(context.Background(), passOf(rec("900", "2024-01-01 10:00:00.000", "1", "a")))
	require.Error(t, err)
	assert.Empty(t, fake.rows)
}

func TestSyncDenylistMatchesSubstring(t *testing.T) {
	fake := &fakeStore{}
	engine := NewEngine(fake, PolicyStream, nil, 0)

	report, err := engine.Sync(context.Background(), passOf(
		rec("910", "2024-01-01 10:00:00.000", "1", "prefix Uids: [4, 5] suffix"),
		rec("911", "2024-01-01 10:00:01.000", "2", "Compression data successfully sent to dashboard"),
		rec("912", "2024-01-01 10:00:02.000", "3", "a genuinely new message"),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 2, report.Denylisted)
	require.Len(t, fake.rows, 2)
	assert.Equal(t, "912", fake.rows[1][domain.ColLineID])
}
