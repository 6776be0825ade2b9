package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runwatch/log-harvester/internal/domain"
)

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info_logs.json")
	records := []domain.LogRecord{
		{
			LineID:    "100",
			Timestamp: time.Date(2024, 1, 1, 10, 0, 0, 500000000, time.UTC),
			EntryID:   "7",
			Message:   "scored",
			RawText:   "2024-01-01 10:00:00.500 | INFO | scored",
		},
		{
			LineID:  "101",
			RawText: "unstructured line",
		},
	}

	require.NoError(t, Write(path, records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 2)

	assert.Equal(t, "100", entries[0]["line_id"])
	assert.Equal(t, "2024-01-01 10:00:00.500", entries[0]["timestamp"])
	assert.Equal(t, "7", entries[0]["entry_id"])
	assert.Equal(t, "scored", entries[0]["message"])

	// Absent fields serialize as explicit nulls.
	assert.Nil(t, entries[1]["timestamp"])
	assert.Nil(t, entries[1]["entry_id"])
	assert.Nil(t, entries[1]["message"])
	assert.Equal(t, "unstructured line", entries[1]["raw_text"])
}

func TestWriteEmptyPass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info_logs.json")

	require.NoError(t, Write(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestWriteReplacesPreviousSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info_logs.json")

	require.NoError(t, Write(path, []domain.LogRecord{{LineID: "1", RawText: "first pass"}}))
	require.NoError(t, Write(path, []domain.LogRecord{{LineID: "2", RawText: "second pass"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "2", entries[0]["line_id"])

	// no temp file left behind
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
