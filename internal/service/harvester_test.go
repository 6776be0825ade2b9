package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runwatch/log-harvester/internal/config"
	"github.com/runwatch/log-harvester/internal/domain"
	"github.com/runwatch/log-harvester/internal/extract"
	"github.com/runwatch/log-harvester/internal/journal"
	"github.com/runwatch/log-harvester/internal/syncer"
	"github.com/runwatch/log-harvester/internal/traverse"
	"github.com/runwatch/log-harvester/internal/view"
)

type fakeView struct {
	matches []view.Match
	pos     int
}

func (f *fakeView) Reset(ctx context.Context) error { f.pos = 0; return nil }

func (f *fakeView) FocusSearch(ctx context.Context, query string) error { return nil }

func (f *fakeView) CurrentMatch(ctx context.Context) (view.Match, error) {
	if len(f.matches) == 0 {
		return view.Match{}, view.ErrNoMatch
	}
	return f.matches[f.pos], nil
}

func (f *fakeView) MatchProgress(ctx context.Context) (int, int, error) {
	return f.pos + 1, len(f.matches), nil
}

func (f *fakeView) Advance(ctx context.Context) error {
	if f.pos+1 >= len(f.matches) {
		return view.ErrNoMoreMatches
	}
	f.pos++
	return nil
}

type fakeStore struct {
	rows    [][]string
	readErr error
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
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeStore) AppendRows(ctx context.Context, rows [][]string) error {
	f.rows = append(f.rows, rows...)
	return nil
}

func matchLine(lineID, entryID, ts, message string) view.Match {
	return view.Match{
		LineID: lineID,
		Text:   fmt.Sprintf("%s | INFO     | __main__:score_compressions:%s - %s", ts, entryID, message),
	}
}

func newTestHarvester(cfg *config.Config, fv *fakeView, fs *fakeStore, j *journal.Journal) *Harvester {
	traversal := traverse.NewEngine(fv, extract.NewExtractor(cfg.Dashboard.Marker), cfg.Dashboard.SearchQuery, cfg.Dashboard.MaxMatches)
	syncEngine := syncer.NewEngine(fs, syncer.Policy(cfg.Sync.Policy), cfg.Sync.Denylist, cfg.Sync.BatchSize)
	return NewHarvester(cfg, traversal, syncEngine, j)
}

func TestRunOncePipeline(t *testing.T) {
	fv := &fakeView{matches: []view.Match{
		matchLine("101", "445", "2025-06-20 10:00:01.123", "Processing hotkey A"),
		matchLine("102", "446", "2025-06-20 10:00:02.456", "Processing hotkey B"),
	}}
	fs := &fakeStore{}

	cfg := config.Default()
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "snapshot.json")

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	h := newTestHarvester(cfg, fv, fs, j)

	pass, report, err := h.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.PassExhausted, pass.Status)
	assert.Equal(t, 2, pass.Matches)
	assert.Equal(t, 2, report.Committed)
	assert.Zero(t, report.Skipped)

	require.Len(t, fs.rows, 3) // header plus both records
	assert.Equal(t, domain.HeaderRow(), fs.rows[0])
	assert.Equal(t, "101", fs.rows[1][domain.ColLineID])
	assert.Equal(t, "Processing hotkey B", fs.rows[2][domain.ColMessage])

	data, err := os.ReadFile(cfg.Snapshot.Path)
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(data, &entries))
	assert.Len(t, entries, 2)

	recent, err := j.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, pass.ID.String(), recent[0].PassID)
	assert.Equal(t, 2, recent[0].Committed)
}

func TestRunOnceIsIdempotentAcrossRuns(t *testing.T) {
	fv := &fakeView{matches: []view.Match{
		matchLine("101", "445", "2025-06-20 10:00:01.123", "Processing hotkey A"),
	}}
	fs := &fakeStore{}

	cfg := config.Default()
	cfg.Snapshot.Path = ""

	h := newTestHarvester(cfg, fv, fs, nil)

	_, first, err := h.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Committed)

	_, second, err := h.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Committed)
	assert.Len(t, fs.rows, 2)
}

func TestRunOnceSurfacesSyncFailure(t *testing.T) {
	fv := &fakeView{matches: []view.Match{
		matchLine("101", "445", "2025-06-20 10:00:01.123", "Processing hotkey A"),
	}}
	fs := &fakeStore{readErr: errors.New("store unavailable")}

	cfg := config.Default()
	cfg.Snapshot.Path = ""

	h := newTestHarvester(cfg, fv, fs, nil)

	pass, report, err := h.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.PassExhausted, pass.Status)
	assert.Zero(t, report.Committed)
	assert.Empty(t, fs.rows)
}

func TestRunOnceCancelledContextAborts(t *testing.T) {
	fv := &fakeView{matches: []view.Match{
		matchLine("101", "445", "2025-06-20 10:00:01.123", "Processing hotkey A"),
	}}
	fs := &fakeStore{}

	cfg := config.Default()
	cfg.Snapshot.Path = ""

	h := newTestHarvester(cfg, fv, fs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pass, report, err := h.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PassAborted, pass.Status)
	assert.Empty(t, pass.Records)
	assert.Zero(t, report.Committed)
}
