package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/runwatch/log-harvester/internal/config"
	"github.com/runwatch/log-harvester/internal/domain"
	"github.com/runwatch/log-harvester/internal/retry"
)

// SheetsStore appends harvested rows to one worksheet of a Google
// spreadsheet. Writes are paced by a limiter so a large pass stays
// inside the per-minute write quota.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
	worksheet     string
	limiter       *rate.Limiter
	retryCfg      retry.Config
}

// NewSheetsStore authenticates with the service account key from cfg,
// verifies the spreadsheet is reachable and creates the worksheet if
// it does not exist yet.
func NewSheetsStore(ctx context.Context, cfg config.SheetsConfig) (*SheetsStore, error) {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	interval := cfg.WriteInterval()
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	s := &SheetsStore{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		worksheet:     cfg.Worksheet,
		limiter:       rate.NewLimiter(rate.Every(interval), 1),
		retryCfg:      retry.SheetsDefaults(),
	}

	if err := s.ensureWorksheet(ctx); err != nil {
		return nil, err
	}

	log.Info().
		Str("spreadsheet_id", cfg.SpreadsheetID).
		Str("worksheet", cfg.Worksheet).
		Msg("Connected to Google Sheets")

	return s, nil
}

// Worksheets returns the titles of all sheets in the spreadsheet.
// Used by the check command.
func (s *SheetsStore) Worksheets(ctx context.Context) ([]string, error) {
	meta, err := retry.DoWithResult(ctx, s.retryCfg, func() (*sheets.Spreadsheet, error) {
		return s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("fetch spreadsheet metadata: %w", err)
	}

	titles := make([]string, 0, len(meta.Sheets))
	for _, sh := range meta.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

func (s *SheetsStore) ensureWorksheet(ctx context.Context) error {
	titles, err := s.Worksheets(ctx)
	if err != nil {
		return err
	}
	for _, t := range titles {
		if t == s.worksheet {
			return nil
		}
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: s.worksheet},
			},
		}},
	}
	err = retry.Do(ctx, s.retryCfg, func() error {
		_, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("create worksheet %s: %w", s.worksheet, err)
	}

	log.Info().Str("worksheet", s.worksheet).Msg("Created missing worksheet")
	return nil
}

// ReadAllRows returns every row of the worksheet in sheet order.
func (s *SheetsStore) ReadAllRows(ctx context.Context) ([][]string, error) {
	resp, err := retry.DoWithResult(ctx, s.retryCfg, func() (*sheets.ValueRange, error) {
		return s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.worksheet).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("read worksheet %s: %w", s.worksheet, err)
	}

	// The API trims trailing empty cells, pad rows back to full width.
	width := len(domain.HeaderRow())
	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		n := len(raw)
		if n < width {
			n = width
		}
		row := make([]string, n)
		for i, cell := range raw {
			row[i] = fmt.Sprint(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AppendRow appends a single row.
func (s *SheetsStore) AppendRow(ctx context.Context, row []string) error {
	return s.AppendRows(ctx, [][]string{row})
}

// AppendRows appends rows below the current data as one request.
// Values go in RAW so timestamp cells stay plain text.
func (s *SheetsStore) AppendRows(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, cell := range row {
			cells[j] = cell
		}
		values[i] = cells
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for write slot: %w", err)
	}

	err := retry.Do(ctx, s.retryCfg, func() error {
		_, err := s.svc.Spreadsheets.Values.
			Append(s.spreadsheetID, s.worksheet, &sheets.ValueRange{Values: values}).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("append %d rows to worksheet %s: %w", len(rows), s.worksheet, err)
	}

	log.Debug().
		Int("rows", len(rows)).
		Str("worksheet", s.worksheet).
		Msg("Appended rows to Google Sheets")

	return nil
}
