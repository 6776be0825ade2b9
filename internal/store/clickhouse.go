package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog/log"

	"github.com/runwatch/log-harvester/internal/config"
	"github.com/runwatch/log-harvester/internal/domain"
	"github.com/runwatch/log-harvester/internal/retry"
)

// ClickHouseStore keeps harvested rows in a single MergeTree table.
// Cells stay as text so the table mirrors the spreadsheet layout, and
// an inserted_at column carries the append order for reads.
type ClickHouseStore struct {
	conn     clickhouse.Conn
	table    string
	retryCfg retry.Config
}

// NewClickHouseStore connects to ClickHouse, verifies the connection
// and makes sure the target table exists.
func NewClickHouseStore(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	s := &ClickHouseStore{
		conn:     conn,
		table:    cfg.Table,
		retryCfg: retry.ClickHouseDefaults(),
	}

	if err := retry.Do(ctx, s.retryCfg, func() error {
		return conn.Ping(ctx)
	}); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Str("table", cfg.Table).
		Msg("Connected to ClickHouse")

	return s, nil
}

func (s *ClickHouseStore) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		line_id      String,
		timestamp    String,
		entry_id     String,
		message      String,
		raw_text     String,
		committed_at String,
		inserted_at  DateTime64(9)
	) ENGINE = MergeTree
	ORDER BY inserted_at`, s.table)

	if err := retry.Do(ctx, s.retryCfg, func() error {
		return s.conn.Exec(ctx, ddl)
	}); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// ReadAllRows returns every stored row in append order.
func (s *ClickHouseStore) ReadAllRows(ctx context.Context) ([][]string, error) {
	query := fmt.Sprintf(
		"SELECT line_id, timestamp, entry_id, message, raw_text, committed_at FROM %s ORDER BY inserted_at",
		s.table)

	rows, err := retry.DoWithResult(ctx, s.retryCfg, func() (driver.Rows, error) {
		return s.conn.Query(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("read rows from %s: %w", s.table, err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var lineID, timestamp, entryID, message, rawText, committedAt string
		if err := rows.Scan(&lineID, &timestamp, &entryID, &message, &rawText, &committedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, []string{lineID, timestamp, entryID, message, rawText, committedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows from %s: %w", s.table, err)
	}
	return out, nil
}

// AppendRow appends a single row.
func (s *ClickHouseStore) AppendRow(ctx context.Context, row []string) error {
	return s.AppendRows(ctx, [][]string{row})
}

// AppendRows appends rows as one insert batch.
func (s *ClickHouseStore) AppendRows(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	width := len(domain.HeaderRow())
	insert := fmt.Sprintf(
		"INSERT INTO %s (line_id, timestamp, entry_id, message, raw_text, committed_at, inserted_at)",
		s.table)

	err := retry.Do(ctx, s.retryCfg, func() error {
		batch, err := s.conn.PrepareBatch(ctx, insert)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}

		// inserted_at advances one nanosecond per row so a later read
		// replays rows in the order they were appended.
		base := time.Now().UTC()
		for i, row := range rows {
			if len(row) != width {
				return fmt.Errorf("row %d has %d cells, want %d", i, len(row), width)
			}
			if err := batch.Append(
				row[domain.ColLineID],
				row[domain.ColTimestamp],
				row[domain.ColEntryID],
				row[domain.ColMessage],
				row[domain.ColRawText],
				row[domain.ColCommitTime],
				base.Add(time.Duration(i)),
			); err != nil {
				return fmt.Errorf("append row %d to batch: %w", i, err)
			}
		}

		if err := batch.Send(); err != nil {
			return fmt.Errorf("send batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append %d rows to %s: %w", len(rows), s.table, err)
	}

	log.Debug().
		Int("rows", len(rows)).
		Str("table", s.table).
		Msg("Appended rows to ClickHouse")

	return nil
}

// Ping checks connectivity. Used by the check command.
func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the connection.
func (s *ClickHouseStore) Close() error {
	log.Info().Msg("Closing ClickHouse connection")
	return s.conn.Close()
}
