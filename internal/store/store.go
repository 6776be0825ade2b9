package store

import "context"

// TabularStore is an append-only table of string-celled rows, the
// durable record of committed harvests. Rows follow the domain column
// order: line id, timestamp, entry id, message, raw text, commit time.
type TabularStore interface {
	// ReadAllRows returns every row currently in the store, header
	// included, in commit order.
	ReadAllRows(ctx context.Context) ([][]string, error)

	// AppendRow appends a single row.
	AppendRow(ctx context.Context, row []string) error

	// AppendRows appends rows in order as one operation.
	AppendRows(ctx context.Context, rows [][]string) error
}
