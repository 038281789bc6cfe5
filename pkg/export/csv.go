// Package export renders tabular data for download.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ErrNoColumns is returned when a table has no header.
var ErrNoColumns = errors.New("csv requires at least one column")

// Table is a header plus positional rows. Short rows are padded and long
// rows are truncated to the header width.
type Table struct {
	Columns []string
	Rows    [][]string
}

// WriteCSV streams the table to w.
func WriteCSV(w io.Writer, table Table) error {
	if len(table.Columns) == 0 {
		return ErrNoColumns
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(table.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = row[i]
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
