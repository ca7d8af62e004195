// Package ensemble trains one classifier per random seed, collects their
// histories and predictions into tables, and computes aggregate metrics
// across the trained models.
package ensemble

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// ErrConfiguration is returned for table operations with mismatched shapes.
var ErrConfiguration = errors.New("ensemble: invalid configuration")

// Table is an ordered set of named float columns with an optional string ID
// column. Column order is insertion order so repeated runs produce identical
// files.
type Table struct {
	ids   []string
	names []string
	cols  [][]float64
}

// NewTable returns an empty table. ids may be nil for tables without an
// identity column (histories).
func NewTable(ids []string) *Table {
	return &Table{ids: ids}
}

// IDs returns the identity column, or nil.
func (t *Table) IDs() []string { return t.ids }

// ColumnNames returns the column names in insertion order.
func (t *Table) ColumnNames() []string { return t.names }

// NumRows returns the row count (ID column or first column).
func (t *Table) NumRows() int {
	if t.ids != nil {
		return len(t.ids)
	}
	if len(t.cols) > 0 {
		return len(t.cols[0])
	}
	return 0
}

// AddColumn appends a named column. All columns of a table with an ID
// column must match its length; other tables only require equal column
// lengths.
func (t *Table) AddColumn(name string, vals []float64) error {
	if t.ids != nil && len(vals) != len(t.ids) {
		return fmt.Errorf("%w: column %s has %d rows, table has %d",
			ErrConfiguration, name, len(vals), len(t.ids))
	}
	if t.ids == nil && len(t.cols) > 0 && len(vals) != len(t.cols[0]) {
		return fmt.Errorf("%w: column %s has %d rows, table has %d",
			ErrConfiguration, name, len(vals), len(t.cols[0]))
	}
	for _, n := range t.names {
		if n == name {
			return fmt.Errorf("%w: duplicate column %s", ErrConfiguration, name)
		}
	}
	t.names = append(t.names, name)
	t.cols = append(t.cols, vals)
	return nil
}

// Column returns the named column, or nil if absent.
func (t *Table) Column(name string) []float64 {
	for i, n := range t.names {
		if n == name {
			return t.cols[i]
		}
	}
	return nil
}

// WriteCSV writes the table as delimited text with a header row. Tables
// with an ID column lead with an "id" field.
func (t *Table) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ensemble: create table %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := t.names
	if t.ids != nil {
		header = append([]string{"id"}, t.names...)
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for r := 0; r < t.NumRows(); r++ {
		var rec []string
		if t.ids != nil {
			rec = append(rec, t.ids[r])
		}
		for _, col := range t.cols {
			rec = append(rec, strconv.FormatFloat(col[r], 'g', -1, 64))
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}

	log.Debug().Str("file", path).Int("rows", t.NumRows()).Int("cols", len(t.names)).Msg("table written")
	return nil
}

// ReadCSV reads a table written by WriteCSV. hasIDs selects whether the
// first field is the identity column.
func ReadCSV(path string, hasIDs bool) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ensemble: open table %s: %w", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ensemble: read table %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrConfiguration, path)
	}

	header := rows[0]
	start := 0
	var ids []string
	if hasIDs {
		start = 1
		ids = make([]string, 0, len(rows)-1)
	}

	cols := make([][]float64, len(header)-start)
	for _, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("%w: %s has ragged rows", ErrConfiguration, path)
		}
		if hasIDs {
			ids = append(ids, row[0])
		}
		for i := start; i < len(row); i++ {
			v, err := strconv.ParseFloat(row[i], 64)
			if err != nil {
				return nil, fmt.Errorf("ensemble: parse %s field %q: %w", path, row[i], err)
			}
			cols[i-start] = append(cols[i-start], v)
		}
	}

	t := NewTable(ids)
	for i, name := range header[start:] {
		if err := t.AddColumn(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}
