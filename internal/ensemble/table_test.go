package ensemble

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestTable_AddColumn(t *testing.T) {
	t.Parallel()
	tab := NewTable([]string{"a", "b"})

	if err := tab.AddColumn("gt", []float64{1, 0}); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	if err := tab.AddColumn("short", []float64{1}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for short column, got %v", err)
	}
	if err := tab.AddColumn("gt", []float64{0, 1}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for duplicate column, got %v", err)
	}
	if got := tab.Column("gt"); got == nil || got[0] != 1 {
		t.Errorf("Column gt = %v", got)
	}
	if got := tab.Column("missing"); got != nil {
		t.Errorf("Expected nil for missing column, got %v", got)
	}
	if tab.NumRows() != 2 {
		t.Errorf("NumRows = %d, want 2", tab.NumRows())
	}
}

func TestTable_NoIDsEqualLengths(t *testing.T) {
	t.Parallel()
	tab := NewTable(nil)
	if err := tab.AddColumn("loss_s0001", []float64{1, 0.5, 0.2}); err != nil {
		t.Fatal(err)
	}
	if err := tab.AddColumn("loss_s0002", []float64{1, 0.5}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for ragged columns, got %v", err)
	}
	if tab.NumRows() != 3 {
		t.Errorf("NumRows = %d, want 3", tab.NumRows())
	}
}

func TestTable_CSVRoundTrip(t *testing.T) {
	t.Parallel()
	tab := NewTable([]string{"tic1", "tic2", "tic3"})
	if err := tab.AddColumn("gt", []float64{1, 0, 1}); err != nil {
		t.Fatal(err)
	}
	if err := tab.AddColumn("pred", []float64{0.912, math.NaN(), 0.004}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "predval_i0005_b0.5.txt")
	if err := tab.WriteCSV(path); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	got, err := ReadCSV(path, true)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if got.NumRows() != 3 {
		t.Fatalf("NumRows = %d, want 3", got.NumRows())
	}
	if got.IDs()[1] != "tic2" {
		t.Errorf("IDs[1] = %q", got.IDs()[1])
	}
	pred := got.Column("pred")
	if pred[0] != 0.912 || !math.IsNaN(pred[1]) || pred[2] != 0.004 {
		t.Errorf("pred column = %v", pred)
	}
	names := got.ColumnNames()
	if len(names) != 2 || names[0] != "gt" || names[1] != "pred" {
		t.Errorf("ColumnNames = %v", names)
	}
}

func TestTable_CSVRoundTripNoIDs(t *testing.T) {
	t.Parallel()
	tab := NewTable(nil)
	if err := tab.AddColumn("loss_s0001", []float64{0.9, 0.5}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "histories_i0002_b0.5.txt")
	if err := tab.WriteCSV(path); err != nil {
		t.Fatal(err)
	}
	got, err := ReadCSV(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.IDs() != nil {
		t.Errorf("Expected no ID column, got %v", got.IDs())
	}
	if col := got.Column("loss_s0001"); len(col) != 2 || col[1] != 0.5 {
		t.Errorf("loss column = %v", col)
	}
}
