// Package dataset defines the training-set contract consumed by the
// ensemble trainer: a window matrix with labels split into disjoint
// train/validation/test partitions.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrConfiguration is returned for partitions whose parallel slices
// disagree or whose rows do not match the configured window width.
var ErrConfiguration = errors.New("dataset: invalid configuration")

// Partition is one split of the training set. Data rows are fixed-width
// windows; IDs and PeakTimes identify the example each row came from.
type Partition struct {
	Data      [][]float64
	Labels    []int
	IDs       []string
	PeakTimes []float64
}

// Len returns the number of examples in the partition.
func (p Partition) Len() int { return len(p.Data) }

func (p Partition) validate(name string, cadences int) error {
	if len(p.Labels) != len(p.Data) || len(p.IDs) != len(p.Data) || len(p.PeakTimes) != len(p.Data) {
		return fmt.Errorf("%w: %s partition slices misaligned (%d/%d/%d/%d)",
			ErrConfiguration, name, len(p.Data), len(p.Labels), len(p.IDs), len(p.PeakTimes))
	}
	for i, row := range p.Data {
		if len(row) != cadences {
			return fmt.Errorf("%w: %s row %d has width %d, want %d",
				ErrConfiguration, name, i, len(row), cadences)
		}
	}
	for i, l := range p.Labels {
		if l != 0 && l != 1 {
			return fmt.Errorf("%w: %s label %d is %d, want 0 or 1", ErrConfiguration, name, i, l)
		}
	}
	return nil
}

// TrainingSet holds the partitioned windows the ensemble trains on.
// FracBalance is the class-balance ratio used in artifact names only.
type TrainingSet struct {
	Cadences    int
	FracBalance float64
	Train       Partition
	Val         Partition
	Test        Partition
}

// Validate checks every partition against the window width.
func (ts *TrainingSet) Validate() error {
	if ts.Cadences <= 0 {
		return fmt.Errorf("%w: cadences must be positive, got %d", ErrConfiguration, ts.Cadences)
	}
	if err := ts.Train.validate("train", ts.Cadences); err != nil {
		return err
	}
	if err := ts.Val.validate("val", ts.Cadences); err != nil {
		return err
	}
	return ts.Test.validate("test", ts.Cadences)
}

// LoadPartition reads one partition from a CSV file laid out as
// id,label,tpeak,f0,...,f(cadences-1) with a header row.
func LoadPartition(path string, cadences int) (Partition, error) {
	f, err := os.Open(path)
	if err != nil {
		return Partition{}, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return Partition{}, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	if len(rows) < 2 {
		return Partition{}, fmt.Errorf("%w: %s has no data rows", ErrConfiguration, path)
	}

	var p Partition
	for n, row := range rows[1:] {
		if len(row) != 3+cadences {
			return Partition{}, fmt.Errorf("%w: %s row %d has %d fields, want %d",
				ErrConfiguration, path, n+1, len(row), 3+cadences)
		}
		label, err := strconv.Atoi(row[1])
		if err != nil {
			return Partition{}, fmt.Errorf("dataset: %s row %d label: %w", path, n+1, err)
		}
		peak, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return Partition{}, fmt.Errorf("dataset: %s row %d tpeak: %w", path, n+1, err)
		}
		window := make([]float64, cadences)
		for i := 0; i < cadences; i++ {
			v, err := strconv.ParseFloat(row[3+i], 64)
			if err != nil {
				return Partition{}, fmt.Errorf("dataset: %s row %d flux %d: %w", path, n+1, i, err)
			}
			window[i] = v
		}
		p.IDs = append(p.IDs, row[0])
		p.Labels = append(p.Labels, label)
		p.PeakTimes = append(p.PeakTimes, peak)
		p.Data = append(p.Data, window)
	}
	return p, nil
}
