package lightcurve

import (
	"math"
	"testing"
)

func TestNanMedian(t *testing.T) {
	t.Parallel()
	if got := nanMedian([]float64{3, 1, 2}); got != 2 {
		t.Errorf("odd-length median = %v, want 2", got)
	}
	if got := nanMedian([]float64{4, 1, 2, 3}); got != 2.5 {
		t.Errorf("even-length median = %v, want 2.5", got)
	}
	if got := nanMedian([]float64{math.NaN(), 1, 3}); got != 2 {
		t.Errorf("NaN-skipping median = %v, want 2", got)
	}
	if got := nanMedian([]float64{math.NaN()}); !math.IsNaN(got) {
		t.Errorf("all-NaN median = %v, want NaN", got)
	}
}

func TestNanStd(t *testing.T) {
	t.Parallel()
	if got := nanStd([]float64{2, 2, 2}); got != 0 {
		t.Errorf("constant std = %v, want 0", got)
	}
	// Population std of {1,3} is 1.
	if got := nanStd([]float64{1, math.NaN(), 3}); math.Abs(got-1) > 1e-12 {
		t.Errorf("NaN-skipping std = %v, want 1", got)
	}
}

func TestDiffs(t *testing.T) {
	t.Parallel()
	got := diffs([]float64{1, 2, 4, 7})
	want := []float64{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("diffs[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if diffs([]float64{1}) != nil {
		t.Error("diffs of single element should be nil")
	}
}
