package lightcurve

import (
	"math"
	"sort"
)

// nanMedian returns the median of the non-NaN values, or NaN if none exist.
func nanMedian(xs []float64) float64 {
	vals := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			vals = append(vals, x)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// nanStd returns the population standard deviation of the non-NaN values.
func nanStd(xs []float64) float64 {
	var sum float64
	var n int
	for _, x := range xs {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	mean := sum / float64(n)
	var ss float64
	for _, x := range xs {
		if !math.IsNaN(x) {
			d := x - mean
			ss += d * d
		}
	}
	return math.Sqrt(ss / float64(n))
}

// diffs returns successive differences xs[i+1]-xs[i].
func diffs(xs []float64) []float64 {
	if len(xs) < 2 {
		return nil
	}
	out := make([]float64, len(xs)-1)
	for i := 0; i < len(xs)-1; i++ {
		out[i] = xs[i+1] - xs[i]
	}
	return out
}
