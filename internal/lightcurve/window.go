package lightcurve

import (
	"fmt"
)

// WindowBuilder slices a gap-free light curve into fixed-width windows, one
// centered on each sample, matching the input shape the classifier was
// trained on. Flux is normalized by its median before windowing.
//
// Windows that would run past the series boundary are padded with zero flux.
// The padding's time axis is extrapolated beyond the series at a step of
// std(diff(time)); it is not part of the returned window but determines the
// padding length.
type WindowBuilder struct {
	cadences int
	half     int
}

// NewWindowBuilder validates the window width. Cadences must be positive and
// even so every window is exactly cadences samples wide.
func NewWindowBuilder(cadences int) (*WindowBuilder, error) {
	if cadences <= 0 {
		return nil, fmt.Errorf("%w: cadences must be positive, got %d", ErrConfiguration, cadences)
	}
	if cadences%2 != 0 {
		return nil, fmt.Errorf("%w: cadences must be even, got %d", ErrConfiguration, cadences)
	}
	return &WindowBuilder{cadences: cadences, half: cadences / 2}, nil
}

// Cadences returns the configured window width.
func (w *WindowBuilder) Cadences() int { return w.cadences }

// BuildWindows returns one window per sample index. Every window is exactly
// Cadences() long. The series must hold at least Cadences() samples.
func (w *WindowBuilder) BuildWindows(t, f []float64) ([][]float64, error) {
	if len(t) != len(f) {
		return nil, fmt.Errorf("%w: time/flux lengths %d/%d", ErrConfiguration, len(t), len(f))
	}
	if len(f) < w.cadences {
		return nil, fmt.Errorf("%w: series of %d samples shorter than window width %d",
			ErrInsufficientData, len(f), w.cadences)
	}

	norm := nanMedian(f)
	nf := make([]float64, len(f))
	for i, v := range f {
		nf[i] = v / norm
	}

	tstep := nanStd(diffs(t))

	windows := make([][]float64, len(nf))
	for i := range nf {
		switch {
		case i <= w.half:
			pad := padTimes(t[i], w.half-i, tstep, true)
			win := make([]float64, len(pad), w.cadences)
			win = append(win, nf[0:i+w.half]...)
			windows[i] = win
		case i >= len(nf)-w.half:
			lo := i - w.half
			pad := padTimes(t[i], w.cadences-(len(nf)-lo), tstep, false)
			win := make([]float64, 0, w.cadences)
			win = append(win, nf[lo:]...)
			win = append(win, make([]float64, len(pad))...)
			windows[i] = win
		default:
			win := make([]float64, w.cadences)
			copy(win, nf[i-w.half:i+w.half])
			windows[i] = win
		}
	}
	return windows, nil
}

// padTimes extrapolates fill synthetic time stamps from t0 at the given
// step, backward (ascending toward t0) or forward (ascending away from t0).
func padTimes(t0 float64, fill int, step float64, backward bool) []float64 {
	if fill < 0 {
		fill = 0
	}
	out := make([]float64, fill)
	for k := 0; k < fill; k++ {
		if backward {
			out[fill-1-k] = t0 - float64(k)*step
		} else {
			out[k] = t0 + float64(k)*step
		}
	}
	return out
}
