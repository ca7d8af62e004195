// Package lightcurve holds the numeric core of the flare-detection pipeline:
// gap filling for irregularly sampled series and fixed-width window
// extraction for the classifier. All routines treat a light curve as three
// parallel float64 slices (time, flux, flux error) of equal length.
package lightcurve

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned when a series is too short to process
	// or an abnormal gap sits at the series boundary where interpolation has
	// no valid point on one side.
	ErrInsufficientData = errors.New("lightcurve: insufficient data")

	// ErrConfiguration is returned for mismatched array lengths or invalid
	// window parameters.
	ErrConfiguration = errors.New("lightcurve: invalid configuration")
)

// LightCurve is a time-ordered sequence of brightness measurements for one
// source. Time is strictly increasing after gap filling.
type LightCurve struct {
	Time    []float64
	Flux    []float64
	FluxErr []float64
}

// Validate checks the parallel-slice invariant.
func (lc LightCurve) Validate() error {
	if len(lc.Time) != len(lc.Flux) || len(lc.Flux) != len(lc.FluxErr) {
		return fmt.Errorf("%w: time/flux/fluxErr lengths %d/%d/%d",
			ErrConfiguration, len(lc.Time), len(lc.Flux), len(lc.FluxErr))
	}
	return nil
}
