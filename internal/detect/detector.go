// Package detect runs trained classifiers over light curves: it repairs
// abnormal gaps, slices the series into fixed-width windows and scores every
// cadence with a per-window flare probability.
package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flarecast/internal/lightcurve"

	"github.com/rs/zerolog/log"
)

// ErrPrediction wraps failures of the model backend during scoring.
var ErrPrediction = errors.New("detect: prediction failed")

// Predictor scores a batch of fixed-width windows. *ml.KerasClassifier
// satisfies it; tests substitute a deterministic fake.
type Predictor interface {
	Predict(ctx context.Context, data [][]float64) ([]float64, error)
}

// MetricsInterface defines the hooks the detector reports to.
type MetricsInterface interface {
	GapsFilledInc()
	SamplesInsertedAdd(int)
	WindowsBuiltAdd(int)
	PredictionsAdd(int)
	PredictionErrorsInc()
	PredictionLatencyObserve(float64)
	PredictionScoresObserve(float64)
}

// Prediction is the scored version of one input curve. The arrays are
// aligned index-for-index over the gap-filled series, so Probs[i] is the
// flare probability of the window centered on Time[i].
type Prediction struct {
	Time    []float64
	Flux    []float64
	FluxErr []float64
	Probs   []float64
}

// Detector is the end-to-end inference pipeline for one trained model.
type Detector struct {
	filler  *lightcurve.GapFiller
	windows *lightcurve.WindowBuilder
	model   Predictor
	metrics MetricsInterface // optional
}

// NewDetector wires the pipeline stages together. metrics may be nil.
func NewDetector(filler *lightcurve.GapFiller, windows *lightcurve.WindowBuilder, model Predictor, metrics MetricsInterface) (*Detector, error) {
	if filler == nil || windows == nil {
		return nil, fmt.Errorf("%w: detector needs a gap filler and a window builder", lightcurve.ErrConfiguration)
	}
	if model == nil {
		return nil, fmt.Errorf("%w: detector needs a model", lightcurve.ErrConfiguration)
	}
	return &Detector{filler: filler, windows: windows, model: model, metrics: metrics}, nil
}

// Predict scores every curve independently and in order. A curve that fails
// any stage aborts the whole call with the curve index attached; partially
// scored curves are never returned.
func (d *Detector) Predict(ctx context.Context, curves []lightcurve.LightCurve) ([]Prediction, error) {
	out := make([]Prediction, 0, len(curves))
	for i, lc := range curves {
		p, err := d.predictOne(ctx, lc)
		if err != nil {
			if d.metrics != nil {
				d.metrics.PredictionErrorsInc()
			}
			return nil, fmt.Errorf("detect: curve %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *Detector) predictOne(ctx context.Context, lc lightcurve.LightCurve) (Prediction, error) {
	start := time.Now()

	if err := lc.Validate(); err != nil {
		return Prediction{}, err
	}

	t, f, e, err := d.filler.Fill(lc.Time, lc.Flux, lc.FluxErr)
	if err != nil {
		return Prediction{}, err
	}
	if inserted := len(t) - len(lc.Time); inserted > 0 && d.metrics != nil {
		d.metrics.GapsFilledInc()
		d.metrics.SamplesInsertedAdd(inserted)
	}

	wins, err := d.windows.BuildWindows(t, f)
	if err != nil {
		return Prediction{}, err
	}
	if d.metrics != nil {
		d.metrics.WindowsBuiltAdd(len(wins))
	}

	probs, err := d.model.Predict(ctx, wins)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %v", ErrPrediction, err)
	}
	if len(probs) != len(t) {
		return Prediction{}, fmt.Errorf("%w: got %d scores for %d cadences", ErrPrediction, len(probs), len(t))
	}

	if d.metrics != nil {
		d.metrics.PredictionsAdd(len(probs))
		for _, p := range probs {
			d.metrics.PredictionScoresObserve(p)
		}
		d.metrics.PredictionLatencyObserve(time.Since(start).Seconds())
	}

	log.Debug().
		Int("cadences", len(t)).
		Int("inserted", len(t)-len(lc.Time)).
		Dur("elapsed", time.Since(start)).
		Msg("curve scored")

	return Prediction{Time: t, Flux: f, FluxErr: e, Probs: probs}, nil
}
