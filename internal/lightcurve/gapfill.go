package lightcurve

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"
)

// DefaultSigma is the gap-detection threshold in standard deviations above
// the median time difference.
const DefaultSigma = 2.5

// GapFiller detects abnormally large time gaps in a light curve and fills
// them with linearly interpolated, noise-matched synthetic samples so the
// series can be windowed without straddling gaps.
//
// Randomness for the synthetic noise comes from the supplied rand.Rand so
// runs are reproducible without touching process-global state.
type GapFiller struct {
	sigma float64
	rng   *rand.Rand
}

// NewGapFiller returns a GapFiller with the given detection threshold.
// A non-positive sigma falls back to DefaultSigma.
func NewGapFiller(sigma float64, rng *rand.Rand) *GapFiller {
	if sigma <= 0 {
		sigma = DefaultSigma
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &GapFiller{sigma: sigma, rng: rng}
}

// Fill returns a gap-free, time-sorted copy of the input series. Gaps where
// the time difference exceeds median(diff) + sigma*std(diff) are filled with
// samples interpolated at a median(diff) step, plus Gaussian noise with
// standard deviation std(flux)/2. Synthetic samples carry std(flux)/2 as
// their flux error. Time, flux and flux error stay aligned through the
// final sort.
//
// A series with no abnormal gaps is returned unchanged. A gap touching the
// first or last sample cannot be interpolated and fails with
// ErrInsufficientData.
func (g *GapFiller) Fill(t, f, e []float64) ([]float64, []float64, []float64, error) {
	lc := LightCurve{Time: t, Flux: f, FluxErr: e}
	if err := lc.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if len(t) < 3 {
		return nil, nil, nil, fmt.Errorf("%w: need at least 3 samples to detect gaps, got %d",
			ErrInsufficientData, len(t))
	}

	dt := diffs(t)
	med := nanMedian(dt)
	cut := med + g.sigma*nanStd(dt)

	var flagged []int
	for i, d := range dt {
		if d >= cut {
			flagged = append(flagged, i)
		}
	}
	if len(flagged) == 0 {
		return t, f, e, nil
	}

	noise := nanStd(f) / 2

	outT := make([]float64, 0, len(t))
	outF := make([]float64, 0, len(f))
	outE := make([]float64, 0, len(e))

	next := 0
	for i := range t {
		outT = append(outT, t[i])
		outF = append(outF, f[i])
		outE = append(outE, e[i])

		if next < len(flagged) && flagged[next] == i {
			if i == 0 || i == len(dt)-1 {
				return nil, nil, nil, fmt.Errorf("%w: abnormal gap at series boundary (index %d)",
					ErrInsufficientData, i)
			}
			g.fillGap(t, f, i, med, noise, &outT, &outF, &outE)
			next++
		}
	}

	sortByTime(outT, outF, outE)

	log.Debug().
		Int("gaps", len(flagged)).
		Int("inserted", len(outT)-len(t)).
		Float64("cutoff", cut).
		Msg("filled light curve gaps")

	return outT, outF, outE, nil
}

// fillGap appends interpolated samples strictly inside (t[i], t[i+1]).
func (g *GapFiller) fillGap(t, f []float64, i int, step, noise float64, outT, outF, outE *[]float64) {
	gap := t[i+1] - t[i]
	n := int(math.Ceil(gap / step))
	slope := (f[i+1] - f[i]) / gap

	for k := 1; k < n; k++ {
		ts := t[i] + float64(k)*step
		if ts >= t[i+1] {
			break
		}
		*outT = append(*outT, ts)
		*outF = append(*outF, f[i]+slope*(ts-t[i])+g.rng.NormFloat64()*noise)
		*outE = append(*outE, noise)
	}
}

// sortByTime sorts the three slices jointly by time.
func sortByTime(t, f, e []float64) {
	idx := make([]int, len(t))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return t[idx[a]] < t[idx[b]] })

	tt := make([]float64, len(t))
	ff := make([]float64, len(f))
	ee := make([]float64, len(e))
	for i, j := range idx {
		tt[i], ff[i], ee[i] = t[j], f[j], e[j]
	}
	copy(t, tt)
	copy(f, ff)
	copy(e, ee)
}
