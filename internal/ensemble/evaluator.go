package ensemble

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInsufficientModels is returned when fewer than two seed predictions
// are aggregated; ensemble statistics are undefined for a single model.
var ErrInsufficientModels = errors.New("ensemble: need at least 2 models for ensemble metrics")

// SeedPredictions is one model's scores for the evaluated examples, in the
// same example order as the identity columns.
type SeedPredictions struct {
	Seed  int
	Preds []float64
}

// EnsembleTable is a prediction table plus the bookkeeping Score needs:
// which columns hold per-seed scores and the threshold used to derive the
// ensemble label.
type EnsembleTable struct {
	*Table
	SeedCols  []string
	Threshold float64
}

// Aggregate combines per-seed predictions for the same ordered examples
// into an ensemble table. Predictions are rounded to 3 decimal places; the
// "pred" column is their NaN-ignoring elementwise mean; "pred_round" is 1
// where pred >= threshold (inclusive) and 0 otherwise; "flare_frac" is the
// fraction of models voting at or above the threshold.
func Aggregate(ids []string, groundTruth, peakTimes []float64, perSeed []SeedPredictions, threshold float64) (*EnsembleTable, error) {
	if len(perSeed) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientModels, len(perSeed))
	}
	n := len(ids)
	if len(groundTruth) != n || len(peakTimes) != n {
		return nil, fmt.Errorf("%w: identity columns misaligned (%d/%d/%d)",
			ErrConfiguration, n, len(groundTruth), len(peakTimes))
	}

	t := NewTable(ids)
	if err := t.AddColumn("gt", groundTruth); err != nil {
		return nil, err
	}
	if err := t.AddColumn("tpeak", peakTimes); err != nil {
		return nil, err
	}

	et := &EnsembleTable{Table: t, Threshold: threshold}

	rounded := make([][]float64, len(perSeed))
	for k, sp := range perSeed {
		if len(sp.Preds) != n {
			return nil, fmt.Errorf("%w: seed %d has %d predictions, want %d",
				ErrConfiguration, sp.Seed, len(sp.Preds), n)
		}
		col := make([]float64, n)
		for i, p := range sp.Preds {
			col[i] = round3(p)
		}
		rounded[k] = col

		name := fmt.Sprintf("s%04d", sp.Seed)
		if err := t.AddColumn(name, col); err != nil {
			return nil, err
		}
		et.SeedCols = append(et.SeedCols, name)
	}

	mean := make([]float64, n)
	label := make([]float64, n)
	frac := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		var votes, valid int
		for k := range rounded {
			p := rounded[k][i]
			if math.IsNaN(p) {
				continue
			}
			sum += p
			valid++
			if p >= threshold {
				votes++
			}
		}
		if valid == 0 {
			mean[i] = math.NaN()
		} else {
			mean[i] = sum / float64(valid)
			frac[i] = float64(votes) / float64(valid)
		}
		if mean[i] >= threshold {
			label[i] = 1
		}
	}

	if err := t.AddColumn("pred", mean); err != nil {
		return nil, err
	}
	if err := t.AddColumn("pred_round", label); err != nil {
		return nil, err
	}
	if err := t.AddColumn("flare_frac", frac); err != nil {
		return nil, err
	}
	return et, nil
}

// Metrics are the ensemble's aggregate scores. The curve holds
// (recall, precision) pairs over all achievable score thresholds.
type Metrics struct {
	AveragePrecision     float64
	Accuracy             float64
	Recall               float64
	Precision            float64
	PrecisionRecallCurve [][2]float64
}

// Score computes the ensemble metrics for an aggregated table. Recall and
// precision come from the thresholded ensemble label; average precision
// and the precision-recall curve come from the continuous mean scores.
// Accuracy is computed per seed column and reported as the mean across
// seeds. All scalars are rounded to 4 decimal places.
func Score(et *EnsembleTable) (*Metrics, error) {
	gt := et.Column("gt")
	mean := et.Column("pred")
	label := et.Column("pred_round")
	if gt == nil || mean == nil || label == nil {
		return nil, fmt.Errorf("%w: table missing gt/pred/pred_round columns", ErrConfiguration)
	}
	n := len(gt)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrConfiguration)
	}

	var tp, fp, fn float64
	for i := 0; i < n; i++ {
		switch {
		case label[i] == 1 && gt[i] == 1:
			tp++
		case label[i] == 1 && gt[i] == 0:
			fp++
		case label[i] == 0 && gt[i] == 1:
			fn++
		}
	}
	recall := safeDiv(tp, tp+fn)
	precision := safeDiv(tp, tp+fp)

	var accSum float64
	for _, name := range et.SeedCols {
		col := et.Column(name)
		var hits int
		for i, p := range col {
			var pl float64
			if p >= et.Threshold {
				pl = 1
			}
			if pl == gt[i] {
				hits++
			}
		}
		accSum += round4(float64(hits) / float64(n))
	}
	accuracy := accSum / float64(len(et.SeedCols))

	curve := precisionRecallCurve(gt, mean)
	ap := averagePrecision(curve)

	return &Metrics{
		AveragePrecision:     round4(ap),
		Accuracy:             round4(accuracy),
		Recall:               round4(recall),
		Precision:            round4(precision),
		PrecisionRecallCurve: curve,
	}, nil
}

// precisionRecallCurve returns (recall, precision) pairs for every distinct
// score threshold, in increasing recall order, starting from the degenerate
// (0, 1) point.
func precisionRecallCurve(gt, scores []float64) [][2]float64 {
	idx := make([]int, 0, len(scores))
	var totalPos float64
	for i := range scores {
		if !math.IsNaN(scores[i]) {
			idx = append(idx, i)
		}
		if gt[i] == 1 {
			totalPos++
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	curve := [][2]float64{{0, 1}}
	var tp, fp float64
	for k, i := range idx {
		if gt[i] == 1 {
			tp++
		} else {
			fp++
		}
		// Emit a point only at the last occurrence of each distinct score.
		if k+1 < len(idx) && scores[idx[k+1]] == scores[i] {
			continue
		}
		curve = append(curve, [2]float64{safeDiv(tp, totalPos), safeDiv(tp, tp+fp)})
	}
	return curve
}

// averagePrecision integrates the curve as sum((R_k - R_{k-1}) * P_k).
func averagePrecision(curve [][2]float64) float64 {
	var ap, prevR float64
	for _, pt := range curve[1:] {
		ap += (pt[0] - prevR) * pt[1]
		prevR = pt[0]
	}
	return ap
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func round3(x float64) float64 {
	if math.IsNaN(x) {
		return x
	}
	return math.Round(x*1000) / 1000
}

func round4(x float64) float64 {
	if math.IsNaN(x) {
		return x
	}
	return math.Round(x*10000) / 10000
}
