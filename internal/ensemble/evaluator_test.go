package ensemble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate_RequiresTwoModels(t *testing.T) {
	t.Parallel()
	_, err := Aggregate([]string{"a"}, []float64{1}, []float64{0},
		[]SeedPredictions{{Seed: 1, Preds: []float64{0.9}}}, 0.5)
	require.ErrorIs(t, err, ErrInsufficientModels)
}

func TestAggregate_NaNIgnoringMean(t *testing.T) {
	t.Parallel()
	et, err := Aggregate([]string{"a"}, []float64{1}, []float64{0}, []SeedPredictions{
		{Seed: 1, Preds: []float64{0.2}},
		{Seed: 2, Preds: []float64{0.4}},
		{Seed: 3, Preds: []float64{math.NaN()}},
	}, 0.5)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, et.Column("pred")[0], 1e-12)
	// Two of two valid models vote below threshold.
	assert.Equal(t, 0.0, et.Column("pred_round")[0])
	assert.Equal(t, 0.0, et.Column("flare_frac")[0])
}

func TestAggregate_InclusiveThreshold(t *testing.T) {
	t.Parallel()
	et, err := Aggregate([]string{"a"}, []float64{1}, []float64{0}, []SeedPredictions{
		{Seed: 1, Preds: []float64{0.5}},
		{Seed: 2, Preds: []float64{0.5}},
	}, 0.5)
	require.NoError(t, err)

	assert.Equal(t, 0.5, et.Column("pred")[0])
	assert.Equal(t, 1.0, et.Column("pred_round")[0], "threshold boundary is inclusive")
	assert.Equal(t, 1.0, et.Column("flare_frac")[0])
}

func TestAggregate_RoundsToThreeDecimals(t *testing.T) {
	t.Parallel()
	et, err := Aggregate([]string{"a"}, []float64{1}, []float64{0}, []SeedPredictions{
		{Seed: 1, Preds: []float64{0.12345}},
		{Seed: 2, Preds: []float64{0.12355}},
	}, 0.5)
	require.NoError(t, err)

	assert.Equal(t, 0.123, et.Column("s0001")[0])
	assert.Equal(t, 0.124, et.Column("s0002")[0])
}

func TestAggregate_ColumnLayout(t *testing.T) {
	t.Parallel()
	et, err := Aggregate(
		[]string{"a", "b"}, []float64{1, 0}, []float64{1.5, 0},
		[]SeedPredictions{
			{Seed: 2, Preds: []float64{0.9, 0.1}},
			{Seed: 7, Preds: []float64{0.8, 0.2}},
		}, 0.5)
	require.NoError(t, err)

	assert.Equal(t, []string{"gt", "tpeak", "s0002", "s0007", "pred", "pred_round", "flare_frac"},
		et.ColumnNames())
	assert.Equal(t, []string{"s0002", "s0007"}, et.SeedCols)
}

func TestAggregate_MisalignedPredictions(t *testing.T) {
	t.Parallel()
	_, err := Aggregate([]string{"a", "b"}, []float64{1, 0}, []float64{0, 0}, []SeedPredictions{
		{Seed: 1, Preds: []float64{0.9, 0.1}},
		{Seed: 2, Preds: []float64{0.9}},
	}, 0.5)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestScore_KnownExample(t *testing.T) {
	t.Parallel()
	// Both models agree, so the ensemble mean equals each seed column.
	preds := []float64{0.9, 0.4, 0.6, 0.1}
	et, err := Aggregate(
		[]string{"a", "b", "c", "d"},
		[]float64{1, 1, 0, 0},
		[]float64{1, 2, 0, 0},
		[]SeedPredictions{
			{Seed: 1, Preds: preds},
			{Seed: 2, Preds: preds},
		}, 0.5)
	require.NoError(t, err)

	m, err := Score(et)
	require.NoError(t, err)

	// Labels [1,0,1,0] vs truth [1,1,0,0]: TP=1, FP=1, FN=1.
	assert.InDelta(t, 0.5, m.Recall, 1e-12)
	assert.InDelta(t, 0.5, m.Precision, 1e-12)
	assert.InDelta(t, 0.5, m.Accuracy, 1e-12)
	// AP over thresholds 0.9/0.6/0.4/0.1: 0.5*1 + 0.5*(2/3).
	assert.InDelta(t, 0.8333, m.AveragePrecision, 1e-4)

	require.Len(t, m.PrecisionRecallCurve, 5)
	assert.Equal(t, [2]float64{0, 1}, m.PrecisionRecallCurve[0])
	last := m.PrecisionRecallCurve[len(m.PrecisionRecallCurve)-1]
	assert.InDelta(t, 1.0, last[0], 1e-12)
	assert.InDelta(t, 0.5, last[1], 1e-12)
}

func TestScore_PerfectSeparation(t *testing.T) {
	t.Parallel()
	preds := []float64{0.95, 0.85, 0.15, 0.05}
	et, err := Aggregate(
		[]string{"a", "b", "c", "d"},
		[]float64{1, 1, 0, 0},
		[]float64{0, 0, 0, 0},
		[]SeedPredictions{
			{Seed: 1, Preds: preds},
			{Seed: 2, Preds: preds},
		}, 0.5)
	require.NoError(t, err)

	m, err := Score(et)
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.Recall)
	assert.Equal(t, 1.0, m.Precision)
	assert.Equal(t, 1.0, m.Accuracy)
	assert.Equal(t, 1.0, m.AveragePrecision)
}

func TestScore_MissingColumns(t *testing.T) {
	t.Parallel()
	et := &EnsembleTable{Table: NewTable([]string{"a"}), Threshold: 0.5}
	_, err := Score(et)
	require.ErrorIs(t, err, ErrConfiguration)
}
