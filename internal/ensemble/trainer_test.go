package ensemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"flarecast/internal/dataset"
	"flarecast/internal/ml"
	"flarecast/internal/storage"
)

// fakeClassifier is a deterministic stand-in for the Keras backend.
type fakeClassifier struct {
	seed    int
	failFit bool
}

func (f *fakeClassifier) Fit(_ context.Context, data [][]float64, labels []int, opts ml.FitOptions) (*ml.History, error) {
	if f.failFit {
		return nil, fmt.Errorf("%w: seed %d: backend exploded", ml.ErrTraining, f.seed)
	}
	if len(data) != len(labels) {
		return nil, fmt.Errorf("%w: seed %d: shape mismatch", ml.ErrTraining, f.seed)
	}
	loss := make([]float64, opts.Epochs)
	valAcc := make([]float64, opts.Epochs)
	for e := 0; e < opts.Epochs; e++ {
		loss[e] = 1.0 / float64(e+1+f.seed)
		valAcc[e] = 0.5 + float64(e)/float64(2*opts.Epochs)
	}
	return &ml.History{Metrics: map[string][]float64{"loss": loss, "val_accuracy": valAcc}}, nil
}

func (f *fakeClassifier) Predict(_ context.Context, data [][]float64) ([]float64, error) {
	out := make([]float64, len(data))
	for i := range data {
		out[i] = float64(f.seed)/10 + float64(i)/100
	}
	return out, nil
}

func (f *fakeClassifier) Save(path string) error {
	return os.WriteFile(path, []byte("model"), 0o644)
}

func testSet() *dataset.TrainingSet {
	window := func(base float64) []float64 { return []float64{base, base + 1, base + 2, base + 3} }
	return &dataset.TrainingSet{
		Cadences:    4,
		FracBalance: 0.5,
		Train: dataset.Partition{
			Data:      [][]float64{window(0), window(1), window(2), window(3)},
			Labels:    []int{0, 1, 0, 1},
			IDs:       []string{"t1", "t2", "t3", "t4"},
			PeakTimes: []float64{0, 1.5, 0, 3.5},
		},
		Val: dataset.Partition{
			Data:      [][]float64{window(4), window(5), window(6)},
			Labels:    []int{1, 0, 1},
			IDs:       []string{"v1", "v2", "v3"},
			PeakTimes: []float64{4.5, 0, 6.5},
		},
		Test: dataset.Partition{
			Data:      [][]float64{window(7), window(8)},
			Labels:    []int{0, 1},
			IDs:       []string{"x1", "x2"},
			PeakTimes: []float64{0, 8.5},
		},
	}
}

func fakeFactory(fail map[int]bool) ml.Factory {
	return func(seed int) (ml.Classifier, error) {
		return &fakeClassifier{seed: seed, failFit: fail[seed]}, nil
	}
}

func TestTrainer_TwoSeeds(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	tr, err := NewTrainer(testSet(), fakeFactory(nil), dir, nil, nil)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	res, err := tr.Train(context.Background(), []int{1, 2}, TrainOptions{Epochs: 5, BatchSize: 2, Shuffle: true})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	// Two tracked metrics, two seeds: four seed-qualified history columns.
	histNames := res.History.ColumnNames()
	if len(histNames) != 4 {
		t.Fatalf("History has %d columns, want 4: %v", len(histNames), histNames)
	}
	for _, want := range []string{"loss_s0001", "loss_s0002", "val_accuracy_s0001", "val_accuracy_s0002"} {
		if res.History.Column(want) == nil {
			t.Errorf("Missing history column %s", want)
		}
	}
	if res.History.NumRows() != 5 {
		t.Errorf("History has %d epochs, want 5", res.History.NumRows())
	}

	// Validation table: identity columns plus exactly one prediction column
	// per seed.
	valNames := res.Validation.ColumnNames()
	if len(valNames) != 4 {
		t.Fatalf("Validation has %d columns, want 4: %v", len(valNames), valNames)
	}
	if res.Validation.Column("pred_s0001") == nil || res.Validation.Column("pred_s0002") == nil {
		t.Error("Missing seed prediction columns")
	}
	if res.Validation.NumRows() != 3 {
		t.Errorf("Validation rows = %d, want 3", res.Validation.NumRows())
	}

	// Test table stays identity-only without PredictOnTest.
	if len(res.Test.ColumnNames()) != 2 {
		t.Errorf("Test table columns = %v, want identity only", res.Test.ColumnNames())
	}

	// Models persisted under the artifact naming scheme.
	for _, seed := range []int{1, 2} {
		path := filepath.Join(dir, storage.ModelFileName(seed, 5, 0.5))
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Model for seed %d not persisted: %v", seed, err)
		}
	}

	if len(res.Manifest) != 2 || res.Manifest[0].Seed != 1 || res.Manifest[1].Seed != 2 {
		t.Errorf("Manifest = %+v", res.Manifest)
	}
}

func TestTrainer_PredictOnTest(t *testing.T) {
	t.Parallel()
	tr, err := NewTrainer(testSet(), fakeFactory(nil), t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	res, err := tr.Train(context.Background(), []int{1, 2}, TrainOptions{Epochs: 2, BatchSize: 2, PredictOnTest: true})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if res.Test.Column("test_s0001") == nil || res.Test.Column("test_s0002") == nil {
		t.Errorf("Test table columns = %v", res.Test.ColumnNames())
	}
}

func TestTrainer_SaveTables(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tr, err := NewTrainer(testSet(), fakeFactory(nil), dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = tr.Train(context.Background(), []int{1, 2}, TrainOptions{Epochs: 2, BatchSize: 2, SaveTables: true})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	valPath := filepath.Join(dir, storage.TableFileName("predval", 2, 0.5))
	got, err := ReadCSV(valPath, true)
	if err != nil {
		t.Fatalf("Saved validation table unreadable: %v", err)
	}
	if got.NumRows() != 3 || got.Column("pred_s0002") == nil {
		t.Errorf("Saved table shape wrong: rows=%d cols=%v", got.NumRows(), got.ColumnNames())
	}

	if _, err := os.Stat(filepath.Join(dir, storage.TableFileName("histories", 2, 0.5))); err != nil {
		t.Errorf("Histories table not saved: %v", err)
	}
	// No test table without PredictOnTest.
	if _, err := os.Stat(filepath.Join(dir, storage.TableFileName("predtest", 2, 0.5))); !os.IsNotExist(err) {
		t.Errorf("Unexpected test table: %v", err)
	}
}

func TestTrainer_RegistryManifest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	reg, err := storage.OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	tr, err := NewTrainer(testSet(), fakeFactory(nil), dir, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Train(context.Background(), []int{5, 3}, TrainOptions{Epochs: 2, BatchSize: 2}); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	runs, err := reg.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Seed != 3 || runs[1].Seed != 5 {
		t.Errorf("Registry manifest = %+v", runs)
	}
}

func TestTrainer_FitFailurePropagates(t *testing.T) {
	t.Parallel()
	tr, err := NewTrainer(testSet(), fakeFactory(map[int]bool{2: true}), t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = tr.Train(context.Background(), []int{1, 2}, TrainOptions{Epochs: 2, BatchSize: 2})
	if !errors.Is(err, ml.ErrTraining) {
		t.Fatalf("Expected ErrTraining, got %v", err)
	}
}

func TestTrainer_Validation(t *testing.T) {
	t.Parallel()
	tr, err := NewTrainer(testSet(), fakeFactory(nil), t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tr.Train(context.Background(), nil, TrainOptions{Epochs: 2}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for no seeds, got %v", err)
	}
	if _, err := tr.Train(context.Background(), []int{1}, TrainOptions{Epochs: 0}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for zero epochs, got %v", err)
	}

	bad := testSet()
	bad.Val.Labels = bad.Val.Labels[:1]
	if _, err := NewTrainer(bad, fakeFactory(nil), t.TempDir(), nil, nil); !errors.Is(err, dataset.ErrConfiguration) {
		t.Errorf("Expected dataset.ErrConfiguration, got %v", err)
	}
}
