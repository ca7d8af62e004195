package ensemble

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"flarecast/internal/dataset"
	"flarecast/internal/ml"
	"flarecast/internal/storage"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines the metrics hooks the trainer reports to.
type MetricsInterface interface {
	TrainingRunsInc()
	TrainingFailuresInc()
	TrainingDurationObserve(float64)
}

// TrainOptions configures one ensemble training pass.
type TrainOptions struct {
	Epochs        int
	BatchSize     int
	Shuffle       bool
	PredictOnTest bool // leave false until the final model is chosen
	SaveTables    bool
}

// Result bundles the tables produced by a training pass plus the explicit
// manifest of persisted models, in seed order.
type Result struct {
	History    *Table
	Validation *Table
	Test       *Table
	Manifest   []storage.RunRecord
}

// Trainer runs one independently-seeded classifier per seed over the same
// training set and collects histories and predictions.
type Trainer struct {
	ds       *dataset.TrainingSet
	factory  ml.Factory
	outDir   string
	registry *storage.Registry // optional
	metrics  MetricsInterface  // optional
}

// NewTrainer validates the training set and returns a Trainer writing
// artifacts to outDir. registry and metrics may be nil.
func NewTrainer(ds *dataset.TrainingSet, factory ml.Factory, outDir string, registry *storage.Registry, metrics MetricsInterface) (*Trainer, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: nil classifier factory", ErrConfiguration)
	}
	return &Trainer{ds: ds, factory: factory, outDir: outDir, registry: registry, metrics: metrics}, nil
}

// Train fits one fresh classifier per seed. Per seed it records the full
// per-epoch metric history under seed-qualified column names, persists the
// fitted model, predicts on the validation partition, and predicts on the
// test partition only when PredictOnTest is set. Classifier state never
// leaks between seeds: each iteration gets a newly constructed, freshly
// seeded model. Fit failures propagate unmodified with the offending seed
// in the message.
func (tr *Trainer) Train(ctx context.Context, seeds []int, opts TrainOptions) (*Result, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: no seeds given", ErrConfiguration)
	}
	if opts.Epochs <= 0 {
		return nil, fmt.Errorf("%w: epochs must be positive, got %d", ErrConfiguration, opts.Epochs)
	}

	history := NewTable(nil)
	valTable := identityTable(tr.ds.Val)
	testTable := identityTable(tr.ds.Test)

	res := &Result{History: history, Validation: valTable, Test: testTable}

	for _, seed := range seeds {
		start := time.Now()

		clf, err := tr.factory(seed)
		if err != nil {
			return nil, fmt.Errorf("ensemble: construct classifier for seed %d: %w", seed, err)
		}

		hist, err := clf.Fit(ctx, tr.ds.Train.Data, tr.ds.Train.Labels, ml.FitOptions{
			Epochs:    opts.Epochs,
			BatchSize: opts.BatchSize,
			Shuffle:   opts.Shuffle,
			ValData:   tr.ds.Val.Data,
			ValLabels: tr.ds.Val.Labels,
		})
		if err != nil {
			if tr.metrics != nil {
				tr.metrics.TrainingFailuresInc()
			}
			return nil, err
		}

		for _, name := range hist.MetricNames() {
			col := fmt.Sprintf("%s_s%04d", name, seed)
			if err := history.AddColumn(col, hist.Metrics[name]); err != nil {
				return nil, err
			}
		}

		modelPath := filepath.Join(tr.outDir, storage.ModelFileName(seed, opts.Epochs, tr.ds.FracBalance))
		if err := clf.Save(modelPath); err != nil {
			return nil, fmt.Errorf("%w: persist seed %d model to %s: %v",
				storage.ErrStorage, seed, modelPath, err)
		}

		valPreds, err := clf.Predict(ctx, tr.ds.Val.Data)
		if err != nil {
			return nil, fmt.Errorf("ensemble: validation predictions for seed %d: %w", seed, err)
		}
		if err := valTable.AddColumn(fmt.Sprintf("pred_s%04d", seed), valPreds); err != nil {
			return nil, err
		}

		if opts.PredictOnTest {
			testPreds, err := clf.Predict(ctx, tr.ds.Test.Data)
			if err != nil {
				return nil, fmt.Errorf("ensemble: test predictions for seed %d: %w", seed, err)
			}
			if err := testTable.AddColumn(fmt.Sprintf("test_s%04d", seed), testPreds); err != nil {
				return nil, err
			}
		}

		rec := storage.RunRecord{
			Seed:        seed,
			Epochs:      opts.Epochs,
			FracBalance: tr.ds.FracBalance,
			ModelPath:   modelPath,
			CreatedAt:   time.Now().UTC(),
		}
		res.Manifest = append(res.Manifest, rec)
		if tr.registry != nil {
			if err := tr.registry.Record(rec); err != nil {
				return nil, fmt.Errorf("ensemble: record run for seed %d: %w", seed, err)
			}
		}

		if tr.metrics != nil {
			tr.metrics.TrainingRunsInc()
			tr.metrics.TrainingDurationObserve(time.Since(start).Seconds())
		}

		log.Info().
			Int("seed", seed).
			Str("model", modelPath).
			Dur("elapsed", time.Since(start)).
			Msg("seed run complete")
	}

	if opts.SaveTables {
		if err := tr.saveTables(res, opts); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func (tr *Trainer) saveTables(res *Result, opts TrainOptions) error {
	epochs := opts.Epochs
	balance := tr.ds.FracBalance

	histPath := filepath.Join(tr.outDir, storage.TableFileName("histories", epochs, balance))
	if err := res.History.WriteCSV(histPath); err != nil {
		return err
	}

	valPath := filepath.Join(tr.outDir, storage.TableFileName("predval", epochs, balance))
	if err := res.Validation.WriteCSV(valPath); err != nil {
		return err
	}

	if opts.PredictOnTest {
		testPath := filepath.Join(tr.outDir, storage.TableFileName("predtest", epochs, balance))
		if err := res.Test.WriteCSV(testPath); err != nil {
			return err
		}
	}
	return nil
}

// identityTable seeds a prediction table with the partition's id,
// ground-truth and peak-time columns.
func identityTable(p dataset.Partition) *Table {
	t := NewTable(p.IDs)

	gt := make([]float64, len(p.Labels))
	for i, l := range p.Labels {
		gt[i] = float64(l)
	}
	// Lengths are pre-validated, AddColumn cannot fail here.
	_ = t.AddColumn("gt", gt)
	_ = t.AddColumn("tpeak", p.PeakTimes)
	return t
}
