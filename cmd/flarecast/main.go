package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"flarecast/internal/cfg"
	"flarecast/internal/dataset"
	"flarecast/internal/detect"
	"flarecast/internal/ensemble"
	"flarecast/internal/lightcurve"
	"flarecast/internal/metrics"
	"flarecast/internal/ml"
	"flarecast/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const usage = `usage: flarecast <command> [args]

commands:
  train                      train one classifier per configured seed
  predict <model> <curve>..  score light curve CSV files with a trained model
  evaluate [table]           aggregate seed predictions and report metrics
  fetch <name>..             download pretrained models into the output dir
`

func main() {
	// A local .env is optional; real deployments set the environment.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	outDir, err := storage.ResolveDir(c.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Msg("output directory unusable")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	mw := metrics.NewWrapper(m)
	startMetricsServer(ctx, c)

	switch cmd := os.Args[1]; cmd {
	case "train":
		err = runTrain(ctx, c, outDir, mw)
	case "predict":
		err = runPredict(ctx, c, outDir, mw, os.Args[2:])
	case "evaluate":
		err = runEvaluate(c, outDir, os.Args[2:])
	case "fetch":
		err = runFetch(ctx, c, outDir, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
	}
}

// startMetricsServer starts the Prometheus metrics HTTP server.
func startMetricsServer(ctx context.Context, c cfg.Settings) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func mlConfig(c cfg.Settings, outDir string) ml.Config {
	return ml.Config{
		Cadences:   c.Cadences,
		Layers:     ml.DefaultLayers(),
		PythonPath: c.PythonPath,
		WorkDir:    outDir,
		Timeout:    c.PredictTimeout,
	}
}

// runTrain fits one classifier per configured seed, persists the models and
// tables, then aggregates the validation predictions and reports ensemble
// metrics.
func runTrain(ctx context.Context, c cfg.Settings, outDir string, mw *metrics.Wrapper) error {
	if c.TrainData == "" || c.ValData == "" || c.TestData == "" {
		return fmt.Errorf("train requires TRAIN_DATA, VAL_DATA and TEST_DATA")
	}

	train, err := dataset.LoadPartition(c.TrainData, c.Cadences)
	if err != nil {
		return err
	}
	val, err := dataset.LoadPartition(c.ValData, c.Cadences)
	if err != nil {
		return err
	}
	test, err := dataset.LoadPartition(c.TestData, c.Cadences)
	if err != nil {
		return err
	}

	ds := &dataset.TrainingSet{
		Cadences:    c.Cadences,
		FracBalance: c.FracBalance,
		Train:       train,
		Val:         val,
		Test:        test,
	}

	mlCfg := mlConfig(c, outDir)
	factory := func(seed int) (ml.Classifier, error) {
		return ml.NewKerasClassifier(seed, mlCfg)
	}

	registry, err := storage.OpenRegistry(outDir)
	if err != nil {
		return err
	}
	defer registry.Close()

	trainer, err := ensemble.NewTrainer(ds, factory, outDir, registry, mw)
	if err != nil {
		return err
	}

	res, err := trainer.Train(ctx, c.Seeds, ensemble.TrainOptions{
		Epochs:        c.Epochs,
		BatchSize:     c.BatchSize,
		Shuffle:       c.Shuffle,
		PredictOnTest: c.PredictOnTest,
		SaveTables:    c.SaveTables,
	})
	if err != nil {
		return err
	}

	log.Info().
		Int("models", len(res.Manifest)).
		Str("dir", outDir).
		Msg("ensemble training complete")

	if len(c.Seeds) < 2 {
		log.Info().Msg("single-seed run, skipping ensemble aggregation")
		return nil
	}

	perSeed := make([]ensemble.SeedPredictions, 0, len(c.Seeds))
	for _, seed := range c.Seeds {
		col := res.Validation.Column(fmt.Sprintf("pred_s%04d", seed))
		perSeed = append(perSeed, ensemble.SeedPredictions{Seed: seed, Preds: col})
	}

	return reportEnsemble(c, outDir, val.IDs, labelsToFloat(val.Labels), val.PeakTimes, perSeed)
}

// runPredict scores light curve CSV files with one trained model and writes
// per-cadence probabilities next to the other artifacts.
func runPredict(ctx context.Context, c cfg.Settings, outDir string, mw *metrics.Wrapper, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("predict requires a model path and at least one light curve file")
	}
	modelPath, curveFiles := args[0], args[1:]

	clf, err := ml.LoadClassifier(modelPath, mlConfig(c, outDir))
	if err != nil {
		return err
	}

	filler := lightcurve.NewGapFiller(c.Sigma, rand.New(rand.NewSource(time.Now().UnixNano())))
	windows, err := lightcurve.NewWindowBuilder(c.Cadences)
	if err != nil {
		return err
	}
	detector, err := detect.NewDetector(filler, windows, clf, mw)
	if err != nil {
		return err
	}

	curves := make([]lightcurve.LightCurve, 0, len(curveFiles))
	for _, path := range curveFiles {
		lc, err := loadCurve(path)
		if err != nil {
			return err
		}
		curves = append(curves, lc)
	}

	preds, err := detector.Predict(ctx, curves)
	if err != nil {
		return err
	}

	for i, p := range preds {
		base := strings.TrimSuffix(filepath.Base(curveFiles[i]), filepath.Ext(curveFiles[i]))
		dest := filepath.Join(outDir, base+"_pred.txt")
		if err := writePrediction(dest, p); err != nil {
			return err
		}
		log.Info().Str("curve", curveFiles[i]).Str("file", dest).
			Int("cadences", len(p.Probs)).Msg("curve scored")
	}
	return nil
}

// runEvaluate aggregates the per-seed validation predictions saved by a
// training run and reports ensemble metrics.
func runEvaluate(c cfg.Settings, outDir string, args []string) error {
	tablePath := filepath.Join(outDir, storage.TableFileName("predval", c.Epochs, c.FracBalance))
	if len(args) > 0 {
		tablePath = args[0]
	}

	table, err := ensemble.ReadCSV(tablePath, true)
	if err != nil {
		return err
	}
	gt := table.Column("gt")
	peaks := table.Column("tpeak")
	if gt == nil || peaks == nil {
		return fmt.Errorf("table %s is missing the gt or tpeak column", tablePath)
	}

	var perSeed []ensemble.SeedPredictions
	for _, name := range table.ColumnNames() {
		if !strings.HasPrefix(name, "pred_s") {
			continue
		}
		seed, err := strconv.Atoi(strings.TrimPrefix(name, "pred_s"))
		if err != nil {
			continue
		}
		perSeed = append(perSeed, ensemble.SeedPredictions{Seed: seed, Preds: table.Column(name)})
	}

	return reportEnsemble(c, outDir, table.IDs(), gt, peaks, perSeed)
}

// runFetch downloads pretrained models into the output directory.
func runFetch(ctx context.Context, c cfg.Settings, outDir string, names []string) error {
	if c.ModelBaseURL == "" {
		return fmt.Errorf("fetch requires MODEL_BASE_URL")
	}
	if len(names) == 0 {
		return fmt.Errorf("fetch requires at least one model file name")
	}

	fetcher := ml.NewFetcher(c.ModelBaseURL, c.FetchTimeout)
	paths, err := fetcher.Download(ctx, names, outDir)
	if err != nil {
		return err
	}
	log.Info().Int("models", len(paths)).Str("dir", outDir).Msg("models fetched")
	return nil
}

// reportEnsemble aggregates the per-seed predictions, writes the ensemble
// table and logs the resulting metrics.
func reportEnsemble(c cfg.Settings, outDir string, ids []string, gt, peaks []float64, perSeed []ensemble.SeedPredictions) error {
	et, err := ensemble.Aggregate(ids, gt, peaks, perSeed, c.Threshold)
	if err != nil {
		return err
	}

	dest := filepath.Join(outDir, storage.TableFileName("ensemble", c.Epochs, c.FracBalance))
	if err := et.WriteCSV(dest); err != nil {
		return err
	}

	scores, err := ensemble.Score(et)
	if err != nil {
		return err
	}

	log.Info().
		Int("models", len(perSeed)).
		Float64("accuracy", scores.Accuracy).
		Float64("precision", scores.Precision).
		Float64("recall", scores.Recall).
		Float64("avg_precision", scores.AveragePrecision).
		Str("table", dest).
		Msg("ensemble evaluated")
	return nil
}

func labelsToFloat(labels []int) []float64 {
	out := make([]float64, len(labels))
	for i, l := range labels {
		out[i] = float64(l)
	}
	return out
}

// loadCurve reads a light curve CSV laid out as time,flux,flux_err with a
// header row.
func loadCurve(path string) (lightcurve.LightCurve, error) {
	f, err := os.Open(path)
	if err != nil {
		return lightcurve.LightCurve{}, fmt.Errorf("open light curve %s: %w", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return lightcurve.LightCurve{}, fmt.Errorf("read light curve %s: %w", path, err)
	}
	if len(rows) < 2 {
		return lightcurve.LightCurve{}, fmt.Errorf("light curve %s has no data rows", path)
	}

	var lc lightcurve.LightCurve
	for n, row := range rows[1:] {
		if len(row) != 3 {
			return lightcurve.LightCurve{}, fmt.Errorf("light curve %s row %d has %d fields, want 3", path, n+1, len(row))
		}
		vals := make([]float64, 3)
		for i, field := range row {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return lightcurve.LightCurve{}, fmt.Errorf("light curve %s row %d field %q: %w", path, n+1, field, err)
			}
			vals[i] = v
		}
		lc.Time = append(lc.Time, vals[0])
		lc.Flux = append(lc.Flux, vals[1])
		lc.FluxErr = append(lc.FluxErr, vals[2])
	}
	return lc, nil
}

// writePrediction writes the scored curve as time,flux,flux_err,prob rows.
func writePrediction(path string, p detect.Prediction) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create prediction file %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"time", "flux", "flux_err", "prob"}); err != nil {
		return err
	}
	for i := range p.Time {
		rec := []string{
			strconv.FormatFloat(p.Time[i], 'g', -1, 64),
			strconv.FormatFloat(p.Flux[i], 'g', -1, 64),
			strconv.FormatFloat(p.FluxErr[i], 'g', -1, 64),
			strconv.FormatFloat(p.Probs[i], 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
