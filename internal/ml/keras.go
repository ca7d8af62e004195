package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const helperScriptName = "flare_cnn.py"

// Config describes a Keras-backed classifier. Zero values fall back to the
// defaults used for the published flare models.
type Config struct {
	Cadences   int
	Layers     []LayerSpec
	Optimizer  string
	Loss       string
	PythonPath string        // explicit interpreter; discovered when empty
	WorkDir    string        // scratch dir for the helper script and unsaved models
	Timeout    time.Duration // per-prediction timeout; fits run unbounded
}

// KerasClassifier drives a Python/Keras helper process over JSON on
// stdin/stdout. Each instance is bound to one random seed; the helper
// reseeds numpy and tensorflow from it before building the network, so two
// instances with the same seed are deterministic and instances never share
// state.
type KerasClassifier struct {
	seed       int
	cfg        Config
	pythonPath string
	scriptPath string
	modelPath  string
}

// NewKerasClassifier prepares a fresh classifier for the seed. The helper
// script is materialized into the work directory if not already present.
func NewKerasClassifier(seed int, cfg Config) (*KerasClassifier, error) {
	if cfg.Cadences <= 0 {
		return nil, fmt.Errorf("ml: cadences must be positive, got %d", cfg.Cadences)
	}
	if cfg.Layers == nil {
		cfg.Layers = DefaultLayers()
	}
	if cfg.Optimizer == "" {
		cfg.Optimizer = "adam"
	}
	if cfg.Loss == "" {
		cfg.Loss = "binary_crossentropy"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}

	pythonPath := cfg.PythonPath
	if pythonPath == "" {
		p, err := findPython()
		if err != nil {
			return nil, err
		}
		pythonPath = p
	}

	scriptPath := filepath.Join(cfg.WorkDir, helperScriptName)
	if _, err := os.Stat(scriptPath); os.IsNotExist(err) {
		if err := writeHelperScript(scriptPath); err != nil {
			return nil, fmt.Errorf("ml: materialize helper script: %w", err)
		}
	}

	return &KerasClassifier{
		seed:       seed,
		cfg:        cfg,
		pythonPath: pythonPath,
		scriptPath: scriptPath,
		modelPath:  filepath.Join(cfg.WorkDir, fmt.Sprintf("scratch_s%04d.h5", seed)),
	}, nil
}

// LoadClassifier wraps an already-persisted model file for prediction.
func LoadClassifier(path string, cfg Config) (*KerasClassifier, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("ml: model %s not readable: %w", path, err)
	}
	c, err := NewKerasClassifier(0, cfg)
	if err != nil {
		return nil, err
	}
	c.modelPath = path
	return c, nil
}

// Seed returns the seed this instance was initialized with.
func (c *KerasClassifier) Seed() int { return c.seed }

type helperRequest struct {
	Op        string      `json:"op"`
	Seed      int         `json:"seed"`
	Cadences  int         `json:"cadences"`
	Layers    []LayerSpec `json:"layers,omitempty"`
	Optimizer string      `json:"optimizer,omitempty"`
	Loss      string      `json:"loss,omitempty"`
	Epochs    int         `json:"epochs,omitempty"`
	BatchSize int         `json:"batch_size,omitempty"`
	Shuffle   bool        `json:"shuffle"`
	ModelPath string      `json:"model_path"`
	Data      [][]float64 `json:"data,omitempty"`
	Labels    []int       `json:"labels,omitempty"`
	ValData   [][]float64 `json:"val_data,omitempty"`
	ValLabels []int       `json:"val_labels,omitempty"`
}

type helperResponse struct {
	History     map[string][]float64 `json:"history,omitempty"`
	Predictions []float64            `json:"predictions,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Fit trains the network and leaves the fitted model at the scratch path so
// Predict and Save can pick it up. Backend failures are wrapped in
// ErrTraining and otherwise propagated unmodified.
func (c *KerasClassifier) Fit(ctx context.Context, data [][]float64, labels []int, opts FitOptions) (*History, error) {
	if len(data) != len(labels) {
		return nil, fmt.Errorf("%w: seed %d: %d examples vs %d labels",
			ErrTraining, c.seed, len(data), len(labels))
	}
	if opts.Epochs <= 0 {
		return nil, fmt.Errorf("%w: seed %d: epochs must be positive, got %d",
			ErrTraining, c.seed, opts.Epochs)
	}

	req := helperRequest{
		Op:        "fit",
		Seed:      c.seed,
		Cadences:  c.cfg.Cadences,
		Layers:    c.cfg.Layers,
		Optimizer: c.cfg.Optimizer,
		Loss:      c.cfg.Loss,
		Epochs:    opts.Epochs,
		BatchSize: opts.BatchSize,
		Shuffle:   opts.Shuffle,
		ModelPath: c.modelPath,
		Data:      data,
		Labels:    labels,
		ValData:   opts.ValData,
		ValLabels: opts.ValLabels,
	}

	start := time.Now()
	resp, err := c.run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: seed %d: %v", ErrTraining, c.seed, err)
	}

	log.Info().
		Int("seed", c.seed).
		Int("epochs", opts.Epochs).
		Dur("elapsed", time.Since(start)).
		Msg("classifier fit complete")

	return &History{Metrics: resp.History}, nil
}

// Predict returns one probability in [0,1] per input window.
func (c *KerasClassifier) Predict(ctx context.Context, data [][]float64) ([]float64, error) {
	if len(data) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.run(ctx, helperRequest{
		Op:        "predict",
		Seed:      c.seed,
		Cadences:  c.cfg.Cadences,
		ModelPath: c.modelPath,
		Data:      data,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Predictions) != len(data) {
		return nil, fmt.Errorf("ml: expected %d predictions, got %d", len(data), len(resp.Predictions))
	}
	for i, p := range resp.Predictions {
		if p < 0 || p > 1 || p != p {
			return nil, fmt.Errorf("ml: invalid probability %f at index %d", p, i)
		}
	}
	return resp.Predictions, nil
}

// Save copies the fitted model from the scratch path to its final location.
func (c *KerasClassifier) Save(path string) error {
	if c.modelPath == path {
		return nil
	}
	src, err := os.Open(c.modelPath)
	if err != nil {
		return fmt.Errorf("ml: no fitted model for seed %d: %w", c.seed, err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ml: create %s: %w", path, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("ml: persist model to %s: %w", path, err)
	}
	return nil
}

func (c *KerasClassifier) run(ctx context.Context, req helperRequest) (*helperResponse, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal helper request: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.pythonPath, c.scriptPath)
	cmd.Stdin = bytes.NewReader(reqJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Error().
			Err(err).
			Str("op", req.Op).
			Int("seed", req.Seed).
			Str("python_path", c.pythonPath).
			Str("model_path", req.ModelPath).
			Str("stderr", stderr.String()).
			Msg("helper process failed")
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("helper %s timed out", req.Op)
		}
		return nil, fmt.Errorf("helper %s failed: %w, stderr: %s", req.Op, err, stderr.String())
	}

	var resp helperResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse helper response: %w, stdout: %s", err, stdout.String())
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("helper %s error: %s", req.Op, resp.Error)
	}
	return &resp, nil
}

func findPython() (string, error) {
	if venv := os.Getenv("VIRTUAL_ENV"); venv != "" {
		for _, cand := range []string{
			filepath.Join(venv, "bin", "python3"),
			filepath.Join(venv, "bin", "python"),
		} {
			if _, err := os.Stat(cand); err == nil {
				return cand, nil
			}
		}
	}
	for _, cand := range []string{"python3", "python"} {
		if path, err := exec.LookPath(cand); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("ml: no Python 3 interpreter found")
}

func writeHelperScript(scriptPath string) error {
	script := `#!/usr/bin/env python3
"""Keras helper for flarecast: fit/predict over JSON stdin/stdout."""
import json
import sys

import numpy as np

try:
    import tensorflow as tf
    from tensorflow import keras
except ImportError:
    print(json.dumps({"error": "tensorflow not installed"}))
    sys.exit(1)


def build_model(req):
    np.random.seed(req["seed"])
    tf.random.set_seed(req["seed"])
    keras.backend.clear_session()

    model = keras.models.Sequential()
    first = True
    for l in req["layers"]:
        kind = l["type"]
        kwargs = {}
        if first and kind == "conv1d":
            kwargs["input_shape"] = (req["cadences"], 1)
        if kind == "conv1d":
            model.add(keras.layers.Conv1D(filters=l["filters"], kernel_size=l["kernel"],
                                          activation=l.get("activation", "relu"),
                                          padding="same", **kwargs))
        elif kind == "maxpool1d":
            model.add(keras.layers.MaxPooling1D(pool_size=l["pool"]))
        elif kind == "dropout":
            model.add(keras.layers.Dropout(l["rate"]))
        elif kind == "flatten":
            model.add(keras.layers.Flatten())
        elif kind == "dense":
            model.add(keras.layers.Dense(l["units"], activation=l.get("activation")))
        else:
            raise ValueError("unknown layer type: %s" % kind)
        first = False

    model.compile(optimizer=req.get("optimizer", "adam"),
                  loss=req.get("loss", "binary_crossentropy"),
                  metrics=["accuracy", keras.metrics.Precision(name="precision"),
                           keras.metrics.Recall(name="recall")])
    return model


def reshape(data):
    arr = np.asarray(data, dtype=np.float32)
    return arr.reshape(arr.shape[0], arr.shape[1], 1)


def main():
    req = json.load(sys.stdin)
    op = req["op"]

    if op == "fit":
        model = build_model(req)
        kwargs = {}
        if req.get("val_data"):
            kwargs["validation_data"] = (reshape(req["val_data"]),
                                         np.asarray(req["val_labels"]))
        hist = model.fit(reshape(req["data"]), np.asarray(req["labels"]),
                         epochs=req["epochs"], batch_size=req["batch_size"],
                         shuffle=req["shuffle"], verbose=0, **kwargs)
        model.save(req["model_path"])
        history = {k: [float(v) for v in vals] for k, vals in hist.history.items()}
        print(json.dumps({"history": history}))
    elif op == "predict":
        model = keras.models.load_model(req["model_path"])
        preds = model.predict(reshape(req["data"]), verbose=0)
        print(json.dumps({"predictions": [float(p) for p in preds.reshape(-1)]}))
    else:
        raise ValueError("unknown op: %s" % op)


if __name__ == "__main__":
    try:
        main()
    except Exception as e:  # noqa: BLE001
        print(json.dumps({"error": str(e)}))
        sys.exit(1)
`
	return os.WriteFile(scriptPath, []byte(script), 0755)
}
