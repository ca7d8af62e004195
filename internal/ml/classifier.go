package ml

import (
	"context"
	"errors"
	"sort"
)

// ErrTraining wraps failures reported by the classifier backend during fit.
var ErrTraining = errors.New("ml: training failed")

// History holds per-epoch metric sequences recorded during a fit, keyed by
// metric name (loss, accuracy, val_precision, ...).
type History struct {
	Metrics map[string][]float64
}

// MetricNames returns the tracked metric names in stable (sorted) order so
// derived table columns are deterministic.
func (h *History) MetricNames() []string {
	names := make([]string, 0, len(h.Metrics))
	for n := range h.Metrics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FitOptions carries the training hyperparameters and the validation
// partition evaluated after every epoch.
type FitOptions struct {
	Epochs    int
	BatchSize int
	Shuffle   bool
	ValData   [][]float64
	ValLabels []int
}

// Classifier is the external model collaborator: a trained numeric model
// mapping a fixed-width window to a flare probability in [0,1]. Training,
// architecture and persistence live behind this interface.
type Classifier interface {
	Fit(ctx context.Context, data [][]float64, labels []int, opts FitOptions) (*History, error)
	Predict(ctx context.Context, data [][]float64) ([]float64, error)
	Save(path string) error
}

// Factory builds a freshly initialized classifier for the given seed. The
// ensemble trainer calls it once per seed; implementations must not share
// state between instances.
type Factory func(seed int) (Classifier, error)

// LayerSpec is one tagged variant in a network topology description. The
// backend interprets the sequence; the pipeline never inspects it.
type LayerSpec struct {
	Type       string  `json:"type"` // conv1d | maxpool1d | dropout | flatten | dense
	Filters    int     `json:"filters,omitempty"`
	Kernel     int     `json:"kernel,omitempty"`
	Pool       int     `json:"pool,omitempty"`
	Rate       float64 `json:"rate,omitempty"`
	Units      int     `json:"units,omitempty"`
	Activation string  `json:"activation,omitempty"`
}

// DefaultLayers is the default convolutional stack: two conv/pool/dropout
// blocks followed by a dense head with a sigmoid output.
func DefaultLayers() []LayerSpec {
	return []LayerSpec{
		{Type: "conv1d", Filters: 16, Kernel: 3, Activation: "relu"},
		{Type: "maxpool1d", Pool: 2},
		{Type: "dropout", Rate: 0.1},
		{Type: "conv1d", Filters: 64, Kernel: 3, Activation: "relu"},
		{Type: "maxpool1d", Pool: 2},
		{Type: "dropout", Rate: 0.1},
		{Type: "flatten"},
		{Type: "dense", Units: 32, Activation: "relu"},
		{Type: "dropout", Rate: 0.1},
		{Type: "dense", Units: 1, Activation: "sigmoid"},
	}
}
