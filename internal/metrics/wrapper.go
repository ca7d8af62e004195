package metrics

// Wrapper exposes the collectors behind small nil-safe methods so consumer
// packages can declare their own narrow interfaces without importing
// Prometheus. A nil Wrapper (or one wrapping nil Metrics) is a no-op, which
// lets callers skip the "is metrics configured" checks.
type Wrapper struct {
	m *Metrics
}

// NewWrapper wraps m, which may be nil.
func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) enabled() bool { return w != nil && w.m != nil }

func (w *Wrapper) GapsFilledInc() {
	if w.enabled() {
		w.m.GapsFilled.Inc()
	}
}

func (w *Wrapper) SamplesInsertedAdd(n int) {
	if w.enabled() {
		w.m.SamplesInserted.Add(float64(n))
	}
}

func (w *Wrapper) WindowsBuiltAdd(n int) {
	if w.enabled() {
		w.m.WindowsBuilt.Add(float64(n))
	}
}

func (w *Wrapper) PredictionsAdd(n int) {
	if w.enabled() {
		w.m.Predictions.Add(float64(n))
	}
}

func (w *Wrapper) PredictionErrorsInc() {
	if w.enabled() {
		w.m.PredictionErrors.Inc()
	}
}

func (w *Wrapper) PredictionLatencyObserve(seconds float64) {
	if w.enabled() {
		w.m.PredictionLatency.Observe(seconds)
	}
}

func (w *Wrapper) PredictionScoresObserve(p float64) {
	if w.enabled() {
		w.m.PredictionScores.Observe(p)
	}
}

func (w *Wrapper) TrainingRunsInc() {
	if w.enabled() {
		w.m.TrainingRuns.Inc()
	}
}

func (w *Wrapper) TrainingFailuresInc() {
	if w.enabled() {
		w.m.TrainingFailures.Inc()
	}
}

func (w *Wrapper) TrainingDurationObserve(seconds float64) {
	if w.enabled() {
		w.m.TrainingDuration.Observe(seconds)
	}
}
