package cfg

import (
	"strings"
	"testing"
	"time"
)

func validSettings() Settings {
	return Settings{
		Cadences:       200,
		Sigma:          2.5,
		Threshold:      0.5,
		Epochs:         350,
		BatchSize:      64,
		Shuffle:        true,
		Seeds:          []int{2},
		FracBalance:    0.73,
		FetchTimeout:   5 * time.Minute,
		PredictTimeout: 2 * time.Minute,
		MetricsPort:    8080,
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(s *Settings) {}, ""},
		{"zero cadences", func(s *Settings) { s.Cadences = 0 }, "cadences"},
		{"odd cadences", func(s *Settings) { s.Cadences = 201 }, "even"},
		{"huge cadences", func(s *Settings) { s.Cadences = 20000 }, "cadences"},
		{"negative sigma", func(s *Settings) { s.Sigma = -1 }, "sigma"},
		{"threshold above one", func(s *Settings) { s.Threshold = 1.5 }, "threshold"},
		{"zero epochs", func(s *Settings) { s.Epochs = 0 }, "epochs"},
		{"zero batch", func(s *Settings) { s.BatchSize = 0 }, "batch size"},
		{"no seeds", func(s *Settings) { s.Seeds = nil }, "seed"},
		{"negative seed", func(s *Settings) { s.Seeds = []int{2, -1} }, "non-negative"},
		{"duplicate seeds", func(s *Settings) { s.Seeds = []int{2, 2} }, "duplicate"},
		{"balance above one", func(s *Settings) { s.FracBalance = 1.2 }, "fracBalance"},
		{"tiny fetch timeout", func(s *Settings) { s.FetchTimeout = time.Millisecond }, "fetch timeout"},
		{"tiny predict timeout", func(s *Settings) { s.PredictTimeout = 0 }, "predict timeout"},
		{"privileged port", func(s *Settings) { s.MetricsPort = 80 }, "metrics port"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tc.mutate(&s)

			err := validateSettings(&s)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
