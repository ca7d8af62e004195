package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	// Pipeline
	Cadences  int
	Sigma     float64
	Threshold float64

	// Training
	Epochs        int
	BatchSize     int
	Shuffle       bool
	Seeds         []int
	FracBalance   float64
	PredictOnTest bool
	SaveTables    bool
	TrainData     string
	ValData       string
	TestData      string

	// Model backend
	PythonPath     string
	ModelBaseURL   string
	FetchTimeout   time.Duration
	PredictTimeout time.Duration

	// System
	OutputDir   string
	MetricsPort int
}

type ConfigFile struct {
	Pipeline struct {
		Cadences  int     `yaml:"cadences"`
		Sigma     float64 `yaml:"sigma"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"pipeline"`

	Training struct {
		Epochs        int     `yaml:"epochs"`
		BatchSize     int     `yaml:"batchSize"`
		Shuffle       *bool   `yaml:"shuffle"`
		Seeds         []int   `yaml:"seeds"`
		FracBalance   float64 `yaml:"fracBalance"`
		PredictOnTest bool    `yaml:"predictOnTest"`
		SaveTables    *bool   `yaml:"saveTables"`
		TrainData     string  `yaml:"trainData"`
		ValData       string  `yaml:"valData"`
		TestData      string  `yaml:"testData"`
	} `yaml:"training"`

	ML struct {
		PythonPath     string `yaml:"pythonPath"`
		ModelBaseURL   string `yaml:"modelBaseURL"`
		FetchTimeout   string `yaml:"fetchTimeout"`
		PredictTimeout string `yaml:"predictTimeout"`
	} `yaml:"ml"`

	System struct {
		OutputDir   string `yaml:"outputDir"`
		MetricsPort int    `yaml:"metricsPort"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	fetchTimeout, err := time.ParseDuration(config.ML.FetchTimeout)
	if err != nil {
		fetchTimeout = 5 * time.Minute
	}
	predictTimeout, err := time.ParseDuration(config.ML.PredictTimeout)
	if err != nil {
		predictTimeout = 2 * time.Minute
	}

	settings := Settings{
		Cadences:       getIntFromEnvOrConfig("CADENCES", config.Pipeline.Cadences, 200),
		Sigma:          getFloatFromEnvOrConfig("SIGMA", config.Pipeline.Sigma, 2.5),
		Threshold:      getFloatFromEnvOrConfig("THRESHOLD", config.Pipeline.Threshold, 0.5),
		Epochs:         getIntFromEnvOrConfig("EPOCHS", config.Training.Epochs, 350),
		BatchSize:      getIntFromEnvOrConfig("BATCH_SIZE", config.Training.BatchSize, 64),
		Shuffle:        getBoolFromEnvOrConfig("SHUFFLE", config.Training.Shuffle, true),
		Seeds:          getSeedsFromEnvOrConfig(config.Training.Seeds),
		FracBalance:    getFloatFromEnvOrConfig("FRAC_BALANCE", config.Training.FracBalance, 0.73),
		PredictOnTest:  getBoolFromEnvOrConfig("PREDICT_ON_TEST", &config.Training.PredictOnTest, false),
		SaveTables:     getBoolFromEnvOrConfig("SAVE_TABLES", config.Training.SaveTables, true),
		TrainData:      getEnvOrDefault("TRAIN_DATA", config.Training.TrainData),
		ValData:        getEnvOrDefault("VAL_DATA", config.Training.ValData),
		TestData:       getEnvOrDefault("TEST_DATA", config.Training.TestData),
		PythonPath:     getEnvOrDefault("PYTHON_PATH", config.ML.PythonPath),
		ModelBaseURL:   getEnvOrDefault("MODEL_BASE_URL", config.ML.ModelBaseURL),
		FetchTimeout:   getDurationOrDefault("FETCH_TIMEOUT", fetchTimeout),
		PredictTimeout: getDurationOrDefault("PREDICT_TIMEOUT", predictTimeout),
		OutputDir:      getEnvOrDefault("OUTPUT_DIR", config.System.OutputDir),
		MetricsPort:    getIntFromEnvOrConfig("METRICS_PORT", config.System.MetricsPort, 8080),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Cadences:       getIntOrDefault("CADENCES", 200),
		Sigma:          getFloatOrDefault("SIGMA", 2.5),
		Threshold:      getFloatOrDefault("THRESHOLD", 0.5),
		Epochs:         getIntOrDefault("EPOCHS", 350),
		BatchSize:      getIntOrDefault("BATCH_SIZE", 64),
		Shuffle:        getBoolOrDefault("SHUFFLE", true),
		Seeds:          getSeedsFromEnvOrConfig(nil),
		FracBalance:    getFloatOrDefault("FRAC_BALANCE", 0.73),
		PredictOnTest:  getBoolOrDefault("PREDICT_ON_TEST", false),
		SaveTables:     getBoolOrDefault("SAVE_TABLES", true),
		TrainData:      os.Getenv("TRAIN_DATA"),
		ValData:        os.Getenv("VAL_DATA"),
		TestData:       os.Getenv("TEST_DATA"),
		PythonPath:     os.Getenv("PYTHON_PATH"), // optional, discovered when empty
		ModelBaseURL:   os.Getenv("MODEL_BASE_URL"),
		FetchTimeout:   getDurationOrDefault("FETCH_TIMEOUT", 5*time.Minute),
		PredictTimeout: getDurationOrDefault("PREDICT_TIMEOUT", 2*time.Minute),
		OutputDir:      os.Getenv("OUTPUT_DIR"), // optional, resolved to ~/.flarecast
		MetricsPort:    getIntOrDefault("METRICS_PORT", 8080),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue *bool, defaultValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	if configValue != nil {
		return *configValue
	}
	return defaultValue
}

// getSeedsFromEnvOrConfig parses SEEDS as a comma-separated integer list.
// Malformed entries invalidate the whole variable rather than silently
// shrinking the ensemble.
func getSeedsFromEnvOrConfig(configSeeds []int) []int {
	if env := os.Getenv("SEEDS"); env != "" {
		var seeds []int
		for _, part := range strings.Split(env, ",") {
			s, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				seeds = nil
				break
			}
			seeds = append(seeds, s)
		}
		if len(seeds) > 0 {
			return seeds
		}
	}
	if len(configSeeds) > 0 {
		return configSeeds
	}
	return []int{2}
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.Cadences <= 0 || settings.Cadences%2 != 0 {
		return fmt.Errorf("cadences must be a positive even number, got %d", settings.Cadences)
	}
	if settings.Cadences > 10000 {
		return fmt.Errorf("cadences must be at most 10000, got %d", settings.Cadences)
	}
	if settings.Sigma <= 0 || settings.Sigma > 10 {
		return fmt.Errorf("sigma must be between 0 and 10, got %f", settings.Sigma)
	}
	if settings.Threshold < 0 || settings.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", settings.Threshold)
	}

	if settings.Epochs <= 0 || settings.Epochs > 100000 {
		return fmt.Errorf("epochs must be between 1 and 100000, got %d", settings.Epochs)
	}
	if settings.BatchSize <= 0 || settings.BatchSize > 65536 {
		return fmt.Errorf("batch size must be between 1 and 65536, got %d", settings.BatchSize)
	}
	if len(settings.Seeds) == 0 {
		return fmt.Errorf("at least one training seed must be specified")
	}
	seen := make(map[int]bool, len(settings.Seeds))
	for _, s := range settings.Seeds {
		if s < 0 {
			return fmt.Errorf("seeds must be non-negative, got %d", s)
		}
		if seen[s] {
			return fmt.Errorf("duplicate seed %d", s)
		}
		seen[s] = true
	}
	if settings.FracBalance < 0 || settings.FracBalance > 1 {
		return fmt.Errorf("fracBalance must be between 0 and 1, got %f", settings.FracBalance)
	}

	if settings.FetchTimeout < time.Second || settings.FetchTimeout > time.Hour {
		return fmt.Errorf("fetch timeout must be between 1s and 1h, got %v", settings.FetchTimeout)
	}
	if settings.PredictTimeout < time.Second || settings.PredictTimeout > time.Hour {
		return fmt.Errorf("predict timeout must be between 1s and 1h, got %v", settings.PredictTimeout)
	}

	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}

	return nil
}
