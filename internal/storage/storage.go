// Package storage owns where the pipeline's artifacts live: the output
// directory (with the current-directory fallback), the artifact naming
// scheme shared by trainer and fetcher, and a BoltDB-backed registry of
// training runs that serves as the explicit manifest consumed by the
// ensemble evaluator.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

// ErrStorage is returned when a configured output directory cannot be
// created or written.
var ErrStorage = errors.New("storage: output directory unusable")

const (
	registryFile = "flarecast-runs.db"
	runsBucket   = "runs"
)

// ResolveDir decides the output directory once, at configuration time.
// An explicitly configured directory that cannot be created is fatal.
// The default hidden directory (~/.flarecast) falls back to the current
// directory with a warning when it cannot be created.
func ResolveDir(configured string) (string, error) {
	if configured != "" {
		if err := os.MkdirAll(configured, 0o755); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrStorage, configured, err)
		}
		return configured, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		log.Warn().Err(err).Msg("no home directory, storing artifacts in the current directory")
		return ".", nil
	}

	def := filepath.Join(home, ".flarecast")
	if err := os.MkdirAll(def, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", def).
			Msg("unable to create default output directory, falling back to the current directory")
		return ".", nil
	}
	return def, nil
}

// FormatBalance renders the class-balance fraction the way it appears in
// artifact names (shortest decimal form).
func FormatBalance(b float64) string {
	return strconv.FormatFloat(b, 'g', -1, 64)
}

// ModelFileName names a persisted model: model_s<seed>_i<epochs>_b<balance>.h5.
func ModelFileName(seed, epochs int, balance float64) string {
	return fmt.Sprintf("model_s%04d_i%04d_b%s.h5", seed, epochs, FormatBalance(balance))
}

// TableFileName names a saved table, e.g. predval_i0350_b0.5.txt.
func TableFileName(kind string, epochs int, balance float64) string {
	return fmt.Sprintf("%s_i%04d_b%s.txt", kind, epochs, FormatBalance(balance))
}

// RunRecord describes one completed training run.
type RunRecord struct {
	Seed        int       `json:"seed"`
	Epochs      int       `json:"epochs"`
	FracBalance float64   `json:"frac_balance"`
	ModelPath   string    `json:"model_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// Registry persists run records in an embedded BoltDB file inside the
// output directory. Keys are zero-padded seeds so Manifest returns runs in
// seed order.
type Registry struct {
	db *bbolt.DB
}

// OpenRegistry opens (or creates) the run registry under dir.
func OpenRegistry(dir string) (*Registry, error) {
	dbPath := filepath.Join(dir, registryFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open registry %s: %v", ErrStorage, dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create runs bucket: %v", ErrStorage, err)
	}

	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Record stores or replaces the record for a run's seed.
func (r *Registry) Record(rec RunRecord) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal run record: %w", err)
		}

		key := fmt.Sprintf("s%04d_i%04d", rec.Seed, rec.Epochs)
		return b.Put([]byte(key), data)
	})
}

// Manifest returns all recorded runs in key (seed) order.
func (r *Registry) Manifest() ([]RunRecord, error) {
	var runs []RunRecord

	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))
		return b.ForEach(func(k, v []byte) error {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal run %s: %w", k, err)
			}
			runs = append(runs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
