package ml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Fetcher downloads pretrained model files from a remote archive so a user
// can run detection without training an ensemble locally.
type Fetcher struct {
	base string
	rest *resty.Client
}

// NewFetcher returns a Fetcher for the given base URL.
func NewFetcher(base string, timeout time.Duration) *Fetcher {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(60 * time.Second)
	}
	return &Fetcher{base: base, rest: r}
}

// Download fetches each named model file into dir, skipping files that are
// already present. Returns the local paths in input order.
func (f *Fetcher) Download(ctx context.Context, names []string, dir string) ([]string, error) {
	paths := make([]string, 0, len(names))
	for _, name := range names {
		dest := filepath.Join(dir, name)
		if _, err := os.Stat(dest); err == nil {
			log.Debug().Str("file", dest).Msg("model already cached")
			paths = append(paths, dest)
			continue
		}

		resp, err := f.rest.R().
			SetContext(ctx).
			SetOutput(dest).
			Get(f.base + "/" + name)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", name, err)
		}
		if resp.StatusCode() != 200 {
			// The error body was written to dest; remove it so the next
			// attempt does not mistake it for a cached model.
			os.Remove(dest)
			return nil, fmt.Errorf("fetch %s: status %d", name, resp.StatusCode())
		}

		log.Info().Str("file", dest).Msg("downloaded pretrained model")
		paths = append(paths, dest)
	}
	return paths, nil
}
