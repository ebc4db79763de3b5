// Package fetcher retrieves raw raster bytes for source locators.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPFetcher fetches page rasters over HTTP, with local-path fallback for
// locators that are plain filesystem paths. Transient failures are retried
// with exponential backoff; exhaustion surfaces as an error the caller
// reports as a missing id rather than a run abort.
type HTTPFetcher struct {
	client     *http.Client
	maxElapsed time.Duration
}

// NewHTTPFetcher creates a fetcher with a mandatory per-request timeout.
func NewHTTPFetcher(timeout, maxElapsed time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	return &HTTPFetcher{
		client:     &http.Client{Timeout: timeout},
		maxElapsed: maxElapsed,
	}
}

// Fetch returns the raw bytes behind locator.
func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" {
		return os.ReadFile(locator)
	}
	if u.Scheme == "file" {
		return os.ReadFile(u.Path)
	}

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", locator, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("source returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("source returned status %d", resp.StatusCode))
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = f.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", locator, err)
	}
	return body, nil
}
