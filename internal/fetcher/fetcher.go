// Package fetcher downloads filter lists over HTTPS and manages the TTL
// cache, truncation and last-known-good fallback around them.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bnema/ublock-dnr-engine/internal/errx"
	"github.com/bnema/ublock-dnr-engine/internal/models"
)

// Fetcher downloads filter lists
type Fetcher struct {
	client  *http.Client
	retries int
}

// New creates a new fetcher from config
func New(cfg models.HTTPConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	retries := cfg.Retries
	if retries == 0 {
		retries = 3
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		retries: retries,
	}
}

// NewWithClient creates a fetcher using a caller-provided HTTP client.
func NewWithClient(client *http.Client, retries int) *Fetcher {
	if retries <= 0 {
		retries = 1
	}
	return &Fetcher{client: client, retries: retries}
}

// ValidateListURL enforces the HTTPS-only invariant before any network
// call. Plaintext lists are a man-in-the-middle vector since they control
// what gets blocked and shown.
func ValidateListURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errx.Wrap(errx.CodeSecurityRejection, err, "unparseable list URL")
	}
	if u.Scheme != "https" {
		return errx.Newf(errx.CodeSecurityRejection, "list URL %q is not https", rawURL)
	}
	if len(u.Hostname()) < 3 {
		return errx.Newf(errx.CodeSecurityRejection, "list URL %q has no usable hostname", rawURL)
	}
	return nil
}

// Fetch downloads content from a URL with retries. The URL must already
// have passed ValidateListURL.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for i := 0; i < f.retries; i++ {
		if i > 0 {
			// Exponential backoff
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
		}

		data, err := f.doFetch(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}

	return nil, errx.Wrap(errx.CodeFetchFailure, lastErr,
		fmt.Sprintf("failed after %d retries", f.retries))
}

func (f *Fetcher) doFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", "ublock-dnr-engine/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return io.ReadAll(resp.Body)
}
