// Package source resolves tracked URLs to per-domain clients that fetch the
// latest-activity snapshot for a link.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"linktracker/internal/domain"
)

const (
	// markerLayout is the canonical textual form of activity markers
	// produced by the built-in clients.
	markerLayout = "2006-01-02 15:04:05"

	previewMaxRunes = 200

	maxBodyBytes = 5 * 1024 * 1024

	fetchMaxRetries   = 2
	fetchRetryBackoff = 500 * time.Millisecond
)

var (
	ErrURLUnsupported    = errors.New("URL is not supported")
	ErrFilterUnsupported = errors.New("filter is not supported")
	ErrResourceNotFound  = errors.New("resource not found")
)

// UpstreamError reports a non-2xx response from an external API.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.Status)
}

// Client fetches the latest-activity snapshot for one link URL, applying the
// link's filter expressions where the source supports them.
type Client interface {
	Fetch(ctx context.Context, rawURL string, filters []string) (*domain.ActivitySnapshot, error)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry resolves a client by URL domain. URLs outside the known domains
// fall back to the generic web-feed client when one is configured.
type Registry struct {
	byHost   map[string]Client
	fallback Client
}

func NewRegistry(byHost map[string]Client, fallback Client) *Registry {
	return &Registry{byHost: byHost, fallback: fallback}
}

func (r *Registry) For(rawURL string) (Client, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrURLUnsupported, rawURL)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %s", ErrURLUnsupported, rawURL)
	}

	host := strings.TrimPrefix(u.Hostname(), "www.")
	if c, ok := r.byHost[host]; ok {
		return c, nil
	}

	if r.fallback != nil {
		return r.fallback, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrURLUnsupported, rawURL)
}

// filterParams turns `key:value` filter expressions into query parameters,
// the way the upstream APIs expect them.
func filterParams(filters []string) (url.Values, error) {
	params := url.Values{}

	for _, f := range filters {
		key, value, ok := strings.Cut(f, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFilterUnsupported, f)
		}

		params.Set(key, value)
	}

	return params, nil
}

// fetchBody performs a GET with bounded retries on transient failures.
// Network errors and 5xx responses are retried; any other non-200 response is
// returned as an UpstreamError immediately.
func fetchBody(
	ctx context.Context,
	client HTTPClient,
	rawURL string,
	params url.Values,
) ([]byte, error) {
	if len(params) > 0 {
		rawURL = rawURL + "?" + params.Encode()
	}

	backoff := retry.WithMaxRetries(fetchMaxRetries, retry.NewExponential(fetchRetryBackoff))

	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("http get: %w", err))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(&UpstreamError{Status: resp.StatusCode})
		}
		if resp.StatusCode != http.StatusOK {
			return &UpstreamError{Status: resp.StatusCode}
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read body: %w", err))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

func fetchJSON(
	ctx context.Context,
	client HTTPClient,
	rawURL string,
	params url.Values,
	out any,
) error {
	body, err := fetchBody(ctx, client, rawURL, params)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}
