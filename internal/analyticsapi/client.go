// Package analyticsapi is a small client for the platform's REST API, used by
// the analytics task family.
package analyticsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ErrUpstreamUnavailable = errors.New("analytics api unavailable")

const (
	DefaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client for base. rps <= 0 disables rate limiting.
func NewClient(base string, timeout time.Duration, rps float64) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Inf
	burst := 0
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Get fetches base+path and decodes the JSON body into out. Every transport,
// status or decode failure wraps ErrUpstreamUnavailable.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	url := c.base + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrUpstreamUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: GET %s: HTTP %d: %s", ErrUpstreamUnavailable, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstreamUnavailable, path, err)
	}
	return nil
}
