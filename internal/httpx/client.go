// Package httpx provides an HTTP client with bounded exponential-backoff
// retry for calls to external services.
package httpx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = time.Second
	DefaultTimeout     = 20 * time.Second

	connectTimeout = 10 * time.Second
)

// Options carries the optional parts of a request.
type Options struct {
	Headers http.Header
	Body    io.Reader

	// BodyFunc rebuilds the request body for each attempt. Required instead
	// of Body when retries are possible and the body is not replayable.
	BodyFunc func() io.Reader
}

// Client issues outbound HTTP requests, retrying transport errors and 5xx
// responses with exponential backoff. 4xx responses are returned to the
// caller untouched. The zero value is not usable; use New.
type Client struct {
	MaxRetries  int
	BackoffBase time.Duration
	Timeout     time.Duration

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration) error
}

// New returns a Client with the package defaults.
func New() *Client {
	return &Client{
		MaxRetries:  DefaultMaxRetries,
		BackoffBase: DefaultBackoffBase,
		Timeout:     DefaultTimeout,
		sleep:       sleepCtx,
	}
}

// Do performs the request, retrying up to MaxRetries attempts. On exhaustion
// it returns the last transport error; if every failed attempt was a 5xx
// response, the last response is returned instead so callers can inspect the
// status and body.
func (c *Client) Do(ctx context.Context, method, url string, opts Options) (*http.Response, error) {
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	var lastResp *http.Response

	for attempt := 0; attempt < c.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.BackoffBase * (1 << (attempt - 1))
			slog.Warn("retrying outbound request",
				"method", method,
				"url", url,
				"attempt", attempt+1,
				"max_retries", c.MaxRetries,
				"wait", wait,
			)
			if err := sleep(ctx, wait); err != nil {
				if lastResp != nil {
					lastResp.Body.Close()
				}
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, method, url, opts)
		if err != nil {
			lastErr = err
			slog.Warn("outbound request failed",
				"method", method,
				"url", url,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		if resp.StatusCode >= 500 {
			if lastResp != nil {
				lastResp.Body.Close()
			}
			lastResp = resp
			lastErr = nil
			slog.Warn("outbound request returned server error",
				"method", method,
				"url", url,
				"status", resp.StatusCode,
				"attempt", attempt+1,
			)
			continue
		}

		if lastResp != nil {
			lastResp.Body.Close()
		}
		return resp, nil
	}

	if lastErr != nil {
		if lastResp != nil {
			lastResp.Body.Close()
		}
		slog.Error("outbound request exhausted retries",
			"method", method,
			"url", url,
			"max_retries", c.MaxRetries,
			"error", lastErr,
		)
		return nil, fmt.Errorf("%s %s after %d attempts: %w", method, url, c.MaxRetries, lastErr)
	}

	// All attempts were 5xx; hand the last response back for inspection.
	return lastResp, nil
}

// DoJSON performs the request with a JSON content type.
func (c *Client) DoJSON(ctx context.Context, method, url string, body func() io.Reader, headers http.Header) (*http.Response, error) {
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Content-Type", "application/json")
	return c.Do(ctx, method, url, Options{Headers: headers, BodyFunc: body})
}

func (c *Client) attempt(ctx context.Context, method, url string, opts Options) (*http.Response, error) {
	var body io.Reader
	switch {
	case opts.BodyFunc != nil:
		body = opts.BodyFunc()
	default:
		body = opts.Body
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	// Each attempt gets its own client and transport so concurrent callers
	// never share mutable connection state.
	client := &http.Client{
		Timeout: c.Timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
	defer client.CloseIdleConnections()

	return client.Do(req)
}

// ReadBody drains and closes the response body, returning it as a string.
func ReadBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
