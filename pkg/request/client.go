// Package request is the shared HTTP transport of the REST speech providers.
package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/smg1208/audio-crawler/pkg/tracker"
	"github.com/smg1208/audio-crawler/pkg/tts"
	"github.com/smg1208/audio-crawler/pkg/version"
)

var (
	defaultUserAgent = fmt.Sprintf("audiocrawler/%s (+https://github.com/smg1208/audio-crawler)", version.Version)
)

// maxBody bounds a single response; a chapter chunk is far smaller.
const maxBody = 64 << 20

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, body)
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Classify maps a transport error into the tts error taxonomy.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) {
		return tts.FromStatus(provider, se.StatusCode, se.Body)
	}
	return tts.FromMessage(provider, err)
}

// Client sends provider requests with per-provider rate limits and tracking.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a new Client. A nil tracker disables tracking.
func New(t *tracker.Tracker, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		tracker:    t,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// HTTPClient returns the underlying client for SDKs that accept one.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// SetRate limits provider to rpm requests per minute. Zero removes the limit.
func (c *Client) SetRate(provider string, rpm int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rpm <= 0 {
		delete(c.limiters, provider)
		return
	}
	c.limiters[provider] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

func (c *Client) limiter(provider string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limiters[provider]
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, provider, u string, headers map[string]string) ([]byte, error) {
	return c.do(ctx, provider, http.MethodGet, u, nil, headers)
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, provider, u string, body []byte, headers map[string]string) ([]byte, error) {
	return c.do(ctx, provider, http.MethodPost, u, body, headers)
}

func (c *Client) do(ctx context.Context, provider, method, u string, body []byte, headers map[string]string) ([]byte, error) {
	if lim := c.limiter(provider); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	uaMatch := false
	for k, v := range headers {
		req.Header.Set(k, v)
		if http.CanonicalHeaderKey(k) == "User-Agent" {
			uaMatch = true
		}
	}
	if !uaMatch {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	slog.Debug("Network Request", "provider", provider, "method", method, "host", req.URL.Host, "path", req.URL.Path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.trackFailure(provider)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		c.trackFailure(provider)
		return nil, fmt.Errorf("read error: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.trackFailure(provider)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if c.tracker != nil {
		c.tracker.TrackAPISuccess(provider)
	}
	return data, nil
}

func (c *Client) trackFailure(provider string) {
	if c.tracker != nil {
		c.tracker.TrackAPIFailure(provider)
	}
}
