// Package ghapi is a small GitHub REST/GraphQL client with retry,
// pagination and bounded response bodies.
package ghapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/BadgerOps/jobindex/internal/safety"
)


// Request describes a single API call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any // encoded as JSON when non-nil
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs GitHub API requests with retry logic.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	retryCount  int
	maxBody     int64
	backoffFunc func(attempt int) time.Duration
}

// NewClient creates a new API client. A zero timeout leaves requests bounded
// only by their context.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
			},
		},
		logger:      logger,
		userAgent:   "jobindex/1.0",
		retryCount:  3,
		maxBody:     safety.MaxAPIResponse,
		backoffFunc: calculateBackoffDelay,
	}
}

// Do sends req, retrying network errors, 5xx and 429 with exponential backoff.
// Non-2xx responses are returned as *HTTPError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryCount; attempt++ {
		resp, err := c.attempt(ctx, req, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if shouldNotRetry(err) {
			return nil, err
		}

		c.logger.Warn("github request failed", "url", req.URL, "attempt", attempt, "error", err)
		if attempt < c.retryCount {
			select {
			case <-time.After(c.backoffFunc(attempt)):
			case <-ctx.Done():
				return nil, fmt.Errorf("request cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retryCount, lastErr)
}

func (c *Client) attempt(ctx context.Context, req Request, payload []byte) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := safety.ReadAllWithLimit(resp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(data),
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	resp, err := c.Do(ctx, Request{URL: url, Header: header})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

// Paginate follows Link rel="next" headers starting at url and calls fn with
// every page body.
func (c *Client) Paginate(ctx context.Context, url string, header http.Header, fn func(page []byte) error) error {
	for url != "" {
		resp, err := c.Do(ctx, Request{URL: url, Header: header})
		if err != nil {
			return err
		}
		if err := fn(resp.Body); err != nil {
			return err
		}
		url = NextLink(resp.Header.Get("Link"))
	}
	return nil
}

var linkNextRe = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?next"?`)

// NextLink extracts the rel="next" target from a Link header.
func NextLink(link string) string {
	m := linkNextRe.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 1s, doubles each attempt, plus random jitter up to half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// shouldNotRetry returns true if the error should not trigger a retry.
func shouldNotRetry(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return true
		}
	}
	return false
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}
