// Package enrichers implements book.Enricher for the public metadata APIs.
package enrichers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/lepinkainen/catalogd/internal/errors"
	"github.com/lepinkainen/catalogd/internal/ratelimit"
)

// Option configures an enricher.
type Option func(*source)

// WithBaseURL points the enricher at a different API root.
func WithBaseURL(url string) Option {
	return func(s *source) { s.baseURL = url }
}

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *source) { s.httpClient = c }
}

// WithRateLimit sets the allowed requests per second. Zero disables limiting.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(s *source) { s.rps = requestsPerSecond }
}

// source holds the HTTP plumbing shared by every enricher.
type source struct {
	name        string
	baseURL     string
	rps         float64
	httpClient  *http.Client
	rateLimiter *ratelimit.Limiter
	clientOnce  sync.Once
	limiterOnce sync.Once
}

func newSource(name, baseURL string, rps float64, opts []Option) *source {
	s := &source{name: name, baseURL: baseURL, rps: rps}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *source) getHTTPClient() *http.Client {
	s.clientOnce.Do(func() {
		if s.httpClient == nil {
			s.httpClient = &http.Client{Timeout: 10 * time.Second}
		}
	})
	return s.httpClient
}

func (s *source) getRateLimiter() *ratelimit.Limiter {
	s.limiterOnce.Do(func() {
		s.rateLimiter = ratelimit.New(s.name, s.rps)
	})
	return s.rateLimiter
}

// getJSON fetches url into out. It returns found=false for 404. Other
// non-200 answers become a RateLimitError (429) or a StatusError.
func (s *source) getJSON(ctx context.Context, url string, header http.Header, out any) (found bool, err error) {
	if err := s.getRateLimiter().Wait(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := s.getHTTPClient().Do(req)
	if err != nil {
		return false, fmt.Errorf("%s request: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	case http.StatusTooManyRequests:
		return false, apperrors.NewRateLimitErrorWithRetry(s.name+" rate limit exceeded", retryAfter(resp))
	default:
		return false, apperrors.NewStatusError(s.name, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decoding %s response: %w", s.name, err)
	}
	return true, nil
}

// ping issues a GET and accepts any of the given statuses.
func (s *source) ping(ctx context.Context, url string, header http.Header, ok ...int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating ping request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := s.getHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s ping failed: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	return apperrors.NewStatusError(s.name, resp.StatusCode)
}

func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
