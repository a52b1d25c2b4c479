package pipeline

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/doppelcheck/internal/cache"
	"github.com/ppiankov/doppelcheck/internal/metrics"
	"github.com/ppiankov/doppelcheck/internal/model"
	"github.com/ppiankov/doppelcheck/internal/util"
	"github.com/ppiankov/doppelcheck/internal/worker"
)

// ErrDisallowed is returned when robots.txt forbids fetching the page
var ErrDisallowed = errors.New("disallowed by robots.txt")

var errRequest = errors.New("fetch")

// fetchSleepFunc is replaced in tests
var fetchSleepFunc = time.Sleep

const fetchAttempts = 3

// StatusError is a non-2xx answer for the page
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "unexpected status: " + e.Status
}

// Fetcher fetches the page to be checked
type Fetcher struct {
	httpClient    *http.Client
	userAgent     string
	maxBytes      int64
	respectRobots bool

	robots  *util.RobotsChecker
	limiter *worker.Limiter
	cache   cache.Cache
}

// NewFetcher creates a fetcher from the HTTP configuration
func NewFetcher(cfg model.HTTPConfig) *Fetcher {
	transport := &http.Transport{
		Proxy:           util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}, //nolint:gosec // user opt-in
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 5_000_000
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		},
		userAgent:     cfg.UserAgent,
		maxBytes:      maxBytes,
		respectRobots: cfg.RespectRobots,
		cache:         cache.Noop{},
	}
}

// WithRobots enables robots.txt checks (when the config asks for them)
func (f *Fetcher) WithRobots(r *util.RobotsChecker) *Fetcher {
	f.robots = r
	return f
}

// WithLimiter paces fetches per host
func (f *Fetcher) WithLimiter(l *worker.Limiter) *Fetcher {
	f.limiter = l
	return f
}

// WithCache reuses fetched pages
func (f *Fetcher) WithCache(c cache.Cache) *Fetcher {
	if c != nil {
		f.cache = c
	}
	return f
}

// FetchResult contains the fetched HTML and metadata
type FetchResult struct {
	HTML     string          `json:"html"`
	Meta     model.FetchMeta `json:"meta"`
	Subject  string          `json:"subject"`
	FinalURL string          `json:"final_url"`
}

// FetchWithRetry fetches rawURL, retrying 429, 5xx and connection errors
// with exponential backoff. Cached pages are returned without a request.
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*FetchResult, error) {
	key := cache.Key("page", rawURL)
	var cached FetchResult
	if cache.GetJSON(f.cache, key, &cached) {
		cached.Meta.FromCache = true
		return &cached, nil
	}

	if err := f.allowed(ctx, rawURL); err != nil {
		return nil, err
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		if attempt > 1 {
			fetchSleepFunc(backoff)
			backoff *= 2
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, rawURL); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
		}

		start := time.Now()
		result, err := f.Fetch(ctx, rawURL)
		if err == nil {
			metrics.PageFetchDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
			_ = cache.SetJSON(f.cache, key, result, 0)
			return result, nil
		}
		metrics.PageFetchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())

		lastErr = err
		if !isRetryableFetchError(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", fetchAttempts, lastErr)
}

func (f *Fetcher) allowed(ctx context.Context, rawURL string) error {
	if !f.respectRobots || f.robots == nil {
		return nil
	}
	ok, delay, err := f.robots.CanFetch(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("robots: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
	}
	if f.limiter != nil {
		f.limiter.ApplyCrawlDelay(rawURL, delay)
	}
	return nil
}

// Fetch performs a single request
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,de;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	meta := model.FetchMeta{
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
		Headers:      make(map[string]string),
	}
	for _, key := range []string{"Content-Length", "Server", "Cache-Control"} {
		if val := resp.Header.Get(key); val != "" {
			meta.Headers[key] = val
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	finalURL := resp.Request.URL.String()
	return &FetchResult{
		HTML:     string(body),
		Meta:     meta,
		Subject:  extractSubject(finalURL),
		FinalURL: finalURL,
	}, nil
}

func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == http.StatusTooManyRequests || status.Code >= 500
	}
	return errors.Is(err, errRequest)
}

// extractSubject derives a readable subject from the URL's last path segment
func extractSubject(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return parsed.Host
	}

	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	last = strings.ReplaceAll(last, "_", " ")
	last = strings.ReplaceAll(last, "-", " ")
	if idx := strings.LastIndex(last, "."); idx > 0 {
		last = last[:idx]
	}
	if unescaped, err := url.PathUnescape(last); err == nil {
		last = unescaped
	}
	return last
}
