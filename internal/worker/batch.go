package worker

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/doppelcheck/internal/model"
)

// Checker runs one complete check session for a page
type Checker interface {
	Check(ctx context.Context, pageURL string) (*model.Report, error)
}

// CheckJob checks one page
type CheckJob struct {
	Index   int
	URL     string
	Checker Checker
	Limiter *Limiter
}

// Execute runs the check once the page's host has a free slot
func (j *CheckJob) Execute(ctx context.Context) Result {
	start := time.Now()
	if j.Limiter != nil {
		if err := j.Limiter.Wait(ctx, j.URL); err != nil {
			return &CheckResult{Index: j.Index, URL: j.URL, Error: fmt.Errorf("rate limit: %w", err)}
		}
	}

	report, err := j.Checker.Check(ctx, j.URL)
	return &CheckResult{
		Index:    j.Index,
		URL:      j.URL,
		Report:   report,
		Error:    err,
		Duration: time.Since(start),
	}
}

// CheckResult is the outcome of one CheckJob
type CheckResult struct {
	Index    int
	URL      string
	Report   *model.Report
	Error    error
	Duration time.Duration
}

// GetError returns the check error, if any
func (r *CheckResult) GetError() error {
	return r.Error
}

// BatchProcessor checks many pages concurrently, each in its own session
type BatchProcessor struct {
	checker Checker
	workers int
	limiter *Limiter
}

// NewBatchProcessor creates a processor; limiter may be nil
func NewBatchProcessor(checker Checker, workers int, limiter *Limiter) *BatchProcessor {
	return &BatchProcessor{
		checker: checker,
		workers: workers,
		limiter: limiter,
	}
}

// ProcessURLs checks every URL and returns the results in input order
func (b *BatchProcessor) ProcessURLs(ctx context.Context, urls []string) []*CheckResult {
	if len(urls) == 0 {
		return []*CheckResult{}
	}

	pool := NewPool(ctx, b.workers)
	pool.Start()
	for i, u := range urls {
		pool.Submit(&CheckJob{Index: i, URL: u, Checker: b.checker, Limiter: b.limiter})
	}

	out := make([]*CheckResult, len(urls))
	for _, result := range pool.Wait() {
		r := result.(*CheckResult)
		out[r.Index] = r
	}
	// Jobs never started because ctx ended
	for i, r := range out {
		if r == nil {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			out[i] = &CheckResult{Index: i, URL: urls[i], Error: err}
		}
	}
	return out
}

// ProcessFile reads URLs from a file and checks them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*CheckResult, error) {
	urls, err := ReadURLsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read URLs: %w", err)
	}
	return b.ProcessURLs(ctx, urls), nil
}

// ReadURLsFromFile reads one http(s) URL per line. Blank lines and
// #-comments are skipped, duplicates are dropped.
func ReadURLsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed, err := url.Parse(line)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("line %d: not an http(s) URL: %q", lineNo, line)
		}
		if !seen[line] {
			seen[line] = true
			urls = append(urls, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return urls, nil
}
