// Package pipeline runs a complete check of one page: fetch, backend
// configuration, the streamed workflow session and the final report.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ppiankov/doppelcheck/internal/backend"
	"github.com/ppiankov/doppelcheck/internal/cache"
	"github.com/ppiankov/doppelcheck/internal/highlight"
	"github.com/ppiankov/doppelcheck/internal/metrics"
	"github.com/ppiankov/doppelcheck/internal/model"
	"github.com/ppiankov/doppelcheck/internal/registry"
	"github.com/ppiankov/doppelcheck/internal/score"
	"github.com/ppiankov/doppelcheck/internal/transport"
	"github.com/ppiankov/doppelcheck/internal/util"
	"github.com/ppiankov/doppelcheck/internal/validate"
	"github.com/ppiankov/doppelcheck/internal/worker"
	"github.com/ppiankov/doppelcheck/internal/workflow"
)

// pollInterval is how often a running check looks for idleness and
// stage timeouts
const pollInterval = 200 * time.Millisecond

// Pipeline orchestrates check runs. One Pipeline may run many checks
// concurrently; each check has its own session.
type Pipeline struct {
	cfg      *model.Config
	fetcher  *Fetcher
	backend  *backend.Client
	scorer   *score.Scorer
	renderer *Renderer
	logger   *slog.Logger
}

// NewPipeline creates a pipeline with the given configuration
func NewPipeline(cfg *model.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	fetcher := NewFetcher(cfg.HTTP).
		WithRobots(util.NewRobotsChecker(cfg.HTTP.UserAgent, cfg.HTTP.Timeout)).
		WithLimiter(limiter).
		WithCache(cache.New(cfg.Cache))

	return &Pipeline{
		cfg:      cfg,
		fetcher:  fetcher,
		backend:  backend.NewClient(cfg, logger),
		scorer:   score.NewScorer(),
		renderer: NewRenderer(cfg.Output.IncludeFooter),
		logger:   logger,
	}
}

// Renderer returns the report renderer
func (p *Pipeline) Renderer() *Renderer { return p.renderer }

// CheckOptions customizes one check run
type CheckOptions struct {
	// Listeners receive every workflow event of the session
	Listeners []workflow.Listener
	// Drive, when set, replaces waiting for the workflow to go idle: the
	// session ends when Drive returns. Used for interactive checks.
	Drive func(ctx context.Context, ctrl *workflow.Controller) error
}

// CheckResult is the outcome of a check run
type CheckResult struct {
	Report        *model.Report
	AnnotatedHTML string // checked page with highlight marks
}

// Check runs a check with default options. It satisfies worker.Checker.
func (p *Pipeline) Check(ctx context.Context, pageURL string) (*model.Report, error) {
	result, err := p.CheckWith(ctx, pageURL, CheckOptions{})
	if result == nil {
		return nil, err
	}
	return result.Report, err
}

// CheckWith checks one page. When the session fails after it started, the
// partial result is returned together with the error.
func (p *Pipeline) CheckWith(ctx context.Context, pageURL string, opts CheckOptions) (*CheckResult, error) {
	result, err := p.check(ctx, pageURL, opts)
	switch {
	case err == nil:
		metrics.ChecksTotal.WithLabelValues("ok").Inc()
	case result != nil:
		metrics.ChecksTotal.WithLabelValues("partial").Inc()
	default:
		metrics.ChecksTotal.WithLabelValues("error").Inc()
	}
	return result, err
}

func (p *Pipeline) check(ctx context.Context, pageURL string, opts CheckOptions) (*CheckResult, error) {
	instanceID := p.cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger := p.logger.With("instance_id", instanceID, "url", pageURL)

	// 1. Fetch the page
	fetched, err := p.fetcher.FetchWithRetry(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	pageHTML := fetched.HTML
	subject := fetched.Subject
	meta := fetched.Meta

	if p.cfg.Workflow.ReaderMode {
		article, title, err := ReaderView(pageHTML, fetched.FinalURL)
		if err != nil {
			logger.Warn("reader mode unavailable, checking the full page", "error", err)
		} else {
			pageHTML = article
			meta.ReaderMode = true
			if title != "" {
				subject = title
			}
		}
	}

	// 2. Instance configuration
	instance, err := p.backend.GetConfig(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	logger.Debug("instance config", "name", instance.NameInstance, "data_sources", instance.DataSources)

	// 3. Document surface
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	if title := documentTitle(doc); title != "" && !meta.ReaderMode {
		subject = title
	}
	projector := highlight.NewProjector(doc, p.cfg.Workflow.NGram)
	classifier := validate.NewSourceClassifier(&p.cfg.Authority, fetched.FinalURL)

	// 4. Session
	sess, err := transport.Dial(ctx, transport.Options{
		Address:          p.cfg.Server.Address,
		URL:              p.cfg.Server.TalkURL(),
		InstanceID:       instanceID,
		OriginalURL:      fetched.FinalURL,
		InsecureTLS:      p.cfg.Server.InsecureTLS,
		HTTPProxy:        p.cfg.HTTP.HTTPProxy,
		HTTPSProxy:       p.cfg.HTTP.HTTPSProxy,
		NoProxy:          p.cfg.HTTP.NoProxy,
		HandshakeTimeout: p.cfg.HTTP.Timeout,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()

	ctrl := workflow.New(sess, registry.New(), workflow.Options{
		AutoSources:    p.cfg.Workflow.AutoSources,
		AutoCrosscheck: p.cfg.Workflow.AutoCrosscheck,
		StageTimeout:   p.cfg.Workflow.StageTimeout,
		FallbackURL:    sess.FallbackURL(),
		Highlighter:    projector,
		Classifier:     classifier,
		Logger:         logger,
	})
	for _, l := range opts.Listeners {
		ctrl.Subscribe(l)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- sess.Run(runCtx, ctrl.Dispatch)
	}()

	// 5. Workflow
	if err := ctrl.StartExtraction(pageHTML); err != nil {
		logger.Error("extraction request failed", "error", err)
	}
	waitErr := p.wait(ctx, ctrl, runErr, opts.Drive)

	cancel()
	_ = sess.Close()
	if err := <-runErr; err != nil {
		ctrl.Fail(err)
	}

	// 6. Report
	report := &model.Report{
		Subject:       subject,
		PageURL:       fetched.FinalURL,
		InstanceID:    instanceID,
		NameInstance:  instance.NameInstance,
		DataSources:   instance.DataSources,
		CheckedAt:     time.Now().UTC(),
		FetchMeta:     meta,
		Notifications: ctrl.Notifications(),
		Principles:    model.DefaultPrinciples(),
	}
	for _, kr := range ctrl.Snapshot() {
		kr.Summary = p.scorer.Summarize(kr.Keypoint, kr.Sources)
		report.Keypoints = append(report.Keypoints, kr)
	}

	var annotated bytes.Buffer
	if err := projector.Render(&annotated); err != nil {
		logger.Warn("annotated page not rendered", "error", err)
	}
	result := &CheckResult{Report: report, AnnotatedHTML: annotated.String()}

	if failed := ctrl.Failed(); failed != nil {
		return result, failed
	}
	if waitErr != nil {
		return result, waitErr
	}
	return result, nil
}

// wait blocks until the workflow has nothing left to do, drive returns,
// the session ends or ctx is done
func (p *Pipeline) wait(ctx context.Context, ctrl *workflow.Controller, runErr chan error, drive func(context.Context, *workflow.Controller) error) error {
	driveCtx, stopDrive := context.WithCancel(ctx)
	defer stopDrive()
	driveDone := make(chan error, 1)
	if drive != nil {
		go func() { driveDone <- drive(driveCtx, ctrl) }()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("check interrupted: %w", ctx.Err())
		case err := <-driveDone:
			return err
		case err := <-runErr:
			// Run has returned; hand a value back for the caller's drain
			runErr <- nil
			if ctx.Err() != nil {
				return fmt.Errorf("check interrupted: %w", ctx.Err())
			}
			if err == nil {
				err = errors.New("server closed the connection")
			}
			ctrl.Fail(err)
			return nil
		case now := <-ticker.C:
			ctrl.CheckTimeouts(now)
			if drive == nil && ctrl.Idle() {
				return nil
			}
			if drive != nil && ctrl.Failed() != nil {
				return nil
			}
		}
	}
}

func documentTitle(doc *html.Node) string {
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
