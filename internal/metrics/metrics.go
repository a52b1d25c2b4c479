// Package metrics exposes Prometheus counters for check sessions.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesReceived counts inbound frames by decoded kind
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doppelcheck_frames_received_total",
		Help: "Inbound frames by message kind",
	}, []string{"kind"})

	// RequestsSent counts outbound requests by kind
	RequestsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doppelcheck_requests_sent_total",
		Help: "Outbound requests by message type",
	}, []string{"kind"})

	// PendingRequests tracks in-flight correlation keys of the current session
	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doppelcheck_pending_requests",
		Help: "Requests waiting for their terminal frame",
	})

	// TransportFailures counts terminal connection failures by operation
	TransportFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doppelcheck_transport_failures_total",
		Help: "Terminal transport failures by operation",
	}, []string{"op"})

	// StageTransitions counts workflow transitions by entity and target stage
	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doppelcheck_stage_transitions_total",
		Help: "Workflow stage transitions by entity and stage",
	}, []string{"entity", "stage"})

	// Ratings counts finished cross-checks by band
	Ratings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doppelcheck_ratings_total",
		Help: "Finished cross-checks by rating band",
	}, []string{"band"})

	// PageFetchDuration tracks page fetch latency
	PageFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "doppelcheck_page_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"result"})

	// ChecksTotal counts finished check runs by result
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doppelcheck_checks_total",
		Help: "Check runs by result",
	}, []string{"result"})
)

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
