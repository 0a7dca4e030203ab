package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aliscrape_fetch_attempts_total",
			Help: "Total number of page fetch attempts by outcome",
		},
		[]string{"outcome", "status", "detection_src"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aliscrape_fetch_duration_seconds",
			Help:    "Duration of single fetch attempts in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	FetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aliscrape_fetch_bytes_total",
			Help: "Total bytes downloaded across all fetch attempts",
		},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aliscrape_retries_total",
			Help: "Total number of retries scheduled, by the outcome that caused them",
		},
		[]string{"outcome"},
	)

	LimiterWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aliscrape_limiter_wait_seconds",
			Help:    "Time spent blocked on the shared request window",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	ProductsExtractedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aliscrape_products_extracted_total",
			Help: "Total number of products extracted, by selector strategy",
		},
		[]string{"strategy"},
	)

	CrawlsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aliscrape_crawls_total",
			Help: "Total number of search crawls, by result",
		},
		[]string{"result"},
	)

	CrawlPages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aliscrape_crawl_pages",
			Help:    "Number of pages fetched per crawl",
			Buckets: []float64{1, 2, 3, 5, 10},
		},
	)
)

// RecordAttempt updates the fetch metrics for one HTTP attempt. A status of 0
// means no response was received.
func RecordAttempt(outcome string, status int, detectionSrc string, d time.Duration, bytes int) {
	statusStr := "error"
	if status > 0 {
		statusStr = strconv.Itoa(status)
	}
	FetchAttemptsTotal.WithLabelValues(outcome, statusStr, detectionSrc).Inc()
	FetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if bytes > 0 {
		FetchBytesTotal.Add(float64(bytes))
	}
}

// RecordRetry counts a retry caused by the given outcome.
func RecordRetry(outcome string) {
	RetriesTotal.WithLabelValues(outcome).Inc()
}

// RecordLimiterWait observes time spent waiting for a request permit.
func RecordLimiterWait(d time.Duration) {
	LimiterWait.Observe(d.Seconds())
}

// RecordProducts counts products produced by a selector strategy.
func RecordProducts(strategy string, n int) {
	if n <= 0 {
		return
	}
	ProductsExtractedTotal.WithLabelValues(strategy).Add(float64(n))
}

// RecordCrawl counts a finished crawl and the pages it fetched.
func RecordCrawl(result string, pages int) {
	CrawlsTotal.WithLabelValues(result).Inc()
	CrawlPages.Observe(float64(pages))
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// Start begins listening on the specified port and exposes /metrics. A
// port of zero or less disables the server and returns nil.
func Start(port int, logger *slog.Logger) *Server {
	if port <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "port", port, "error", err)
		}
	}()

	return &Server{srv: srv, logger: logger}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
