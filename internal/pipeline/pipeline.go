// Package pipeline assembles the listing crawler from configuration: the
// shared request window, identity pool, fetcher, extractor and paginator.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/FranksOps/aliscrape/internal/config"
	"github.com/FranksOps/aliscrape/internal/extract"
	"github.com/FranksOps/aliscrape/internal/fingerprint"
	"github.com/FranksOps/aliscrape/internal/metrics"
	"github.com/FranksOps/aliscrape/internal/models"
	"github.com/FranksOps/aliscrape/internal/scraper"
	"github.com/FranksOps/aliscrape/internal/storage"
	"github.com/FranksOps/aliscrape/pkg/ratelimit"
	"github.com/FranksOps/aliscrape/pkg/useragent"
)

// Option customizes a Service.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	audit     storage.Backend
	extractor extract.Extractor
}

// WithTransport replaces the fingerprinted TLS transports.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithAudit records attempts to b instead of the configured backend. The
// Service does not close a backend supplied this way.
func WithAudit(b storage.Backend) Option {
	return func(o *options) { o.audit = b }
}

// WithExtractor replaces the listing extractor.
func WithExtractor(e extract.Extractor) Option {
	return func(o *options) { o.extractor = e }
}

// Service runs searches. One Service is shared by every request in the
// process so they all draw from the same request window.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	window    *ratelimit.Window
	paginator *scraper.Paginator
	audit     storage.Backend
	ownsAudit bool
}

// New builds a Service from cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	profile, err := fingerprint.ParseProfile(cfg.Fetch.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	s := &Service{cfg: cfg, logger: logger, audit: o.audit}
	if s.audit == nil {
		s.audit, err = OpenAudit(ctx, cfg.Audit)
		if err != nil {
			return nil, err
		}
		s.ownsAudit = s.audit != nil
	}

	s.window = ratelimit.NewWindow(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	s.window.OnWait = metrics.RecordLimiterWait

	var extras http.Header
	if cfg.Target.Cookie != "" {
		extras = http.Header{"Cookie": {cfg.Target.Cookie}}
	}

	jitter := cfg.Retry.Jitter
	if jitter == 0 {
		jitter = -1
	}
	retry := scraper.NewRetryPolicy(scraper.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      jitter,
	}, logger)

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      cfg.Fetch.Timeout,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		UseCookieJar: cfg.Fetch.CookieJar,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		Fingerprint:  profile,
		Identities:   useragent.NewPool(cfg.Fetch.UserAgents, extras),
		Limiter:      s.window,
		Retry:        retry,
		Audit:        s.audit,
		CaptureBody:  cfg.Audit.CaptureBody,
		Transport:    o.transport,
	}, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	var robots *scraper.RobotsTxtAuditor
	if cfg.Crawl.RespectRobots {
		robots, err = scraper.NewRobotsTxtAuditor(fetcher.Fetch, 0, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	extractor := o.extractor
	if extractor == nil {
		extractor = extract.NewListing(logger)
	}

	s.paginator = scraper.NewPaginator(scraper.PaginateConfig{
		Target: scraper.Target{
			Hosts:        cfg.Target.Hosts,
			PathPrefixes: cfg.Target.PathPrefixes,
			PageParam:    cfg.Target.PageParam,
		},
		MaxPages:    cfg.Crawl.MaxPages,
		Deadline:    cfg.Crawl.Deadline,
		Pacer:       ratelimit.NewPacer(cfg.Crawl.PageDelayMin, cfg.Crawl.PageDelayMax),
		StrictPages: cfg.Crawl.StrictPages,
		Robots:      robots,
		RobotsAgent: cfg.Crawl.RobotsAgent,
	}, fetcher, extractor, logger)

	logger.Debug("pipeline ready",
		"fingerprint", profile, "window_requests", cfg.RateLimit.Requests,
		"window", cfg.RateLimit.Window, "audit", cfg.Audit.Driver)
	return s, nil
}

// Run crawls req. Errors are *scraper.ValidationError or *scraper.FetchError.
func (s *Service) Run(ctx context.Context, req models.SearchRequest) (*models.SearchResult, error) {
	return s.paginator.Run(ctx, req)
}

// Validate checks req without fetching anything.
func (s *Service) Validate(req models.SearchRequest) error {
	_, err := s.paginator.Validate(req)
	return err
}

// MaxPages is the configured page ceiling.
func (s *Service) MaxPages() int {
	return s.cfg.Crawl.MaxPages
}

// Audit returns the attempt audit backend, or nil when auditing is off.
func (s *Service) Audit() storage.Backend {
	return s.audit
}

// Close releases the audit backend if the Service opened it.
func (s *Service) Close() error {
	if s.ownsAudit && s.audit != nil {
		return s.audit.Close()
	}
	return nil
}
