package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/aliscrape/internal/bypass"
	"github.com/FranksOps/aliscrape/internal/fingerprint"
	"github.com/FranksOps/aliscrape/internal/metrics"
	"github.com/FranksOps/aliscrape/internal/storage"
	"github.com/FranksOps/aliscrape/pkg/httpclient"
	"github.com/FranksOps/aliscrape/pkg/useragent"
)

type contextKey string

const (
	crawlKey contextKey = "crawl_id"
	pageKey  contextKey = "page"
)

// WithCrawl tags ctx with the crawl id recorded in the attempt audit log.
func WithCrawl(ctx context.Context, crawlID string) context.Context {
	return context.WithValue(ctx, crawlKey, crawlID)
}

// WithPage tags ctx with the page number being fetched.
func WithPage(ctx context.Context, page int) context.Context {
	return context.WithValue(ctx, pageKey, page)
}

func crawlFrom(ctx context.Context) string {
	id, _ := ctx.Value(crawlKey).(string)
	return id
}

func pageFrom(ctx context.Context) int {
	page, _ := ctx.Value(pageKey).(int)
	return page
}

// Limiter hands out request permits; *ratelimit.Window satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// FetchConfig configures the page fetcher.
type FetchConfig struct {
	// Timeout bounds a single HTTP attempt (default 30s).
	Timeout time.Duration
	// MaxRedirects caps followed redirects (0 = default 10, negative = none).
	MaxRedirects int
	UseCookieJar bool
	MaxBodyBytes int64
	// Fingerprint pins one TLS profile, or "auto" to follow each identity's
	// browser family.
	Fingerprint fingerprint.Profile
	Identities  *useragent.Pool
	Limiter     Limiter
	Retry       *RetryPolicy
	Detectors   []bypass.Detector
	// Audit receives one record per attempt when set.
	Audit       storage.Backend
	CaptureBody bool
	// Transport replaces the fingerprinted transports, e.g. for test mocks.
	Transport http.RoundTripper
}

// Fetcher retrieves listing pages with rotated identities, the shared
// request window, and retry classification. Clients are created lazily per
// TLS profile and share one cookie jar.
type Fetcher struct {
	config FetchConfig
	logger *slog.Logger
	jar    http.CookieJar

	mu      sync.Mutex
	clients map[fingerprint.Profile]*httpclient.Client
}

// NewFetcher initializes a new Fetcher with the given configuration.
func NewFetcher(cfg FetchConfig, logger *slog.Logger) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.Identities == nil {
		cfg.Identities = useragent.NewPool(nil, nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileAuto
	}
	if cfg.Retry == nil {
		cfg.Retry = NewRetryPolicy(RetryConfig{}, logger)
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &Fetcher{
		config:  cfg,
		logger:  logger,
		clients: make(map[fingerprint.Profile]*httpclient.Client),
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("scraper: cookie jar: %w", err)
		}
		f.jar = jar
	}

	// Fail on a bad pinned profile now rather than on the first fetch.
	if cfg.Fingerprint != fingerprint.ProfileAuto {
		if _, err := f.client(cfg.Fingerprint); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func (f *Fetcher) client(p fingerprint.Profile) (*httpclient.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[p]; ok {
		return c, nil
	}

	transport := f.config.Transport
	if transport == nil {
		t, err := fingerprint.Transport(p, nil)
		if err != nil {
			return nil, fmt.Errorf("scraper: transport for %s: %w", p, err)
		}
		transport = t
	}

	c, err := httpclient.New(httpclient.Config{
		Timeout:      f.config.Timeout,
		MaxRedirects: f.config.MaxRedirects,
		Jar:          f.jar,
		MaxBodyBytes: f.config.MaxBodyBytes,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: client for %s: %w", p, err)
	}
	f.clients[p] = c
	return c, nil
}

// Fetch returns the body of targetURL, retrying rate-limited and transient
// attempts. Errors are *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) ([]byte, error) {
	page := pageFrom(ctx)

	u, err := url.Parse(targetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		if err == nil {
			err = errors.New("not an absolute http(s) url")
		}
		return nil, &FetchError{URL: targetURL, Page: page, Kind: KindFatal, Err: fmt.Errorf("malformed url: %w", err)}
	}

	body, err := f.config.Retry.Execute(ctx, func(ctx context.Context, n int) Outcome {
		return f.attempt(ctx, targetURL, n)
	})
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.URL = targetURL
			fe.Page = page
		}
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) attempt(ctx context.Context, targetURL string, n int) Outcome {
	id := f.config.Identities.Next()
	profile := fingerprint.Resolve(f.config.Fingerprint, id.Family)

	client, err := f.client(profile)
	if err != nil {
		return Outcome{Kind: Fatal, Err: err}
	}

	if f.config.Limiter != nil {
		if err := f.config.Limiter.Wait(ctx); err != nil {
			return Outcome{Kind: Fatal, Deadline: true, Err: fmt.Errorf("waiting for request permit: %w", err)}
		}
	}

	header := id.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("User-Agent", id.UserAgent)

	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	start := time.Now()
	res, err := client.Get(reqCtx, targetURL, header)
	duration := time.Since(start)

	out, detection := f.classify(ctx, res, err)

	rec := &storage.AttemptRecord{
		ID:           uuid.New().String(),
		CrawlID:      crawlFrom(ctx),
		URL:          targetURL,
		Page:         pageFrom(ctx),
		Attempt:      n,
		StatusCode:   out.StatusCode,
		Outcome:      out.Kind.String(),
		UserAgent:    id.UserAgent,
		Profile:      string(profile),
		Duration:     duration,
		DetectedBot:  detection.Detected,
		DetectionSrc: detection.Source,
		CreatedAt:    start.UTC(),
	}
	if res != nil {
		rec.BodyBytes = len(res.Body)
		if f.config.CaptureBody {
			rec.Body = res.Body
		}
	}
	if out.Kind != Success {
		rec.Error = out.Cause().Error()
	}

	metrics.RecordAttempt(rec.Outcome, rec.StatusCode, rec.DetectionSrc, duration, rec.BodyBytes)
	f.logger.Debug("fetch attempt",
		"url", targetURL, "page", rec.Page, "attempt", n, "status", rec.StatusCode,
		"outcome", rec.Outcome, "profile", rec.Profile, "detection", rec.DetectionSrc,
		"duration", duration)
	f.audit(ctx, rec)

	return out
}

// classify maps a response or transport error to an Outcome. Bot challenges
// are treated as rate limiting whatever their status code.
func (f *Fetcher) classify(ctx context.Context, res *httpclient.Response, err error) (Outcome, bypass.Detection) {
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return Outcome{Kind: Fatal, Deadline: true, Err: ctx.Err()}, bypass.Detection{}
		case errors.Is(err, httpclient.ErrTooManyRedirects), errors.Is(err, httpclient.ErrBodyTooLarge):
			return Outcome{Kind: Fatal, Err: err}, bypass.Detection{}
		}
		// Network failures and the per-attempt timeout.
		return Outcome{Kind: Transient, Err: err}, bypass.Detection{}
	}

	detection := bypass.Analyze(bypass.Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       res.Body,
	}, f.config.Detectors)

	status := res.StatusCode
	var challenge error
	if detection.Detected {
		challenge = fmt.Errorf("bot challenge (%s): status %d", detection.Source, status)
	}

	switch {
	case status >= 200 && status < 300:
		if detection.Detected {
			return Outcome{Kind: RateLimited, StatusCode: status, Err: challenge}, detection
		}
		return Outcome{Kind: Success, StatusCode: status, Body: res.Body}, detection
	case status == http.StatusTooManyRequests:
		return Outcome{Kind: RateLimited, StatusCode: status, Err: challenge}, detection
	case status == http.StatusForbidden, status >= 500:
		if detection.Detected {
			return Outcome{Kind: RateLimited, StatusCode: status, Err: challenge}, detection
		}
		return Outcome{Kind: Transient, StatusCode: status}, detection
	case status >= 300 && status < 400:
		if detection.Detected {
			return Outcome{Kind: RateLimited, StatusCode: status, Err: challenge}, detection
		}
		return Outcome{Kind: Fatal, StatusCode: status, Err: fmt.Errorf("unfollowed redirect: status %d", status)}, detection
	}
	return Outcome{Kind: Fatal, StatusCode: status}, detection
}

func (f *Fetcher) audit(ctx context.Context, rec *storage.AttemptRecord) {
	if f.config.Audit == nil {
		return
	}
	// A cancelled crawl still records the attempts it made.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := f.config.Audit.Save(saveCtx, rec); err != nil {
		f.logger.Warn("failed to record fetch attempt", "url", rec.URL, "err", err)
	}
}
