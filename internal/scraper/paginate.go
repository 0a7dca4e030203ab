package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/aliscrape/internal/extract"
	"github.com/FranksOps/aliscrape/internal/metrics"
	"github.com/FranksOps/aliscrape/internal/models"
	"github.com/FranksOps/aliscrape/pkg/ratelimit"
)

// DefaultMaxPages is the ceiling on pages per request.
const DefaultMaxPages = 10

// Target describes which URLs are listing pages and how they paginate.
type Target struct {
	// Hosts lists accepted hosts; subdomains match too. Empty accepts any host.
	Hosts []string
	// PathPrefixes lists accepted path prefixes. Empty accepts any path.
	PathPrefixes []string
	// PageParam is the query parameter carrying the page number.
	PageParam string
}

// DefaultTarget accepts the site's search, category and wholesale listings.
func DefaultTarget() Target {
	return Target{
		Hosts:        []string{"aliexpress.com", "aliexpress.us"},
		PathPrefixes: []string{"/w/", "/wholesale", "/category/", "/af/", "/premium/", "/popular/"},
		PageParam:    "page",
	}
}

// PageFetcher retrieves one page body; *Fetcher satisfies it.
type PageFetcher interface {
	Fetch(ctx context.Context, targetURL string) ([]byte, error)
}

// PaginateConfig configures the pagination loop.
type PaginateConfig struct {
	Target Target
	// MaxPages is the ceiling for SearchRequest.MaxPages (default 10).
	MaxPages int
	// Deadline bounds a whole crawl; zero means only the caller's context.
	Deadline time.Duration
	// Pacer delays consecutive pages of one crawl.
	Pacer ratelimit.Pacer
	// StrictPages fails the request when any page fails instead of
	// returning the pages fetched so far.
	StrictPages bool
	// Robots, when set, is consulted once before page 1.
	Robots *RobotsTxtAuditor
	// RobotsAgent is the User-Agent token matched against robots.txt groups.
	RobotsAgent string
}

// Paginator walks listing pages 1..max_pages, extracting products from each
// until a page is empty or the page budget is spent.
type Paginator struct {
	cfg       PaginateConfig
	fetcher   PageFetcher
	extractor extract.Extractor
	logger    *slog.Logger
}

// NewPaginator creates a Paginator, applying defaults to zero config fields.
func NewPaginator(cfg PaginateConfig, fetcher PageFetcher, extractor extract.Extractor, logger *slog.Logger) *Paginator {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Target.PageParam == "" {
		cfg.Target.PageParam = "page"
	}
	if cfg.RobotsAgent == "" {
		cfg.RobotsAgent = "*"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Paginator{cfg: cfg, fetcher: fetcher, extractor: extractor, logger: logger}
}

// Validate checks req without touching the network and returns the parsed
// base URL.
func (p *Paginator) Validate(req models.SearchRequest) (*url.URL, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return nil, &ValidationError{Field: "url", Reason: "required"}
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ValidationError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}

	if !p.hostAllowed(u.Hostname()) {
		return nil, &ValidationError{Field: "url", Reason: fmt.Sprintf("host %q is not a supported listing site", u.Hostname())}
	}
	if !p.pathAllowed(u.Path) {
		return nil, &ValidationError{Field: "url", Reason: fmt.Sprintf("path %q is not a listing page", u.Path)}
	}

	if req.MaxPages < 1 || req.MaxPages > p.cfg.MaxPages {
		return nil, &ValidationError{Field: "max_pages", Reason: fmt.Sprintf("must be between 1 and %d", p.cfg.MaxPages)}
	}

	return u, nil
}

func (p *Paginator) hostAllowed(host string) bool {
	if len(p.cfg.Target.Hosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, h := range p.cfg.Target.Hosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (p *Paginator) pathAllowed(path string) bool {
	if len(p.cfg.Target.PathPrefixes) == 0 {
		return true
	}
	for _, prefix := range p.cfg.Target.PathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// PageURL returns base with param set to page, replacing any existing value
// so the parameter never appears twice.
func PageURL(base *url.URL, param string, page int) string {
	u := *base
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// Run crawls the listing described by req. A failure on page 1 fails the
// request; a failure on a later page returns the products gathered so far
// unless StrictPages is set. Errors are *ValidationError or *FetchError.
func (p *Paginator) Run(ctx context.Context, req models.SearchRequest) (*models.SearchResult, error) {
	base, err := p.Validate(req)
	if err != nil {
		return nil, err
	}

	crawlID := uuid.New().String()
	ctx = WithCrawl(ctx, crawlID)
	if p.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Deadline)
		defer cancel()
	}

	logger := p.logger.With("crawl_id", crawlID, "url", req.URL)
	logger.Info("starting crawl", "max_pages", req.MaxPages)

	if p.cfg.Robots != nil {
		allowed, err := p.cfg.Robots.IsAllowed(ctx, base.String(), p.cfg.RobotsAgent)
		if err != nil {
			logger.Warn("error checking robots.txt", "err", err)
		} else if !allowed {
			metrics.RecordCrawl("rejected", 0)
			return nil, &ValidationError{Field: "url", Reason: "disallowed by robots.txt"}
		}
	}

	products := []models.Product{}
	pages := 0
	result := "complete"

	for page := 1; page <= req.MaxPages; page++ {
		pageURL := PageURL(base, p.cfg.Target.PageParam, page)

		if page > 1 {
			if err := p.cfg.Pacer.Wait(ctx); err != nil {
				ferr := &FetchError{URL: pageURL, Page: page, Kind: KindDeadline, Err: err}
				if p.cfg.StrictPages {
					return p.fail(logger, ferr, pages)
				}
				logger.Warn("crawl truncated", "page", page, "err", ferr)
				result = "truncated"
				break
			}
		}

		body, err := p.fetcher.Fetch(WithPage(ctx, page), pageURL)
		if err != nil {
			ferr := asFetchError(err, pageURL, page)
			if page == 1 || p.cfg.StrictPages {
				return p.fail(logger, ferr, pages)
			}
			logger.Warn("crawl truncated", "page", page, "err", ferr)
			result = "truncated"
			break
		}
		pages++

		found := p.extractor.Extract(extract.Document{URL: pageURL, Body: body})
		logger.Info("page extracted", "page", page, "products", len(found))
		if len(found) == 0 {
			result = "exhausted"
			break
		}
		products = append(products, found...)
	}

	metrics.RecordCrawl(result, pages)
	logger.Info("crawl finished", "result", result, "pages", pages, "products", len(products))
	return models.NewSearchResult(products), nil
}

func (p *Paginator) fail(logger *slog.Logger, err *FetchError, pages int) (*models.SearchResult, error) {
	metrics.RecordCrawl("failed", pages)
	logger.Error("crawl failed", "page", err.Page, "kind", string(err.Kind), "err", err)
	return nil, err
}

// asFetchError guarantees callers never see a raw transport error.
func asFetchError(err error, pageURL string, page int) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.URL == "" {
			fe.URL = pageURL
		}
		fe.Page = page
		return fe
	}
	kind := KindFatal
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = KindDeadline
	}
	return &FetchError{URL: pageURL, Page: page, Kind: kind, Err: err}
}
