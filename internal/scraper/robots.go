package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// DefaultRobotsCacheSize bounds how many hosts' robots.txt are kept.
const DefaultRobotsCacheSize = 128

// FetchFunc retrieves a URL body; (*Fetcher).Fetch satisfies it.
type FetchFunc func(ctx context.Context, targetURL string) ([]byte, error)

// RobotsTxtAuditor manages robots.txt fetching and enforcement. Hosts whose
// robots.txt cannot be fetched or parsed are cached as allow-all.
type RobotsTxtAuditor struct {
	fetch  FetchFunc
	logger *slog.Logger
	cache  *lru.Cache[string, *robotstxt.RobotsData]
	group  singleflight.Group
}

// NewRobotsTxtAuditor creates a new instance caching up to size hosts.
func NewRobotsTxtAuditor(fetch FetchFunc, size int, logger *slog.Logger) (*RobotsTxtAuditor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = DefaultRobotsCacheSize
	}
	cache, err := lru.New[string, *robotstxt.RobotsData](size)
	if err != nil {
		return nil, fmt.Errorf("scraper: robots cache: %w", err)
	}
	return &RobotsTxtAuditor{fetch: fetch, logger: logger, cache: cache}, nil
}

// IsAllowed determines if the given URL is allowed by the host's robots.txt for the provided User-Agent.
func (r *RobotsTxtAuditor) IsAllowed(ctx context.Context, targetURL string, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("scraper: invalid url: %w", err)
	}

	data := r.getOrFetch(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.FindGroup(userAgent).Test(path), nil
}

func (r *RobotsTxtAuditor) getOrFetch(ctx context.Context, host string) *robotstxt.RobotsData {
	if data, ok := r.cache.Get(host); ok {
		return data
	}

	v, _, _ := r.group.Do(host, func() (any, error) {
		if data, ok := r.cache.Get(host); ok {
			return data, nil
		}

		var data *robotstxt.RobotsData
		body, err := r.fetch(ctx, host+"/robots.txt")
		switch {
		case err != nil:
			r.logger.Debug("robots.txt fetch failed, defaulting to allow", "host", host, "err", err)
		default:
			parsed, perr := robotstxt.FromBytes(body)
			if perr != nil {
				r.logger.Debug("robots.txt parse failed, defaulting to allow", "host", host, "err", perr)
			} else {
				data = parsed
			}
		}

		// Cancellation says nothing about the host; retry on the next crawl.
		if ctx.Err() == nil {
			r.cache.Add(host, data)
		}
		return data, nil
	})

	data, _ := v.(*robotstxt.RobotsData)
	return data
}
