// Package storage records every page fetch attempt for later auditing.
// Products are never stored; the audit log describes how the site responded.
package storage

import (
	"context"
	"time"
)

// AttemptRecord is one HTTP attempt made while fetching a listing page.
type AttemptRecord struct {
	ID           string        `json:"id"`
	CrawlID      string        `json:"crawl_id"`
	URL          string        `json:"url"`
	Page         int           `json:"page"`
	Attempt      int           `json:"attempt"`
	StatusCode   int           `json:"status_code"` // 0 when no response was received
	Outcome      string        `json:"outcome"`     // success, rate_limited, transient, fatal
	UserAgent    string        `json:"user_agent"`
	Profile      string        `json:"profile"` // TLS fingerprint profile used
	Duration     time.Duration `json:"duration"`
	DetectedBot  bool          `json:"detected_bot"`
	DetectionSrc string        `json:"detection_src,omitempty"` // e.g. "Slider", "Cloudflare"
	BodyBytes    int           `json:"body_bytes"`
	Body         []byte        `json:"body,omitempty"` // only kept when body capture is enabled
	CreatedAt    time.Time     `json:"created_at"`
	Error        string        `json:"error,omitempty"`
}

// Filter allows querying for specific attempts.
type Filter struct {
	CrawlID     string
	URL         string
	Outcome     string
	DetectedBot *bool
	Since       *time.Time
	Limit       int
	Offset      int
}

// Match reports whether r satisfies every set field of f. Backends that
// filter in memory use it; SQL backends translate the same fields to WHERE
// clauses.
func (f Filter) Match(r *AttemptRecord) bool {
	if f.CrawlID != "" && r.CrawlID != f.CrawlID {
		return false
	}
	if f.URL != "" && r.URL != f.URL {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if f.DetectedBot != nil && r.DetectedBot != *f.DetectedBot {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Backend defines the interface for storing and querying attempt records.
// Query returns newest first.
type Backend interface {
	Save(ctx context.Context, rec *AttemptRecord) error
	Query(ctx context.Context, filter Filter) ([]*AttemptRecord, error)
	Close() error
}
