package scraper

import (
	"context"
	"errors"
	"fmt"
)

// Error categories reported to callers.
const (
	CategoryValidation = "validation"
	CategoryFetch      = "fetch"
	CategoryDeadline   = "deadline"
	CategoryInternal   = "internal"
)

// ValidationError rejects a search request before any network activity.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scraper: invalid %s: %s", e.Field, e.Reason)
}

// FetchKind says why a page could not be fetched.
type FetchKind string

const (
	// KindFatal is a non-retryable response or request error.
	KindFatal FetchKind = "fatal"
	// KindExhausted means every allowed attempt was rate limited or transient.
	KindExhausted FetchKind = "exhausted"
	// KindDeadline means the crawl deadline or caller context ended the fetch.
	KindDeadline FetchKind = "deadline"
)

// FetchError describes a page that could not be fetched. Err is the last
// underlying cause.
type FetchError struct {
	URL        string
	Page       int
	Kind       FetchKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("scraper: fetch %s", e.URL)
	if e.Page > 0 {
		msg = fmt.Sprintf("scraper: fetch page %d (%s)", e.Page, e.URL)
	}
	msg += ": " + string(e.Kind)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Category classifies err for the caller: validation, fetch, deadline, or
// internal for anything unexpected. A nil error has no category.
func Category(err error) string {
	if err == nil {
		return ""
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return CategoryValidation
	}

	var ferr *FetchError
	if errors.As(err, &ferr) {
		if ferr.Kind == KindDeadline {
			return CategoryDeadline
		}
		return CategoryFetch
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryDeadline
	}
	return CategoryInternal
}
