package scraper

import (
	"errors"
	"fmt"
)

// OutcomeKind classifies a single fetch attempt.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	RateLimited
	Transient
	Fatal
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Retryable reports whether another attempt may succeed.
func (k OutcomeKind) Retryable() bool {
	return k == RateLimited || k == Transient
}

// Outcome is the classified result of one attempt. Body is set only on
// Success. Deadline marks a Fatal outcome caused by the caller's context.
type Outcome struct {
	Kind       OutcomeKind
	Body       []byte
	StatusCode int
	Err        error
	Deadline   bool
}

// Cause returns the error behind a non-success outcome, synthesizing one from
// the status code when the attempt produced no error value.
func (o Outcome) Cause() error {
	if o.Err != nil {
		return o.Err
	}
	if o.Kind == Success {
		return nil
	}
	if o.StatusCode > 0 {
		return fmt.Errorf("%s: status %d", o.Kind, o.StatusCode)
	}
	return errors.New(o.Kind.String())
}
