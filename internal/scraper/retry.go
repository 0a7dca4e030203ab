package scraper

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/FranksOps/aliscrape/internal/metrics"
)

// RetryConfig bounds how a page fetch is retried.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter scales the random extra delay; 1.0 adds up to one full backoff
	// step. Zero means the default, negative disables jitter.
	Jitter float64
}

// DefaultRetryConfig returns 3 attempts with 2s, 4s... backoff capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      1.0,
	}
}

// AttemptFunc performs attempt n (starting at 1) and classifies its result.
type AttemptFunc func(ctx context.Context, n int) Outcome

// RetryPolicy retries rate-limited and transient attempts with exponential
// backoff and jitter. It holds no per-call state and is safe to share.
type RetryPolicy struct {
	cfg    RetryConfig
	logger *slog.Logger

	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy applies defaults to zero fields of cfg.
func NewRetryPolicy(cfg RetryConfig, logger *slog.Logger) *RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	switch {
	case cfg.Jitter == 0:
		cfg.Jitter = def.Jitter
	case cfg.Jitter < 0:
		cfg.Jitter = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryPolicy{
		cfg:    cfg,
		logger: logger,
		rand:   rand.Float64,
		sleep:  sleepCtx,
	}
}

// Delay returns the backoff before retry n (n >= 1): base*2^(n-1) plus a
// uniform jitter of up to Jitter times that step, capped at MaxDelay.
func (p *RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	step := float64(p.cfg.BaseDelay) * math.Pow(2, float64(n-1))
	d := step + p.rand()*p.cfg.Jitter*step
	if d >= float64(p.cfg.MaxDelay) {
		return p.cfg.MaxDelay
	}
	return time.Duration(d)
}

// Execute runs attempt until it succeeds, fails fatally, or the attempt
// budget is spent. Errors are always *FetchError; the caller fills in the
// URL and page.
func (p *RetryPolicy) Execute(ctx context.Context, attempt AttemptFunc) ([]byte, error) {
	var last Outcome
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{Kind: KindDeadline, StatusCode: last.StatusCode, Err: err}
		}

		out := attempt(ctx, n)
		switch out.Kind {
		case Success:
			return out.Body, nil
		case Fatal:
			kind := KindFatal
			if out.Deadline {
				kind = KindDeadline
			}
			return nil, &FetchError{Kind: kind, StatusCode: out.StatusCode, Err: out.Cause()}
		}
		last = out

		if n >= p.cfg.MaxAttempts {
			return nil, &FetchError{Kind: KindExhausted, StatusCode: out.StatusCode, Err: out.Cause()}
		}

		delay := p.Delay(n)
		metrics.RecordRetry(out.Kind.String())
		p.logger.Warn("retrying fetch",
			"attempt", n, "outcome", out.Kind.String(), "status", out.StatusCode,
			"delay", delay, "err", out.Cause())

		if err := p.sleep(ctx, delay); err != nil {
			return nil, &FetchError{Kind: KindDeadline, StatusCode: out.StatusCode, Err: err}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
