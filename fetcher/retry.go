package fetcher

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy is an exponential backoff schedule
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	Factor       float64
}

// DefaultRetryPolicy is 3 attempts starting at 2s, growing 1.5x
var DefaultRetryPolicy = RetryPolicy{
	Attempts:     3,
	InitialDelay: 2 * time.Second,
	Factor:       1.5,
}

// Retrying wraps a Fetcher with retries and backoff
type Retrying struct {
	next   Fetcher
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewRetrying wraps next with the given policy
func NewRetrying(next Fetcher, policy RetryPolicy, logger *slog.Logger) *Retrying {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Factor < 1 {
		policy.Factor = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		next:   next,
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Fetch implements the Fetcher interface. After the last failed attempt it
// returns a *FetchError wrapping the final cause.
func (r *Retrying) Fetch(ctx context.Context, url string) (string, error) {
	delay := r.policy.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		body, err := r.next.Fetch(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", &FetchError{URL: url, Attempts: attempt, Err: ctx.Err()}
		}
		if attempt == r.policy.Attempts {
			break
		}

		r.logger.Warn("Fetch attempt failed, retrying",
			"url", url,
			"attempt", attempt,
			"max_attempts", r.policy.Attempts,
			"backoff", delay,
			"error", err)

		if err := r.sleep(ctx, delay); err != nil {
			return "", &FetchError{URL: url, Attempts: attempt, Err: err}
		}
		delay = time.Duration(float64(delay) * r.policy.Factor)
	}

	return "", &FetchError{URL: url, Attempts: r.policy.Attempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
