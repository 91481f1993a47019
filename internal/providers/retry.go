package providers

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"time"
)

// RetryConfig configures the backoff used around a provider HTTP call.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
}

// DefaultRetryConfig mirrors the backoff every provider client uses unless
// overridden: three retries, exponential backoff from 500ms, capped at 20s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       20 * time.Second,
		JitterFraction: 0.2,
	}
}

// HTTPError carries the status and body of a non-2xx provider response so
// callers can distinguish rate limiting (429) and transient 5xx errors from
// permanent 4xx failures (bad request, invalid API key).
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return e.Body
}

func (e *HTTPError) retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ParseRetryAfter parses an HTTP Retry-After header (seconds form only;
// providers in this corpus never send the HTTP-date form). Returns 0 when
// the header is absent or unparsable.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// RetryDo runs fn, retrying on transient HTTPErrors (429/5xx) and plain
// network errors with exponential backoff. Context cancellation and
// permanent (non-retryable) HTTPErrors abort immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		val, err := fn()
		if err == nil {
			return val, nil
		}
		lastErr = err

		var httpErr *HTTPError
		retryable := true
		if errors.As(err, &httpErr) {
			retryable = httpErr.retryable()
		}
		if !retryable || attempt == cfg.MaxAttempts {
			return zero, err
		}

		delay := retryDelay(cfg, attempt)
		if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
			delay = httpErr.RetryAfter
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}

func retryDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(2, float64(attempt)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.JitterFraction > 0 {
		jitter := float64(delay) * cfg.JitterFraction
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
