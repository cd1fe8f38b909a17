package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"
)

// HTTPStatusError is the transient-error shape the retry wrapper inspects
// for status-specific backoff behavior. Provider adapters wrap non-2xx
// responses in this type before handing the error to Retry.
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration // zero if the server did not send a hint
	Err        error
}

func (e *HTTPStatusError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.StatusCode)
}

func (e *HTTPStatusError) Unwrap() error { return e.Err }

// RetryConfig parameterizes Retry.
type RetryConfig struct {
	MaxRetries        int
	Base              time.Duration
	Factor            float64
	Jitter            bool
	RespectRetryAfter bool
}

// DefaultRetryConfig mirrors the original with_retries defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		Base:              1 * time.Second,
		Factor:            2.0,
		Jitter:            true,
		RespectRetryAfter: true,
	}
}

// Retry invokes fn up to cfg.MaxRetries+1 times. On an HTTPStatusError with
// status 401 it treats the call as rate-limited-not-authentication-failed
// (per the file-scanner's unusual vocabulary) and waits at least 60s,
// doubled per attempt. On 429 it waits the server's Retry-After hint when
// RespectRetryAfter is set and present, else at least 120s. Any other error
// gets exponential backoff base*factor^attempt, optionally jittered into
// [0.5, 1.0] of the computed duration. An error IsTransient rejects (such as
// a 404) is returned at once without a retry. Cancelling ctx unblocks an in-flight
// backoff sleep promptly and returns ctx.Err(). After the retry budget is
// exhausted the last error is returned unwrapped.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxRetries || !IsTransient(lastErr) {
			break
		}

		backoff := cfg.Base * time.Duration(pow(cfg.Factor, attempt))

		var statusErr *HTTPStatusError
		if errors.As(lastErr, &statusErr) {
			switch statusErr.StatusCode {
			case http.StatusUnauthorized:
				if backoff < 60*time.Second {
					backoff = 60 * time.Second
				}
				backoff *= time.Duration(pow(2, attempt))
			case http.StatusTooManyRequests:
				if cfg.RespectRetryAfter && statusErr.RetryAfter > 0 {
					backoff = statusErr.RetryAfter
				} else if backoff < 120*time.Second {
					backoff = 120 * time.Second
				}
			}
		}

		if cfg.Jitter {
			backoff = time.Duration(float64(backoff) * (0.5 + rand.Float64()*0.5))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return lastErr
}

// pow computes base^exp for small non-negative integer exponents without
// pulling in math.Pow's float edge-case handling.
func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// IsTransient reports whether err is a class of failure the retry wrapper
// should retry: network errors, context deadline exceeded, or an
// HTTPStatusError with a 5xx/429/401 status. Not-found (404) and
// programmer errors are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusNotFound:
			return false
		case http.StatusUnauthorized, http.StatusTooManyRequests:
			return true
		default:
			return statusErr.StatusCode >= 500
		}
	}
	return true
}
