// Package providers implements the four upstream threat-intel adapters:
// DShield (IP reputation), URLHaus (malicious URL/host tagging), SPUR
// (IP infrastructure context), and VirusTotal (file reputation). Each
// adapter owns exactly one upstream's request shape and response parsing
// and sends its requests through call, which applies the service's rate
// limiter and the retry wrapper. Caching and sanitization are layered on by
// the enrichment façade; the SPUR adapter only reads the filesystem tier for
// its IP-prefix fallback.
package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/datagen24/cowrie-enrichment/pkg/ratelimit"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single upstream HTTP call.
const DefaultTimeout = 30 * time.Second

// HTTPDoer is satisfied by *http.Client and by test doubles.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// call wraps a single request/response exchange in the shared rate-limit +
// retry policy every adapter uses. build is invoked once per attempt so a
// fresh *http.Request (request bodies are single-use) is produced each
// time.
func call(ctx context.Context, client HTTPDoer, limiter *rate.Limiter, retryCfg ratelimit.RetryConfig, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var resp *http.Response
	err := ratelimit.Retry(ctx, retryCfg, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return err
		}

		r, err := client.Do(req)
		if err != nil {
			return err
		}

		if r.StatusCode >= 400 {
			r.Body.Close()
			return &ratelimit.HTTPStatusError{
				StatusCode: r.StatusCode,
				RetryAfter: retryAfterHeader(r),
			}
		}

		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func retryAfterHeader(r *http.Response) time.Duration {
	v := r.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 0
}
