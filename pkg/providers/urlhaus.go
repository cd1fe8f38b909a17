package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/datagen24/cowrie-enrichment/pkg/ratelimit"
	"golang.org/x/time/rate"
)

const urlhausBaseURL = "https://urlhaus-api.abuse.ch/v1/host/"

// URLHaus queries the abuse.ch URLHaus host lookup for malicious URL tags
// associated with an IP or host.
type URLHaus struct {
	httpClient HTTPDoer
	apiKey     string
	limiter    *rate.Limiter
	retryCfg   ratelimit.RetryConfig
	baseURL    string
}

// NewURLHaus builds a URLHaus adapter. limiter is typically obtained from
// ratelimit.Limiters.For("url-host-abuse").
func NewURLHaus(httpClient HTTPDoer, apiKey string, limiter *rate.Limiter) *URLHaus {
	return &URLHaus{httpClient: httpClient, apiKey: apiKey, limiter: limiter, retryCfg: ratelimit.DefaultRetryConfig(), baseURL: urlhausBaseURL}
}

// TimeoutSentinel is returned in place of tags when the call's deadline
// elapses, matching the upstream's "TIMEOUT" marker string so downstream
// consumers expecting that literal value keep working.
const TimeoutSentinel = "TIMEOUT"

// Query returns a sorted, comma-joined, de-duplicated list of tags across
// every URL entry URLHaus has on file for host, "" if there are none or
// the key is unset, or TimeoutSentinel if ctx's deadline elapses mid-call.
func (u *URLHaus) Query(ctx context.Context, host string) string {
	if u.apiKey == "" {
		return ""
	}

	resp, err := call(ctx, u.httpClient, u.limiter, u.retryCfg, func(ctx context.Context) (*http.Request, error) {
		form := url.Values{"host": {host}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Auth-Key", u.apiKey)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return TimeoutSentinel
		}
		return ""
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}

	return parseTags(body)
}

type urlhausResponse struct {
	URLs []struct {
		Tags []string `json:"tags"`
	} `json:"urls"`
}

func parseTags(body []byte) string {
	var parsed urlhausResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}

	seen := make(map[string]struct{})
	for _, entry := range parsed.URLs {
		for _, tag := range entry.Tags {
			if tag != "" {
				seen[tag] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return ""
	}

	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return strings.Join(tags, ", ")
}
