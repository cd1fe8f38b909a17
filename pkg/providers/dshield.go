package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/datagen24/cowrie-enrichment/pkg/ratelimit"
	"golang.org/x/time/rate"
)

// DShieldResult is the parsed shape of an isc.sans.edu IP lookup. Only the
// fields this core reasons about are typed; everything else upstream sends
// is preserved in Raw so callers that need more can reach past the
// accessors without a second round trip.
type DShieldResult struct {
	ASName    string         `json:"asname"`
	ASCountry string         `json:"ascountry"`
	Count     int            `json:"count"`
	Attacks   int            `json:"attacks"`
	Raw       map[string]any `json:"-"`
}

// EmptyDShield is the canonical empty-result sentinel returned when
// enrichment is skipped or the upstream call fails outright.
func EmptyDShield() DShieldResult {
	return DShieldResult{Raw: map[string]any{"ip": map[string]any{"asname": "", "ascountry": ""}}}
}

const dshieldBaseURL = "https://isc.sans.edu"

// DShield queries the DShield IP reputation API.
type DShield struct {
	httpClient HTTPDoer
	email      string
	limiter    *rate.Limiter
	retryCfg   ratelimit.RetryConfig
	baseURL    string
}

// NewDShield builds a DShield adapter. limiter is typically obtained from
// ratelimit.Limiters.For("network-reputation").
func NewDShield(httpClient HTTPDoer, email string, limiter *rate.Limiter) *DShield {
	return &DShield{httpClient: httpClient, email: email, limiter: limiter, retryCfg: ratelimit.DefaultRetryConfig(), baseURL: dshieldBaseURL}
}

// Query fetches reputation data for ip, returning EmptyDShield() on any
// failure rather than propagating the error, matching the upstream's
// fail-open contract: enrichment must never block log processing.
func (d *DShield) Query(ctx context.Context, ip string) DShieldResult {
	resp, err := call(ctx, d.httpClient, d.limiter, d.retryCfg, func(ctx context.Context) (*http.Request, error) {
		url := fmt.Sprintf("%s/api/ip/%s?email=%s&json", d.baseURL, ip, d.email)
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return EmptyDShield()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return EmptyDShield()
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return EmptyDShield()
	}

	result := DShieldResult{Raw: raw}
	if ipNode, ok := raw["ip"].(map[string]any); ok {
		if v, ok := ipNode["asname"].(string); ok {
			result.ASName = v
		}
		if v, ok := ipNode["ascountry"].(string); ok {
			result.ASCountry = v
		}
		result.Count = asInt(ipNode["count"])
		result.Attacks = asInt(ipNode["attacks"])
	}
	return result
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
