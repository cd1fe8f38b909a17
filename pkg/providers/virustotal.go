package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/datagen24/cowrie-enrichment/pkg/quota"
	"github.com/datagen24/cowrie-enrichment/pkg/ratelimit"
	"golang.org/x/time/rate"
)

// VirusTotal queries the file-reputation endpoint for a SHA256 hash. There
// is no Go SDK in this stack to mirror the upstream's object-graph client,
// so normalization is free: unmarshaling into map[string]any already
// produces the same plain nested map/slice/primitive tree the original's
// to_dict/__dict__ visitor had to build by hand.
const virustotalBaseURL = "https://www.virustotal.com/api/v3/files"

type VirusTotal struct {
	httpClient HTTPDoer
	apiKey     string
	limiter    *rate.Limiter
	retryCfg   ratelimit.RetryConfig
	quota      *quota.Manager // optional
	threshold  float64
	baseURL    string
}

// NewVirusTotal builds a VirusTotal adapter. limiter is typically obtained
// from ratelimit.Limiters.For("file-scanner"). quotaMgr may be nil to
// disable quota-aware backoff.
func NewVirusTotal(httpClient HTTPDoer, apiKey string, limiter *rate.Limiter, quotaMgr *quota.Manager, thresholdPercent float64) *VirusTotal {
	return &VirusTotal{
		httpClient: httpClient,
		apiKey:     apiKey,
		limiter:    limiter,
		retryCfg:   ratelimit.DefaultRetryConfig(),
		quota:      quotaMgr,
		threshold:  thresholdPercent,
		baseURL:    virustotalBaseURL,
	}
}

// ErrQuotaExceeded is returned when quota management is enabled and usage
// has crossed the configured threshold, so the caller can distinguish
// "skipped due to quota" from "not found".
var ErrQuotaExceeded = errors.New("virustotal: quota threshold exceeded")

// Query fetches file-reputation data for fileHash. It returns
// (nil, nil) on a 404 (file unknown to VirusTotal), (nil, ErrQuotaExceeded)
// when quota management blocks the call, and (nil, err) on any other
// transient failure after retries are exhausted.
func (v *VirusTotal) Query(ctx context.Context, fileHash string) (map[string]any, error) {
	if v.apiKey == "" {
		return nil, nil
	}

	if v.quota != nil && !v.quota.CanCall(ctx, v.threshold) {
		return nil, ErrQuotaExceeded
	}

	resp, err := call(ctx, v.httpClient, v.limiter, v.retryCfg, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", v.baseURL, fileHash), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Apikey", v.apiKey)
		return req, nil
	})
	if err != nil {
		var statusErr *ratelimit.HTTPStatusError
		if errors.As(err, &statusErr) {
			switch statusErr.StatusCode {
			case http.StatusNotFound:
				return nil, nil
			case http.StatusUnauthorized, http.StatusTooManyRequests:
				return nil, ErrQuotaExceeded
			}
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// MaliciousCount extracts attributes.last_analysis_stats.malicious from a
// VirusTotal response payload, returning 0 if the shape doesn't match
// (e.g. the payload is nil or came back sparse).
func MaliciousCount(payload map[string]any) int {
	data, _ := payload["data"].(map[string]any)
	attrs, _ := data["attributes"].(map[string]any)
	stats, _ := attrs["last_analysis_stats"].(map[string]any)
	return asInt(stats["malicious"])
}
