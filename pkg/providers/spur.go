package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/datagen24/cowrie-enrichment/pkg/cachetier"
	"github.com/datagen24/cowrie-enrichment/pkg/ratelimit"
	"golang.org/x/time/rate"
)

// SpurFieldCount is the exact, order-significant length of the flattened
// SPUR payload every caller depends on.
const SpurFieldCount = 18

// EmptySpur is the canonical all-blank 18-element payload.
func EmptySpur() []string {
	return make([]string, SpurFieldCount)
}

const spurBaseURL = "https://spur.us/api/v1/context"

// SPUR queries spur.us for IP infrastructure context and flattens the
// response into the fixed 18-field legacy shape.
type SPUR struct {
	httpClient HTTPDoer
	apiKey     string
	limiter    *rate.Limiter
	retryCfg   ratelimit.RetryConfig
	fallback   *cachetier.Filesystem // optional: IP-prefix fallback on upstream failure
	baseURL    string
}

// NewSPUR builds a SPUR adapter. limiter is typically obtained from
// ratelimit.Limiters.For("ip-context"). fallback may be nil to disable the
// IP-prefix fallback lookup.
func NewSPUR(httpClient HTTPDoer, apiKey string, limiter *rate.Limiter, fallback *cachetier.Filesystem) *SPUR {
	return &SPUR{httpClient: httpClient, apiKey: apiKey, limiter: limiter, retryCfg: ratelimit.DefaultRetryConfig(), fallback: fallback, baseURL: spurBaseURL}
}

// Query returns the 18-field flattened SPUR context for ip. On upstream
// failure it tries a same-prefix cached response (either an already
// flattened field array or a raw SPUR response) before giving up and
// returning EmptySpur().
func (s *SPUR) Query(ctx context.Context, ip string) []string {
	if s.apiKey == "" {
		return EmptySpur()
	}

	resp, err := call(ctx, s.httpClient, s.limiter, s.retryCfg, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", s.baseURL, ip), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Token", s.apiKey)
		return req, nil
	})
	if err != nil {
		if s.fallback != nil {
			if payload, ok := s.fallback.FindByPrefix(ctx, "spur", ipPrefix(ip)); ok {
				var cached []string
				if err := json.Unmarshal(payload, &cached); err == nil {
					out := EmptySpur()
					copy(out, cached)
					return out
				}
				return parseSpurPayload(payload)
			}
		}
		return EmptySpur()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return EmptySpur()
	}
	return parseSpurPayload(body)
}

// ipPrefix strips the last dotted octet (IPv4) or returns the address
// unchanged for anything else, matching _load_spur_fallback's prefix rule.
func ipPrefix(ip string) string {
	if idx := strings.LastIndex(ip, "."); idx != -1 {
		return ip[:idx]
	}
	return ip
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// parseSpurPayload maps a raw SPUR JSON response onto the fixed 18-element
// contract: [0]=asn_number [1]=asn_org [2]=organization [3]=infrastructure
// [4]=client_behaviors [5]=client_proxies [6]=client_types [7]=client_count
// [8]=client_concentration [9]=client_countries [10]=client_geo_spread
// [11]=risks [12]=services [13]=location [14-17]=tunnel
// (anonymous,entries,operator,type).
func parseSpurPayload(payload []byte) []string {
	result := EmptySpur()
	if len(payload) == 0 {
		return result
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return result
	}

	switch asn := data["asn"].(type) {
	case map[string]any:
		result[0] = stringify(asn["number"])
		result[1] = stringify(asn["organization"])
	default:
		result[0] = stringify(data["asn"])
		result[1] = stringify(data["asn_organization"])
	}

	result[2] = stringify(data["organization"])
	result[3] = stringify(data["infrastructure"])

	client, _ := data["client"].(map[string]any)
	result[4] = firstNonEmpty(client, "behaviors", data, "client_behaviors")
	result[5] = firstNonEmpty(client, "proxies", data, "client_proxies")
	result[6] = firstNonEmpty(client, "types", data, "client_types")
	result[7] = firstNonEmpty(client, "count", data, "client_count")
	result[8] = firstNonEmpty(client, "concentration", data, "client_concentration")
	result[9] = firstNonEmpty(client, "countries", data, "client_countries")
	result[10] = firstNonEmpty(client, "spread", data, "client_geo_spread")

	result[11] = stringify(data["risks"])
	result[12] = stringify(data["services"])

	if loc, ok := data["location"].(map[string]any); ok {
		parts := []string{stringify(loc["city"]), stringify(loc["state"]), stringify(loc["country"])}
		var nonEmpty []string
		for _, p := range parts {
			if p != "" {
				nonEmpty = append(nonEmpty, p)
			}
		}
		result[13] = strings.Join(nonEmpty, ", ")
	} else {
		result[13] = stringify(data["location"])
	}

	if tunnels, ok := data["tunnels"].([]any); ok {
		for _, raw := range tunnels {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			result[14] = stringify(entry["anonymous"])
			result[15] = stringify(entry["entries"])
			result[16] = stringify(entry["operator"])
			result[17] = stringify(entry["type"])
			break
		}
	}

	return result
}

// firstNonEmpty prefers client[clientKey] over data[flatKey], matching the
// source's support for both nested and flattened SPUR response schemas.
func firstNonEmpty(client map[string]any, clientKey string, data map[string]any, flatKey string) string {
	if client != nil {
		if v, ok := client[clientKey]; ok {
			return stringify(v)
		}
	}
	return stringify(data[flatKey])
}
