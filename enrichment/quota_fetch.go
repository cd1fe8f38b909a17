package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/datagen24/cowrie-enrichment/pkg/quota"
)

const virustotalAPIBase = "https://www.virustotal.com/api/v3"

// vtQuotaFetcher builds a quota.Fetcher that reproduces the upstream's
// three-call sequence: resolve the caller's user id, then fetch its
// overall_quotas and api_usage attributes, mapping daily/hourly/monthly
// request counts into a quota.Snapshot.
func vtQuotaFetcher(client *http.Client, apiKey string) quota.Fetcher {
	return func(ctx context.Context) (quota.Snapshot, error) {
		userID, err := vtGetJSON(ctx, client, apiKey, "/users/me")
		if err != nil {
			return quota.Snapshot{}, err
		}
		id, _ := dig(userID, "data", "id").(string)
		if id == "" {
			return quota.Snapshot{}, fmt.Errorf("virustotal: could not resolve user id for quota lookup")
		}

		quotas, err := vtGetJSON(ctx, client, apiKey, fmt.Sprintf("/users/%s/overall_quotas", id))
		if err != nil {
			return quota.Snapshot{}, err
		}
		usage, err := vtGetJSON(ctx, client, apiKey, fmt.Sprintf("/users/%s/api_usage", id))
		if err != nil {
			return quota.Snapshot{}, err
		}

		quotaAttrs, _ := dig(quotas, "data", "attributes").(map[string]any)
		usageAttrs, _ := dig(usage, "data", "attributes").(map[string]any)

		return quota.Snapshot{
			DailyUsed:    asInt(usageAttrs["api_requests_daily"]),
			DailyLimit:   asInt(quotaAttrs["api_requests_daily"]),
			HourlyUsed:   asInt(usageAttrs["api_requests_hourly"]),
			HourlyLimit:  asInt(quotaAttrs["api_requests_hourly"]),
			MonthlyUsed:  asInt(usageAttrs["api_requests_monthly"]),
			MonthlyLimit: asInt(quotaAttrs["api_requests_monthly"]),
			APIUsed:      asInt(usageAttrs["api_requests_daily"]),
			APILimit:     asInt(quotaAttrs["api_requests_daily"]),
		}, nil
	}
}

func vtGetJSON(ctx context.Context, client *http.Client, apiKey, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, virustotalAPIBase+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Apikey", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("virustotal: quota lookup %s failed with status %d", path, resp.StatusCode)
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func dig(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = asMap[k]
	}
	return cur
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
