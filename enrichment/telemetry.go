package enrichment

import (
	"sync/atomic"
	"time"

	"github.com/datagen24/cowrie-enrichment/pkg/models"
)

// Telemetry accumulates counters describing the health and throughput of
// the enrichment service: cache tier traffic, per-provider API call
// outcomes, and the volume of sessions/files processed. All fields are
// safe for concurrent use.
type Telemetry struct {
	CacheHits   atomic.Int64
	CacheMisses atomic.Int64
	CacheStores atomic.Int64
	CacheErrors atomic.Int64

	DShieldCalls    providerCounters
	URLHausCalls    providerCounters
	SpurCalls       providerCounters
	VirusTotalCalls providerCounters

	SessionsEnriched atomic.Int64
	FilesEnriched    atomic.Int64

	EnrichmentErrors     atomic.Int64
	RateLimitDelays      atomic.Int64
	EnrichmentDurationMS atomic.Int64
}

type providerCounters struct {
	Total      atomic.Int64
	Successful atomic.Int64
	Failed     atomic.Int64
}

func (c *providerCounters) record(success bool) {
	c.Total.Add(1)
	if success {
		c.Successful.Add(1)
	} else {
		c.Failed.Add(1)
	}
}

// RecordCacheResult tags a single cache lookup as a hit or a miss.
func (t *Telemetry) RecordCacheResult(hit bool) {
	if hit {
		t.CacheHits.Add(1)
	} else {
		t.CacheMisses.Add(1)
	}
}

// RecordCacheStore counts a successful write-through to the cache tiers.
func (t *Telemetry) RecordCacheStore() {
	t.CacheStores.Add(1)
}

// RecordCacheError counts a tier failure that was swallowed rather than
// propagated (the composed cache falls through to the next tier).
func (t *Telemetry) RecordCacheError() {
	t.CacheErrors.Add(1)
}

// RecordAPICall tags a single upstream provider call as successful or
// failed, for the named service.
func (t *Telemetry) RecordAPICall(service string, success bool) {
	switch service {
	case "dshield":
		t.DShieldCalls.record(success)
	case "urlhaus":
		t.URLHausCalls.record(success)
	case "spur":
		t.SpurCalls.record(success)
	case "virustotal":
		t.VirusTotalCalls.record(success)
	}
}

// RecordRateLimitDelay counts a call that had to wait on a rate limiter
// before it was allowed to proceed.
func (t *Telemetry) RecordRateLimitDelay() {
	t.RateLimitDelays.Add(1)
}

// RecordEnrichmentError counts a session or file enrichment that failed
// outright (as opposed to a single provider returning its empty sentinel).
func (t *Telemetry) RecordEnrichmentError() {
	t.EnrichmentErrors.Add(1)
}

// RecordSessionEnrichment marks the completion of one EnrichSession call,
// recording its wall-clock duration and bumping the session counter.
func (t *Telemetry) RecordSessionEnrichment(duration time.Duration) {
	t.SessionsEnriched.Add(1)
	t.EnrichmentDurationMS.Add(duration.Milliseconds())
}

// RecordFileEnrichment marks the completion of one EnrichFile call.
func (t *Telemetry) RecordFileEnrichment(duration time.Duration) {
	t.FilesEnriched.Add(1)
	t.EnrichmentDurationMS.Add(duration.Milliseconds())
}

// Summary is a point-in-time snapshot of telemetry counters suitable for
// exposing over an API endpoint.
type Summary struct {
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	CacheStores      int64   `json:"cache_stores"`
	CacheErrors      int64   `json:"cache_errors"`
	DShieldCalls     CallSummary `json:"dshield_calls"`
	URLHausCalls     CallSummary `json:"urlhaus_calls"`
	SpurCalls        CallSummary `json:"spur_calls"`
	VirusTotalCalls  CallSummary `json:"virustotal_calls"`
	SessionsEnriched int64   `json:"sessions_enriched"`
	FilesEnriched    int64   `json:"files_enriched"`
	EnrichmentErrors int64   `json:"enrichment_errors"`
	RateLimitDelays  int64   `json:"rate_limit_delays"`
}

// CallSummary reports the outcome split for one provider's calls.
type CallSummary struct {
	Total      int64   `json:"total"`
	Successful int64   `json:"successful"`
	Failed     int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

func (c *providerCounters) summary() CallSummary {
	total := c.Total.Load()
	successful := c.Successful.Load()
	rate := 0.0
	if total > 0 {
		rate = float64(successful) / float64(total) * 100
	}
	return CallSummary{
		Total:       total,
		Successful:  successful,
		Failed:      c.Failed.Load(),
		SuccessRate: rate,
	}
}

// Snapshot returns the current telemetry summary.
func (t *Telemetry) Snapshot() Summary {
	hits := t.CacheHits.Load()
	misses := t.CacheMisses.Load()
	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Summary{
		CacheHits:        hits,
		CacheMisses:      misses,
		CacheHitRate:     hitRate,
		CacheStores:      t.CacheStores.Load(),
		CacheErrors:      t.CacheErrors.Load(),
		DShieldCalls:     t.DShieldCalls.summary(),
		URLHausCalls:     t.URLHausCalls.summary(),
		SpurCalls:        t.SpurCalls.summary(),
		VirusTotalCalls:  t.VirusTotalCalls.summary(),
		SessionsEnriched: t.SessionsEnriched.Load(),
		FilesEnriched:    t.FilesEnriched.Load(),
		EnrichmentErrors: t.EnrichmentErrors.Load(),
		RateLimitDelays:  t.RateLimitDelays.Load(),
	}
}

// ToMetricSnapshot adapts a Summary into the shared models.MetricSnapshot
// shape, so it can ride the same Prometheus-format export the rest of the
// cache tooling uses. l1Size and l2Size are sampled separately since the
// tier sizes live on the cache, not the telemetry counters.
func (s Summary) ToMetricSnapshot(l1Size, l2Size int) models.MetricSnapshot {
	snapshot := models.NewMetricSnapshot(
		uint64(s.CacheHits),
		uint64(s.CacheMisses),
		uint64(s.CacheStores),
		0,
		0,
		models.LatencySummary{},
	)
	snapshot.L1Size = uint64(l1Size)
	snapshot.L2Size = uint64(l2Size)
	snapshot.TotalSize = snapshot.L1Size + snapshot.L2Size
	return snapshot
}

// PrometheusMetrics renders the telemetry summary in Prometheus gauge/counter
// format, reusing the shared cache-metrics exporter rather than hand-rolling
// a second one for the enrichment service.
func (s Summary) PrometheusMetrics(l1Size, l2Size int) map[string]float64 {
	return models.SnapshotToPrometheusFormat(s.ToMetricSnapshot(l1Size, l2Size), "enrichment")
}
