// Package enrichment implements the honeypot log-enrichment core: given a
// session (source IP) or a file observation (content hash), it consults
// DShield, URLHaus, SPUR, and VirusTotal through a three-tier cache and
// returns a stable, structured record. Provider failures, quota
// exhaustion, and malformed payloads never propagate as errors — they
// degrade to each provider's empty sentinel, matching the service's
// "never throws on an upstream fault" contract.
//
// Design Choices:
//   - Cache-then-API per provider via pkg/cachetier.Cache.Fetch, so a
//     durable hit never touches the network or the rate limiter.
//   - Per-service token-bucket rate limiting via pkg/ratelimit, honoring
//     each provider's documented baseline (network-reputation,
//     file-scanner, url-host-abuse, ip-context).
//   - VirusTotal calls are additionally gated by a quota.Manager so a
//     near-exhausted daily/hourly budget backs off before the provider
//     ever returns a 429.
//   - Every field returned to a caller passes through sanitize.JSONTree
//     before being stored or returned, so no control byte from an
//     upstream response reaches a caller or a cache file.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/datagen24/cowrie-enrichment/pkg/cachetier"
	"github.com/datagen24/cowrie-enrichment/pkg/providers"
	"github.com/datagen24/cowrie-enrichment/pkg/quota"
	"github.com/datagen24/cowrie-enrichment/pkg/ratelimit"
	"github.com/datagen24/cowrie-enrichment/pkg/sanitize"
)

// Service implements session and file enrichment.
//
//encore:service
type Service struct {
	cache      *cachetier.Cache
	limiters   *ratelimit.Limiters
	dshield    *providers.DShield
	urlhaus    *providers.URLHaus
	spur       *providers.SPUR
	virustotal *providers.VirusTotal
	quotaMgr   *quota.Manager
	telemetry  *Telemetry
	config     Config

	l2Closer io.Closer
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Config holds runtime configuration for the enrichment service.
type Config struct {
	DShieldEmail  string
	URLHausAPIKey string
	SpurAPIKey    string
	VTAPIKey      string

	CacheBaseDir string
	DShieldTTL   time.Duration
	URLHausTTL   time.Duration
	SpurTTL      time.Duration
	VTTTL        time.Duration

	EnableRedisCache bool
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	SkipEnrich         bool
	EnableRateLimiting bool
	EnableTelemetry    bool

	EnableVTQuotaManagement bool
	VTQuotaThresholdPercent float64

	CleanupInterval time.Duration
	RequestTimeout  time.Duration
	Debug           bool
}

// DefaultConfig mirrors the upstream's documented defaults: 7 day DShield
// TTL, 1 day URLHaus, 7 day SPUR, 30 day VirusTotal, 90% quota threshold.
func DefaultConfig() Config {
	return Config{
		CacheBaseDir:            "./data/enrichment-cache",
		DShieldTTL:              7 * 24 * time.Hour,
		URLHausTTL:              24 * time.Hour,
		SpurTTL:                 7 * 24 * time.Hour,
		VTTTL:                   30 * 24 * time.Hour,
		EnableRateLimiting:      true,
		EnableTelemetry:         true,
		EnableVTQuotaManagement: true,
		VTQuotaThresholdPercent: 90,
		CleanupInterval:         1 * time.Hour,
		RequestTimeout:          30 * time.Second,
	}
}

// envOverrides applies recognized environment variables on top of cfg,
// mirroring the teacher's init-time env parsing (cache-manager/service.go
// hardcodes its Config instead of reading env, but warming/service.go's
// DefaultConfig documents the same override-at-init idiom this follows).
func envOverrides(cfg Config) Config {
	if v := os.Getenv("DSHIELD_EMAIL"); v != "" {
		cfg.DShieldEmail = v
	}
	if v := os.Getenv("URLHAUS_API_KEY"); v != "" {
		cfg.URLHausAPIKey = v
	}
	if v := os.Getenv("SPUR_API_KEY"); v != "" {
		cfg.SpurAPIKey = v
	}
	if v := os.Getenv("VIRUSTOTAL_API_KEY"); v != "" {
		cfg.VTAPIKey = v
	}
	if v := os.Getenv("ENRICHMENT_CACHE_DIR"); v != "" {
		cfg.CacheBaseDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.EnableRedisCache = true
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("ENABLE_RATE_LIMITING"); v != "" {
		cfg.EnableRateLimiting = v != "false" && v != "0"
	}
	if v := os.Getenv("ENABLE_TELEMETRY"); v != "" {
		cfg.EnableTelemetry = v != "false" && v != "0"
	}
	if v := os.Getenv("ENABLE_VT_QUOTA_MANAGEMENT"); v != "" {
		cfg.EnableVTQuotaManagement = v != "false" && v != "0"
	}
	if v := os.Getenv("VT_QUOTA_THRESHOLD_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.VTQuotaThresholdPercent = f
		}
	}
	if v := os.Getenv("SKIP_ENRICH"); v != "" {
		cfg.SkipEnrich = v == "true" || v == "1"
	}
	return cfg
}

var (
	svc  *Service
	once sync.Once
)

// initService wires the cache hierarchy, rate limiters, and provider
// adapters from Config, and starts the background cache-cleanup
// goroutine. Called automatically by Encore at startup.
func initService() (*Service, error) {
	var initErr error
	once.Do(func() {
		cfg := envOverrides(DefaultConfig())
		svc, initErr = newService(cfg)
		if initErr != nil {
			return
		}
		svc.wg.Add(1)
		go svc.runCacheCleanup()
	})
	return svc, initErr
}

func newService(cfg Config) (*Service, error) {
	l3 := cachetier.NewFilesystem(cfg.CacheBaseDir, cfg.DShieldTTL)

	var l2 cachetier.Remote
	var l2Closer io.Closer
	if cfg.EnableRedisCache {
		remote, err := cachetier.NewRedisRemote(cachetier.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "enrichment",
		})
		if err != nil {
			return nil, err
		}
		l2 = remote
		l2Closer = remote
	}

	tierCfg := cachetier.DefaultConfig()
	cache := cachetier.New(tierCfg, l2, l3)

	limiters := ratelimit.New(nil)
	limiterFor := func(service string) *rate.Limiter {
		if !cfg.EnableRateLimiting {
			return rate.NewLimiter(rate.Inf, 1)
		}
		return limiters.For(service)
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	var qm *quota.Manager
	vt := providers.NewVirusTotal(httpClient, cfg.VTAPIKey, limiterFor("file-scanner"), nil, cfg.VTQuotaThresholdPercent)
	if cfg.EnableVTQuotaManagement && cfg.VTAPIKey != "" {
		qm = quota.NewManager(vtQuotaFetcher(httpClient, cfg.VTAPIKey), quota.DefaultCacheTTL)
		vt = providers.NewVirusTotal(httpClient, cfg.VTAPIKey, limiterFor("file-scanner"), qm, cfg.VTQuotaThresholdPercent)
	}

	return &Service{
		cache:      cache,
		limiters:   limiters,
		dshield:    providers.NewDShield(httpClient, cfg.DShieldEmail, limiterFor("network-reputation")),
		urlhaus:    providers.NewURLHaus(httpClient, cfg.URLHausAPIKey, limiterFor("url-host-abuse")),
		spur:       providers.NewSPUR(httpClient, cfg.SpurAPIKey, limiterFor("ip-context"), l3),
		virustotal: vt,
		quotaMgr:   qm,
		telemetry:  &Telemetry{},
		config:     cfg,
		l2Closer:   l2Closer,
		stopChan:   make(chan struct{}),
	}, nil
}

// EnrichSession looks up DShield, URLHaus, and SPUR context for a
// session's source IP.
//
//encore:api public method=POST path=/enrichment/session
func EnrichSession(ctx context.Context, req *SessionRequest) (*SessionResult, error) {
	if svc == nil {
		return nil, errors.New("enrichment service not initialized")
	}
	return svc.EnrichSession(ctx, req)
}

func (s *Service) EnrichSession(ctx context.Context, req *SessionRequest) (*SessionResult, error) {
	if req == nil || req.SrcIP == "" {
		return nil, errors.New("src_ip is required")
	}

	start := time.Now()
	requestID := uuid.NewString()
	result := &SessionResult{SessionID: req.SessionID, SrcIP: req.SrcIP}

	if s.config.SkipEnrich {
		s.recordSessionDuration(start)
		return result, nil
	}

	if s.config.DShieldEmail != "" {
		raw, hit, err := s.cache.Fetch(ctx, "network-reputation", req.SrcIP, s.config.DShieldTTL, func(ctx context.Context) (any, error) {
			return s.dshield.Query(ctx, req.SrcIP), nil
		})
		s.observeFetch("dshield", hit, err)
		if err == nil {
			result.Enrichment.DShield = toDShieldView(raw)
		}
	}

	if s.config.URLHausAPIKey != "" {
		raw, hit, err := s.cache.Fetch(ctx, "url-host-abuse", req.SrcIP, s.config.URLHausTTL, func(ctx context.Context) (any, error) {
			return s.urlhaus.Query(ctx, req.SrcIP), nil
		})
		s.observeFetch("urlhaus", hit, err)
		if err == nil {
			if tags, ok := raw.(string); ok {
				result.Enrichment.URLHaus = tags
			}
		}
	}

	if s.config.SpurAPIKey != "" {
		raw, hit, err := s.cache.Fetch(ctx, "ip-context", req.SrcIP, s.config.SpurTTL, func(ctx context.Context) (any, error) {
			return s.spur.Query(ctx, req.SrcIP), nil
		})
		s.observeFetch("spur", hit, err)
		if err == nil {
			result.Enrichment.Spur = toSpurFields(raw)
		}
	}

	sanitizeSessionResult(result)
	s.logEvent(requestID, "enrich_session", req.SrcIP, time.Since(start))
	s.recordSessionDuration(start)
	return result, nil
}

// EnrichFile looks up VirusTotal context for a file content hash.
//
//encore:api public method=POST path=/enrichment/file
func EnrichFile(ctx context.Context, req *FileRequest) (*FileResult, error) {
	if svc == nil {
		return nil, errors.New("enrichment service not initialized")
	}
	return svc.EnrichFile(ctx, req)
}

func (s *Service) EnrichFile(ctx context.Context, req *FileRequest) (*FileResult, error) {
	if req == nil || req.FileHash == "" {
		return nil, errors.New("file_hash is required")
	}

	start := time.Now()
	requestID := uuid.NewString()
	result := &FileResult{FileHash: req.FileHash, Filename: req.Filename}

	if s.config.SkipEnrich || s.config.VTAPIKey == "" {
		s.recordFileDuration(start)
		return result, nil
	}

	if s.quotaMgr != nil && !s.quotaMgr.CanCall(ctx, s.config.VTQuotaThresholdPercent) {
		s.telemetry.RecordAPICall("virustotal", false)
		s.recordFileDuration(start)
		return result, nil
	}

	raw, hit, err := s.cache.Fetch(ctx, "file-scanner", req.FileHash, s.config.VTTTL, func(ctx context.Context) (any, error) {
		return s.virustotal.Query(ctx, req.FileHash)
	})
	s.observeFetch("virustotal", hit, err)
	if err == nil && raw != nil {
		result.Enrichment.VirusTotal = raw
	}

	sanitizeFileResult(result)
	s.logEvent(requestID, "enrich_file", req.FileHash, time.Since(start))
	s.recordFileDuration(start)
	return result, nil
}

// GetSessionFlagsEndpoint derives the dshield/urlhaus/spur/vt boolean flags from a
// previously-computed session result.
//
//encore:api public method=POST path=/enrichment/flags
func GetSessionFlagsEndpoint(ctx context.Context, result *SessionResult) (*SessionFlags, error) {
	if result == nil {
		return &SessionFlags{}, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return nil, err
	}
	flags := GetSessionFlags(generic)
	return &flags, nil
}

// GetTelemetry returns the current telemetry snapshot.
//
//encore:api public method=GET path=/enrichment/telemetry
func GetTelemetry(ctx context.Context) (*Summary, error) {
	if svc == nil {
		return nil, errors.New("enrichment service not initialized")
	}
	summary := svc.telemetry.Snapshot()
	return &summary, nil
}

// GetTelemetryPrometheus renders the current telemetry snapshot in
// Prometheus gauge/counter format, including the live L1 cache tier size.
//
//encore:api public method=GET path=/enrichment/telemetry/prometheus
func GetTelemetryPrometheus(ctx context.Context) (map[string]float64, error) {
	if svc == nil {
		return nil, errors.New("enrichment service not initialized")
	}
	summary := svc.telemetry.Snapshot()
	return summary.PrometheusMetrics(svc.cache.L1Size(), 0), nil
}

func (s *Service) observeFetch(service string, hit bool, err error) {
	if !s.config.EnableTelemetry {
		return
	}
	s.telemetry.RecordCacheResult(hit)
	if !hit {
		s.telemetry.RecordAPICall(service, err == nil)
	}
}

func (s *Service) recordSessionDuration(start time.Time) {
	if s.config.EnableTelemetry {
		s.telemetry.RecordSessionEnrichment(time.Since(start))
	}
}

func (s *Service) recordFileDuration(start time.Time) {
	if s.config.EnableTelemetry {
		s.telemetry.RecordFileEnrichment(time.Since(start))
	}
}

func (s *Service) logEvent(requestID, operation, target string, duration time.Duration) {
	if !s.config.Debug {
		return
	}
	entry := map[string]any{
		"request_id":  requestID,
		"operation":   operation,
		"target":      target,
		"duration_ms": duration.Milliseconds(),
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return
	}
	log.Println(string(encoded))
}

// toDShieldView accepts either a fresh providers.DShieldResult (the
// cache-miss path) or the map[string]any shape a cache hit produces after
// its JSON round-trip through the filesystem tier.
func toDShieldView(raw any) *DShieldView {
	switch v := raw.(type) {
	case providers.DShieldResult:
		return &DShieldView{ASName: v.ASName, ASCountry: v.ASCountry, Count: v.Count, Attacks: v.Attacks}
	case map[string]any:
		asName, _ := v["asname"].(string)
		asCountry, _ := v["ascountry"].(string)
		return &DShieldView{
			ASName:    asName,
			ASCountry: asCountry,
			Count:     asInt(v["count"]),
			Attacks:   asInt(v["attacks"]),
		}
	default:
		return nil
	}
}

// toSpurFields accepts either a fresh []string (the cache-miss path) or
// the []any shape a cache hit produces after its JSON round-trip.
func toSpurFields(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, _ := item.(string)
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func sanitizeSessionResult(result *SessionResult) {
	if result.Enrichment.DShield != nil {
		result.Enrichment.DShield.ASName = sanitize.String(result.Enrichment.DShield.ASName, sanitize.DefaultOptions())
		result.Enrichment.DShield.ASCountry = sanitize.String(result.Enrichment.DShield.ASCountry, sanitize.DefaultOptions())
	}
	result.Enrichment.URLHaus = sanitize.String(result.Enrichment.URLHaus, sanitize.DefaultOptions())
	for i, v := range result.Enrichment.Spur {
		result.Enrichment.Spur[i] = sanitize.String(v, sanitize.DefaultOptions())
	}
}

func sanitizeFileResult(result *FileResult) {
	if result.Enrichment.VirusTotal == nil {
		return
	}
	result.Enrichment.VirusTotal = sanitize.JSONTree(result.Enrichment.VirusTotal)
}

// runCacheCleanup periodically purges expired entries from the in-memory
// tier. At most one cleanup job should be scheduled per cache base
// directory when multiple façade instances share the filesystem tier.
func (s *Service) runCacheCleanup() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cache.CleanupExpired()
		}
	}
}

// Shutdown gracefully stops background work and releases the Redis
// connection pool, if one was configured.
func (s *Service) Shutdown() {
	close(s.stopChan)
	s.wg.Wait()
	if s.l2Closer != nil {
		_ = s.l2Closer.Close()
	}
}
