package enrichment

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/datagen24/cowrie-enrichment/pkg/providers"
)

// LegacyView bridges the old per-field enrichment helpers (Dshield,
// Urlhaus, Spur, VirusTotal as separate calls keyed by IP or hash) onto the
// Service's session/file calls, memoizing each IP or hash so repeated field
// accessors for the same key only trigger one enrichment round-trip.
type LegacyView struct {
	svc *Service

	mu           sync.Mutex
	sessionCache map[string]Enrichment
	fileCache    map[string]Enrichment
}

// NewLegacyView wraps svc for callers still using the old one-field-at-a-time
// calling convention.
func NewLegacyView(svc *Service) *LegacyView {
	return &LegacyView{
		svc:          svc,
		sessionCache: make(map[string]Enrichment),
		fileCache:    make(map[string]Enrichment),
	}
}

func (v *LegacyView) sessionEnrichment(ctx context.Context, ip string) Enrichment {
	v.mu.Lock()
	if cached, ok := v.sessionCache[ip]; ok {
		v.mu.Unlock()
		return cached
	}
	v.mu.Unlock()

	result, err := v.svc.EnrichSession(ctx, &SessionRequest{SessionID: ip, SrcIP: ip})
	var enrichment Enrichment
	if err == nil && result != nil {
		enrichment = result.Enrichment
	}

	v.mu.Lock()
	v.sessionCache[ip] = enrichment
	v.mu.Unlock()
	return enrichment
}

func (v *LegacyView) fileEnrichment(ctx context.Context, hash, filename string) Enrichment {
	v.mu.Lock()
	if cached, ok := v.fileCache[hash]; ok {
		v.mu.Unlock()
		return cached
	}
	v.mu.Unlock()

	result, err := v.svc.EnrichFile(ctx, &FileRequest{FileHash: hash, Filename: filename})
	var enrichment Enrichment
	if err == nil && result != nil {
		enrichment = result.Enrichment
	}

	v.mu.Lock()
	v.fileCache[hash] = enrichment
	v.mu.Unlock()
	return enrichment
}

// Dshield returns DShield metadata for ip, or the empty sentinel shape if
// DShield has nothing on the address.
func (v *LegacyView) Dshield(ctx context.Context, ip string) DShieldView {
	if d := v.sessionEnrichment(ctx, ip).DShield; d != nil {
		return *d
	}
	return DShieldView{}
}

// Urlhaus returns a comma-joined, sorted, deduplicated tag string for ip.
func (v *LegacyView) Urlhaus(ctx context.Context, ip string) string {
	tags := v.sessionEnrichment(ctx, ip).URLHaus
	if tags == "" {
		return ""
	}
	parts := strings.Split(tags, ",")
	seen := make(map[string]struct{}, len(parts))
	var unique []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	sort.Strings(unique)
	return strings.Join(unique, ", ")
}

// Spur returns the fixed 18-field SPUR payload for ip, falling back to the
// all-blank sentinel if the cached value doesn't match that shape.
func (v *LegacyView) Spur(ctx context.Context, ip string) []string {
	fields := v.sessionEnrichment(ctx, ip).Spur
	if len(fields) == providers.SpurFieldCount {
		return fields
	}
	return providers.EmptySpur()
}

// VirusTotal returns the raw VirusTotal payload for a file hash, or nil if
// none is available.
func (v *LegacyView) VirusTotal(ctx context.Context, hash, filename string) any {
	return v.fileEnrichment(ctx, hash, filename).VirusTotal
}
