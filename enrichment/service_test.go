package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/datagen24/cowrie-enrichment/pkg/providers"
)

func TestToDShieldViewFromFreshProviderResult(t *testing.T) {
	view := toDShieldView(providers.DShieldResult{ASName: "Example ISP", ASCountry: "US", Count: 3, Attacks: 1})
	if view == nil || view.ASName != "Example ISP" || view.Count != 3 {
		t.Fatalf("toDShieldView() = %+v", view)
	}
}

func TestToDShieldViewFromCacheHitJSONShape(t *testing.T) {
	// Simulates what json.Unmarshal into `any` produces for a cached hit:
	// a generic map with the provider's json tags as keys, and numbers as
	// float64.
	raw := map[string]any{"asname": "Example ISP", "ascountry": "US", "count": 3.0, "attacks": 1.0}
	view := toDShieldView(raw)
	if view == nil {
		t.Fatal("toDShieldView() = nil, want a populated view")
	}
	if view.ASName != "Example ISP" || view.ASCountry != "US" || view.Count != 3 || view.Attacks != 1 {
		t.Errorf("toDShieldView() = %+v", view)
	}
}

func TestToDShieldViewUnknownShapeReturnsNil(t *testing.T) {
	if toDShieldView("unexpected") != nil {
		t.Error("toDShieldView() on an unrecognized shape should return nil")
	}
}

func TestToSpurFieldsFromFreshSlice(t *testing.T) {
	fields := []string{"a", "b", "c"}
	if got := toSpurFields(fields); len(got) != 3 || got[0] != "a" {
		t.Errorf("toSpurFields() = %v", got)
	}
}

func TestToSpurFieldsFromCacheHitJSONShape(t *testing.T) {
	raw := []any{"a", "b", "c"}
	got := toSpurFields(raw)
	if len(got) != 3 || got[1] != "b" {
		t.Errorf("toSpurFields() = %v", got)
	}
}

func TestToSpurFieldsUnknownShapeReturnsNil(t *testing.T) {
	if toSpurFields(42) != nil {
		t.Error("toSpurFields() on an unrecognized shape should return nil")
	}
}

func TestEnrichSessionSkipEnrichReturnsEmptyResult(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheBaseDir = t.TempDir()
	cfg.SkipEnrich = true
	cfg.EnableRateLimiting = false
	cfg.EnableVTQuotaManagement = false

	svc, err := newService(cfg)
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}

	result, err := svc.EnrichSession(context.Background(), &SessionRequest{SessionID: "s1", SrcIP: "1.2.3.4"})
	if err != nil {
		t.Fatalf("EnrichSession() error = %v", err)
	}
	if result.SrcIP != "1.2.3.4" {
		t.Errorf("SrcIP = %q, want 1.2.3.4", result.SrcIP)
	}
	if result.Enrichment.DShield != nil || result.Enrichment.URLHaus != "" || result.Enrichment.Spur != nil {
		t.Errorf("Enrichment = %+v, want empty when SkipEnrich is set", result.Enrichment)
	}
}

func TestEnrichSessionMissingSrcIPIsAnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheBaseDir = t.TempDir()
	svc, err := newService(cfg)
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}

	if _, err := svc.EnrichSession(context.Background(), &SessionRequest{}); err == nil {
		t.Error("EnrichSession() error = nil, want an error for a missing src_ip")
	}
}

func TestEnrichFileWithNoVTKeyReturnsEmptyResult(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheBaseDir = t.TempDir()
	cfg.VTAPIKey = ""
	svc, err := newService(cfg)
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}

	result, err := svc.EnrichFile(context.Background(), &FileRequest{FileHash: "deadbeef"})
	if err != nil {
		t.Fatalf("EnrichFile() error = %v", err)
	}
	if result.Enrichment.VirusTotal != nil {
		t.Errorf("Enrichment.VirusTotal = %v, want nil with no API key configured", result.Enrichment.VirusTotal)
	}
}

func TestEnrichFileMissingHashIsAnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheBaseDir = t.TempDir()
	svc, err := newService(cfg)
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}

	if _, err := svc.EnrichFile(context.Background(), &FileRequest{}); err == nil {
		t.Error("EnrichFile() error = nil, want an error for a missing file_hash")
	}
}

func TestSanitizeSessionResultStripsControlBytes(t *testing.T) {
	result := &SessionResult{
		Enrichment: Enrichment{
			DShield: &DShieldView{ASName: "Evil\x00Corp", ASCountry: "US"},
			URLHaus: "tag\x01one",
			Spur:    []string{"clean", "dirty\x02value"},
		},
	}
	sanitizeSessionResult(result)

	if result.Enrichment.DShield.ASName != "EvilCorp" {
		t.Errorf("DShield.ASName = %q, want control byte stripped", result.Enrichment.DShield.ASName)
	}
	if result.Enrichment.URLHaus != "tagone" {
		t.Errorf("URLHaus = %q, want control byte stripped", result.Enrichment.URLHaus)
	}
	if result.Enrichment.Spur[1] != "dirtyvalue" {
		t.Errorf("Spur[1] = %q, want control byte stripped", result.Enrichment.Spur[1])
	}
}

func TestRunCacheCleanupStopsOnShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheBaseDir = t.TempDir()
	cfg.CleanupInterval = time.Millisecond
	svc, err := newService(cfg)
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}

	svc.wg.Add(1)
	go svc.runCacheCleanup()

	done := make(chan struct{})
	go func() {
		svc.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown() did not return, cleanup goroutine likely stuck")
	}
}
