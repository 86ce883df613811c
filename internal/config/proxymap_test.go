package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProxyMapEmptyPathReturnsDefaults(t *testing.T) {
	pm, err := LoadProxyMap("")
	if err != nil {
		t.Fatalf("LoadProxyMap: %v", err)
	}
	if len(pm.Wrappers) != 1 || pm.Wrappers[0] != "https://corsproxy.io/?" {
		t.Fatalf("wrappers = %v", pm.Wrappers)
	}
}

func TestLoadProxyMapMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	doc := `wrappers:
  - "https://proxy.example.com/fetch?url="
hosts:
  geoserver.internal: "http://localhost:8080/geoserver"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	pm, err := LoadProxyMap(path)
	if err != nil {
		t.Fatalf("LoadProxyMap: %v", err)
	}
	if len(pm.Wrappers) != 2 {
		t.Fatalf("wrappers = %v", pm.Wrappers)
	}
	if pm.Hosts["geoserver.internal"] != "http://localhost:8080/geoserver" {
		t.Fatalf("hosts = %v", pm.Hosts)
	}
}

func TestLoadProxyMapMissingFileKeepsDefaults(t *testing.T) {
	pm, err := LoadProxyMap(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if len(pm.Wrappers) != 1 {
		t.Fatalf("wrappers = %v", pm.Wrappers)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Addr != ":8091" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.CapabilitiesRetries != 2 || cfg.MockFallback {
		t.Fatalf("capability config = %+v", cfg)
	}
	if cfg.BaseZIndex != 10 || cfg.FitMaxZoom != 18 || cfg.FitPaddingPx != 100 {
		t.Fatalf("compositing config = %+v", cfg)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ADDR", ":9000")
	t.Setenv("CAPABILITIES_RETRIES", "-3")
	t.Setenv("MOCK_FALLBACK", "true")
	t.Setenv("CAPCACHE_TTL", "30s")

	cfg := FromEnv()
	if cfg.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.CapabilitiesRetries != 0 {
		t.Fatalf("negative retries should clamp to 0, got %d", cfg.CapabilitiesRetries)
	}
	if !cfg.MockFallback {
		t.Fatal("MOCK_FALLBACK not applied")
	}
	if cfg.CapCacheTTL.Seconds() != 30 {
		t.Fatalf("ttl = %v", cfg.CapCacheTTL)
	}
}
