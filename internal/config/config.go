package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr          string
	LogLevel      string
	LayerStoreURL string
	RedisAddr     string

	// Capability fetching.
	CapabilitiesTimeout time.Duration
	CapabilitiesRetries int
	// MockFallback degrades a transport-level capability failure into a
	// synthetic capability set. Development only; off by default.
	MockFallback bool

	// Compositing.
	BaseZIndex   int
	FitMaxZoom   int
	FitPaddingPx int
	ProxyMapFile string

	// Capability response cache (HTTP layer only, the reconciler always
	// fetches fresh).
	CapCacheSize int
	CapCacheTTL  time.Duration

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	retries := getint("CAPABILITIES_RETRIES", 2)
	if retries < 0 {
		retries = 0
	}

	return Config{
		Addr:          getenv("ADDR", ":8091"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LayerStoreURL: getenv("LAYERSTORE_URL", "http://localhost:8000/api/"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),

		CapabilitiesTimeout: getduration("CAPABILITIES_TIMEOUT", 15*time.Second),
		CapabilitiesRetries: retries,
		MockFallback:        getbool("MOCK_FALLBACK", false),

		BaseZIndex:   getint("BASE_ZINDEX", 10),
		FitMaxZoom:   getint("FIT_MAX_ZOOM", 18),
		FitPaddingPx: getint("FIT_PADDING_PX", 100),
		ProxyMapFile: getenv("PROXY_MAP_FILE", ""),

		CapCacheSize: getint("CAPCACHE_SIZE", 64),
		CapCacheTTL:  getduration("CAPCACHE_TTL", 5*time.Minute),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "wms-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "layer-compositor"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
