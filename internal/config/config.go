package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds daemon settings: where to listen, where the cache lives, and
// how assets are resolved and populated. Values are threaded explicitly into
// the resolver, loader, and manager; nothing reads the environment after Load.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. ":8090".
	ListenAddr string

	// CacheDir is the root of the persistent cache store.
	CacheDir string

	// UpstreamOrigin is the static-asset origin the interceptor fronts and
	// root-relative population URLs resolve against, e.g. http://site:8000.
	UpstreamOrigin string

	// StaticBase is where per-set manifests are published. Defaults to
	// UpstreamOrigin + "/static" when empty.
	StaticBase string

	// CDNBase is the global CDN base for resolution step 3. Empty disables it.
	CDNBase string

	// DefaultCache names the cache partition used when a request omits one.
	DefaultCache string

	// SinglePage selects the single-page-app static root ("static") instead
	// of the mode-page root ("../../static") for local fallback URLs.
	SinglePage bool

	// PopulateConcurrency bounds parallel fetches within one population job.
	// 1 (the default) is strictly sequential.
	PopulateConcurrency int

	// FetchTimeout caps each population fetch attempt.
	FetchTimeout time.Duration

	// RatePerSec paces outbound population fetches. 0 = unpaced.
	RatePerSec float64

	// MaxConns caps concurrent accepted connections.
	MaxConns int
}

// Load reads config from environment. Call LoadEnvFile(".env") before Load()
// to use a .env file.
func Load() *Config {
	c := &Config{
		ListenAddr:          getEnv("ASSET_CACHE_LISTEN", ":8090"),
		CacheDir:            getEnv("ASSET_CACHE_DIR", "/var/cache/asset-cached"),
		UpstreamOrigin:      strings.TrimSuffix(os.Getenv("ASSET_CACHE_ORIGIN"), "/"),
		StaticBase:          os.Getenv("ASSET_CACHE_STATIC_BASE"),
		CDNBase:             os.Getenv("ASSET_CACHE_CDN_BASE"),
		DefaultCache:        getEnv("ASSET_CACHE_DEFAULT_CACHE", "practice-cache"),
		SinglePage:          getEnvBool("ASSET_CACHE_SINGLE_PAGE", false),
		PopulateConcurrency: getEnvInt("ASSET_CACHE_POPULATE_CONCURRENCY", 1),
		FetchTimeout:        getEnvDuration("ASSET_CACHE_FETCH_TIMEOUT", 30*time.Second),
		RatePerSec:          getEnvFloat("ASSET_CACHE_RATE_LIMIT", 0),
		MaxConns:            getEnvInt("ASSET_CACHE_MAX_CONNS", 256),
	}
	if c.PopulateConcurrency < 1 {
		c.PopulateConcurrency = 1
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.MaxConns < 1 {
		c.MaxConns = 256
	}
	if c.StaticBase == "" && c.UpstreamOrigin != "" {
		c.StaticBase = c.UpstreamOrigin + "/static"
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
