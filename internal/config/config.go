package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Environment
	Env string // "development", "production", etc.

	// Server
	ServerAddr string
	BaseURL    string

	// Database. A postgres:// or postgresql:// URL selects PostgreSQL,
	// anything else is opened as a SQLite DSN.
	DatabaseURL string

	// Redis. When set, feed events are relayed through Redis and the API
	// rate limiter keeps its counters there.
	RedisURL string

	// TLS/mTLS
	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string // CA for verifying client certs (mTLS)

	// Client cert via header (for ingress-terminated TLS)
	ClientCertHeader string // Header name containing client cert CN, e.g. "X-Client-CN"

	// Auth. Bearer tokens are verified against the OIDC issuer when one is
	// configured, otherwise as HS256 JWTs signed with JWTSecret.
	JWTSecret    string
	OIDCIssuer   string
	OIDCClientID string

	// CORS
	CORSOrigins string // Comma-separated allowed origins

	LogLevel slog.Level

	// Site Branding
	SiteTitle string // env: SITE_TITLE, default: "Qryptic"

	Resolver ResolverConfig
	Feed     FeedConfig
	API      APIConfig
	Defaults DefaultsConfig
}

// ResolverConfig tunes the redirect path.
type ResolverConfig struct {
	Timeout time.Duration `yaml:"timeout"` // env: RESOLVE_TIMEOUT, default: 2s
}

// FeedConfig tunes the change feed.
type FeedConfig struct {
	Buffer        int           `yaml:"buffer"`          // env: FEED_BUFFER, default: 64
	Heartbeat     time.Duration `yaml:"heartbeat"`       // env: FEED_HEARTBEAT, default: 5s
	ScanPushRate  float64       `yaml:"scan_push_rate"`  // env: SCAN_PUSH_RATE, default: 1 per second per link, 0 disables
	ScanPushBurst int           `yaml:"scan_push_burst"` // env: SCAN_PUSH_BURST, default: 1
}

// APIConfig tunes the authenticated API.
type APIConfig struct {
	RateLimit int `yaml:"rate_limit"` // env: API_RATE_LIMIT, requests per minute per client, default: 120
}

// DefaultsConfig holds the colors given to links created without them.
type DefaultsConfig struct {
	Foreground string `yaml:"foreground"` // env: DEFAULT_FOREGROUND
	Background string `yaml:"background"` // env: DEFAULT_BACKGROUND
}

// Load reads configuration from a .env file (if present), the optional YAML
// file and environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := &Config{
		Env:          getEnv("ENV", "development"),
		ServerAddr:   getEnv("SERVER_ADDR", ":3000"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:3000"),
		DatabaseURL:  getEnv("DATABASE_URL", "file:qryptic.db"),
		RedisURL:     getEnv("REDIS_URL", ""),
		TLSEnabled:   getEnv("TLS_ENABLED", "") != "",
		TLSCertFile:  getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:   getEnv("TLS_KEY_FILE", ""),
		TLSCAFile:    getEnv("TLS_CA_FILE", ""),

		ClientCertHeader: getEnv("CLIENT_CERT_HEADER", ""),

		JWTSecret:    getEnv("JWT_SECRET", "change-me-in-production"),
		OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
		OIDCClientID: getEnv("OIDC_CLIENT_ID", ""),
		CORSOrigins:  getEnv("CORS_ORIGINS", ""),
		LogLevel:     parseLevel(getEnv("LOG_LEVEL", "")),
		SiteTitle:    getEnv("SITE_TITLE", "Qryptic"),

		Resolver: ResolverConfig{Timeout: 2 * time.Second},
		Feed: FeedConfig{
			Buffer:        64,
			Heartbeat:     5 * time.Second,
			ScanPushRate:  1,
			ScanPushBurst: 1,
		},
		API: APIConfig{RateLimit: 120},
	}

	yamlCfg, err := LoadYAMLConfig()
	if err != nil {
		return nil, err
	}
	yamlCfg.ApplyTo(cfg)

	cfg.Resolver.Timeout = getDuration("RESOLVE_TIMEOUT", cfg.Resolver.Timeout)
	cfg.Feed.Buffer = getInt("FEED_BUFFER", cfg.Feed.Buffer)
	cfg.Feed.Heartbeat = getDuration("FEED_HEARTBEAT", cfg.Feed.Heartbeat)
	cfg.Feed.ScanPushRate = getFloat("SCAN_PUSH_RATE", cfg.Feed.ScanPushRate)
	cfg.Feed.ScanPushBurst = getInt("SCAN_PUSH_BURST", cfg.Feed.ScanPushBurst)
	cfg.API.RateLimit = getInt("API_RATE_LIMIT", cfg.API.RateLimit)
	cfg.Defaults.Foreground = getEnv("DEFAULT_FOREGROUND", cfg.Defaults.Foreground)
	cfg.Defaults.Background = getEnv("DEFAULT_BACKGROUND", cfg.Defaults.Background)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", raw)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("ignoring invalid number setting", "key", key, "value", raw)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("ignoring invalid duration setting", "key", key, "value", raw)
		return fallback
	}
	return d
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// IsDev returns true if the environment is set to development.
func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

// IsPostgres reports whether DatabaseURL names a PostgreSQL server.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// IsMTLSEnabled returns true if mTLS is configured with a CA file.
func (c *Config) IsMTLSEnabled() bool {
	return c.TLSEnabled && c.TLSCAFile != ""
}
