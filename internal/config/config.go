package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	// JWTPublicKey is the PEM-encoded RSA key tokens are verified against.
	// JWTPublicKeyFile points at a PEM file and takes effect when the
	// inline value is empty.
	JWTPublicKey     string
	JWTPublicKeyFile string

	WalletServiceURL string
	WalletTimeout    time.Duration

	StatsCacheTTL  time.Duration
	IdempotencyTTL time.Duration

	IssueRateWindow time.Duration
	IssueRateMax    int

	LogFormat string
	LogLevel  string

	MigrateOnStart bool

	OTLPEndpoint    string
	TraceExporter   string
	TraceSampleRate float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		JWTPublicKey:       k.String("JWT_PUBLIC_KEY"),
		JWTPublicKeyFile:   strings.TrimSpace(k.String("JWT_PUBLIC_KEY_FILE")),
		WalletServiceURL:   strings.TrimSpace(k.String("WALLET_SERVICE_URL")),
		WalletTimeout:      parseDuration(k.String("WALLET_TIMEOUT"), "10s"),
		StatsCacheTTL:      parseDuration(k.String("STATS_CACHE_TTL"), "1m"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		IssueRateWindow:    parseDuration(k.String("ISSUE_RATE_WINDOW"), "1m"),
		IssueRateMax:       parseInt(k.String("ISSUE_RATE_MAX"), 30),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),
		OTLPEndpoint:       strings.TrimSpace(k.String("OTLP_ENDPOINT")),
		TraceExporter:      valueOrDefault(k.String("TRACE_EXPORTER"), "otlp"),
		TraceSampleRate:    parseFloat(k.String("TRACE_SAMPLE_RATE"), 1),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.WalletServiceURL == "" {
		return nil, errors.New("WALLET_SERVICE_URL is required")
	}
	if cfg.JWTPublicKey == "" && cfg.JWTPublicKeyFile == "" {
		return nil, errors.New("JWT_PUBLIC_KEY or JWT_PUBLIC_KEY_FILE is required")
	}

	return cfg, nil
}

// PublicKeyPEM resolves the verification key, reading the configured file
// when no inline value is set.
func (c *Config) PublicKeyPEM() ([]byte, error) {
	if c.JWTPublicKey != "" {
		return []byte(c.JWTPublicKey), nil
	}
	data, err := os.ReadFile(c.JWTPublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	return data, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for command
// entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
