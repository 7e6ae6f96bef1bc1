// Package config loads the mediator's settings from the environment.
//
// Environment variables:
//
//	GRPC_PORT                gRPC server port (default: 50051)
//	METRICS_PORT             Prometheus metrics HTTP port (default: 9090)
//	PROVIDER_ORDER           Registry order, comma-separated (default: openai,gemini,anthropic)
//	OPENAI_API_KEYS          Comma-separated OpenAI API keys
//	OPENAI_MODELS            Comma-separated OpenAI models, first is current
//	OPENAI_BASE_URL          OpenAI API base URL override
//	GEMINI_API_KEYS          Comma-separated Gemini API keys
//	GEMINI_MODELS            Comma-separated Gemini models, first is current
//	GEMINI_BASE_URL          Gemini API base URL override
//	ANTHROPIC_API_KEY        Anthropic API key(s), comma-separated
//	ANTHROPIC_MODELS         Comma-separated Anthropic models, first is current
//	ANTHROPIC_BASE_URL       Anthropic API base URL override
//	REQUEST_TIMEOUT          Per-call provider timeout (default: 60s)
//	MAX_RETRIES              Attempts per provider in sequential mode (default: 2)
//	RETRY_BASE_DELAY         Backoff base delay (default: 2s)
//	MAX_FALLBACK_ATTEMPTS    Alternate models tried per provider (default: 3)
//	MODEL_FALLBACK           Enable model fallback (default: true)
//	CACHE_MAX_SIZE           Response cache capacity (default: 100)
//	CACHE_TTL                Response cache TTL (default: 1h)
//	CACHE_SWEEP_INTERVAL     Expiry sweep period (default: 5m)
//	CACHE_COMPRESS_THRESHOLD Compress values above this many bytes, 0 disables (default: 8192)
//	REDIS_ADDR               Redis second tier address, empty disables (default: "")
//	REDIS_PASSWORD           Redis password (default: "")
//	REDIS_DB                 Redis database (default: 0)
//	CB_FAILURE_THRESHOLD     Circuit breaker failure threshold, 0 disables (default: 5)
//	CB_COOLDOWN              Circuit breaker cooldown (default: 30s)
//	CHUNK_CONCURRENCY        Chunks processed per batch (default: 3)
//	LOG_LEVEL                debug, info, warn or error (default: info)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider holds one provider's settings.
type Provider struct {
	Name    string
	APIKeys []string
	Models  []string // First entry is the current model
	BaseURL string
}

// Enabled reports whether the provider has credentials.
func (p Provider) Enabled() bool { return len(p.APIKeys) > 0 }

// Config is the full mediator configuration.
type Config struct {
	GRPCPort    string
	MetricsPort string

	Providers      []Provider // In registry order
	RequestTimeout time.Duration

	MaxRetries          int
	RetryBaseDelay      time.Duration
	MaxFallbackAttempts int
	ModelFallback       bool

	CacheMaxSize           int
	CacheTTL               time.Duration
	CacheSweepInterval     time.Duration
	CacheCompressThreshold int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CBFailureThreshold int
	CBCooldown         time.Duration

	ChunkConcurrency int
	LogLevel         slog.Level
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		GRPCPort:               envOrDefault("GRPC_PORT", "50051"),
		MetricsPort:            envOrDefault("METRICS_PORT", "9090"),
		RequestTimeout:         envDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
		MaxRetries:             envIntOrDefault("MAX_RETRIES", 2),
		RetryBaseDelay:         envDurationOrDefault("RETRY_BASE_DELAY", 2*time.Second),
		MaxFallbackAttempts:    envIntOrDefault("MAX_FALLBACK_ATTEMPTS", 3),
		ModelFallback:          envBoolOrDefault("MODEL_FALLBACK", true),
		CacheMaxSize:           envIntOrDefault("CACHE_MAX_SIZE", 100),
		CacheTTL:               envDurationOrDefault("CACHE_TTL", time.Hour),
		CacheSweepInterval:     envDurationOrDefault("CACHE_SWEEP_INTERVAL", 5*time.Minute),
		CacheCompressThreshold: envIntOrDefault("CACHE_COMPRESS_THRESHOLD", 8192),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntOrDefault("REDIS_DB", 0),
		CBFailureThreshold:     envIntOrDefault("CB_FAILURE_THRESHOLD", 5),
		CBCooldown:             envDurationOrDefault("CB_COOLDOWN", 30*time.Second),
		ChunkConcurrency:       envIntOrDefault("CHUNK_CONCURRENCY", 3),
	}

	level, err := ParseLevel(envOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	known := map[string]Provider{
		"openai": {
			Name:    "openai",
			APIKeys: SplitList(os.Getenv("OPENAI_API_KEYS")),
			Models:  SplitList(os.Getenv("OPENAI_MODELS")),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		},
		"gemini": {
			Name:    "gemini",
			APIKeys: SplitList(os.Getenv("GEMINI_API_KEYS")),
			Models:  SplitList(os.Getenv("GEMINI_MODELS")),
			BaseURL: os.Getenv("GEMINI_BASE_URL"),
		},
		"anthropic": {
			Name:    "anthropic",
			APIKeys: SplitList(os.Getenv("ANTHROPIC_API_KEY")),
			Models:  SplitList(os.Getenv("ANTHROPIC_MODELS")),
			BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		},
	}
	seen := make(map[string]bool)
	for _, name := range SplitList(envOrDefault("PROVIDER_ORDER", "openai,gemini,anthropic")) {
		name = strings.ToLower(name)
		p, ok := known[name]
		if !ok {
			return Config{}, fmt.Errorf("config: PROVIDER_ORDER: unknown provider %q", name)
		}
		if seen[name] {
			return Config{}, fmt.Errorf("config: PROVIDER_ORDER: duplicate provider %q", name)
		}
		seen[name] = true
		cfg.Providers = append(cfg.Providers, p)
	}

	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 1 {
		errs = append(errs, errors.New("MAX_RETRIES must be at least 1"))
	}
	if c.CacheMaxSize < 1 {
		errs = append(errs, errors.New("CACHE_MAX_SIZE must be at least 1"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.ChunkConcurrency < 1 {
		errs = append(errs, errors.New("CHUNK_CONCURRENCY must be at least 1"))
	}
	if c.RetryBaseDelay < 0 {
		errs = append(errs, errors.New("RETRY_BASE_DELAY must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// EnabledProviders returns the providers that have credentials, in order.
func (c Config) EnabledProviders() []Provider {
	var out []Provider
	for _, p := range c.Providers {
		if p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

// ParseLevel parses a slog level name.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return l, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envBoolOrDefault(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
