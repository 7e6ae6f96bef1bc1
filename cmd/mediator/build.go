package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdhe/llm-mediator/pkg/cache"
	"github.com/abdhe/llm-mediator/pkg/config"
	"github.com/abdhe/llm-mediator/pkg/fallback"
	"github.com/abdhe/llm-mediator/pkg/metrics"
	"github.com/abdhe/llm-mediator/pkg/orchestrator"
	"github.com/abdhe/llm-mediator/pkg/provider"
	"github.com/abdhe/llm-mediator/pkg/resilience"
)

// newProvider constructs the adapter for p.
func newProvider(p config.Provider, timeout time.Duration) (provider.Provider, error) {
	pc := provider.Config{
		APIKeys: p.APIKeys,
		BaseURL: p.BaseURL,
		Timeout: timeout,
	}
	if len(p.Models) > 0 {
		pc.Model = p.Models[0]
		pc.Models = p.Models[1:]
	}

	switch p.Name {
	case "openai":
		return provider.NewOpenAIProvider(pc), nil
	case "gemini":
		return provider.NewGeminiProvider(pc), nil
	case "anthropic":
		return provider.NewAnthropicProvider(pc), nil
	default:
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownProvider, p.Name)
	}
}

// buildRegistry registers every provider that has credentials, in the
// configured order, each behind its own circuit breaker.
func buildRegistry(cfg config.Config) (*provider.Registry, error) {
	reg, err := provider.NewRegistry()
	if err != nil {
		return nil, err
	}

	for _, p := range cfg.EnabledProviders() {
		prov, err := newProvider(p, cfg.RequestTimeout)
		if err != nil {
			return nil, err
		}

		opts := []provider.HandleOption{provider.WithLogger(slog.Default().With("provider", p.Name))}
		if cfg.CBFailureThreshold > 0 {
			opts = append(opts, provider.WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:             p.Name,
				FailureThreshold: cfg.CBFailureThreshold,
				Cooldown:         cfg.CBCooldown,
				OnStateChange: func(name string, to resilience.CircuitState) {
					metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				},
			})))
			metrics.CircuitBreakerState.WithLabelValues(p.Name).Set(float64(resilience.StateClosed))
		}

		if _, err := reg.Register(prov, opts...); err != nil {
			return nil, err
		}
		slog.Info("provider registered", "provider", p.Name, "model", prov.Model(), "keys", len(p.APIKeys))
	}
	return reg, nil
}

// buildCache creates the in-process cache and, when REDIS_ADDR is set and
// reachable, the Redis tier behind it.
func buildCache(ctx context.Context, cfg config.Config) (*cache.Tiered, error) {
	local, err := cache.New(cache.Config{
		MaxSize:           cfg.CacheMaxSize,
		DefaultTTL:        cfg.CacheTTL,
		SweepInterval:     cfg.CacheSweepInterval,
		CompressThreshold: cfg.CacheCompressThreshold,
	})
	if err != nil {
		return nil, err
	}
	local.StartSweeper()

	var remote *cache.RedisStore
	if cfg.RedisAddr != "" {
		remote = cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := remote.Ping(pingCtx); err != nil {
			slog.Warn("redis unreachable, second cache tier disabled", "addr", cfg.RedisAddr, "error", err)
			_ = remote.Close()
			remote = nil
		} else {
			slog.Info("redis cache tier enabled", "addr", cfg.RedisAddr)
		}
	}

	return cache.NewTiered(local, remote, cfg.CacheTTL), nil
}

// buildOrchestrator wires the registry, cache and policies from cfg.
func buildOrchestrator(reg *provider.Registry, tiers *cache.Tiered, cfg config.Config) *orchestrator.Orchestrator {
	return orchestrator.New(reg, orchestrator.Config{
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryBaseDelay,
		},
		Fallback: fallback.Config{
			MaxModelAttempts: cfg.MaxFallbackAttempts,
			ModelFallback:    cfg.ModelFallback,
		},
		Cache:            tiers,
		ChunkConcurrency: cfg.ChunkConcurrency,
	})
}
