// Package fallback decides what happens after a provider attempt fails:
// another model on the same provider, another provider, or a terminal
// aggregate error.
package fallback

import (
	"context"
	"log/slog"

	"github.com/abdhe/llm-mediator/pkg/metrics"
	"github.com/abdhe/llm-mediator/pkg/provider"
)

// Action is the next step after a failed attempt.
type Action int

const (
	ActionModelFallback    Action = iota // Try the provider's other models first
	ActionProviderFallback               // Skip straight to other providers
)

func (a Action) String() string {
	if a == ActionModelFallback {
		return "model_fallback"
	}
	return "provider_fallback"
}

// ExhaustedNote is appended to the originating error when every fallback failed.
const ExhaustedNote = "all model and provider fallbacks exhausted"

// Config holds the policy settings.
type Config struct {
	MaxModelAttempts int  // Alternate models tried per provider
	ModelFallback    bool // When false only provider fallback runs
	Logger           *slog.Logger
}

// DefaultConfig returns the default policy: model fallback enabled, up to
// three alternate models per provider.
func DefaultConfig() Config {
	return Config{MaxModelAttempts: 3, ModelFallback: true}
}

// Policy recovers from a failed attempt using the providers in a registry.
type Policy struct {
	registry *provider.Registry
	cfg      Config
	logger   *slog.Logger
}

// New creates a policy over reg.
func New(reg *provider.Registry, cfg Config) *Policy {
	if cfg.MaxModelAttempts <= 0 {
		cfg.MaxModelAttempts = DefaultConfig().MaxModelAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{registry: reg, cfg: cfg, logger: logger.With("component", "fallback")}
}

// Next classifies cause and returns the action to take on the provider that
// produced it. Quota, circuit-open, auth and safety failures never retry the
// same provider's models.
func (p *Policy) Next(cause error) Action {
	if p.cfg.ModelFallback && provider.AllowsModelFallback(provider.Classify(cause)) {
		return ActionModelFallback
	}
	return ActionProviderFallback
}

// Recover runs model fallback on failed (when Next allows it) and then
// provider fallback over every other registered provider in registry order.
// failedModel is the model that produced cause. The first non-empty success
// wins. If nothing succeeds the result is an *provider.ExhaustedError whose
// message starts with cause's message.
func (p *Policy) Recover(ctx context.Context, failed *provider.Handle, failedModel string, call provider.Call, cause error) (provider.Result, error) {
	var failures []provider.Failure
	logger := p.logger.With("provider", failed.Name(), "model", failedModel)

	if p.Next(cause) == ActionModelFallback {
		logger.Info("entering model fallback", "error", cause)
		if res, ok := p.tryModels(ctx, failed, failedModel, call, &failures); ok {
			return res, nil
		}
	} else {
		logger.Info("skipping model fallback", "kind", provider.Classify(cause).String(), "error", cause)
	}

	others := p.registry.Others(failed.Name())
	if len(others) > 0 {
		logger.Info("entering provider fallback", "candidates", len(others))
	}
	for _, h := range others {
		if ctx.Err() != nil {
			break
		}
		metrics.FallbacksTotal.WithLabelValues("provider").Inc()

		c := call
		c.Model = ""
		current := h.Model()
		res, err := h.Complete(ctx, c)
		if err == nil {
			logger.Info("provider fallback succeeded", "fallback_provider", res.Provider, "fallback_model", res.Model)
			return res, nil
		}
		p.logger.Warn("fallback provider failed", "provider", h.Name(), "model", current, "error", err)
		failures = append(failures, provider.FailureOf(h.Name(), current, err))

		if p.Next(err) == ActionModelFallback {
			if res, ok := p.tryModels(ctx, h, current, call, &failures); ok {
				return res, nil
			}
		}
	}

	return provider.Result{}, &provider.ExhaustedError{Cause: cause, Failures: failures, Note: ExhaustedNote}
}

func (p *Policy) tryModels(ctx context.Context, h *provider.Handle, failedModel string, call provider.Call, failures *[]provider.Failure) (provider.Result, bool) {
	if !h.Capabilities().ModelOverride {
		return provider.Result{}, false
	}

	tried := 0
	for _, model := range h.Models() {
		if model == failedModel {
			continue
		}
		if tried == p.cfg.MaxModelAttempts || ctx.Err() != nil {
			break
		}
		tried++
		metrics.FallbacksTotal.WithLabelValues("model").Inc()

		c := call
		c.Model = model
		res, err := h.Complete(ctx, c)
		if err == nil {
			p.logger.Info("model fallback succeeded", "provider", h.Name(), "model", model)
			return res, true
		}
		p.logger.Warn("fallback model failed", "provider", h.Name(), "model", model, "error", err)
		*failures = append(*failures, provider.FailureOf(h.Name(), model, err))

		// Failures that rule out model fallback end it for this provider.
		if !provider.AllowsModelFallback(provider.Classify(err)) {
			break
		}
	}
	return provider.Result{}, false
}
