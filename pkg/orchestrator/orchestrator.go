// Package orchestrator is the mediator's entry point: it routes a request
// through the provider registry in sequential or racing mode, applies retry
// and fallback, and consults the response cache.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/abdhe/llm-mediator/pkg/cache"
	"github.com/abdhe/llm-mediator/pkg/fallback"
	"github.com/abdhe/llm-mediator/pkg/metrics"
	"github.com/abdhe/llm-mediator/pkg/provider"
	"github.com/abdhe/llm-mediator/pkg/resilience"
	"github.com/abdhe/llm-mediator/pkg/strategy"
)

// Mode selects how providers are tried.
type Mode int

const (
	// Sequential tries providers one at a time in registry order, with retry.
	Sequential Mode = iota
	// Racing calls every provider at once, single attempt each.
	Racing
)

func (m Mode) String() string {
	if m == Racing {
		return "racing"
	}
	return "sequential"
}

// ParseMode parses "sequential" or "racing". Empty means sequential.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential":
		return Sequential, nil
	case "racing", "parallel":
		return Racing, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, s)
	}
}

// ErrInvalidRequest is returned for requests that cannot be processed.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one processing request. It is treated as immutable.
type Request struct {
	Prompt string
	Images []provider.Image

	// Provider, when set, is tried first and FallbackPolicy handles its
	// failure. Model is only honoured together with Provider.
	Provider string
	Model    string

	MaxTokens   int
	Temperature *float64

	Mode      Mode
	SkipCache bool
}

func (r Request) call() provider.Call {
	return provider.Call{
		Prompt:      r.Prompt,
		Images:      r.Images,
		Model:       r.Model,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	}
}

func (r Request) validate() error {
	if err := r.validateInput(); err != nil {
		return err
	}
	if r.Model != "" && r.Provider == "" {
		return fmt.Errorf("%w: model override requires a provider", ErrInvalidRequest)
	}
	return nil
}

// validateInput checks the prompt and the parameter overrides.
func (r Request) validateInput() error {
	if strings.TrimSpace(r.Prompt) == "" && len(r.Images) == 0 {
		return fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must not be negative", ErrInvalidRequest)
	}
	if t := r.Temperature; t != nil && (math.IsNaN(*t) || math.IsInf(*t, 0)) {
		return fmt.Errorf("%w: temperature must be a finite number", ErrInvalidRequest)
	}
	return nil
}

// CacheKey derives the response cache key for r.
func (r Request) CacheKey() (string, error) {
	parts := cache.KeyParts{
		Prompt:      r.Prompt,
		Provider:    r.Provider,
		Model:       r.Model,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	}
	for _, img := range r.Images {
		parts.Images = append(parts.Images, img.MimeType+":"+cache.Digest(img.Data))
	}
	return cache.Key(parts)
}

// Config holds the orchestrator settings.
type Config struct {
	Retry    resilience.RetryConfig
	Fallback fallback.Config
	Cache    *cache.Tiered // nil disables caching
	Logger   *slog.Logger

	// SharedTimeout bounds a coalesced dispatch, which runs independently of
	// any single caller's context.
	SharedTimeout time.Duration

	// ChunkConcurrency is the chunk batch size used for time estimates. It
	// must match the chunk coordinator's setting.
	ChunkConcurrency int
}

// DefaultConfig returns two attempts per provider with a 2s base delay and
// the default fallback policy.
func DefaultConfig() Config {
	return Config{
		Retry:            resilience.DefaultRetryConfig(),
		Fallback:         fallback.DefaultConfig(),
		SharedTimeout:    2 * time.Minute,
		ChunkConcurrency: strategy.DefaultConcurrency,
	}
}

// Orchestrator mediates requests across the providers of a registry.
type Orchestrator struct {
	registry *provider.Registry
	policy   *fallback.Policy
	cache    *cache.Tiered
	retry    resilience.RetryConfig
	logger   *slog.Logger

	sharedTimeout    time.Duration
	chunkConcurrency int

	inflight singleflight.Group
}

// New creates an orchestrator over reg.
func New(reg *provider.Registry, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "orchestrator")

	retry := cfg.Retry
	if retry.Retryable == nil {
		retry.Retryable = provider.IsRetryable
	}
	if retry.Logger == nil {
		retry.Logger = logger
	}
	if cfg.Fallback.Logger == nil {
		cfg.Fallback.Logger = logger
	}

	sharedTimeout := cfg.SharedTimeout
	if sharedTimeout <= 0 {
		sharedTimeout = DefaultConfig().SharedTimeout
	}

	return &Orchestrator{
		registry:         reg,
		policy:           fallback.New(reg, cfg.Fallback),
		cache:            cfg.Cache,
		retry:            retry,
		logger:           logger,
		sharedTimeout:    sharedTimeout,
		chunkConcurrency: cfg.ChunkConcurrency,
	}
}

// Process runs req and returns the first successful result. Concurrent
// identical cacheable requests share a single provider call.
func (o *Orchestrator) Process(ctx context.Context, req Request) (provider.Result, error) {
	if err := req.validate(); err != nil {
		return provider.Result{}, err
	}
	if o.registry.Len() == 0 {
		return provider.Result{}, provider.ErrNoProviders
	}

	start := time.Now()
	metrics.ActiveRequests.Inc()
	defer metrics.ActiveRequests.Dec()

	logger := o.logger.With("request_id", uuid.NewString(), "mode", req.Mode.String())
	if req.Provider != "" {
		logger = logger.With("preferred_provider", req.Provider)
	}

	key, err := req.CacheKey()
	if err != nil {
		logger.Warn("cache key unavailable, bypassing cache", "error", err)
	}
	if o.cache == nil || req.SkipCache || err != nil {
		res, err := o.dispatch(ctx, req, logger)
		o.observe(req, start, "disabled", err)
		return res, err
	}

	if res, ok := o.cache.Get(ctx, key); ok {
		logger.Debug("cache hit", "provider", res.Provider, "model", res.Model)
		metrics.RequestsTotal.WithLabelValues("cache_hit").Inc()
		metrics.RequestLatency.WithLabelValues(req.Mode.String(), "hit").Observe(time.Since(start).Seconds())
		return res, nil
	}

	ch := o.inflight.DoChan(key, func() (any, error) {
		// Detached from the caller that started it: callers that joined must
		// not inherit its cancellation.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.sharedTimeout)
		defer cancel()
		res, err := o.dispatch(sctx, req, logger)
		if err != nil {
			return nil, err
		}
		o.cache.Set(sctx, key, res)
		return res, nil
	})

	select {
	case <-ctx.Done():
		err := ctx.Err()
		o.observe(req, start, "miss", err)
		return provider.Result{}, err
	case r := <-ch:
		if r.Shared {
			logger.Debug("coalesced with in-flight request")
		}
		o.observe(req, start, "miss", r.Err)
		if r.Err != nil {
			return provider.Result{}, r.Err
		}
		return r.Val.(provider.Result), nil
	}
}

// ProcessWith calls the named provider once, with an optional model
// override, and surfaces its error without retry or fallback.
func (o *Orchestrator) ProcessWith(ctx context.Context, name string, req Request, model string) (provider.Result, error) {
	if err := req.validateInput(); err != nil {
		return provider.Result{}, err
	}
	h, err := o.registry.Get(name)
	if err != nil {
		return provider.Result{}, err
	}

	start := time.Now()
	metrics.ActiveRequests.Inc()
	defer metrics.ActiveRequests.Dec()

	c := req.call()
	c.Model = model
	res, err := h.Complete(ctx, c)
	if err != nil {
		o.logger.Warn("direct provider call failed", "provider", name, "model", model, "error", err)
	}
	o.observe(req, start, "disabled", err)
	return res, err
}

func (o *Orchestrator) dispatch(ctx context.Context, req Request, logger *slog.Logger) (provider.Result, error) {
	switch {
	case req.Provider != "":
		return o.preferred(ctx, req, logger)
	case req.Mode == Racing:
		return o.race(ctx, req.call(), logger)
	default:
		return o.sequential(ctx, req.call(), logger)
	}
}

// sequential tries each provider in registry order with retry. Only one
// provider is in flight at a time.
func (o *Orchestrator) sequential(ctx context.Context, call provider.Call, logger *slog.Logger) (provider.Result, error) {
	var (
		failures []provider.Failure
		lastErr  error
	)
	for _, h := range o.registry.Handles() {
		model := h.Model()
		res, err := resilience.Retry(ctx, o.retry, "complete "+h.Name(), func(ctx context.Context) (provider.Result, error) {
			return h.Complete(ctx, call)
		})
		if err == nil {
			return res, nil
		}
		logger.Warn("provider exhausted, moving on", "provider", h.Name(), "model", model, "error", err)
		failures = append(failures, provider.FailureOf(h.Name(), model, err))
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}
	return provider.Result{}, &provider.ExhaustedError{Cause: lastErr, Failures: failures}
}

type outcome struct {
	res provider.Result
	err error
}

// race calls every provider concurrently. The winner is the first success
// in registry order: once the lowest-index provider that has not failed
// succeeds, later calls are cancelled.
func (o *Orchestrator) race(ctx context.Context, call provider.Call, logger *slog.Logger) (provider.Result, error) {
	handles := o.registry.Handles()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]outcome, len(handles))
	settled := make(chan int, len(handles))
	for i, h := range handles {
		go func(i int, h *provider.Handle) {
			res, err := h.Complete(ctx, call)
			results[i] = outcome{res: res, err: err}
			settled <- i
		}(i, h)
	}

	models := make([]string, len(handles))
	for i, h := range handles {
		models[i] = h.Model()
	}

	// results[i] is only read after i arrives on settled.
	done := make([]bool, len(handles))
	next := 0 // lowest index that has not failed
	for n := 0; n < len(handles); n++ {
		done[<-settled] = true

		for next < len(handles) && done[next] && results[next].err != nil {
			next++
		}
		if next < len(handles) && done[next] {
			win := results[next].res
			logger.Info("race won", "provider", win.Provider, "model", win.Model, "settled", n+1, "total", len(handles))
			return win, nil
		}
	}

	failures := make([]provider.Failure, len(handles))
	for i, h := range handles {
		failures[i] = provider.FailureOf(h.Name(), models[i], results[i].err)
	}
	return provider.Result{}, &provider.ExhaustedError{Failures: failures, Note: "all providers failed"}
}

// preferred runs the requested provider with retry, then hands its failure
// to the fallback policy.
func (o *Orchestrator) preferred(ctx context.Context, req Request, logger *slog.Logger) (provider.Result, error) {
	h, err := o.registry.Get(req.Provider)
	if err != nil {
		return provider.Result{}, err
	}
	call := req.call()
	model := call.Model
	if model == "" {
		model = h.Model()
	}

	res, err := resilience.Retry(ctx, o.retry, "complete "+h.Name(), func(ctx context.Context) (provider.Result, error) {
		return h.Complete(ctx, call)
	})
	if err == nil {
		return res, nil
	}
	logger.Warn("preferred provider failed", "provider", h.Name(), "model", model, "error", err)
	return o.policy.Recover(ctx, h, model, call, err)
}

func (o *Orchestrator) observe(req Request, start time.Time, cacheStatus string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RequestsTotal.WithLabelValues(status).Inc()
	metrics.RequestLatency.WithLabelValues(req.Mode.String(), cacheStatus).Observe(time.Since(start).Seconds())
}

// EstimateProcessingTime reports the strategy and time range a video
// analysis request would use.
func (o *Orchestrator) EstimateProcessingTime(length time.Duration, mode strategy.Mode, hasTranscript bool, format string) strategy.Estimate {
	return strategy.EstimateTime(strategy.Input{
		Duration:      length,
		Mode:          mode,
		HasTranscript: hasTranscript,
		Format:        format,
	}, o.chunkConcurrency)
}

// ProviderNames returns the registered providers in registry order.
func (o *Orchestrator) ProviderNames() []string { return o.registry.Names() }

// ProviderModels returns the known models of the named provider.
func (o *Orchestrator) ProviderModels(name string) ([]string, error) {
	return o.registry.ProviderModels(name)
}

// CacheStats returns the response cache counters. ok is false when caching
// is disabled.
func (o *Orchestrator) CacheStats() (stats cache.Stats, ok bool) {
	if o.cache == nil {
		return cache.Stats{}, false
	}
	return o.cache.Stats(), true
}

// Registry returns the provider registry.
func (o *Orchestrator) Registry() *provider.Registry { return o.registry }
