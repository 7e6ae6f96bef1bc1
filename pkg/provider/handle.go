package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/abdhe/llm-mediator/pkg/metrics"
	"github.com/abdhe/llm-mediator/pkg/resilience"
)

// Call is one completion invocation against a Handle. Zero-valued overrides
// leave the provider's configured values untouched.
type Call struct {
	Prompt      string
	Images      []Image
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Handle owns a Provider inside the registry. The provider's mutable state
// (current model, output parameters) is only touched through the handle:
// plain calls hold a read lock, overridden calls hold the write lock for the
// whole apply → call → restore sequence.
type Handle struct {
	p       Provider
	caps    Capabilities
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger

	mu sync.RWMutex
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithBreaker guards the provider with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) HandleOption {
	return func(h *Handle) { h.breaker = cb }
}

// WithLogger sets the handle's logger.
func WithLogger(l *slog.Logger) HandleOption {
	return func(h *Handle) { h.logger = l }
}

// NewHandle wraps p.
func NewHandle(p Provider, opts ...HandleOption) *Handle {
	h := &Handle{p: p, caps: CapabilitiesOf(p), logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handle) Name() string { return h.p.Name() }

// Model returns the provider's current model.
func (h *Handle) Model() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.p.Model()
}

// Models returns the current model followed by the provider's alternates.
func (h *Handle) Models() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Models(h.p)
}

func (h *Handle) Capabilities() Capabilities { return h.caps }

// Breaker returns the handle's circuit breaker, or nil.
func (h *Handle) Breaker() *resilience.CircuitBreaker { return h.breaker }

// Complete runs one attempt. A blank completion is returned as a
// KindEmptyResponse error, never as a success.
func (h *Handle) Complete(ctx context.Context, c Call) (Result, error) {
	if h.breaker != nil && !h.breaker.Allow() {
		return Result{}, &Error{
			Kind:     KindUnavailable,
			Provider: h.Name(),
			Model:    h.Model(),
			Err:      fmt.Errorf("%s: %w", h.Name(), resilience.ErrCircuitOpen),
		}
	}

	res, err := h.complete(ctx, c)
	if err == nil {
		metrics.ProviderCallsTotal.WithLabelValues(res.Provider, res.Model, "success").Inc()
		if h.breaker != nil {
			h.breaker.RecordSuccess()
		}
		return res, nil
	}

	kind := Classify(err)
	model := c.Model
	var pe *Error
	if errors.As(err, &pe) {
		model = pe.Model
	}
	metrics.ProviderCallsTotal.WithLabelValues(h.Name(), model, kind.String()).Inc()
	// Cancelled calls (racing losers) say nothing about provider health.
	if h.breaker != nil && countsAgainstBreaker(kind) && !errors.Is(err, context.Canceled) {
		h.breaker.RecordFailure()
	}
	return res, err
}

func (h *Handle) complete(ctx context.Context, c Call) (Result, error) {
	images := c.Images
	if len(images) > 0 && !h.caps.Multimodal {
		h.logger.Debug("dropping images for text-only provider", "provider", h.Name(), "images", len(images))
		images = nil
	}

	if h.needsOverride(c) {
		restore := h.override(c)
		defer restore()
		return h.invoke(ctx, c.Prompt, images)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.invoke(ctx, c.Prompt, images)
}

// needsOverride reports whether c changes provider state the handle can set.
func (h *Handle) needsOverride(c Call) bool {
	if c.Model != "" {
		if h.caps.ModelOverride {
			return true
		}
		h.logger.Warn("provider does not support model override, using current model",
			"provider", h.Name(), "requested_model", c.Model)
	}
	if h.caps.ParameterOverride && (c.MaxTokens > 0 || c.Temperature != nil) {
		return true
	}
	return false
}

// override takes the write lock, applies c's overrides and returns the
// function that restores the original values and releases the lock.
func (h *Handle) override(c Call) (restore func()) {
	h.mu.Lock()

	var undo []func()
	if ms, ok := h.p.(ModelSwitcher); ok && c.Model != "" {
		orig := h.p.Model()
		ms.SetModel(c.Model)
		undo = append(undo, func() { ms.SetModel(orig) })
	}
	if pt, ok := h.p.(ParameterTuner); ok {
		if c.MaxTokens > 0 {
			orig := pt.MaxTokens()
			pt.SetMaxTokens(c.MaxTokens)
			undo = append(undo, func() { pt.SetMaxTokens(orig) })
		}
		if c.Temperature != nil {
			orig := pt.Temperature()
			pt.SetTemperature(*c.Temperature)
			undo = append(undo, func() { pt.SetTemperature(orig) })
		}
	}

	return func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		h.mu.Unlock()
	}
}

// invoke must be called with h.mu held.
func (h *Handle) invoke(ctx context.Context, prompt string, images []Image) (Result, error) {
	name, model := h.p.Name(), h.p.Model()

	content, err := h.p.Complete(ctx, prompt, images)
	if err != nil {
		return Result{}, NewError(name, model, err)
	}
	if strings.TrimSpace(content) == "" {
		return Result{}, &Error{
			Kind:     KindEmptyResponse,
			Provider: name,
			Model:    model,
			Err:      fmt.Errorf("%s/%s: %w", name, model, ErrEmptyResponse),
		}
	}
	return Result{Content: content, Provider: name, Model: model}, nil
}

func countsAgainstBreaker(k Kind) bool {
	switch k {
	case KindGeneric, KindNetwork, KindQuota, KindAuth:
		return true
	default:
		return false
	}
}
