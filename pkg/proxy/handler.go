package proxy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/abdhe/llm-mediator/pkg/chunk"
	"github.com/abdhe/llm-mediator/pkg/orchestrator"
	"github.com/abdhe/llm-mediator/pkg/provider"
	"github.com/abdhe/llm-mediator/pkg/strategy"
)

// Handler implements MediatorServer on top of an orchestrator.
type Handler struct {
	orch           *orchestrator.Orchestrator
	chunks         *chunk.Coordinator
	requestTimeout time.Duration
	logger         *slog.Logger
}

// Config holds the handler configuration.
type Config struct {
	Orchestrator   *orchestrator.Orchestrator
	Chunks         *chunk.Coordinator // Nil builds one with default concurrency
	RequestTimeout time.Duration      // Whole-request deadline, 0 = none
	Logger         *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunks := cfg.Chunks
	if chunks == nil {
		chunks = chunk.New(cfg.Orchestrator, chunk.Config{Logger: logger})
	}
	return &Handler{
		orch:           cfg.Orchestrator,
		chunks:         chunks,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger.With("component", "grpc"),
	}
}

var _ MediatorServer = (*Handler)(nil)

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.requestTimeout)
}

// Process runs a request through the orchestrator.
//
// Request fields: prompt, images [{mime_type, data (base64)}], provider,
// model, max_tokens, temperature, mode ("sequential" | "racing"), skip_cache.
// Response fields: content, provider, model.
func (h *Handler) Process(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(fieldsOf(in))
	if err != nil {
		return nil, toStatus(err)
	}
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	res, err := h.orch.Process(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResult(res)
}

// ProcessWith runs a request against one provider with no fallback.
//
// Request fields: provider (required), model, and the Process fields.
// Response fields: content, provider, model.
func (h *Handler) ProcessWith(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := fieldsOf(in)
	name := f.str("provider")
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "provider is required")
	}
	req, err := decodeRequest(f)
	if err != nil {
		return nil, toStatus(err)
	}
	model := req.Model
	req.Provider, req.Model = "", ""

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	res, err := h.orch.ProcessWith(ctx, name, req, model)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResult(res)
}

// Analyze runs a video analysis job: strategy selection, chunk fan-out and
// merge.
//
// Request fields: the Process fields plus duration_seconds,
// performance_mode, has_transcript, format.
// Response fields: content, strategy, planned_chunks, succeeded_chunks,
// direct.
func (h *Handler) Analyze(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := fieldsOf(in)
	req, err := decodeRequest(f)
	if err != nil {
		return nil, toStatus(err)
	}
	video, err := decodeVideo(f)
	if err != nil {
		return nil, toStatus(err)
	}

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	res, err := h.chunks.Run(ctx, chunk.Job{Base: req, Video: video})
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"content":          res.Content,
		"strategy":         res.Strategy.String(),
		"planned_chunks":   res.Planned,
		"succeeded_chunks": res.Succeeded,
		"direct":           res.Direct,
	})
}

// Estimate reports the strategy and time range of a video analysis.
//
// Request fields: duration_seconds, performance_mode, has_transcript, format.
// Response fields: strategy, min_seconds, max_seconds, chunks.
func (h *Handler) Estimate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	video, err := decodeVideo(fieldsOf(in))
	if err != nil {
		return nil, toStatus(err)
	}
	est := h.orch.EstimateProcessingTime(video.Duration, video.Mode, video.HasTranscript, video.Format)
	return structpb.NewStruct(map[string]any{
		"strategy":    est.StrategyName(),
		"min_seconds": est.Min.Seconds(),
		"max_seconds": est.Max.Seconds(),
		"chunks":      est.Chunks,
	})
}

// ListProviders returns the registry in order.
//
// Response fields: providers [{name, model, models, multimodal,
// model_override, parameter_override, circuit, circuit_successes,
// circuit_failures, circuit_rejected}].
func (h *Handler) ListProviders(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	var list []any
	for _, hd := range h.orch.Registry().Handles() {
		caps := hd.Capabilities()
		models := make([]any, 0)
		for _, m := range hd.Models() {
			models = append(models, m)
		}
		entry := map[string]any{
			"name":               hd.Name(),
			"model":              hd.Model(),
			"models":             models,
			"multimodal":         caps.Multimodal,
			"model_override":     caps.ModelOverride,
			"parameter_override": caps.ParameterOverride,
			"circuit":            "none",
		}
		if cb := hd.Breaker(); cb != nil {
			successes, failures, rejected := cb.Counts()
			entry["circuit"] = cb.State().String()
			entry["circuit_successes"] = float64(successes)
			entry["circuit_failures"] = float64(failures)
			entry["circuit_rejected"] = float64(rejected)
		}
		list = append(list, entry)
	}
	if list == nil {
		list = []any{}
	}
	return structpb.NewStruct(map[string]any{"providers": list})
}

// CacheStats returns the response cache counters.
//
// Response fields: enabled, hits, misses, evictions, expirations, size,
// hit_rate, remote_hits.
func (h *Handler) CacheStats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, ok := h.orch.CacheStats()
	return structpb.NewStruct(map[string]any{
		"enabled":     ok,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"evictions":   stats.Evictions,
		"expirations": stats.Expirations,
		"size":        stats.Size,
		"hit_rate":    stats.HitRate,
		"remote_hits": stats.RemoteHits,
	})
}

func encodeResult(res provider.Result) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"content":  res.Content,
		"provider": res.Provider,
		"model":    res.Model,
	})
}

type fields map[string]*structpb.Value

func fieldsOf(s *structpb.Struct) fields { return s.GetFields() }

func (f fields) str(key string) string { return f[key].GetStringValue() }

func (f fields) boolean(key string) bool { return f[key].GetBoolValue() }

func (f fields) number(key string) (float64, bool) {
	v, ok := f[key].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return v.NumberValue, true
}

func decodeRequest(f fields) (orchestrator.Request, error) {
	mode, err := orchestrator.ParseMode(f.str("mode"))
	if err != nil {
		return orchestrator.Request{}, err
	}
	req := orchestrator.Request{
		Prompt:    f.str("prompt"),
		Provider:  f.str("provider"),
		Model:     f.str("model"),
		Mode:      mode,
		SkipCache: f.boolean("skip_cache"),
	}
	if n, ok := f.number("max_tokens"); ok {
		if n < 0 || math.IsInf(n, 0) || n != math.Trunc(n) {
			return orchestrator.Request{}, fmt.Errorf("%w: max_tokens must be a non-negative integer", orchestrator.ErrInvalidRequest)
		}
		req.MaxTokens = int(n)
	}
	if t, ok := f.number("temperature"); ok {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return orchestrator.Request{}, fmt.Errorf("%w: temperature must be a finite number", orchestrator.ErrInvalidRequest)
		}
		req.Temperature = &t
	}

	for i, v := range f["images"].GetListValue().GetValues() {
		img := fields(v.GetStructValue().GetFields())
		data, err := base64.StdEncoding.DecodeString(img.str("data"))
		if err != nil {
			return orchestrator.Request{}, fmt.Errorf("%w: images[%d]: %v", orchestrator.ErrInvalidRequest, i, err)
		}
		req.Images = append(req.Images, provider.Image{MimeType: img.str("mime_type"), Data: data})
	}
	return req, nil
}

func decodeVideo(f fields) (strategy.Input, error) {
	secs, ok := f.number("duration_seconds")
	if !ok || !(secs >= 0) || math.IsInf(secs, 0) {
		return strategy.Input{}, fmt.Errorf("%w: duration_seconds must be a non-negative number", orchestrator.ErrInvalidRequest)
	}
	mode, err := strategy.ParseMode(f.str("performance_mode"))
	if err != nil {
		return strategy.Input{}, fmt.Errorf("%w: %v", orchestrator.ErrInvalidRequest, err)
	}
	return strategy.Input{
		Duration:      time.Duration(secs * float64(time.Second)),
		Mode:          mode,
		HasTranscript: f.boolean("has_transcript"),
		Format:        f.str("format"),
	}, nil
}

// toStatus maps mediator errors onto gRPC status codes. The message is the
// error text unchanged.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	msg := err.Error()
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, msg)
	case errors.Is(err, provider.ErrUnknownProvider):
		return status.Error(codes.NotFound, msg)
	case errors.Is(err, provider.ErrNoProviders):
		return status.Error(codes.FailedPrecondition, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, msg)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, msg)
	}

	switch provider.Classify(err) {
	case provider.KindQuota:
		return status.Error(codes.ResourceExhausted, msg)
	case provider.KindAuth:
		return status.Error(codes.Unauthenticated, msg)
	case provider.KindSafetyBlocked:
		return status.Error(codes.FailedPrecondition, msg)
	case provider.KindNetwork, provider.KindUnavailable, provider.KindExhausted:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
