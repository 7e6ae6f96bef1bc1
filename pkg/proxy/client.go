package proxy

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a Mediator server.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with a request built from fields.
func (c *Client) Call(ctx context.Context, method string, fields map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Process runs a request through the orchestrator.
func (c *Client) Process(ctx context.Context, fields map[string]any) (map[string]any, error) {
	return c.Call(ctx, MethodProcess, fields)
}

// ProcessWith runs a request against one named provider.
func (c *Client) ProcessWith(ctx context.Context, fields map[string]any) (map[string]any, error) {
	return c.Call(ctx, MethodProcessWith, fields)
}

// Analyze runs a video analysis job.
func (c *Client) Analyze(ctx context.Context, fields map[string]any) (map[string]any, error) {
	return c.Call(ctx, MethodAnalyze, fields)
}

// Estimate returns the strategy and time range for a video analysis.
func (c *Client) Estimate(ctx context.Context, fields map[string]any) (map[string]any, error) {
	return c.Call(ctx, MethodEstimate, fields)
}

// ListProviders returns the registry contents.
func (c *Client) ListProviders(ctx context.Context) (map[string]any, error) {
	return c.Call(ctx, MethodListProviders, nil)
}

// CacheStats returns the response cache counters.
func (c *Client) CacheStats(ctx context.Context) (map[string]any, error) {
	return c.Call(ctx, MethodCacheStats, nil)
}
