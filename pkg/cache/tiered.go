package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/abdhe/llm-mediator/pkg/metrics"
	"github.com/abdhe/llm-mediator/pkg/provider"
)

// Tiered fronts an optional RedisStore with the in-process ResponseCache.
// Remote failures are logged and treated as misses.
type Tiered struct {
	local  *ResponseCache
	remote *RedisStore
	ttl    time.Duration
	logger *slog.Logger

	remoteHits atomic.Int64
}

// NewTiered combines local and remote. remote may be nil.
func NewTiered(local *ResponseCache, remote *RedisStore, ttl time.Duration) *Tiered {
	return &Tiered{
		local:  local,
		remote: remote,
		ttl:    ttl,
		logger: slog.Default().With("component", "tiered_cache"),
	}
}

// Get checks the local tier, then the remote one. Remote hits are promoted
// into the local tier.
func (t *Tiered) Get(ctx context.Context, key string) (provider.Result, bool) {
	if res, ok := t.local.Get(key); ok {
		return res, true
	}
	if t.remote == nil {
		return provider.Result{}, false
	}

	res, ok, err := t.remote.Get(ctx, key)
	if err != nil {
		t.logger.Warn("remote lookup failed", "key", key, "error", err)
		return provider.Result{}, false
	}
	if !ok {
		return provider.Result{}, false
	}
	t.remoteHits.Add(1)
	metrics.RecordRemoteHit()
	if err := t.local.Set(key, res, t.ttl); err != nil {
		t.logger.Warn("promote to local failed", "key", key, "error", err)
	}
	return res, true
}

// Set writes through to both tiers.
func (t *Tiered) Set(ctx context.Context, key string, res provider.Result) {
	if err := t.local.Set(key, res, t.ttl); err != nil {
		t.logger.Warn("local store failed", "key", key, "error", err)
	}
	if t.remote == nil {
		return
	}
	if err := t.remote.Set(ctx, key, res, t.ttl); err != nil {
		t.logger.Warn("remote store failed", "key", key, "error", err)
	}
}

// Local returns the in-process tier.
func (t *Tiered) Local() *ResponseCache { return t.local }

// Stats returns the counters of both tiers. A lookup served by the remote
// tier counts as a hit, not as the local miss that preceded it.
func (t *Tiered) Stats() Stats {
	s := t.local.Stats()
	remote := t.remoteHits.Load()
	s.RemoteHits = remote
	s.Hits += remote
	s.Misses = max(s.Misses-remote, 0)
	s.HitRate = 0
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close stops the local sweeper and closes the remote connection.
func (t *Tiered) Close() error {
	t.local.Close()
	if t.remote != nil {
		return t.remote.Close()
	}
	return nil
}
