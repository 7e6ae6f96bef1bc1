// Package cache implements the in-process response cache (TTL expiry, LRU
// eviction, periodic sweep, size-based compression) and its optional Redis
// second tier.
package cache

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abdhe/llm-mediator/pkg/metrics"
	"github.com/abdhe/llm-mediator/pkg/provider"
)

// Config holds the response cache settings.
type Config struct {
	MaxSize       int           // Entry capacity; inserting beyond it evicts the LRU entry
	DefaultTTL    time.Duration // Used when Set is called with ttl <= 0
	SweepInterval time.Duration // Period of the background expiry sweep

	// Values whose content is larger than CompressThreshold bytes are passed
	// through Codec. Zero disables compression.
	CompressThreshold int
	Codec             Codec
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:           100,
		DefaultTTL:        time.Hour,
		SweepInterval:     5 * time.Minute,
		CompressThreshold: 8 << 10,
	}
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Size        int     `json:"size"`
	HitRate     float64 `json:"hit_rate"`
	RemoteHits  int64   `json:"remote_hits,omitempty"` // Served by the Redis tier
}

type entry struct {
	key          string
	provider     string
	model        string
	data         []byte
	compressed   bool
	insertedAt   time.Time
	ttl          time.Duration
	lastAccessed time.Time
	accessCount  int64
	elem         *list.Element
}

// expired is the single expiry test shared by lookups and the sweep:
// an entry is visible iff now - insertedAt < ttl.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) >= e.ttl
}

// ResponseCache is a concurrency-safe key → provider.Result store.
type ResponseCache struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently accessed

	hits, misses, evictions, expirations int64

	sweepOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a cache. Call StartSweeper to run the periodic sweep and Close
// to stop it.
func New(cfg Config) (*ResponseCache, error) {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.CompressThreshold > 0 && cfg.Codec == nil {
		codec, err := NewZstdCodec()
		if err != nil {
			return nil, fmt.Errorf("cache: init codec: %w", err)
		}
		cfg.Codec = codec
	}

	return &ResponseCache{
		cfg:     cfg,
		now:     time.Now,
		logger:  slog.Default().With("component", "response_cache"),
		entries: make(map[string]*entry),
		lru:     list.New(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Get returns the cached result for key. Expired entries are removed and
// reported as a miss.
func (c *ResponseCache) Get(key string) (provider.Result, bool) {
	c.mu.Lock()
	now := c.now()
	e, ok := c.entries[key]
	if ok && e.expired(now) {
		c.removeLocked(e)
		c.expirations++
		ok = false
	}
	if !ok {
		c.misses++
		c.mu.Unlock()
		metrics.RecordCacheLookup(false)
		return provider.Result{}, false
	}

	e.lastAccessed = now
	e.accessCount++
	c.lru.MoveToFront(e.elem)
	c.hits++
	data, compressed := e.data, e.compressed
	res := provider.Result{Provider: e.provider, Model: e.model}
	c.mu.Unlock()

	metrics.RecordCacheLookup(true)

	if compressed {
		raw, err := c.cfg.Codec.Decompress(data)
		if err != nil {
			c.logger.Error("decompress failed, dropping entry", "key", key, "error", err)
			c.Delete(key)
			return provider.Result{}, false
		}
		data = raw
	}
	res.Content = string(data)
	return res, true
}

// Set stores v under key for ttl (DefaultTTL if ttl <= 0). Inserting a new
// key at capacity first evicts the least recently accessed entry.
func (c *ResponseCache) Set(key string, v provider.Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	data := []byte(v.Content)
	compressed := false
	if c.cfg.CompressThreshold > 0 && len(data) > c.cfg.CompressThreshold {
		packed, err := c.cfg.Codec.Compress(data)
		if err != nil {
			return fmt.Errorf("cache: compress: %w", err)
		}
		data, compressed = packed, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	} else {
		for len(c.entries) >= c.cfg.MaxSize {
			c.evictLocked()
		}
	}

	e := &entry{
		key:          key,
		provider:     v.Provider,
		model:        v.Model,
		data:         data,
		compressed:   compressed,
		insertedAt:   now,
		ttl:          ttl,
		lastAccessed: now,
	}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	metrics.CacheSize.Set(float64(len(c.entries)))
	return nil
}

// Delete removes key, reporting whether it was present.
func (c *ResponseCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok {
		c.removeLocked(e)
	}
	return ok
}

// Clear drops every entry. Counters are kept.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.lru.Init()
	metrics.CacheSize.Set(0)
}

// Len returns the number of stored entries, expired or not.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (c *ResponseCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(e)
			removed++
		}
	}
	c.expirations += int64(removed)
	return removed
}

// StartSweeper runs Sweep every SweepInterval until Close.
func (c *ResponseCache) StartSweeper() {
	c.sweepOnce.Do(func() {
		go func() {
			defer close(c.done)
			ticker := time.NewTicker(c.cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-c.stop:
					return
				case <-ticker.C:
					if n := c.Sweep(); n > 0 {
						c.logger.Debug("swept expired entries", "removed", n)
					}
				}
			}
		}()
	})
}

// Close stops the sweeper, if running.
func (c *ResponseCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	started := true
	c.sweepOnce.Do(func() { started = false })
	if started {
		<-c.done
	}
}

// Stats returns the cache counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// evictLocked drops the entry with the oldest lastAccessed time.
func (c *ResponseCache) evictLocked() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	c.removeLocked(back.Value.(*entry))
	c.evictions++
	metrics.CacheEvictionsTotal.Inc()
}

func (c *ResponseCache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
	metrics.CacheSize.Set(float64(len(c.entries)))
}
