package cache

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdhe/llm-mediator/pkg/provider"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, cfg Config) (*ResponseCache, *fakeClock) {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clock.Now
	return c, clock
}

func result(content string) provider.Result {
	return provider.Result{Content: content, Provider: "mock", Model: "m1"}
}

func TestGetSet(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxSize: 10, DefaultTTL: time.Minute})

	_, ok := c.Get("k")
	assert.False(t, ok)

	require.NoError(t, c.Set("k", result("v"), 0))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, result("v"), got)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, 1, s.Size)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
}

func TestExpiryBoundary(t *testing.T) {
	c, clock := newTestCache(t, Config{MaxSize: 10})
	require.NoError(t, c.Set("k", result("v"), 10*time.Second))

	clock.Advance(10*time.Second - time.Nanosecond)
	_, ok := c.Get("k")
	assert.True(t, ok, "visible while now - insertedAt < ttl")

	clock.Advance(time.Nanosecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "expired exactly at ttl")
	assert.Equal(t, 0, c.Len(), "expired entry removed on lookup")
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

func TestSweepUsesSameExpiryRule(t *testing.T) {
	c, clock := newTestCache(t, Config{MaxSize: 10})
	require.NoError(t, c.Set("short", result("a"), time.Second))
	require.NoError(t, c.Set("long", result("b"), time.Hour))

	clock.Advance(time.Second)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c, clock := newTestCache(t, Config{MaxSize: 3, DefaultTTL: time.Hour})
	for _, k := range []string{"k1", "k2", "k3"} {
		require.NoError(t, c.Set(k, result(k), 0))
		clock.Advance(time.Second)
	}

	_, ok := c.Get("k1")
	require.True(t, ok)
	clock.Advance(time.Second)

	require.NoError(t, c.Set("k4", result("k4"), 0))
	assert.Equal(t, 3, c.Len())

	_, ok = c.Get("k2")
	assert.False(t, ok, "k2 had the oldest access time")
	for _, k := range []string{"k1", "k3", "k4"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxSize: 2, DefaultTTL: time.Hour})
	require.NoError(t, c.Set("a", result("1"), 0))
	require.NoError(t, c.Set("b", result("2"), 0))
	require.NoError(t, c.Set("a", result("3"), 0))

	assert.Equal(t, 2, c.Len())
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "3", got.Content)
	assert.Zero(t, c.Stats().Evictions)
}

func TestDeleteAndClear(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxSize: 10})
	require.NoError(t, c.Set("a", result("1"), 0))
	require.NoError(t, c.Set("b", result("2"), 0))

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCompressionRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxSize: 10, CompressThreshold: 64})
	big := strings.Repeat("the quick brown fox ", 200)

	require.NoError(t, c.Set("big", result(big), 0))
	require.NoError(t, c.Set("small", result("tiny"), 0))

	c.mu.Lock()
	assert.True(t, c.entries["big"].compressed)
	assert.Less(t, len(c.entries["big"].data), len(big))
	assert.False(t, c.entries["small"].compressed)
	c.mu.Unlock()

	got, ok := c.Get("big")
	require.True(t, ok)
	assert.Equal(t, big, got.Content)
}

type failingCodec struct{}

func (failingCodec) Compress([]byte) ([]byte, error)   { return nil, errors.New("boom") }
func (failingCodec) Decompress([]byte) ([]byte, error) { return nil, errors.New("boom") }

func TestCompressionErrorSurfaces(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxSize: 10, CompressThreshold: 1, Codec: failingCodec{}})
	err := c.Set("k", result("payload"), 0)
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 0, c.Len())
}

func TestSweeperStopsOnClose(t *testing.T) {
	c, err := New(Config{MaxSize: 10, DefaultTTL: time.Millisecond, SweepInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, c.Set("k", result("v"), 0))

	c.StartSweeper()
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	c.Close()
	c.Close()
}

func TestCloseWithoutSweeper(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	c.Close()
}

func TestConcurrentAccess(t *testing.T) {
	c, err := New(Config{MaxSize: 16, DefaultTTL: time.Minute})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := mustKey(t, KeyParts{Prompt: "p", MaxTokens: (i + j) % 32})
				_ = c.Set(key, result("v"), 0)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}

func mustKey(t *testing.T, parts KeyParts) string {
	t.Helper()
	key, err := Key(parts)
	assert.NoError(t, err)
	return key
}

func TestKeyIsDeterministic(t *testing.T) {
	temp := 0.3
	a := mustKey(t, KeyParts{Prompt: "p", Provider: "openai", Temperature: &temp, Images: []string{Digest([]byte("img"))}})
	b := mustKey(t, KeyParts{Prompt: "p", Provider: "openai", Temperature: &temp, Images: []string{Digest([]byte("img"))}})
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "llm_cache:"))

	assert.NotEqual(t, a, mustKey(t, KeyParts{Prompt: "p", Provider: "gemini", Temperature: &temp}))
	assert.NotEqual(t, mustKey(t, KeyParts{Prompt: "p"}), mustKey(t, KeyParts{Prompt: "p", Model: "x"}))
}

func TestKeyEncodesEveryTemperature(t *testing.T) {
	zero := 0.0
	keys := make(map[string]bool)
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0.7} {
		temp := v
		first := mustKey(t, KeyParts{Prompt: "first", Temperature: &temp})
		second := mustKey(t, KeyParts{Prompt: "second", Temperature: &temp})
		assert.NotEqual(t, first, second)
		keys[first] = true
	}
	assert.Len(t, keys, 4)
	assert.NotEqual(t, mustKey(t, KeyParts{Prompt: "p"}), mustKey(t, KeyParts{Prompt: "p", Temperature: &zero}), "explicit zero differs from unset")
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", result("v"), 0))
	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result("v"), got)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(time.Minute)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "d", result("v"), time.Second))
	require.NoError(t, store.Delete(ctx, "d"))
	assert.False(t, mr.Exists("d"))
}

func TestTieredPromotesRemoteHits(t *testing.T) {
	store, _ := newRedisStore(t)
	local, _ := newTestCache(t, Config{MaxSize: 10})
	tiered := NewTiered(local, store, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", result("remote"), 0))

	got, ok := tiered.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "remote", got.Content)
	assert.Equal(t, 1, local.Len())

	s := tiered.Stats()
	assert.Equal(t, int64(1), s.Hits, "remote hit counts as a hit")
	assert.Equal(t, int64(0), s.Misses)
	assert.Equal(t, int64(1), s.RemoteHits)
	assert.Equal(t, 1.0, s.HitRate)

	_, ok = tiered.Get(ctx, "k")
	require.True(t, ok, "served locally after promotion")
	_, ok = tiered.Get(ctx, "absent")
	require.False(t, ok)
	s = tiered.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.RemoteHits)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)

	tiered.Set(ctx, "n", result("both"))
	_, ok, err := store.Get(ctx, "n")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok = local.Get("n")
	assert.True(t, ok)
}

func TestTieredRemoteFailureIsMiss(t *testing.T) {
	store, mr := newRedisStore(t)
	local, _ := newTestCache(t, Config{MaxSize: 10})
	tiered := NewTiered(local, store, time.Minute)
	mr.Close()

	_, ok := tiered.Get(context.Background(), "k")
	assert.False(t, ok)

	tiered.Set(context.Background(), "k", result("v"))
	_, ok = tiered.Get(context.Background(), "k")
	assert.True(t, ok, "local tier still serves")
}

func TestTieredWithoutRemote(t *testing.T) {
	local, _ := newTestCache(t, Config{MaxSize: 10})
	tiered := NewTiered(local, nil, time.Minute)

	_, ok := tiered.Get(context.Background(), "k")
	assert.False(t, ok)
	tiered.Set(context.Background(), "k", result("v"))
	_, ok = tiered.Get(context.Background(), "k")
	assert.True(t, ok)
	assert.NoError(t, tiered.Close())
}
