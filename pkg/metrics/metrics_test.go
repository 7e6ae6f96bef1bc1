package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(CacheHitsTotal)
	lookups := testutil.ToFloat64(CacheLookupsTotal)

	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(true)

	assert.Equal(t, hits+2, testutil.ToFloat64(CacheHitsTotal))
	assert.Equal(t, lookups+3, testutil.ToFloat64(CacheLookupsTotal))

	ratio := testutil.ToFloat64(CacheHitRatio)
	assert.InDelta(t, (hits+2)/(lookups+3), ratio, 1e-9)
}

func TestLabelledCollectors(t *testing.T) {
	ProviderCallsTotal.WithLabelValues("p", "m", "success").Inc()
	FallbacksTotal.WithLabelValues("model").Inc()
	ChunksTotal.WithLabelValues("failed").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(ProviderCallsTotal.WithLabelValues("p", "m", "success")))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(FallbacksTotal), 1)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(ChunksTotal), 1)
}

func TestRecordRemoteHit(t *testing.T) {
	RecordCacheLookup(false)
	hits := testutil.ToFloat64(CacheHitsTotal)
	lookups := testutil.ToFloat64(CacheLookupsTotal)

	RecordRemoteHit()

	assert.Equal(t, hits+1, testutil.ToFloat64(CacheHitsTotal))
	assert.Equal(t, lookups, testutil.ToFloat64(CacheLookupsTotal))
	assert.InDelta(t, (hits+1)/lookups, testutil.ToFloat64(CacheHitRatio), 1e-9)
}
