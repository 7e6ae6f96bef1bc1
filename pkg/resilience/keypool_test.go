package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drawKeys(t *testing.T, kp *KeyPool, n int) []string {
	t.Helper()
	var got []string
	for i := 0; i < n; i++ {
		k, err := kp.Next()
		require.NoError(t, err)
		got = append(got, k)
	}
	return got
}

func TestKeyPoolRoundRobinSkipsBlank(t *testing.T) {
	kp := NewKeyPool([]string{"a", "", "b"})
	assert.Equal(t, []string{"a", "b", "a", "b"}, drawKeys(t, kp, 4))
}

func TestKeyPoolSkipsParked(t *testing.T) {
	kp := NewKeyPool([]string{"a", "b"})
	kp.Park("a", time.Now().Add(time.Hour))
	assert.Equal(t, []string{"b", "b", "b"}, drawKeys(t, kp, 3))

	kp.Park("b", time.Now().Add(time.Hour))
	_, err := kp.Next()
	assert.ErrorIs(t, err, ErrKeysExhausted)
}

func TestKeyPoolUnparksAfterReset(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	kp := NewKeyPool([]string{"a"})
	kp.now = func() time.Time { return now }

	kp.Park("a", now.Add(time.Minute))
	_, err := kp.Next()
	require.ErrorIs(t, err, ErrKeysExhausted)

	now = now.Add(time.Minute)
	assert.Equal(t, []string{"a"}, drawKeys(t, kp, 1))
}

func TestKeyPoolParkUnknownKeyIsIgnored(t *testing.T) {
	kp := NewKeyPool([]string{"a"})
	kp.Park("zzz", time.Now().Add(time.Hour))
	assert.Equal(t, []string{"a"}, drawKeys(t, kp, 1))
}

func TestKeyPoolEmpty(t *testing.T) {
	_, err := NewKeyPool(nil).Next()
	assert.ErrorIs(t, err, ErrNoKeys)
}
