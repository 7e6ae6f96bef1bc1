package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoKeys is returned by Next when the pool was built without keys.
	ErrNoKeys = errors.New("keypool: no keys configured")
	// ErrKeysExhausted is returned by Next when every key is parked.
	ErrKeysExhausted = errors.New("keypool: all keys exhausted")
)

// KeyPool hands out a provider's API keys round-robin. A key that hit a
// rate limit is parked until its reset time and skipped meanwhile.
type KeyPool struct {
	mu     sync.Mutex
	keys   []string
	parked map[string]time.Time
	next   int
	now    func() time.Time
}

// NewKeyPool creates a pool over keys. Blank keys are ignored.
func NewKeyPool(keys []string) *KeyPool {
	kp := &KeyPool{parked: make(map[string]time.Time), now: time.Now}
	for _, k := range keys {
		if k != "" {
			kp.keys = append(kp.keys, k)
		}
	}
	return kp
}

// Next returns the next key that is not parked.
func (kp *KeyPool) Next() (string, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	if len(kp.keys) == 0 {
		return "", ErrNoKeys
	}

	now := kp.now()
	var soonest time.Time
	for i := range kp.keys {
		idx := (kp.next + i) % len(kp.keys)
		key := kp.keys[idx]
		until, ok := kp.parked[key]
		if ok && now.Before(until) {
			if soonest.IsZero() || until.Before(soonest) {
				soonest = until
			}
			continue
		}
		delete(kp.parked, key)
		kp.next = (idx + 1) % len(kp.keys)
		return key, nil
	}
	return "", fmt.Errorf("%w, earliest reset at %s", ErrKeysExhausted, soonest.Format(time.RFC3339))
}

// Park takes key out of rotation until until.
func (kp *KeyPool) Park(key string, until time.Time) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	for _, k := range kp.keys {
		if k == key {
			kp.parked[key] = until
			return
		}
	}
}
