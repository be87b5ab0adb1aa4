package idem

import (
	"sync"
	"time"

	"statusbridge/tools/clock"
)

// Store remembers keys for a while. Zulip retries an outgoing webhook when
// it doesn't get a timely answer; the handler uses SeenOnce on the message
// id so a retried command isn't executed twice.
type Store interface {
	SeenOnce(key string, ttl time.Duration) (seen bool)
}

type memIdem struct {
	mu    sync.Mutex
	m     map[string]time.Time // key -> expiry
	ttl   time.Duration
	clock clock.Clock
}

// NewMem returns an in-process Store. Expired keys are swept on write.
func NewMem(defaultTTL time.Duration, c clock.Clock) Store {
	if c == nil {
		c = clock.Real()
	}
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, clock: c}
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.clock.Now()

	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true
	}
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
		}
	}
	mi.m[key] = now.Add(ttl)
	return false
}
