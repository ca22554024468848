package ratelimit

import (
	"container/list"
	"sync"
)

// defaultMaxClients bounds limiter memory when an attacker rotates source
// addresses.
const defaultMaxClients = 4096

// ClientLimiter enforces a per-client request rate, keyed by client address.
//
// Each key gets its own TokenBucket; least-recently-seen buckets are evicted
// once maxClients is reached. A rate <= 0 disables the limiter entirely.
type ClientLimiter struct {
	clock Clock

	rate  int64 // requests/sec
	burst int64 // bucket capacity

	maxClients int

	mu      sync.Mutex
	clients map[string]*clientEntry
	lru     *list.List
}

type clientEntry struct {
	bucket *TokenBucket
	elem   *list.Element
}

func NewClientLimiter(clock Clock, rate, burst int64, maxClients int) *ClientLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	if burst <= 0 {
		burst = 2 * rate
	}
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	return &ClientLimiter{
		clock:      clock,
		rate:       rate,
		burst:      burst,
		maxClients: maxClients,
		clients:    make(map[string]*clientEntry),
		lru:        list.New(),
	}
}

// Enabled reports whether the limiter enforces anything.
func (l *ClientLimiter) Enabled() bool {
	return l != nil && l.rate > 0
}

// Allow reports whether one request from the given client key may proceed.
func (l *ClientLimiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	return l.getOrCreateBucket(key).Allow(1)
}

func (l *ClientLimiter) getOrCreateBucket(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.clients[key]; ok {
		l.lru.MoveToFront(entry.elem)
		return entry.bucket
	}

	if len(l.clients) >= l.maxClients {
		// Evict least-recently used entry (oldest at the back).
		if elem := l.lru.Back(); elem != nil {
			evictKey := elem.Value.(string)
			l.lru.Remove(elem)
			delete(l.clients, evictKey)
		}
	}

	bucket := NewTokenBucket(l.clock, l.burst, l.rate)
	elem := l.lru.PushFront(key)
	l.clients[key] = &clientEntry{bucket: bucket, elem: elem}
	return bucket
}
