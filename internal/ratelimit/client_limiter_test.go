package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestClientLimiter_PerKeyIsolation(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewClientLimiter(clk, 1, 1, 0)

	if !l.Allow("10.0.0.1") {
		t.Fatalf("first request should pass")
	}
	if l.Allow("10.0.0.1") {
		t.Fatalf("second request within the window should be limited")
	}
	// A different client has its own bucket.
	if !l.Allow("10.0.0.2") {
		t.Fatalf("other client should not share the bucket")
	}

	clk.Advance(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Fatalf("expected refill after advance")
	}
}

func TestClientLimiter_DisabledAllowsEverything(t *testing.T) {
	l := NewClientLimiter(&fakeClock{now: time.Unix(0, 0)}, 0, 0, 0)
	if l.Enabled() {
		t.Fatalf("rate 0 must disable the limiter")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}

	var nilLimiter *ClientLimiter
	if nilLimiter.Enabled() || !nilLimiter.Allow("10.0.0.1") {
		t.Fatalf("nil limiter must be a no-op")
	}
}

func TestClientLimiter_DefaultBurstIsTwiceRate(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewClientLimiter(clk, 5, 0, 0)

	allowed := 0
	for i := 0; i < 20; i++ {
		if l.Allow("10.0.0.1") {
			allowed++
		}
	}
	if allowed != 10 {
		t.Fatalf("initial burst=%d, want 10 (2x rate)", allowed)
	}
}

func TestClientLimiter_EvictsLeastRecentlyUsed(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewClientLimiter(clk, 1, 1, 2)

	l.Allow("a") // a's bucket now empty
	l.Allow("b")
	l.Allow("c") // evicts a (capacity 2)

	// a's drained bucket was evicted, so a gets a fresh full bucket.
	if !l.Allow("a") {
		t.Fatalf("evicted client should start with a fresh bucket")
	}
}

func TestClientLimiter_BoundedClients(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewClientLimiter(clk, 1, 1, 8)

	for i := 0; i < 100; i++ {
		l.Allow(fmt.Sprintf("10.0.0.%d", i))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.clients) > 8 || l.lru.Len() > 8 {
		t.Fatalf("clients=%d lru=%d, want <= 8", len(l.clients), l.lru.Len())
	}
}
