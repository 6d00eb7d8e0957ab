package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllow_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("client"); err != nil {
			t.Fatalf("Allow #%d = %v, want nil in unlimited mode", i, err)
		}
	}
}

func TestAllow_BurstThenLimited(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})
	for i := 0; i < 3; i++ {
		if err := l.Allow("client"); err != nil {
			t.Fatalf("Allow #%d = %v, want nil within burst", i, err)
		}
	}
	if err := l.Allow("client"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Allow after burst = %v, want ErrRateLimited", err)
	}
}

func TestAllow_IndependentClients(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})
	if err := l.Allow("a"); err != nil {
		t.Fatalf("first client: %v", err)
	}
	if err := l.Allow("b"); err != nil {
		t.Fatalf("second client must have its own bucket: %v", err)
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("exhausted client = %v, want ErrRateLimited", err)
	}
}

func TestAllow_Refill(t *testing.T) {
	// 6000 requests per minute = 100 tokens per second.
	l := NewLimiter(Config{RequestsPerMinute: 6000, BurstSize: 1})
	if err := l.Allow("client"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.Allow("client"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("drained bucket = %v, want ErrRateLimited", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := l.Allow("client"); err != nil {
		t.Fatalf("after refill window = %v, want nil", err)
	}
}

func TestEvictIdle(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})
	if err := l.Allow("stale"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	l.mu.Lock()
	l.clients["stale"].lastFill = time.Now().Add(-idleEviction - time.Minute)
	l.mu.Unlock()

	if err := l.Allow("fresh"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	l.mu.Lock()
	_, ok := l.clients["stale"]
	l.mu.Unlock()
	if ok {
		t.Error("idle bucket survived eviction")
	}
}
