package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowPermitsUpToBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 3, CleanupInterval: time.Hour})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.allow("client-a") {
			t.Fatalf("allow() call %d = false, want true within burst", i+1)
		}
	}
	if rl.allow("client-a") {
		t.Fatalf("allow() after exhausting burst = true, want false")
	}
}

func TestAllowTracksClientsIndependently(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	if !rl.allow("client-a") {
		t.Fatalf("allow(client-a) first call = false, want true")
	}
	if !rl.allow("client-b") {
		t.Fatalf("allow(client-b) first call = false, want true (separate bucket)")
	}
	if rl.allow("client-a") {
		t.Fatalf("allow(client-a) second call = true, want false")
	}
}

func TestMiddlewareRejectsWithTooManyRequests(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	req.RemoteAddr = "127.0.0.1:5555"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Errorf("Retry-After header missing on 429 response")
	}
}

func TestCleanupRemovesStaleBuckets(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	rl.allow("stale-client")
	rl.mu.Lock()
	rl.buckets["stale-client"].lastRefill = time.Now().Add(-3 * time.Hour)
	rl.mu.Unlock()

	rl.cleanup()

	rl.mu.RLock()
	_, exists := rl.buckets["stale-client"]
	rl.mu.RUnlock()
	if exists {
		t.Fatalf("cleanup() left a bucket idle for 3h with a 1h interval, want it evicted")
	}
}
