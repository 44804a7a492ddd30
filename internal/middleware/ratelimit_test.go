package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestRateLimiter(burst int) *RateLimiter {
	return NewRateLimiter(RateLimiterConfig{
		Rate:            rate.Limit(float64(burst) / 60.0),
		Burst:           burst,
		CleanupInterval: time.Minute,
	})
}

func doLimitedRequest(handler http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req = req.WithContext(ContextWithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterMiddleware_AllowsWithinBurst(t *testing.T) {
	rl := newTestRateLimiter(5)
	defer rl.Stop()

	handler := rl.Middleware()(okHandler())

	for i := 0; i < 5; i++ {
		if rec := doLimitedRequest(handler, "user-1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}
}

func TestRateLimiterMiddleware_DeniesAfterBurst(t *testing.T) {
	rl := newTestRateLimiter(3)
	defer rl.Stop()

	handler := rl.Middleware()(okHandler())

	for i := 0; i < 3; i++ {
		doLimitedRequest(handler, "user-1")
	}

	rec := doLimitedRequest(handler, "user-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
	if body := decodeErrorBody(t, rec); body.Code != "RATE_LIMITED" {
		t.Errorf("error code = %q, want RATE_LIMITED", body.Code)
	}
}

func TestRateLimiterMiddleware_UsersAreIndependent(t *testing.T) {
	rl := newTestRateLimiter(1)
	defer rl.Stop()

	handler := rl.Middleware()(okHandler())

	doLimitedRequest(handler, "user-a")
	if rec := doLimitedRequest(handler, "user-a"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request for user-a: status = %d, want 429", rec.Code)
	}

	if rec := doLimitedRequest(handler, "user-b"); rec.Code != http.StatusOK {
		t.Errorf("first request for user-b: status = %d, want 200", rec.Code)
	}
}

func TestRateLimiterMiddleware_RequiresUserID(t *testing.T) {
	rl := newTestRateLimiter(5)
	defer rl.Stop()

	handler := rl.Middleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	rl := newTestRateLimiter(5)
	defer rl.Stop()

	handler := rl.Middleware()(okHandler())
	doLimitedRequest(handler, "stale-user")
	doLimitedRequest(handler, "fresh-user")

	rl.mu.Lock()
	rl.limiters["stale-user"].lastAccess = time.Now().Add(-3 * time.Minute)
	rl.mu.Unlock()

	rl.cleanup()

	if count := rl.LimiterCount(); count != 1 {
		t.Errorf("limiter count = %d, want 1 after cleanup", count)
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.Rate != rate.Limit(2.0) {
		t.Errorf("Rate = %v, want 2 req/sec", cfg.Rate)
	}
	if cfg.Burst != 120 {
		t.Errorf("Burst = %d, want 120", cfg.Burst)
	}
}
