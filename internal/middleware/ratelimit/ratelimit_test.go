package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllow(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 2})
	defer rl.Stop()

	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	steps := []struct {
		advance time.Duration
		key     string
		want    bool
	}{
		{0, "u1", true},
		{10 * time.Second, "u1", true},
		{10 * time.Second, "u1", false},
		{0, "u2", true},
		// window is anchored at the first request, not the last one
		{40 * time.Second, "u1", true},
		{0, "u1", true},
		{0, "u1", false},
	}
	for i, s := range steps {
		now = now.Add(s.advance)
		if got := rl.Allow(s.key); got != s.want {
			t.Errorf("step %d: Allow(%q) = %v, want %v", i, s.key, got, s.want)
		}
	}

	m := rl.GetMetrics()
	if m.Rejected != 2 || m.ClientCount != 2 {
		t.Errorf("metrics = %+v", m)
	}

	now = now.Add(11 * time.Minute)
	rl.cleanupStaleEntries()
	if got := rl.GetMetrics().ClientCount; got != 0 {
		t.Errorf("stale entries left: %d", got)
	}
}

func TestMiddleware(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 1})
	defer rl.Stop()

	h := rl.Middleware(func(r *http.Request) string { return r.Header.Get("X-User") }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/budgets", nil)
		if user != "" {
			req.Header.Set("X-User", user)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := call("u1"); rr.Code != http.StatusNoContent {
		t.Fatalf("first call = %d", rr.Code)
	}
	rr := call("u1")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Errorf("second call = %d, Retry-After %q", rr.Code, rr.Header().Get("Retry-After"))
	}
	for range 3 {
		if rr := call(""); rr.Code != http.StatusNoContent {
			t.Errorf("keyless call limited: %d", rr.Code)
		}
	}
}
