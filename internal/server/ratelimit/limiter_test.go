package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLimiter(t *testing.T) {
	t.Parallel()
	t.Run("Burst", func(t *testing.T) {
		t.Parallel()
		l := NewLimiter(60, time.Minute, 3)
		defer l.Close()
		for i := range 3 {
			if res := l.Allow("a"); !res.Allowed {
				t.Fatalf("request %d rejected", i)
			}
		}
		res := l.Allow("a")
		if res.Allowed {
			t.Fatal("request beyond burst allowed")
		}
		if res.RetryAfter < time.Second {
			t.Errorf("RetryAfter = %v", res.RetryAfter)
		}
		if res.Limit != 60 {
			t.Errorf("Limit = %d", res.Limit)
		}
		// Keys are independent.
		if res := l.Allow("b"); !res.Allowed {
			t.Error("other key rejected")
		}
	})
	t.Run("Disabled", func(t *testing.T) {
		t.Parallel()
		l := NewLimiter(0, time.Minute, 10)
		if l != nil {
			t.Fatal("NewLimiter(0) should return nil")
		}
		for range 100 {
			if !l.Allow("a").Allowed {
				t.Fatal("nil limiter rejected")
			}
		}
		l.Close()
	})
	t.Run("Cleanup", func(t *testing.T) {
		t.Parallel()
		l := NewLimiter(60, time.Minute, 1)
		defer l.Close()
		l.Allow("a")
		l.cleanup(time.Now().Add(time.Hour))
		if n := l.size(); n != 1 {
			t.Errorf("drained bucket removed: %d", n)
		}
		l.mu.Lock()
		l.buckets["idle"] = &bucket{limiter: rate.NewLimiter(l.rate, l.burst), lastSeen: time.Now().Add(-time.Hour)}
		l.mu.Unlock()
		l.cleanup(time.Now().Add(-time.Minute))
		if n := l.size(); n != 1 {
			t.Errorf("size = %d, want 1", n)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	l := NewLimiter(60, time.Minute, 1)
	defer l.Close()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	reject := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) })
	h := Middleware(l, func(r *http.Request) string { return r.RemoteAddr }, reject)(ok)

	do := func(method string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(method, "/pages/x", nil))
		return w
	}
	if w := do(http.MethodPost); w.Code != http.StatusNoContent {
		t.Fatalf("first write: %d", w.Code)
	}
	w := do(http.MethodPost)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second write: %d", w.Code)
	}
	if ra, err := strconv.Atoi(w.Header().Get("Retry-After")); err != nil || ra < 1 {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	if w.Header().Get("X-RateLimit-Limit") != "60" {
		t.Errorf("X-RateLimit-Limit = %q", w.Header().Get("X-RateLimit-Limit"))
	}
	for range 5 {
		if w := do(http.MethodGet); w.Code != http.StatusNoContent {
			t.Fatalf("read limited: %d", w.Code)
		}
	}
}

func TestIsWrite(t *testing.T) {
	t.Parallel()
	for m, want := range map[string]bool{
		http.MethodGet:    false,
		http.MethodHead:   false,
		http.MethodPost:   true,
		http.MethodPut:    true,
		http.MethodDelete: true,
	} {
		if got := IsWrite(m); got != want {
			t.Errorf("IsWrite(%s) = %v", m, got)
		}
	}
}
