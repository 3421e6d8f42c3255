package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.GET("/api/x", rl.RateLimiterMiddleware(KeyByIP), func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := hit("10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, w.Code)
		}
	}

	w := hit("10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: got %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", w.Header().Get("Retry-After"))
	}

	if w := hit("10.0.0.2"); w.Code != http.StatusOK {
		t.Fatalf("other client should have its own bucket, got %d", w.Code)
	}

	now = now.Add(61 * time.Second)
	if w := hit("10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("new window should reset, got %d", w.Code)
	}
}

func TestRateLimiter_Prune(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10, time.Minute)
	rl.now = func() time.Time { return now }

	rl.allow("a")
	now = now.Add(30 * time.Second)
	rl.allow("b")
	now = now.Add(45 * time.Second)

	removed, err := rl.Prune(context.Background())
	if err != nil || removed != 1 {
		t.Fatalf("Prune = %d, %v; want 1", removed, err)
	}
	if _, ok := rl.clients["b"]; !ok {
		t.Fatalf("live bucket was pruned")
	}
}

func TestRateLimiter_KeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(1, time.Minute)

	r := gin.New()
	r.GET("/api/me",
		func(c *gin.Context) {
			if id := c.GetHeader("X-Test-User"); id != "" {
				c.Set(CtxUserID, id)
			}
			c.Next()
		},
		rl.RateLimiterMiddleware(KeyByUserOrIP),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	hit := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		if userID != "" {
			req.Header.Set("X-Test-User", userID)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	// two users behind one address get separate buckets
	if code := hit("alice"); code != http.StatusOK {
		t.Fatalf("alice first: got %d", code)
	}
	if code := hit("bob"); code != http.StatusOK {
		t.Fatalf("bob first: got %d", code)
	}
	if code := hit("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("alice second: got %d, want 429", code)
	}

	// without an identity the address is the key
	if code := hit(""); code != http.StatusOK {
		t.Fatalf("anonymous first: got %d", code)
	}
	if code := hit(""); code != http.StatusTooManyRequests {
		t.Fatalf("anonymous second: got %d, want 429", code)
	}
}
