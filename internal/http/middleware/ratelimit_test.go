package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func rlRequest(t *testing.T, r *gin.Engine, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_AllowsUpToMaxThenRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(3, time.Minute, KeyGlobal())
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/limited", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := rlRequest(t, r, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	w := rlRequest(t, r, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after budget spent, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on rejection")
	}
	if w.Header().Get("X-RateLimit-Limit") != "3" {
		t.Fatalf("X-RateLimit-Limit = %q; want 3", w.Header().Get("X-RateLimit-Limit"))
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q; want 0", w.Header().Get("X-RateLimit-Remaining"))
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["code"] != "too_many_requests" || body["success"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRateLimiter_WindowRollover(t *testing.T) {
	gin.SetMode(gin.TestMode)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	rl := NewRateLimiter(2, time.Minute, KeyGlobal())
	rl.now = func() time.Time { return current }

	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/limited", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Spend the window.
	for i := 0; i < 2; i++ {
		if w := rlRequest(t, r, nil); w.Code != http.StatusOK {
			t.Fatalf("warmup %d: got %d", i, w.Code)
		}
	}
	if w := rlRequest(t, r, nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 at window end, got %d", w.Code)
	}

	// Just shy of the boundary, still rejected.
	current = base.Add(59 * time.Second)
	if w := rlRequest(t, r, nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 before rollover, got %d", w.Code)
	}

	// At the boundary the count resets fully.
	current = base.Add(time.Minute)
	if w := rlRequest(t, r, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 after rollover, got %d", w.Code)
	}
}

func TestRateLimiter_SeparateKeysSeparateBudgets(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(1, time.Minute, KeyByAPIKey())
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/limited", func(c *gin.Context) { c.Status(http.StatusOK) })

	hA := http.Header{}
	hA.Set(APIKeyHeader, "key-a")
	hB := http.Header{}
	hB.Set(APIKeyHeader, "key-b")

	if w := rlRequest(t, r, hA); w.Code != http.StatusOK {
		t.Fatalf("key-a first: got %d", w.Code)
	}
	if w := rlRequest(t, r, hA); w.Code != http.StatusTooManyRequests {
		t.Fatalf("key-a second: expected 429, got %d", w.Code)
	}
	// key-b has a fresh budget.
	if w := rlRequest(t, r, hB); w.Code != http.StatusOK {
		t.Fatalf("key-b first: got %d", w.Code)
	}
}

func TestRateLimiter_EmptyKeySkipsTier(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(1, time.Minute, KeyByAPIKey())
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/limited", func(c *gin.Context) { c.Status(http.StatusOK) })

	// No X-API-Key header, so the tier never applies no matter how many calls.
	for i := 0; i < 5; i++ {
		w := rlRequest(t, r, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d without api key: got %d", i+1, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatalf("skipped tier should not emit rate headers")
		}
	}
}

func TestRateLimiter_ReplayBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(1, time.Minute, KeyGlobal())
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })
	r.Use(rl.Handler())
	r.GET("/limited", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 4; i++ {
		if w := rlRequest(t, r, nil); w.Code != http.StatusOK {
			t.Fatalf("bypassed request %d: got %d", i+1, w.Code)
		}
	}
}

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fn := KeyByUserOrIP()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := fn(c); got != "ip:"+c.ClientIP() {
		t.Fatalf("anonymous key = %q", got)
	}

	c.Set("userID", "u77")
	if got := fn(c); got != "user:u77" {
		t.Fatalf("user key = %q; want user:u77", got)
	}

	// Wrong type falls back to IP.
	c.Set("userID", 77)
	if got := fn(c); got != "ip:"+c.ClientIP() {
		t.Fatalf("wrong-type key = %q", got)
	}
}

func TestRateLimiter_CoercesInvalidConfig(t *testing.T) {
	rl := NewRateLimiter(0, 0, KeyGlobal())
	if rl.max != 1 {
		t.Fatalf("max coercion failed: %d", rl.max)
	}
	if rl.period != time.Minute {
		t.Fatalf("period coercion failed: %v", rl.period)
	}
}

func TestRateLimiter_IdleEviction(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	rl := NewRateLimiter(10, time.Minute, KeyGlobal())
	rl.now = func() time.Time { return current }

	rl.take("stale")
	if _, ok := rl.visitors["stale"]; !ok {
		t.Fatalf("entry not created")
	}

	// Trip the cleanup threshold with the entry past its TTL.
	current = base.Add(rl.ttl + time.Second)
	rl.cleanupN = 4999
	rl.take("fresh")

	if _, ok := rl.visitors["stale"]; ok {
		t.Fatalf("stale entry should have been evicted")
	}
	if _, ok := rl.visitors["fresh"]; !ok {
		t.Fatalf("fresh entry missing after cleanup")
	}
}
