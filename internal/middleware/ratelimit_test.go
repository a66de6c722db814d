package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestRateLimiter(generalBurst, postCreateBurst int) *RateLimiter {
	return NewRateLimiter(RateLimiterConfig{
		GeneralRate:     rate.Limit(0.001), // 補充をほぼゼロにしてバーストのみで検証
		GeneralBurst:    generalBurst,
		PostCreateRate:  rate.Limit(0.001),
		PostCreateBurst: postCreateBurst,
		CleanupInterval: time.Hour,
	})
}

func doRateLimitedRequest(t *testing.T, mw func(next http.Handler) http.Handler, userID string) int {
	t.Helper()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	if userID != "" {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)
	return w.Result().StatusCode
}

func TestGeneralMiddleware_WithinLimit_Allows(t *testing.T) {
	rl := newTestRateLimiter(3, 1)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	for i := 0; i < 3; i++ {
		if status := doRateLimitedRequest(t, mw, "user-1"); status != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, status, http.StatusOK)
		}
	}
}

func TestGeneralMiddleware_OverLimit_Returns429(t *testing.T) {
	rl := newTestRateLimiter(2, 1)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	doRateLimitedRequest(t, mw, "user-1")
	doRateLimitedRequest(t, mw, "user-1")

	if status := doRateLimitedRequest(t, mw, "user-1"); status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", status, http.StatusTooManyRequests)
	}
}

func TestGeneralMiddleware_429IncludesRetryAfter(t *testing.T) {
	rl := newTestRateLimiter(1, 1)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	doRateLimitedRequest(t, mw, "user-1")

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req = req.WithContext(ContextWithUserID(req.Context(), "user-1"))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}
}

func TestGeneralMiddleware_SeparateUsersHaveSeparateLimits(t *testing.T) {
	rl := newTestRateLimiter(1, 1)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	if status := doRateLimitedRequest(t, mw, "user-1"); status != http.StatusOK {
		t.Fatalf("user-1 first request: status = %d, want %d", status, http.StatusOK)
	}
	if status := doRateLimitedRequest(t, mw, "user-2"); status != http.StatusOK {
		t.Errorf("user-2 should not be affected by user-1's limit, got %d", status)
	}
}

func TestGeneralMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := newTestRateLimiter(1, 1)
	defer rl.Stop()

	if status := doRateLimitedRequest(t, rl.GeneralMiddleware(), ""); status != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestPostCreationMiddleware_IndependentOfGeneralLimit(t *testing.T) {
	rl := newTestRateLimiter(1, 1)
	defer rl.Stop()

	// API全般の制限を使い切っても記事作成の制限は別カウント
	doRateLimitedRequest(t, rl.GeneralMiddleware(), "user-1")
	if status := doRateLimitedRequest(t, rl.PostCreationMiddleware(), "user-1"); status != http.StatusOK {
		t.Errorf("post creation should have its own bucket, got %d", status)
	}
}

func TestLimiterBucket_CleanupRemovesStaleEntries(t *testing.T) {
	bucket := &limiterBucket{
		name:     "general",
		rateVal:  rate.Limit(1),
		burst:    1,
		limiters: make(map[string]*userLimiter),
	}

	bucket.get("user-1")
	bucket.get("user-2")
	if got := bucket.count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}

	// 最終アクセスを過去にずらしてクリーンアップ対象にする
	bucket.mu.Lock()
	bucket.limiters["user-1"].lastAccess = time.Now().Add(-1 * time.Hour)
	bucket.mu.Unlock()

	bucket.cleanup(30 * time.Minute)

	if got := bucket.count(); got != 1 {
		t.Errorf("count after cleanup = %d, want 1", got)
	}
}
