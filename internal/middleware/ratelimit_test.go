package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mvitabar/comandero/internal/model"
)

func authedRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	identity := &model.Identity{UserID: userID, TenantID: "tenant-1"}
	return req.WithContext(ContextWithIdentity(req.Context(), identity))
}

func TestRateLimiter_AllowsRequestsWithinBurst(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		NotifyRate:      1,
		NotifyBurst:     10,
		CleanupInterval: time.Minute,
	}
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest("user-1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}
}

func TestRateLimiter_RejectsRequestsOverBurst(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     0.01, // ほぼ補充されない
		GeneralBurst:    2,
		NotifyRate:      1,
		NotifyBurst:     1,
		CleanupInterval: time.Minute,
	}
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, authedRequest("user-1"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("user-1"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
}

func TestRateLimiter_LimitsPerUser(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     0.01,
		GeneralBurst:    1,
		NotifyRate:      1,
		NotifyBurst:     1,
		CleanupInterval: time.Minute,
	}
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// user-1がバーストを使い切る
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("user-1"))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("user-1"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("user-1 second request: status = %d, want 429", w.Result().StatusCode)
	}

	// user-2には影響しない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("user-2"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("user-2: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRateLimiter_NotificationTierIsIndependent(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     0.01,
		GeneralBurst:    1,
		NotifyRate:      0.01,
		NotifyBurst:     1,
		CleanupInterval: time.Minute,
	}
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	general := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	notify := rl.NotificationMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// API全般のバーストを使い切っても通知作成は通る
	w := httptest.NewRecorder()
	general.ServeHTTP(w, authedRequest("user-1"))
	w = httptest.NewRecorder()
	notify.ServeHTTP(w, authedRequest("user-1"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("notify: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRateLimiter_UnauthenticatedRequest_Returns401(t *testing.T) {
	rl := NewRateLimiter(NewRateLimiterConfig(120, 30))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestNewRateLimiterConfig_ConvertsPerMinuteRates(t *testing.T) {
	cfg := NewRateLimiterConfig(120, 30)

	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.NotifyBurst != 30 {
		t.Errorf("NotifyBurst = %d, want 30", cfg.NotifyBurst)
	}
	if float64(cfg.GeneralRate) != 2.0 {
		t.Errorf("GeneralRate = %v, want 2.0", cfg.GeneralRate)
	}
	if float64(cfg.NotifyRate) != 0.5 {
		t.Errorf("NotifyRate = %v, want 0.5", cfg.NotifyRate)
	}
}

func TestRateLimiter_LimiterCounts(t *testing.T) {
	rl := NewRateLimiter(NewRateLimiterConfig(120, 30))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), authedRequest("user-1"))
	handler.ServeHTTP(httptest.NewRecorder(), authedRequest("user-2"))

	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", got)
	}
	if got := rl.NotifyLimiterCount(); got != 0 {
		t.Errorf("NotifyLimiterCount = %d, want 0", got)
	}
}
