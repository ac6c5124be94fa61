package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/test", func(c *gin.Context) {
		id, _ := GetUserID(c)
		c.String(http.StatusOK, id)
	})
	r.POST("/test", func(c *gin.Context) {
		key, _ := GetIdempotencyKey(c)
		c.String(http.StatusOK, key)
	})
	return r
}

func TestRequestID_GeneratesAndReuses(t *testing.T) {
	r := newRouter(RequestID())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "existing-id")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "existing-id", w.Header().Get(RequestIDHeader))
}

func TestRequireIdempotencyKey(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{"missing", "", http.StatusBadRequest},
		{"too long", strings.Repeat("k", maxIdempotencyKeyLength+1), http.StatusBadRequest},
		{"present", "order-attempt-1", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(RequireIdempotencyKey())
			req := httptest.NewRequest(http.MethodPost, "/test", nil)
			if tt.key != "" {
				req.Header.Set(IdempotencyKeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.key, w.Body.String())
			}
		})
	}
}

func TestAuth(t *testing.T) {
	cfg := AuthConfig{Secret: "test-secret", Issuer: "ticket-engine"}
	valid, err := SignToken(cfg, "buyer-1", "", time.Hour)
	require.NoError(t, err)
	expired, err := SignToken(cfg, "buyer-1", "", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := SignToken(AuthConfig{Secret: "other", Issuer: "ticket-engine"}, "buyer-1", "", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		cfg        AuthConfig
		header     string
		userHeader string
		wantStatus int
		wantUser   string
	}{
		{"valid token", cfg, "Bearer " + valid, "", http.StatusOK, "buyer-1"},
		{"missing token", cfg, "", "", http.StatusUnauthorized, ""},
		{"expired token", cfg, "Bearer " + expired, "", http.StatusUnauthorized, ""},
		{"wrong key", cfg, "Bearer " + wrongKey, "", http.StatusUnauthorized, ""},
		{"user header ignored by default", cfg, "", "buyer-2", http.StatusUnauthorized, ""},
		{"user header allowed", AuthConfig{Secret: "x", AllowUserHeader: true}, "", "buyer-2", http.StatusOK, "buyer-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(Auth(tt.cfg))
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.userHeader != "" {
				req.Header.Set(UserIDHeader, tt.userHeader)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantUser, w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	cfg := AuthConfig{Secret: "test-secret"}
	admin, _ := SignToken(cfg, "admin-1", RoleAdmin, time.Hour)
	buyer, _ := SignToken(cfg, "buyer-1", "", time.Hour)

	r := newRouter(Auth(cfg), RequireRole(RoleAdmin))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+buyer)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, rl.Allow("10.0.0.2"), "other clients have their own bucket")

	fixed = fixed.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"), "refilled after one second")
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	r := newRouter(rl.Middleware())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
