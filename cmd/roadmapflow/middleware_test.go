package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/roadmapflow/config"
	"github.com/BaSui01/roadmapflow/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.TraceID(r.Context())
	})
	handler := Chain(inner, SecurityHeaders(), RequestID())

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))

		id := w.Header().Get("X-Request-ID")
		assert.Regexp(t, `^req-[0-9a-f]{32}$`, id)
		assert.Equal(t, id, seen)
		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	})

	t.Run("preserved", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
		r.Header.Set("X-Request-ID", "client-123")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, "client-123", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "client-123", seen)
	})
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	Recovery(zaptest.NewLogger(t))(panicking).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, string(types.ErrInternalError), body.Error.Code)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/api/v1/status", "/api/v1/status"},
		{"/api/v1/tasks", "/api/v1/tasks"},
		{"/api/v1/tasks/4f0c2a7e-9b1d-4c8e-a1f2-0d3e4b5c6a7f", "/api/v1/tasks/:id"},
		{"/api/v1/tasks/01HZX3K8Q9R2T4V6W8Y0A2C4E6/approve", "/api/v1/tasks/:id/approve"},
		{"/api/v1/tasks/anything/events", "/api/v1/tasks/:id/events"},
		{"/other/12345", "/other/:id"},
		{"/other/static", "/other/static"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(1, 2, zap.NewNop())
	defer limiter.Stop()
	handler := limiter.Middleware()(okHandler())

	do := func(remote string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1002"))
	// 其他 IP 有独立的令牌桶
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000"))

	t.Run("update applies to existing visitors", func(t *testing.T) {
		limiter.Update(1000, 50)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, http.StatusOK, do("10.0.0.1:1003"))
	})

	t.Run("zero rps disables limiting", func(t *testing.T) {
		limiter.Update(0, 0)
		for i := 0; i < 10; i++ {
			assert.Equal(t, http.StatusOK, do("10.0.0.3:1000"))
		}
	})
}

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestReviewerAuth(t *testing.T) {
	var reviewer string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reviewer, _ = types.Reviewer(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})

	cfg := config.AuthConfig{JWTSecret: "s3cret", Issuer: "roadmapflow", Audience: "reviewers"}
	handler := ReviewerAuth(cfg, zaptest.NewLogger(t))(inner)

	valid := jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "roadmapflow",
		Audience:  jwt.ClaimStrings{"reviewers"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	approve := func(token string) *httptest.ResponseRecorder {
		reviewer = ""
		r := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t1/approve", nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	t.Run("valid token", func(t *testing.T) {
		w := approve(signToken(t, "s3cret", valid))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "alice", reviewer)
	})

	t.Run("missing token on approve", func(t *testing.T) {
		w := approve("")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		w := approve(signToken(t, "other", valid))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := valid
		claims.Audience = jwt.ClaimStrings{"someone-else"}
		w := approve(signToken(t, "s3cret", claims))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired", func(t *testing.T) {
		claims := valid
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		w := approve(signToken(t, "s3cret", claims))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing token on resume", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t1/resume", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("other routes do not require a token", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t1", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Empty(t, reviewer)
	})
}

func TestReviewerAuth_NoSecretUsesHeader(t *testing.T) {
	var reviewer string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reviewer, _ = types.Reviewer(r.Context())
	})
	handler := ReviewerAuth(config.AuthConfig{}, zap.NewNop())(inner)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t1/approve", nil)
	r.Header.Set("X-Reviewer", "bob")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", reviewer)
}
