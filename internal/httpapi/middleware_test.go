package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"larder.org/internal/session"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimitExceeded(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	lim := NewRateLimiter(1, 1, func() time.Time { return now })
	handler := lim.Middleware(okHandler)

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusOK, call("10.0.0.1:1234").Code)
	rr := call("10.0.0.1:5678")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "Too many requests")

	assert.Equal(t, http.StatusOK, call("10.0.0.2:1234").Code, "buckets are per IP")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234").Code)
}

func TestRateLimiterPrune(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	lim := NewRateLimiter(5, 1, func() time.Time { return now })
	lim.reserve("10.0.0.1")
	now = now.Add(4 * time.Minute)
	lim.reserve("10.0.0.2")

	now = now.Add(2 * time.Minute)
	n, err := lim.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, lim.buckets, 1)
	assert.Contains(t, lim.buckets, "10.0.0.2")
}

func TestRequestID(t *testing.T) {
	handler := RequestID(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "bad id\twith spaces")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	got := rr.Header().Get(requestIDHeader)
	assert.NotEqual(t, "bad id\twith spaces", got)
	assert.Regexp(t, requestIDRe, got)
}

func TestLoggingWritesRequestLine(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestID(Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/reset-password/deadbeef", nil)
	req.Header.Set(requestIDHeader, "req-1")
	req.RemoteAddr = "10.0.0.9:1000"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request_complete").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, "10.0.0.9", fields["ip"])
	assert.NotContains(t, fields["path"], "deadbeef")
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	csp := rr.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'self'")
	assert.Contains(t, csp, "frame-ancestors 'none'")
}

func TestCSRF(t *testing.T) {
	handler := CSRF(okHandler)
	sess := &session.Session{CSRFToken: "tok"}

	post := func(path, body string, header string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if header != "" {
			req.Header.Set("X-CSRF-Token", header)
		}
		req = req.WithContext(session.WithSession(req.Context(), sess))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, post("/forgot-password", "_csrf=tok", ""))
	assert.Equal(t, http.StatusOK, post("/forgot-password", "", "tok"))
	assert.Equal(t, http.StatusForbidden, post("/forgot-password", "_csrf=nope", ""))
	assert.Equal(t, http.StatusForbidden, post("/logout", "", ""))
	assert.Equal(t, http.StatusOK, post("/login", "", ""))
	assert.Equal(t, http.StatusOK, post("/login/", "", ""))
	assert.Equal(t, http.StatusOK, post("/signup", "", ""))

	req := httptest.NewRequest(http.MethodGet, "/forgot-password", nil)
	req = req.WithContext(session.WithSession(req.Context(), sess))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMaxBodyBytes(t *testing.T) {
	handler := MaxBodyBytes(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("email=far-too-long@example.com"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
