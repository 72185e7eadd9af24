package middleware

import (
	"context"
	"encoding/json"
	"errors"
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

	"github.com/conduit-lang/relay/internal/web/auth"
	"github.com/conduit-lang/relay/internal/web/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := NewChain(mark("first"), mark("second")).Use(mark("third")).Then(okHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Len(t, NewChain(mark("a")).Middlewares(), 1)
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		reuse   bool
	}{
		{"generates when absent", "", false},
		{"reuses inbound", "custom-request-id", true},
		{"replaces oversized", strings.Repeat("x", 200), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fromContext string
			h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fromContext = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set(RequestIDHeader, tt.inbound)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.NotEmpty(t, fromContext)
			assert.Equal(t, fromContext, rec.Header().Get(RequestIDHeader))
			if tt.reuse {
				assert.Equal(t, tt.inbound, fromContext)
			} else {
				assert.NotEqual(t, tt.inbound, fromContext)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Recovery(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/interactions", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_server_error", body["error"])

	entries := logs.FilterMessage("panic recovered").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/interactions", entries[0].ContextMap()["path"])
}

func TestLoggingLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	statuses := map[string]int{"/ok": 200, "/missing": 404, "/broken": 503, "/healthz": 200}
	h := Logging(logger, "/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statuses[r.URL.Path])
	}))

	for path := range statuses {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	byPath := map[string]zapcore.Level{}
	for _, e := range logs.All() {
		byPath[e.ContextMap()["path"].(string)] = e.Level
	}
	assert.Equal(t, map[string]zapcore.Level{
		"/ok":      zapcore.InfoLevel,
		"/missing": zapcore.WarnLevel,
		"/broken":  zapcore.ErrorLevel,
	}, byPath)
}

func TestLoggingCapturesBytes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := RequestID()(Logging(zap.New(core))(okHandler()))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(2), fields["bytes"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestAdminAuth(t *testing.T) {
	svc, err := auth.NewAuthService("test-secret", time.Hour)
	require.NoError(t, err)

	reader, err := svc.GenerateToken("ops", []string{"routes:read"})
	require.NoError(t, err)
	admin, err := svc.GenerateToken("root", []string{"*"})
	require.NoError(t, err)

	other, err := auth.NewAuthService("other-secret", time.Hour)
	require.NoError(t, err)
	forged, err := other.GenerateToken("ops", []string{"*"})
	require.NoError(t, err)

	var subject string
	h := AdminAuth(svc, "routes:read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		require.True(t, ok)
		subject = claims.Subject
	}))
	monitor := AdminAuth(svc, "monitor:read")(okHandler())

	tests := []struct {
		name    string
		handler http.Handler
		header  string
		query   string
		want    int
		subject string
	}{
		{"missing header", h, "", "", http.StatusUnauthorized, ""},
		{"malformed header", h, "Token abc", "", http.StatusUnauthorized, ""},
		{"forged token", h, "Bearer " + forged, "", http.StatusUnauthorized, ""},
		{"valid scope", h, "Bearer " + reader, "", http.StatusOK, "ops"},
		{"lowercase scheme", h, "bearer " + reader, "", http.StatusOK, "ops"},
		{"query token", h, "", "?access_token=" + reader, http.StatusOK, "ops"},
		{"wildcard scope", h, "Bearer " + admin, "", http.StatusOK, "root"},
		{"missing scope", monitor, "Bearer " + reader, "", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(http.MethodGet, "/admin/routes"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.subject, subject)
		})
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (*ratelimit.Decision, error) {
	return nil, errors.New("redis down")
}

func (brokenLimiter) Close() error { return nil }

func TestRateLimit(t *testing.T) {
	limiter, err := ratelimit.NewMemory(ratelimit.Config{Limit: 2, Window: time.Minute})
	require.NoError(t, err)
	defer limiter.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	h := RateLimit(limiter, nil, zap.New(core))(okHandler())

	request := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/token", nil)
		req.RemoteAddr = ip + ":4711"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := request("10.0.0.1")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, request("10.0.0.1").Code)

	denied := request("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.Equal(t, "30", denied.Header().Get("Retry-After"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(denied.Body.Bytes(), &body))
	assert.Equal(t, "too_many_requests", body["error"])
	assert.Equal(t, 1, logs.FilterMessage("rate limit exceeded").Len())

	assert.Equal(t, http.StatusOK, request("10.0.0.2").Code)
}

func TestRateLimitFailsOpen(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := RateLimit(brokenLimiter{}, nil, zap.New(core))(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/token", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("rate limiter unavailable").Len())
}

func TestRateLimitEmptyKeySkips(t *testing.T) {
	h := RateLimit(brokenLimiter{}, func(*http.Request) string { return "" }, nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"ipv6 remote addr", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.9"}, "10.0.0.1:80", "203.0.113.9"},
		{"no port", nil, "pipe", "pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
