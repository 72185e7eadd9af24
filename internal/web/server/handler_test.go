package server

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/relay/internal/dispatch"
	"github.com/conduit-lang/relay/internal/interaction"
	"github.com/conduit-lang/relay/internal/manifest"
	"github.com/conduit-lang/relay/internal/web/auth"
	"github.com/conduit-lang/relay/internal/web/middleware"
	"github.com/conduit-lang/relay/internal/web/profiling"
	"github.com/conduit-lang/relay/internal/web/ratelimit"
)

const (
	pingBody      = `{"type":1}`
	voteBody      = `{"type":3,"data":{"custom_id":"vote_yes","component_type":2}}`
	closeBody     = `{"type":3,"data":{"custom_id":"close","component_type":2}}`
	brokenBody    = `{"type":3,"data":{"custom_id":"broken","component_type":2}}`
	unknownBody   = `{"type":3,"data":{"custom_id":"nothing_here_at_all","component_type":2}}`
	authorizeBody = `{"type":1,"event":{"type":"APPLICATION_AUTHORIZED","data":{}}}`
)

type signer struct {
	priv     ed25519.PrivateKey
	verifier *auth.Verifier
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(hex.EncodeToString(pub))
	require.NoError(t, err)
	return &signer{priv: priv, verifier: verifier}
}

func (s *signer) request(path, body string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(auth.SignatureHeader, auth.Sign(s.priv, []byte(body), ts))
	req.Header.Set(auth.TimestampHeader, ts)
	return req
}

func coordinator(t *testing.T, s *signer, register func(b *manifest.Builder)) *dispatch.Coordinator {
	t.Helper()
	b := manifest.NewBuilder(manifest.Defaults{})
	register(b)
	m, err := b.Build()
	require.NoError(t, err)
	return dispatch.New(m, s.verifier)
}

func standard(b *manifest.Builder) {
	b.AddComponent(interaction.ComponentButton, "vote_:choice", func(ctx context.Context, ic *interaction.Context) (any, error) {
		return map[string]any{"type": 4, "data": map[string]string{"content": "voted " + ic.Param("choice")}}, nil
	}, nil)
	b.AddComponent(interaction.ComponentButton, "close", func(ctx context.Context, ic *interaction.Context) (any, error) {
		return nil, nil
	}, nil)
	b.AddComponent(interaction.ComponentButton, "broken", func(ctx context.Context, ic *interaction.Context) (any, error) {
		return nil, errors.New("database down")
	}, nil)
	b.AddEvent(manifest.EventApplicationAuthorized, "fails", func(ctx context.Context, ic *interaction.Context) (any, error) {
		return nil, errors.New("nope")
	}, nil)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestInteractionStatusMapping(t *testing.T) {
	s := newSigner(t)
	h := NewHandler(coordinator(t, s, standard), Options{})

	unsigned := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(pingBody))
	signed := s.request("/interactions", voteBody)
	tampered := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(`{"type":3,"data":{"custom_id":"vote_no","component_type":2}}`))
	tampered.Header = signed.Header.Clone()

	tests := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"missing headers", unsigned, http.StatusUnauthorized, CodeUnauthorized},
		{"tampered body", tampered, http.StatusUnauthorized, CodeUnauthorized},
		{"malformed envelope", s.request("/interactions", `{"type":`), http.StatusBadRequest, CodeBadRequest},
		{"ping", s.request("/interactions", pingBody), http.StatusOK, ""},
		{"no handler", s.request("/interactions", unknownBody), http.StatusNoContent, ""},
		{"handler value", s.request("/interactions", voteBody), http.StatusOK, ""},
		{"nil value", s.request("/interactions", closeBody), http.StatusNoContent, ""},
		{"handler failure", s.request("/interactions", brokenBody), http.StatusInternalServerError, CodeHandlerFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req)

			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
			if tt.code != "" {
				resp := decodeError(t, rec)
				assert.Equal(t, tt.code, resp.Error.Code)
				assert.Equal(t, tt.status, resp.Status)
				assert.Equal(t, "/interactions", resp.Path)
				assert.Equal(t, rec.Header().Get(middleware.RequestIDHeader), resp.RequestID)
			}
		})
	}
}

func TestInteractionResponses(t *testing.T) {
	s := newSigner(t)
	h := NewHandler(coordinator(t, s, standard), Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, s.request("/interactions", pingBody))
	assert.JSONEq(t, `{"type":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, s.request("/interactions", voteBody))
	assert.JSONEq(t, `{"type":4,"data":{"content":"voted yes"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, s.request("/interactions", brokenBody))
	resp := decodeError(t, rec)
	assert.Equal(t, "broken", resp.Error.Details["handler"])
	assert.NotContains(t, rec.Body.String(), "database down")
}

func TestEventsAlwaysAcknowledge(t *testing.T) {
	s := newSigner(t)
	h := NewHandler(coordinator(t, s, standard), Options{})

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"unsigned", httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(pingBody)), http.StatusUnauthorized},
		{"ping", s.request("/events", `{"type":0}`), http.StatusNoContent},
		{"failing subscriber", s.request("/events", authorizeBody), http.StatusNoContent},
		{"no subscribers", s.request("/events", `{"type":1,"event":{"type":"ENTITLEMENT_CREATE","data":{}}}`), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestBodyLimit(t *testing.T) {
	s := newSigner(t)
	h := NewHandler(coordinator(t, s, standard), Options{MaxBodyBytes: 16})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, s.request("/interactions", voteBody))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, CodePayloadTooLarge, decodeError(t, rec).Error.Code)
}

func TestCustomPaths(t *testing.T) {
	s := newSigner(t)
	h := NewHandler(coordinator(t, s, standard), Options{InteractionsPath: "/discord/interactions"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, s.request("/discord/interactions", pingBody))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, s.request("/interactions", pingBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).Error.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/discord/interactions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newSigner(t)
	h := NewHandler(coordinator(t, s, standard), Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(4), body["handlers"])
}

func TestSwapCoordinator(t *testing.T) {
	s := newSigner(t)
	first := coordinator(t, s, standard)
	h := NewHandler(first, Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, s.request("/interactions", unknownBody))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	next := coordinator(t, s, func(b *manifest.Builder) {
		b.AddComponent(interaction.ComponentButton, ":a_:b_:c_:d", func(ctx context.Context, ic *interaction.Context) (any, error) {
			return map[string]string{"last": ic.Param("d")}, nil
		}, nil)
	})
	assert.Same(t, first, h.Swap(next))
	assert.Same(t, next, h.Coordinator())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, s.request("/interactions", unknownBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"last":"all"}`, rec.Body.String())
}

func TestAdminRoutes(t *testing.T) {
	s := newSigner(t)
	svc, err := auth.NewAuthService("secret", time.Hour)
	require.NoError(t, err)
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)

	monitor := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := NewHandler(coordinator(t, s, standard), Options{
		Auth:        svc,
		Credentials: auth.Credentials{Username: "ops", PasswordHash: hash},
		Monitor:     monitor,
	})

	login := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/token", strings.NewReader(body)))
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, login(`{"username":"ops","password":"wrong"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, login(`{"username":"root","password":"hunter2"}`).Code)
	assert.Equal(t, http.StatusBadRequest, login(`not json`).Code)

	rec := login(`{"username":"ops","password":"hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var token tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, int64(3600), token.ExpiresIn)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/routes", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/routes", nil)
	req.Header.Set("Authorization", "Bearer "+token.Token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var artifact manifest.Artifact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &artifact))
	require.Len(t, artifact.Handlers, 4)
	assert.Equal(t, "vote_:choice", artifact.Handlers[0].Key)

	req = httptest.NewRequest(http.MethodGet, "/admin/monitor?access_token="+token.Token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestAdminDisabled(t *testing.T) {
	s := newSigner(t)
	h := NewHandler(coordinator(t, s, standard), Options{})

	for _, path := range []string{"/admin/routes", "/admin/monitor"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestLoginDisabledWithoutCredentials(t *testing.T) {
	s := newSigner(t)
	svc, err := auth.NewAuthService("secret", time.Hour)
	require.NoError(t, err)
	h := NewHandler(coordinator(t, s, standard), Options{Auth: svc})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/token", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginThrottled(t *testing.T) {
	s := newSigner(t)
	svc, err := auth.NewAuthService("secret", time.Hour)
	require.NoError(t, err)
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	limiter, err := ratelimit.NewMemory(ratelimit.Config{Limit: 2, Window: time.Minute})
	require.NoError(t, err)
	defer limiter.Close()

	h := NewHandler(coordinator(t, s, standard), Options{
		Auth:         svc,
		Credentials:  auth.Credentials{Username: "ops", PasswordHash: hash},
		LoginLimiter: limiter,
	})

	login := func(ip, password string) int {
		req := httptest.NewRequest(http.MethodPost, "/admin/token", strings.NewReader(`{"username":"ops","password":"`+password+`"}`))
		req.RemoteAddr = ip + ":5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, login("198.51.100.1", "guess1"))
	assert.Equal(t, http.StatusUnauthorized, login("198.51.100.1", "guess2"))
	// Even the right password is refused once the address is throttled.
	assert.Equal(t, http.StatusTooManyRequests, login("198.51.100.1", "hunter2"))
	assert.Equal(t, http.StatusOK, login("198.51.100.2", "hunter2"))

	// Only the login route is throttled.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminDebugRoutes(t *testing.T) {
	s := newSigner(t)
	svc, err := auth.NewAuthService("secret", time.Hour)
	require.NoError(t, err)
	h := NewHandler(coordinator(t, s, standard), Options{
		Auth:      svc,
		Profiling: &profiling.Config{},
	})

	reader, err := svc.GenerateToken("ops", []string{ScopeRoutes})
	require.NoError(t, err)
	debugger, err := svc.GenerateToken("ops", []string{ScopeDebug})
	require.NoError(t, err)

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, get("/admin/debug/stats", "").Code)
	assert.Equal(t, http.StatusForbidden, get("/admin/debug/stats", reader).Code)

	rec := get("/admin/debug/stats", debugger)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"goroutines"`)
	assert.Equal(t, http.StatusOK, get("/admin/debug/pprof/heap", debugger).Code)
}
