package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/relay/internal/dispatch"
	"github.com/conduit-lang/relay/internal/interaction"
	"github.com/conduit-lang/relay/internal/web/auth"
	"github.com/conduit-lang/relay/internal/web/middleware"
	"github.com/conduit-lang/relay/internal/web/profiling"
	"github.com/conduit-lang/relay/internal/web/ratelimit"
)

// Admin token scopes.
const (
	ScopeRoutes  = "routes:read"
	ScopeMonitor = "monitor:read"
	ScopeDebug   = "debug:read"
)

// DefaultMaxBodyBytes caps request bodies when Options leaves it unset.
const DefaultMaxBodyBytes int64 = 1 << 20

// Options configures a Handler.
type Options struct {
	Logger *zap.Logger

	InteractionsPath string
	EventsPath       string
	MaxBodyBytes     int64

	// Auth enables the /admin routes. Nil disables them.
	Auth *auth.AuthService
	// Credentials enables POST /admin/token when configured.
	Credentials auth.Credentials
	// LoginLimiter throttles POST /admin/token per client address when set.
	LoginLimiter ratelimit.Limiter
	// Monitor serves GET /admin/monitor when set.
	Monitor http.Handler
	// Profiling serves /admin/debug/pprof and /admin/debug/stats when set.
	Profiling *profiling.Config
}

// Handler routes platform webhooks to the current coordinator. The
// coordinator can be swapped while requests are in flight.
type Handler struct {
	coordinator atomic.Pointer[dispatch.Coordinator]
	mux         chi.Router
	opts        Options
	logger      *zap.Logger
}

// NewHandler builds the route table around c.
func NewHandler(c *dispatch.Coordinator, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.InteractionsPath == "" {
		opts.InteractionsPath = "/interactions"
	}
	if opts.EventsPath == "" {
		opts.EventsPath = "/events"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	h := &Handler{
		opts:   opts,
		logger: opts.Logger,
	}
	h.coordinator.Store(c)
	h.mux = h.routes()
	return h
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.NewChain(
		middleware.RequestID(),
		middleware.Recovery(h.logger),
		middleware.Logging(h.logger, "/healthz"),
	).Middlewares()...)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
	})

	r.Post(h.opts.InteractionsPath, h.handleInteraction)
	r.Post(h.opts.EventsPath, h.handleEvent)
	r.Get("/healthz", h.handleHealth)

	if h.opts.Auth != nil {
		r.Route("/admin", func(r chi.Router) {
			if h.opts.Credentials.Enabled() {
				login := r.With()
				if h.opts.LoginLimiter != nil {
					login = r.With(middleware.RateLimit(h.opts.LoginLimiter, middleware.ClientIP, h.logger))
				}
				login.Post("/token", h.handleToken)
			}
			r.With(middleware.AdminAuth(h.opts.Auth, ScopeRoutes)).Get("/routes", h.handleRoutes)
			if h.opts.Monitor != nil {
				r.With(middleware.AdminAuth(h.opts.Auth, ScopeMonitor)).Handle("/monitor", h.opts.Monitor)
			}
			if h.opts.Profiling != nil {
				r.Route("/debug", func(r chi.Router) {
					r.Use(middleware.AdminAuth(h.opts.Auth, ScopeDebug))
					profiling.RegisterRoutes(r, *h.opts.Profiling)
				})
			}
		})
	}
	return r
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Coordinator returns the coordinator currently serving requests.
func (h *Handler) Coordinator() *dispatch.Coordinator {
	return h.coordinator.Load()
}

// Swap installs c for subsequent requests and returns the previous one.
// Requests already dispatching finish on the coordinator they started with.
func (h *Handler) Swap(c *dispatch.Coordinator) *dispatch.Coordinator {
	return h.coordinator.Swap(c)
}

func (h *Handler) handleInteraction(w http.ResponseWriter, r *http.Request) {
	out, ok := h.dispatch(w, r)
	if !ok {
		return
	}

	switch out.Kind {
	case dispatch.Unauthorized:
		WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, out.Reason)
	case dispatch.BadRequest:
		WriteError(w, r, http.StatusBadRequest, CodeBadRequest, out.Reason)
	case dispatch.Pong:
		writeJSON(w, http.StatusOK, interaction.Pong())
	case dispatch.NoMatchingHandler:
		// A miss is acknowledged like a handler with nothing to say.
		w.WriteHeader(http.StatusNoContent)
	case dispatch.Dispatched:
		if out.Failed() {
			WriteErrorWithDetails(w, r, http.StatusInternalServerError, CodeHandlerFailed, "handler failed", map[string]any{
				"handler": out.Results[0].Key,
			})
			return
		}
		value, _ := out.Value()
		if value == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, value)
	}
}

// handleEvent acknowledges every authentic event with 204. Handler
// failures are reported through logs and the monitor; a non-2xx answer
// would make the platform redeliver to every subscriber.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	out, ok := h.dispatch(w, r)
	if !ok {
		return
	}

	switch out.Kind {
	case dispatch.Unauthorized:
		WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, out.Reason)
	case dispatch.BadRequest:
		WriteError(w, r, http.StatusBadRequest, CodeBadRequest, out.Reason)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) (*dispatch.Outcome, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, r, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request body too large")
			return nil, false
		}
		WriteError(w, r, http.StatusBadRequest, CodeBadRequest, "failed to read request body")
		return nil, false
	}

	out := h.Coordinator().Dispatch(r.Context(), body, r.Header,
		dispatch.WithRequestID(middleware.GetRequestID(r.Context())))
	return out, true
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	m := h.Coordinator().Router().Manifest()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"handlers": m.Len(),
		"built_at": m.BuiltAt().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Coordinator().Router().Manifest().Artifact())
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid login body")
		return
	}

	if err := h.opts.Credentials.Check(req.Username, req.Password); err != nil {
		h.logger.Warn("admin login rejected", zap.String("username", req.Username))
		WriteError(w, r, http.StatusUnauthorized, CodeUnauthorized, "invalid credentials")
		return
	}

	token, err := h.opts.Auth.GenerateToken(req.Username, []string{ScopeRoutes, ScopeMonitor})
	if err != nil {
		h.logger.Error("failed to issue admin token", zap.Error(err))
		WriteError(w, r, http.StatusInternalServerError, CodeInternal, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(h.opts.Auth.TokenTTL() / time.Second),
	})
}
