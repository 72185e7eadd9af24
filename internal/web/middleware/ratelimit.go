package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/relay/internal/web/ratelimit"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// the limiter.
type KeyFunc func(*http.Request) string

// RateLimit rejects requests once limiter denies their key. Limiter errors
// are logged and the request is let through.
func RateLimit(limiter ratelimit.Limiter, key KeyFunc, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := limiter.Allow(r.Context(), k)
			if err != nil {
				logger.Warn("rate limiter unavailable",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retry := d.RetryAfter(time.Now())
				w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
				logger.Warn("rate limit exceeded",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("key", k),
					zap.String("path", r.URL.Path),
				)
				writeTooManyRequests(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by the first X-Forwarded-For address, then
// X-Real-IP, then the connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeTooManyRequests(w http.ResponseWriter) {
	jsonData, _ := json.Marshal(map[string]string{
		"error":   "too_many_requests",
		"message": "Too many attempts, try again later",
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write(jsonData)
}
