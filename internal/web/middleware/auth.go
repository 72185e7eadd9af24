package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/conduit-lang/relay/internal/web/auth"
)

// ClaimsKey is the context key for validated admin claims
const ClaimsKey ContextKey = "admin_claims"

// AdminAuth requires a bearer token issued by authService carrying scope.
// An empty scope accepts any valid token.
func AdminAuth(authService *auth.AuthService, scope string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "authorization required")
				return
			}

			claims, err := authService.ValidateToken(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			if scope != "" && !claims.HasScope(scope) {
				writeAuthError(w, http.StatusForbidden, "missing scope "+scope)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims returns the admin claims stored by AdminAuth
func GetClaims(ctx context.Context) (*auth.AdminClaims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.AdminClaims)
	return claims, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		// Browsers cannot set headers on WebSocket upgrades.
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true
		}
		return "", false
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
