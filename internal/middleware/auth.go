package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/SnowBall-Bqiu/IMHO/internal/keystore"
	"github.com/SnowBall-Bqiu/IMHO/internal/response"
	"github.com/SnowBall-Bqiu/IMHO/internal/session"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

// userKey is the context key for the authenticated user.
const userKey contextKey = "user"

// UserFrom returns the authenticated user injected by the auth middleware,
// or nil when the request was not authenticated.
func UserFrom(ctx context.Context) *keystore.UserInfo {
	u, _ := ctx.Value(userKey).(*keystore.UserInfo)
	return u
}

// RequireAPIKey returns middleware that authenticates requests by the
// X-Auth-Key header against the keystore.
func RequireAPIKey(keys keystore.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-Auth-Key")
			if apiKey == "" {
				response.Unauthorized(w, "missing X-Auth-Key header")
				return
			}
			u, err := keys.Lookup(r.Context(), apiKey)
			if err != nil {
				response.Unauthorized(w, "invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
		})
	}
}

// RequireSession returns middleware that authenticates requests by session
// token (cookie or Bearer header), falling back to X-Auth-Key so API clients
// can hit the web endpoints too. Session validation re-checks the underlying
// key's active status on every request.
func RequireSession(sessions *session.Manager, keys keystore.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey := r.Header.Get("X-Auth-Key"); apiKey != "" {
				u, err := keys.Lookup(r.Context(), apiKey)
				if err != nil {
					response.Unauthorized(w, "invalid API key")
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
				return
			}

			token := bearerToken(r)
			if token == "" {
				if c, err := r.Cookie(session.CookieName); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				response.Unauthorized(w, "login required")
				return
			}

			u, err := sessions.Validate(r.Context(), token)
			if err != nil {
				response.Unauthorized(w, "invalid or expired session")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
		})
	}
}

// RequireAdmin rejects authenticated requests whose user is not an admin.
// Must run after one of the auth middlewares.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := UserFrom(r.Context())
		if u == nil {
			response.Unauthorized(w, "login required")
			return
		}
		if !u.IsAdmin() {
			response.Forbidden(w, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts a Bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
