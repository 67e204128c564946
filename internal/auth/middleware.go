package auth

import (
	"context"
	"net/http"
)

type contextKey string

const scopeKey contextKey = "authScope"

// Scope describes what the caller of an inspection API request may see.
// Admin scopes see every subdomain; session scopes see exactly one.
type Scope struct {
	Admin     bool
	Subdomain string
}

// Allows reports whether the scope covers the given subdomain.
func (s Scope) Allows(sub string) bool {
	return s.Admin || s.Subdomain == sub
}

// ScopeFromContext extracts the scope stored by Middleware.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey).(Scope)
	return s, ok
}

// Middleware authenticates inspection API calls. The token comes from the
// "X-Auth-Token" header or "token" query parameter; it may be a static
// token from the auth file or a session JWT minted on connect. A nil
// manager means auth is disabled and every caller gets admin scope.
func Middleware(mgr *Manager, sessions *SessionTokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mgr == nil {
				ctx := context.WithValue(r.Context(), scopeKey, Scope{Admin: true})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token := r.Header.Get("X-Auth-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			var scope Scope
			switch {
			case mgr.Role(token) == RoleAdmin:
				scope = Scope{Admin: true}
			case sessions != nil:
				sub, err := sessions.Verify(token)
				if err != nil {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
				scope = Scope{Subdomain: sub}
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), scopeKey, scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
