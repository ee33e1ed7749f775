package api

import (
	"net/http"

	"github.com/dsj7419/qa-doc-convert/internal/auth"
)

func (s *Server) authEnabled() bool {
	return s.config.APIKey != "" || len(s.config.Tokens) > 0
}

// authMiddleware resolves the bearer token to a principal. With no
// credentials configured every caller is admin; config validation only
// allows that on loopback listeners.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() {
			p := auth.Principal{Name: "anonymous", Scopes: map[string]struct{}{auth.ScopeAll: {}}}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
			return
		}

		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		p, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// requireScopes rejects principals holding none of the given scopes.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !auth.HasAnyScope(p, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
