// Package auth resolves bearer tokens to scoped principals for the HTTP API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the API. A ":rw" scope implies the matching ":ro".
const (
	ScopeAll        = "*"
	ScopeTrainingRO = "training:ro"
	ScopeTrainingRW = "training:rw"
	ScopeDatasetRO  = "dataset:ro"
	ScopeDatasetRW  = "dataset:rw"
	ScopeEventsRO   = "events:ro"
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Name   string
	Token  string
	Scopes []string
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Name   string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken returns the token from an "Authorization: Bearer" header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented token. The admin key grants every scope.
func Authenticate(presented, adminKey string, tokens []TokenConfig) (Principal, bool) {
	if constantTimeEqual(presented, adminKey) {
		return Principal{
			Name:   "admin",
			Scopes: map[string]struct{}{ScopeAll: {}},
		}, true
	}

	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			name := t.Name
			if name == "" {
				name = "token"
			}
			return Principal{Name: name, Scopes: normalizeScopes(t.Scopes)}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
		if base, ok := strings.CutSuffix(s, ":rw"); ok {
			out[base+":ro"] = struct{}{}
		}
	}
	return out
}

// HasAnyScope reports whether p holds one of required, or the wildcard.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
