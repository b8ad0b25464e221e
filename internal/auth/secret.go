// ABOUTME: Shared-secret authentication for the executor link and the external confirm API.
// ABOUTME: Accepts the secret as an Authorization Bearer header or a ?token= query parameter.

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SharedSecret compares presented tokens against a configured secret in constant time.
// An empty secret matches nothing.
type SharedSecret struct {
	secret []byte
}

// NewSharedSecret creates a SharedSecret.
func NewSharedSecret(secret string) *SharedSecret {
	return &SharedSecret{secret: []byte(secret)}
}

// Equal reports whether candidate matches the secret.
func (s *SharedSecret) Equal(candidate string) bool {
	if len(s.secret) == 0 || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare(s.secret, []byte(candidate)) == 1
}

// Authorize reports whether r carries the secret in its Authorization header
// or, failing that, in its token query parameter.
func (s *SharedSecret) Authorize(r *http.Request) bool {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" && s.Equal(token) {
		return true
	}
	return s.Equal(r.URL.Query().Get("token"))
}

// Middleware rejects requests that do not carry the secret with 401.
func (s *SharedSecret) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Authorize(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
