package server

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

type identityKey struct{}

// identityFrom returns the caller identity set by authenticate.
func identityFrom(ctx context.Context) string {
	id, _ := ctx.Value(identityKey{}).(string)
	return id
}

// authenticate resolves the caller identity. With auth enabled the identity is
// the validated API key; otherwise it is the client IP.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var identity string
		if s.config.Auth.Enabled() {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				s.respondError(w, http.StatusUnauthorized, "missing API key")
				return
			}
			if !containsKey(s.apiKeys, key) && !containsKey(s.adminKeys, key) {
				s.respondError(w, http.StatusForbidden, "invalid API key")
				return
			}
			identity = key
		} else {
			identity = clientIP(r)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}

// requireAdmin rejects callers whose key is not an admin key. Without any
// auth configured the admin routes are open.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Auth.Enabled() || len(s.adminKeys) > 0 {
			if !containsKey(s.adminKeys, r.Header.Get(APIKeyHeader)) {
				s.respondError(w, http.StatusForbidden, "admin access required")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func containsKey(keys map[string]struct{}, key string) bool {
	if key == "" {
		return false
	}
	for k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
