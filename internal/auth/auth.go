// Package auth implements the front-end's bearer/x-api-key authentication
// (C11): constant-time comparison against a single configured server key.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/yansir/cc-relayer/internal/errs"
)

// Middleware validates every request against one static server API key.
type Middleware struct {
	serverKey string
}

func NewMiddleware(serverKey string) *Middleware {
	return &Middleware{serverKey: serverKey}
}

// Authenticate extracts a bearer or x-api-key header and compares it by
// constant-time equality to the configured server key (§4.11). The health
// endpoint is wired outside this middleware and never passes through it.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(m.serverKey)) != 1 {
			status, errType := errs.ClientStatus(&errs.AuthInvalid{Reason: "missing or invalid API key"})
			writeError(w, status, errType, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, errType, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"type":"error","error":{"type":%q,"message":%q}}`, errType, msg)
}
