package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenHeader carries the shared token when the Authorization header
// cannot be set, e.g. from a browser websocket.
const TokenHeader = "X-Heavy-Token"

// AuthHandler checks the shared API token. An empty token disables auth.
type AuthHandler struct {
	token []byte
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(token string) *AuthHandler {
	if token == "" {
		return &AuthHandler{}
	}
	sum := sha256.Sum256([]byte(token))
	return &AuthHandler{token: sum[:]}
}

// Enabled reports whether requests must present a token.
func (a *AuthHandler) Enabled() bool {
	return len(a.token) > 0
}

// Authorize checks the Bearer token, the token header, or the token query
// parameter, in that order.
func (a *AuthHandler) Authorize(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}

	presented := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		presented = strings.TrimPrefix(h, "Bearer ")
	} else if h := r.Header.Get(TokenHeader); h != "" {
		presented = h
	} else {
		presented = r.URL.Query().Get("token")
	}
	if presented == "" {
		return false
	}

	// Digests have equal length whatever was presented.
	sum := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(a.token, sum[:]) == 1
}
