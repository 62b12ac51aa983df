// control.go -- Control token generation and validation.
//
// The control surface listens on loopback, where any local web page can
// reach it. Every guarded request must carry the per-process control token in
// the X-Ferry-Token header; browsers cannot attach it cross-origin without a
// preflight the agent never answers.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
)

// ControlTokenHeader carries the control token.
const ControlTokenHeader = "X-Ferry-Token"

// GenerateControlToken creates a 256-bit cryptographically random token,
// base64url encoded.
func GenerateControlToken() (string, error) {
	var token [32]byte
	if _, err := rand.Read(token[:]); err != nil {
		return "", fmt.Errorf("generating token with rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(token[:]), nil
}

// ValidateControlToken compares provided against expected in constant time.
// An empty expected token never validates.
func ValidateControlToken(provided, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// RequireControlToken rejects requests whose X-Ferry-Token header does not
// match the handler's ControlToken with 403.
func (h *AuthHandler) RequireControlToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(ControlTokenHeader)
		if provided == "" {
			logWarn(r, "control token check failed", "reason", "missing_header")
			Forbidden(w)
			return
		}
		if !ValidateControlToken(provided, h.ControlToken) {
			logWarn(r, "control token check failed", "reason", "mismatch")
			Forbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
