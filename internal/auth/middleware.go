// middleware.go

// Authentication middleware for the control surface.
package auth

import (
	"context"
	"net/http"

	"github.com/MGallo-Code/ferry/internal/gotrue"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const userKey contextKey = "user"

// UserFromContext retrieves the authenticated user.
// Returns nil and false if RequireAuthenticated hasn't run.
func UserFromContext(ctx context.Context) (*gotrue.User, bool) {
	u, ok := ctx.Value(userKey).(*gotrue.User)
	return u, ok && u != nil
}

// RequireAuthenticated lets the request through only while the reconciler
// reports an authenticated state with its initial check done. Injects the
// user into context; returns 401 otherwise.
func (h *AuthHandler) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := h.Rec.Snapshot()
		if !snap.InitialCheckDone {
			logDebug(r, "require authenticated failed", "reason", "initial_check_pending")
			Unauthorized(w, r, "unauthorized")
			return
		}
		if !snap.Authenticated() || snap.User == nil {
			logDebug(r, "require authenticated failed", "reason", "signed_out")
			Unauthorized(w, r, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, snap.User)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
