// handler.go -- HTTP handlers for the loopback control surface.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MGallo-Code/ferry/internal/connectivity"
	"github.com/MGallo-Code/ferry/internal/gotrue"
	"github.com/MGallo-Code/ferry/internal/profile"
)

// maxBodyBytes caps request bodies; every payload here is a few short strings.
const maxBodyBytes = 64 << 10

// ProfileReader fetches stored profiles. Satisfied by *profile.Service.
type ProfileReader interface {
	GetProfileByID(ctx context.Context, userID string) (*profile.Profile, error)
}

// LocalData is the agent's key-value store. Satisfied by *securestore.Store.
type LocalData interface {
	Keys(ctx context.Context) []string
	Clear(ctx context.Context)
	ClearAll(ctx context.Context)
}

// AuthHandler holds dependencies for the control surface handlers and middleware.
type AuthHandler struct {
	Rec  *Reconciler
	Conn Connectivity
	// Profiles is nil when no profile database is configured.
	Profiles ProfileReader
	// Data backs the /storage routes.
	Data LocalData
	// Checks are pinged by /health, keyed by dependency name.
	Checks map[string]HealthChecker
	// ControlToken guards everything but /health and deep links.
	ControlToken string
}

func (h *AuthHandler) connectivity() string {
	if h.Conn == nil {
		return connectivity.Unknown.String()
	}
	return h.Conn.CurrentState().String()
}

// decodeJSON reads a size-limited JSON body into v, writing 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		BadRequest(w, r, "error decoding request body")
		return false
	}
	return true
}

// Status handles GET /status -- the current auth snapshot and connectivity.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.Rec.Snapshot()
	writeJSON(w, http.StatusOK, struct {
		Snapshot
		Authenticated bool   `json:"authenticated"`
		Connectivity  string `json:"connectivity"`
	}{snap, snap.Authenticated(), h.connectivity()})
}

// SignIn handles POST /signin -- email + password.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}

	res := h.Rec.SignIn(r.Context(), in.Email, in.Password)
	if res.OK {
		logInfo(r, "signed in")
	} else {
		logInfo(r, "sign in rejected", "code", res.Code)
	}
	writeResult(w, res)
}

// SignUp handles POST /signup -- email, password and profile names.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var in SignUpInput
	if !decodeJSON(w, r, &in) {
		return
	}

	res := h.Rec.SignUp(r.Context(), in)
	if res.OK {
		logInfo(r, "signed up")
	} else {
		logInfo(r, "sign up rejected", "code", res.Code)
	}
	writeResult(w, res)
}

// SignOut handles POST /signout. Local sign-out always succeeds; a failed
// remote call is only logged.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.Rec.SignOut(r.Context()); err != nil {
		logWarn(r, "remote sign out failed, signed out locally", "error", err)
	}
	OK(w, "signed out")
}

// PasswordReset handles POST /password/reset. Never changes auth state.
func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	writeResult(w, h.Rec.ResetPassword(r.Context(), in.Email))
}

// GoogleSignIn handles POST /oauth/google -- runs the interactive flow and
// blocks until it finishes, is cancelled or times out.
func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	ok := h.Rec.SignInWithGoogle(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, struct {
		OK bool `json:"ok"`
	}{ok})
}

// Me handles GET /me -- the authenticated user and, when a profile store is
// configured, their profile. Requires RequireAuthenticated upstream.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		logError(r, "user missing from context, RequireAuthenticated not applied")
		InternalServerError(w, r, errors.New("me: missing user"))
		return
	}

	var p *profile.Profile
	if h.Profiles != nil {
		var err error
		p, err = h.Profiles.GetProfileByID(r.Context(), user.ID)
		if err != nil && !errors.Is(err, profile.ErrNotFound) {
			logWarn(r, "profile lookup failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, struct {
		User    *gotrue.User     `json:"user"`
		Profile *profile.Profile `json:"profile,omitempty"`
	}{user, p})
}

// StorageKeys handles GET /storage/keys -- logical keys held locally.
func (h *AuthHandler) StorageKeys(w http.ResponseWriter, r *http.Request) {
	keys := h.Data.Keys(r.Context())
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, struct {
		Keys []string `json:"keys"`
	}{keys})
}

// StorageClear handles POST /storage/clear. Protected keys survive unless
// "all" is set. The session is reconciled against what is left, so clearing
// the cached identity signs the user out.
func (h *AuthHandler) StorageClear(w http.ResponseWriter, r *http.Request) {
	var in struct {
		All bool `json:"all"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if in.All {
		h.Data.ClearAll(ctx)
	} else {
		h.Data.Clear(ctx)
	}
	h.Rec.Resync(ctx)
	logInfo(r, "local data cleared", "all", in.All)
	h.Status(w, r)
}
