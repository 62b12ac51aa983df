// logging.go -- Request-scoped logging for the control surface.
//
// The control surface only listens on loopback, so the remote address says
// nothing. Entries carry the request id, the route and the calling client
// instead, plus the signed-in user once RequireAuthenticated has run.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// reqLogger returns the default logger scoped to r.
func reqLogger(r *http.Request) *slog.Logger {
	l := slog.With(
		"method", r.Method,
		"path", r.URL.Path,
		"client", r.UserAgent(),
	)
	if id := middleware.GetReqID(r.Context()); id != "" {
		l = l.With("request_id", id)
	}
	if u, ok := UserFromContext(r.Context()); ok {
		l = l.With("user_id", u.ID)
	}
	return l
}

func logDebug(r *http.Request, msg string, args ...any) {
	reqLogger(r).Debug(msg, args...)
}

func logInfo(r *http.Request, msg string, args ...any) {
	reqLogger(r).Info(msg, args...)
}

func logWarn(r *http.Request, msg string, args ...any) {
	reqLogger(r).Warn(msg, args...)
}

func logError(r *http.Request, msg string, args ...any) {
	reqLogger(r).Error(msg, args...)
}
