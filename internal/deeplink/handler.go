// handler.go -- HTTP receiver for verification links.
package deeplink

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

type linkResponse struct {
	Status string `json:"status"`
	Route  string `json:"route,omitempty"`
}

// Handler serves GET /verify-email, handing the request URL to HandleURL.
// nav receives the navigation reset.
func (b *Bridge) Handler(nav Navigator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := b.HandleURL(r.Context(), r.URL.String(), nav)

		status := http.StatusOK
		body := linkResponse{Status: string(snap.Status), Route: RouteHome}
		switch {
		case errors.Is(err, ErrNotVerifyLink):
			status, body = http.StatusBadRequest, linkResponse{Status: "invalid_link"}
		case errors.Is(err, ErrDuplicate):
			status, body = http.StatusConflict, linkResponse{Status: "already_handled"}
		case err != nil:
			slog.Warn("verification link failed", "error", err)
			status, body = http.StatusUnauthorized, linkResponse{Status: "no_session"}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}
