// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"context"
	"net/http"
)

// HealthChecker is a dependency that can be pinged. Satisfied by
// *profile.PostgresStore and *securestore.RedisKV.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckHealth handles GET /health -- pings every configured dependency and
// reports per-dependency status plus the connectivity state. A nil checker
// reports "disabled". Returns 503 if any dependency is down.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	deps := make(map[string]string, len(h.Checks))
	healthy := true
	for name, c := range h.Checks {
		if c == nil {
			deps[name] = "disabled"
			continue
		}
		if err := c.CheckHealth(r.Context()); err != nil {
			logError(r, "health check failed", "dependency", name, "error", err)
			deps[name] = "error"
			healthy = false
			continue
		}
		deps[name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		Dependencies map[string]string `json:"dependencies"`
		Connectivity string            `json:"connectivity"`
	}{deps, h.connectivity()})
}
