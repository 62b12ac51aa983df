// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. Bodies are JSON-encoded, so messages
// built from validation output are escaped.
package auth

import (
	"encoding/json"
	"net/http"
)

type messageBody struct {
	Message string `json:"message"`
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeJSON(w, http.StatusInternalServerError, messageBody{"internal server error"})
}

// BadRequest returns a 400 JSON response with the given message.
// Use for client input validation failures.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusBadRequest, messageBody{message})
}

// Unauthorized returns a 401 JSON response with a generic message.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusUnauthorized, messageBody{message})
}

// Forbidden returns a 403 JSON response with a generic message.
// Intentionally vague, avoids leaking which check failed.
func Forbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, messageBody{"forbidden"})
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, messageBody{message})
}

// resultStatus maps an operation Result onto an HTTP status.
func resultStatus(res Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeInvalidCredentials, CodeEmailNotConfirmed:
		return http.StatusUnauthorized
	case CodeUserBanned:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeOffline, CodeRequestTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// writeResult writes res with its mapped status.
func writeResult(w http.ResponseWriter, res Result) {
	writeJSON(w, resultStatus(res), res)
}
