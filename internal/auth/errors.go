// errors.go -- Mapping of auth failures to result codes and user-facing messages.
package auth

import (
	"context"
	"errors"

	"github.com/MGallo-Code/ferry/internal/gotrue"
	"github.com/MGallo-Code/ferry/internal/messages"
)

// Result codes. Remote codes keep the auth service's spelling.
const (
	CodeUserBanned         = "user_banned"
	CodeInvalidCredentials = "invalid_credentials"
	CodeEmailNotConfirmed  = "email_not_confirmed"
	CodeRequestTimeout     = "request_timeout"
	CodeRateLimited        = "over_request_rate_limit"
	CodeOffline            = "offline"
	CodeValidation         = "validation_failed"
	CodeUnknown            = "UNKNOWN"
)

var messageKeys = map[string]string{
	CodeUserBanned:         messages.UserBanned,
	CodeInvalidCredentials: messages.InvalidCredentials,
	CodeEmailNotConfirmed:  messages.EmailNotConfirmed,
	CodeRequestTimeout:     messages.RequestTimeout,
	CodeRateLimited:        messages.RateLimited,
	CodeOffline:            messages.NoInternet,
	CodeUnknown:            messages.Unknown,
}

// Remote spellings folded onto a catalogued code.
var codeAliases = map[string]string{
	"over_email_send_rate_limit": CodeRateLimited,
	"over_sms_send_rate_limit":   CodeRateLimited,
}

// Result is what every user-triggered operation returns. Message is already
// localized; Code is stable for programmatic checks.
type Result struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorCode classifies err into a result code. Unmapped remote codes are CodeUnknown.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, gotrue.ErrUnreachable):
		return CodeOffline
	case errors.Is(err, context.DeadlineExceeded):
		return CodeRequestTimeout
	}
	code := gotrue.Code(err)
	if alias, ok := codeAliases[code]; ok {
		return alias
	}
	if _, ok := messageKeys[code]; ok {
		return code
	}
	return CodeUnknown
}

// codeForReason maps a failed transition onto a result code.
func codeForReason(reason string) string {
	switch reason {
	case ReasonNotConfirmed:
		return CodeEmailNotConfirmed
	case ReasonOfflineNoCache:
		return CodeOffline
	}
	return CodeUnknown
}
