// types.go -- Wire types shared by the auth service endpoints.
package gotrue

import "time"

// User is the auth service's user record.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email,omitempty"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	Role             string         `json:"role,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at,omitzero"`
}

// EmailConfirmed reports whether the user has confirmed their email address.
func (u *User) EmailConfirmed() bool {
	return u != nil && u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero()
}

// Session is an issued token pair.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	// ExpiresAt is unix seconds. Filled from ExpiresIn when the server omits it.
	ExpiresAt int64 `json:"expires_at,omitempty"`
	User      *User `json:"user,omitempty"`
}

// Expiry returns ExpiresAt as a time, zero if unknown.
func (s *Session) Expiry() time.Time {
	if s == nil || s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// EventType names a session change.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event is delivered to subscribers. Session is nil for EventSignedOut.
type Event struct {
	Type    EventType
	Session *Session
}

// SignUpResult is what /signup returns: always a user, plus a session when
// the project does not require email confirmation.
type SignUpResult struct {
	User    *User
	Session *Session
}

// OTPType is the verification flavour of an emailed link.
type OTPType string

const (
	OTPSignup   OTPType = "signup"
	OTPEmail    OTPType = "email"
	OTPRecovery OTPType = "recovery"
)
