// tokens.go
//
// Access-token and user fixtures shared by reconciler and deep-link tests.
package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MGallo-Code/ferry/internal/gotrue"
)

// Now is the fixed clock used across tests.
var Now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// MakeToken returns an HS256-signed access token for sub. A zero exp omits
// the claim. The signature is never checked by the code under test.
func MakeToken(t *testing.T, sub, email string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "email": email, "role": "authenticated"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return tok
}

// MakeSession wraps a fresh token for sub expiring an hour after Now.
func MakeSession(t *testing.T, sub, email string) *gotrue.Session {
	t.Helper()
	exp := Now.Add(time.Hour)
	return &gotrue.Session{
		AccessToken:  MakeToken(t, sub, email, exp),
		RefreshToken: "refresh-" + sub,
		TokenType:    "bearer",
		ExpiresAt:    exp.Unix(),
	}
}

// ConfirmedUser returns a user whose email is confirmed.
func ConfirmedUser(id, email string) *gotrue.User {
	at := Now.Add(-24 * time.Hour)
	return &gotrue.User{ID: id, Email: email, EmailConfirmedAt: &at, Role: "authenticated"}
}

// UnconfirmedUser returns a user who never confirmed their email.
func UnconfirmedUser(id, email string) *gotrue.User {
	return &gotrue.User{ID: id, Email: email, Role: "authenticated"}
}
