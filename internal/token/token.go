// token.go -- Structural access-token checks (no signature verification).
//
// The hosted auth service signs tokens; this process never holds the signing
// key. Everything here inspects shape and claims only. Callers that need
// authenticity must ask the auth service (GetUser).
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryMargin is how close to exp a token may be and still count as usable.
const ExpiryMargin = 5 * time.Minute

// DefaultHorizon is the cache lifetime used when a token carries no exp.
const DefaultHorizon = 24 * time.Hour

var (
	ErrMalformed = errors.New("token: malformed")
	ErrExpiring  = errors.New("token: expired or expiring")
)

// Claims is the subset of the auth service's access-token payload we read.
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

var parser = jwt.NewParser()

// Parse decodes raw without verifying its signature.
func Parse(raw string) (*Claims, error) {
	if strings.Count(raw, ".") != 2 {
		return nil, fmt.Errorf("%w: expected 3 segments", ErrMalformed)
	}
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}

// Validate checks that raw has three segments, a JSON payload, and (when exp is
// present) at least ExpiryMargin of life left at now. A token without exp passes.
func Validate(raw string, now time.Time) error {
	claims, err := Parse(raw)
	if err != nil {
		return err
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(now.Add(ExpiryMargin)) {
		return fmt.Errorf("%w: exp %s", ErrExpiring, claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

// IsValid is Validate as a predicate.
func IsValid(raw string, now time.Time) bool {
	return Validate(raw, now) == nil
}

// ExpiresAt returns the token's exp, or now+DefaultHorizon when absent or unreadable.
func ExpiresAt(raw string, now time.Time) time.Time {
	claims, err := Parse(raw)
	if err != nil || claims.ExpiresAt == nil {
		return now.Add(DefaultHorizon)
	}
	return time.Unix(claims.ExpiresAt.Unix(), 0)
}
