// provider.go -- OAuth provider interface and shared types.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// Claims holds the identity claims from a verified ID token.
// RawIDToken is handed on to the auth service, which re-verifies it; Nonce is
// the raw value whose SHA-256 was embedded in the token.
type Claims struct {
	Sub           string // provider-specific stable user ID (e.g. Google "sub")
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
	Picture       string // avatar URL
	RawIDToken    string
	Nonce         string
}

// Provider is an OAuth2 identity provider.
// PKCE (RFC 7636) is required: callers pass the code_challenge to AuthCodeURL and the
// matching code_verifier to Exchange. The redirect URI is per request because the
// loopback listener picks its port at sign-in time.
type Provider interface {
	// Name returns the provider identifier sent to the auth service.
	Name() string

	// AuthCodeURL returns the consent URL with state, PKCE challenge and hashed nonce embedded.
	AuthCodeURL(state, codeChallenge, hashedNonce, redirectURI string) string

	// Exchange trades the authorization code for verified identity claims.
	// The ID token's nonce must equal hashedNonce.
	Exchange(ctx context.Context, code, codeVerifier, hashedNonce, redirectURI string) (*Claims, error)
}

// pkce holds one sign-in attempt's secrets.
type pkce struct {
	state       string
	verifier    string
	challenge   string
	nonce       string
	hashedNonce string
}

func newPKCE() (*pkce, error) {
	var stateBytes, verifierBytes, nonceBytes [32]byte
	for _, b := range [][]byte{stateBytes[:], verifierBytes[:], nonceBytes[:]} {
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
	}
	p := &pkce{
		state:    base64.RawURLEncoding.EncodeToString(stateBytes[:]),
		verifier: base64.RawURLEncoding.EncodeToString(verifierBytes[:]),
		nonce:    base64.RawURLEncoding.EncodeToString(nonceBytes[:]),
	}
	challenge := sha256.Sum256([]byte(p.verifier))
	p.challenge = base64.RawURLEncoding.EncodeToString(challenge[:])
	hashed := sha256.Sum256([]byte(p.nonce))
	p.hashedNonce = hex.EncodeToString(hashed[:])
	return p, nil
}
