// auth.go -- Sign-in, sign-up, verification and sign-out endpoints.
package gotrue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInWithPassword exchanges email and password for a session, persists it
// and emits SIGNED_IN.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	q := url.Values{"grant_type": {"password"}}
	if err := c.do(ctx, http.MethodPost, "/token", q, "", credentials{email, password}, &s); err != nil {
		return nil, err
	}
	if err := c.setSession(ctx, &s, EventSignedIn); err != nil {
		return nil, err
	}
	return &s, nil
}

// SignUp registers a user. redirectTo is where the verification link points.
// A session is only returned (and persisted) when confirmation is disabled.
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) (*SignUpResult, error) {
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", q, "", credentials{email, password}, &raw); err != nil {
		return nil, err
	}

	// The body is a session when auto-confirm is on, a bare user otherwise.
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("gotrue: decoding signup response: %w", err)
	}
	if s.AccessToken != "" {
		if err := c.setSession(ctx, &s, EventSignedIn); err != nil {
			return nil, err
		}
		return &SignUpResult{User: s.User, Session: &s}, nil
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("gotrue: decoding signup user: %w", err)
	}
	return &SignUpResult{User: &u}, nil
}

// SignInWithIDToken exchanges a federated identity token (e.g. Google) for a session.
func (c *Client) SignInWithIDToken(ctx context.Context, provider, idToken, nonce string) (*Session, error) {
	in := struct {
		Provider string `json:"provider"`
		IDToken  string `json:"id_token"`
		Nonce    string `json:"nonce,omitempty"`
	}{provider, idToken, nonce}

	var s Session
	q := url.Values{"grant_type": {"id_token"}}
	if err := c.do(ctx, http.MethodPost, "/token", q, "", in, &s); err != nil {
		return nil, err
	}
	if err := c.setSession(ctx, &s, EventSignedIn); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetUser asks the auth service who accessToken belongs to. This is the only
// authenticity check for a token.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// VerifyOTP redeems the token hash from an emailed link, persists the
// resulting session and emits SIGNED_IN.
func (c *Client) VerifyOTP(ctx context.Context, typ OTPType, tokenHash string) (*Session, error) {
	in := struct {
		Type      OTPType `json:"type"`
		TokenHash string  `json:"token_hash"`
	}{typ, tokenHash}

	var s Session
	if err := c.do(ctx, http.MethodPost, "/verify", nil, "", in, &s); err != nil {
		return nil, err
	}
	if s.AccessToken == "" {
		return nil, &Error{Status: http.StatusOK, Code: "otp_no_session", Message: "verification returned no session"}
	}
	if err := c.setSession(ctx, &s, EventSignedIn); err != nil {
		return nil, err
	}
	return &s, nil
}

// ResetPasswordForEmail asks the auth service to email a recovery link.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	in := struct {
		Email string `json:"email"`
	}{email}
	return c.do(ctx, http.MethodPost, "/recover", q, "", in, nil)
}

// SignOut revokes the persisted session remotely, then always forgets it
// locally and emits SIGNED_OUT. The remote error, if any, is returned.
func (c *Client) SignOut(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	var remoteErr error
	if s, ok := c.loadSession(ctx); ok && s.AccessToken != "" {
		remoteErr = c.do(ctx, http.MethodPost, "/logout", nil, s.AccessToken, nil, nil)
	}
	c.store.Remove(ctx, c.storageKey)
	c.emit(Event{Type: EventSignedOut})
	return remoteErr
}
