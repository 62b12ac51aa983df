// client.go -- REST client for the hosted auth service (/auth/v1).
//
// Mirrors the subset of the auth service's HTTP contract the reconciler needs.
// The current session is persisted through securestore under a token key, so
// it lands in the encrypted backend and is chunked when large.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MGallo-Code/ferry/internal/securestore"
)

// DefaultStorageKey holds the persisted session. Contains "token" so it is
// routed to the keystore.
const DefaultStorageKey = "sb-auth-token"

// ErrUnreachable wraps transport failures and gateway errors: the request
// never got a real answer from the auth service.
var ErrUnreachable = errors.New("gotrue: auth service unreachable")

// Error is a response the auth service did answer with.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gotrue: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gotrue: %d: %s", e.Status, e.Message)
}

// Code extracts the auth service error code from err, "" if err is not an *Error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Config configures a Client.
type Config struct {
	// URL is the project base URL; "/auth/v1" is appended.
	URL     string
	AnonKey string
	Store   *securestore.Store
	// StorageKey defaults to DefaultStorageKey.
	StorageKey string
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	// RefreshTick is the auto-refresh interval. Defaults to 30s.
	RefreshTick time.Duration
	Now         func() time.Time
}

// Client talks to the auth service and owns the persisted session.
type Client struct {
	base        string
	anonKey     string
	store       *securestore.Store
	storageKey  string
	httpClient  *http.Client
	refreshTick time.Duration
	now         func() time.Time

	// sessionMu serializes session reads that may refresh, and all writes.
	sessionMu sync.Mutex

	subMu  sync.Mutex
	subs   map[int]*subscriber
	nextID int

	refreshMu     sync.Mutex
	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

// New returns a Client. Store is required.
func New(cfg Config) *Client {
	c := &Client{
		base:        strings.TrimRight(cfg.URL, "/") + "/auth/v1",
		anonKey:     cfg.AnonKey,
		store:       cfg.Store,
		storageKey:  cfg.StorageKey,
		httpClient:  cfg.HTTPClient,
		refreshTick: cfg.RefreshTick,
		now:         cfg.Now,
		subs:        make(map[int]*subscriber),
	}
	if c.storageKey == "" {
		c.storageKey = DefaultStorageKey
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.refreshTick <= 0 {
		c.refreshTick = 30 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// do sends a JSON request and decodes a 2xx JSON body into out (if non-nil).
// bearer, when non-empty, replaces the anon key in Authorization.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, in, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gotrue: encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("gotrue: building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.anonKey)
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s %s: status %d", ErrUnreachable, method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return decodeError(resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gotrue: decoding response: %w", err)
	}
	return nil
}

// decodeError understands both the current {error_code,msg} body and the
// older OAuth-style {error,error_description} body.
func decodeError(status int, raw []byte) *Error {
	var body struct {
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(raw, &body)

	e := &Error{Status: status, Code: body.ErrorCode, Message: body.Msg}
	if e.Message == "" {
		e.Message = body.Message
	}
	if e.Message == "" {
		e.Message = body.ErrorDescription
	}
	if e.Code == "" {
		e.Code = legacyCode(status, body.Error, e.Message)
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// legacyCode maps older responses without error_code onto current codes.
func legacyCode(status int, oauthErr, msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusRequestTimeout:
		return "request_timeout"
	case status == http.StatusTooManyRequests:
		return "over_request_rate_limit"
	case strings.Contains(lower, "invalid login credentials"):
		return "invalid_credentials"
	case strings.Contains(lower, "email not confirmed"):
		return "email_not_confirmed"
	case strings.Contains(lower, "banned"):
		return "user_banned"
	}
	return oauthErr
}
