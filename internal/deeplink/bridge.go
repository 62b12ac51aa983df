// bridge.go -- Turns an emailed verification link into a signed-in state.
//
// A link resolves to a session (by redeeming its token, or from the stored
// session when the token was already redeemed), the session is reconciled,
// the parked sign-up profile is materialized at most once, and navigation is
// reset to Home.
package deeplink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/MGallo-Code/ferry/internal/auth"
	"github.com/MGallo-Code/ferry/internal/gotrue"
	"github.com/MGallo-Code/ferry/internal/profile"
	"github.com/MGallo-Code/ferry/internal/telemetry"
)

// VerifyPath is the host (custom scheme) or last path segment (http) of a
// verification link.
const VerifyPath = "verify-email"

var (
	// ErrNotVerifyLink means the URL is not a verification link with a token.
	ErrNotVerifyLink = errors.New("deeplink: not a verification link")
	// ErrDuplicate means the link's token was already handled.
	ErrDuplicate = errors.New("deeplink: link already handled")
	// ErrNoSession means neither the token nor the stored session yielded a session.
	ErrNoSession = errors.New("deeplink: no session for link")
)

// Sessions resolves link tokens to sessions. Satisfied by *gotrue.Client.
type Sessions interface {
	VerifyOTP(ctx context.Context, typ gotrue.OTPType, tokenHash string) (*gotrue.Session, error)
	GetSession(ctx context.Context) (*gotrue.Session, error)
}

// Reconciler applies a session to the auth state. Satisfied by *auth.Reconciler.
type Reconciler interface {
	HandleSession(ctx context.Context, s *gotrue.Session) auth.Snapshot
}

// ProfileCreator materializes a parked profile. Satisfied by *profile.Service.
type ProfileCreator interface {
	CreateProfile(ctx context.Context, p profile.PendingProfile, signupToken string) (*profile.Profile, error)
}

// Bridge handles verification deep links. Safe for concurrent use.
type Bridge struct {
	sessions Sessions
	rec      Reconciler
	pending  *profile.PendingStore
	profiles ProfileCreator
	reporter telemetry.Reporter
	scheme   string

	mu   sync.Mutex
	seen map[string]bool
}

// Config wires a Bridge. Profiles may be nil when no profile database is
// configured; the parked profile is still consumed.
type Config struct {
	Sessions Sessions
	Rec      Reconciler
	Pending  *profile.PendingStore
	Profiles ProfileCreator
	Reporter telemetry.Reporter
	// Scheme is the app's custom URL scheme, e.g. "ferry". http and https
	// links are always accepted.
	Scheme string
}

// New returns a Bridge.
func New(cfg Config) *Bridge {
	return &Bridge{
		sessions: cfg.Sessions,
		rec:      cfg.Rec,
		pending:  cfg.Pending,
		profiles: cfg.Profiles,
		reporter: telemetry.Safe(cfg.Reporter),
		scheme:   strings.ToLower(cfg.Scheme),
		seen:     make(map[string]bool),
	}
}

// HandleDeepLinkSignIn reconciles s, consumes the pending profile and resets
// nav to Home. The pending profile is gone afterwards whether or not creating
// the profile succeeded. A session without an access token is ignored.
func (b *Bridge) HandleDeepLinkSignIn(ctx context.Context, s *gotrue.Session, nav Navigator) (auth.Snapshot, error) {
	if s == nil || s.AccessToken == "" {
		return auth.Snapshot{}, ErrNoSession
	}

	snap := b.rec.HandleSession(ctx, s)
	b.materialize(ctx, snap, s.AccessToken)

	if nav != nil {
		nav.Reset(RouteHome)
	}
	slog.Info("deep link sign in handled", "status", snap.Status)
	return snap, nil
}

// materialize takes the pending profile and creates it for the signed-in user.
func (b *Bridge) materialize(ctx context.Context, snap auth.Snapshot, token string) {
	if b.pending == nil {
		return
	}
	p, ok := b.pending.Take(ctx)
	if !ok {
		return
	}
	switch {
	case b.profiles == nil:
		slog.Warn("pending profile dropped, no profile store configured", "user_id", p.UserID)
		return
	case snap.Status != auth.StatusAuthenticated:
		slog.Warn("pending profile dropped, link did not sign in", "user_id", p.UserID)
		return
	case snap.User == nil || !p.BelongsTo(snap.User.ID, snap.User.Email):
		slog.Warn("pending profile dropped, belongs to another user", "user_id", p.UserID)
		return
	}
	p.UserID = snap.User.ID

	if _, err := b.profiles.CreateProfile(ctx, *p, token); err != nil {
		slog.Error("creating profile from pending sign up failed", "user_id", p.UserID, "error", err)
		if !errors.Is(err, profile.ErrRejected) {
			b.reporter.ReportCrash(fmt.Errorf("deeplink: creating profile: %w", err))
		}
		return
	}
	slog.Info("profile created from pending sign up", "user_id", p.UserID)
}

// ParseVerifyLink returns the token of a verification link.
func (b *Bridge) ParseVerifyLink(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotVerifyLink, err)
	}

	scheme := strings.ToLower(u.Scheme)
	var target string
	switch {
	case scheme == "http" || scheme == "https" || scheme == "":
		target = u.Path[strings.LastIndex(u.Path, "/")+1:]
	case b.scheme != "" && scheme == b.scheme:
		// ferry://verify-email?token=... puts the route in the host.
		target = u.Host
		if target == "" {
			target = strings.Trim(u.Path, "/")
		}
	default:
		return "", ErrNotVerifyLink
	}
	if target != VerifyPath {
		return "", ErrNotVerifyLink
	}

	token := u.Query().Get("token")
	if token == "" {
		// Some mail templates put the parameters in the fragment.
		frag, _ := url.ParseQuery(u.Fragment)
		token = frag.Get("token")
	}
	if token == "" {
		return "", ErrNotVerifyLink
	}
	return token, nil
}

// HandleURL handles a deep link, from a cold start or while running. Only
// verification links with a token are acted on, and each token once. The
// session comes from redeeming the token, or from the stored session when the
// token cannot be redeemed.
func (b *Bridge) HandleURL(ctx context.Context, rawURL string, nav Navigator) (auth.Snapshot, error) {
	token, err := b.ParseVerifyLink(rawURL)
	if err != nil {
		return auth.Snapshot{}, err
	}
	if !b.claim(token) {
		slog.Debug("verification link already handled")
		return auth.Snapshot{}, ErrDuplicate
	}

	s, err := b.resolve(ctx, token)
	if err != nil {
		b.release(token)
		return auth.Snapshot{}, err
	}
	return b.HandleDeepLinkSignIn(ctx, s, nav)
}

func (b *Bridge) resolve(ctx context.Context, token string) (*gotrue.Session, error) {
	s, err := b.sessions.VerifyOTP(ctx, gotrue.OTPEmail, token)
	if err == nil && s != nil && s.AccessToken != "" {
		return s, nil
	}
	if err != nil {
		slog.Info("verification token not redeemed, using stored session", "error", err)
	}

	s, err = b.sessions.GetSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("deeplink: loading session: %w", err)
	}
	if s == nil || s.AccessToken == "" {
		return nil, ErrNoSession
	}
	return s, nil
}

func (b *Bridge) claim(token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen[token] {
		return false
	}
	b.seen[token] = true
	return true
}

// release lets a link that yielded no session be tried again.
func (b *Bridge) release(token string) {
	b.mu.Lock()
	delete(b.seen, token)
	b.mu.Unlock()
}
