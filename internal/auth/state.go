// state.go -- Auth status and the reconciliation transition function.
//
// Transition is pure: every input it needs (session, connectivity, cache,
// the result of remote verification, the clock) arrives in Input, so the
// whole decision table is testable without I/O. The Reconciler feeds it and
// applies the Outcome.
package auth

import (
	"errors"
	"time"

	"github.com/MGallo-Code/ferry/internal/connectivity"
	"github.com/MGallo-Code/ferry/internal/gotrue"
	"github.com/MGallo-Code/ferry/internal/sessioncache"
	"github.com/MGallo-Code/ferry/internal/token"
)

// Status is the top-level auth state.
type Status string

const (
	StatusSignIn        Status = "signIn"
	StatusAuthenticated Status = "authenticated"
)

// Snapshot is the state observers see. User and Token are set only while
// authenticated.
type Snapshot struct {
	Status           Status       `json:"status"`
	User             *gotrue.User `json:"user,omitempty"`
	Token            string       `json:"-"`
	InitialCheckDone bool         `json:"initialCheckDone"`
}

// Authenticated mirrors the client-side gate: a token is held and the first
// check has finished.
func (s Snapshot) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Token != "" && s.InitialCheckDone
}

// Verification is the answer of the remote "get user for token" call.
type Verification struct {
	User *gotrue.User
	Err  error
}

// Input is everything one reconciliation pass decides on.
type Input struct {
	// Session is the session-change value; nil means nobody is signed in.
	Session *gotrue.Session
	// SessionUnreachable marks a nil Session that came from a failed
	// lookup rather than from the auth service saying "no session".
	SessionUnreachable bool

	Connectivity connectivity.State
	// Cache is the loaded CachedAuth, nil on a miss.
	Cache *sessioncache.CachedAuth
	// Verification is nil until the remote check has run.
	Verification *Verification

	// AllowUnverifiedOffline lets an offline pass trust a token's decoded
	// claims, and a cache entry written from them.
	AllowUnverifiedOffline bool
	Now                    time.Time
}

// Reason codes recorded on an Outcome.
const (
	ReasonNoSession         = "no_session"
	ReasonOfflineCache      = "offline_cache"
	ReasonInvalidToken      = "invalid_token"
	ReasonOfflineNoCache    = "offline_no_cache"
	ReasonOfflineUnverified = "offline_unverified"
	ReasonVerified          = "verified"
	ReasonNotConfirmed      = "email_not_confirmed"
	ReasonUnreachableCache  = "unreachable_cache"
	ReasonRejected          = "verification_failed"
	ReasonOptimisticCache   = "optimistic_cache"
	ReasonPanic             = "panic"
)

// Outcome is the result of a transition.
type Outcome struct {
	Status Status
	User   *gotrue.User
	Token  string

	// NeedsVerification asks the caller to run the remote check and call
	// Transition again with Input.Verification set. Other fields are unset.
	NeedsVerification bool

	// WriteCache, when non-nil, replaces the persisted CachedAuth.
	WriteCache *sessioncache.CachedAuth
	// FromCache is true when the identity came from CachedAuth.
	FromCache bool
	Reason    string
}

func signIn(reason string) Outcome {
	return Outcome{Status: StatusSignIn, Reason: reason}
}

// usableCache reports whether c may authenticate anyone at now.
func usableCache(c *sessioncache.CachedAuth, allowUnverified bool, now time.Time) bool {
	return c != nil && c.User != nil && !c.Expired(now) && (c.Verified || allowUnverified)
}

func fromCache(c *sessioncache.CachedAuth, tok, reason string) Outcome {
	if tok == "" {
		tok = c.Token
	}
	return Outcome{Status: StatusAuthenticated, User: c.User, Token: tok, FromCache: true, Reason: reason}
}

// Transition computes the next state for in.
func Transition(in Input) Outcome {
	offline := in.Connectivity == connectivity.Offline
	cacheOK := usableCache(in.Cache, in.AllowUnverifiedOffline, in.Now)

	if in.Session == nil || in.Session.AccessToken == "" {
		if (offline || in.SessionUnreachable) && cacheOK {
			return fromCache(in.Cache, "", ReasonOfflineCache)
		}
		return signIn(ReasonNoSession)
	}

	access := in.Session.AccessToken
	claims, err := token.Parse(access)
	if err != nil || token.Validate(access, in.Now) != nil {
		return signIn(ReasonInvalidToken)
	}
	// The cache only stands in for the same user the token names.
	cacheMatches := cacheOK && claims.Subject != "" && in.Cache.User.ID == claims.Subject

	if offline {
		if cacheMatches {
			return fromCache(in.Cache, access, ReasonOfflineCache)
		}
		if !in.AllowUnverifiedOffline || claims.Subject == "" {
			return signIn(ReasonOfflineNoCache)
		}
		user := &gotrue.User{
			ID:           claims.Subject,
			Email:        claims.Email,
			Role:         claims.Role,
			UserMetadata: claims.UserMetadata,
		}
		rec := sessioncache.New(user, access, false, in.Now)
		return Outcome{
			Status:     StatusAuthenticated,
			User:       user,
			Token:      access,
			WriteCache: &rec,
			Reason:     ReasonOfflineUnverified,
		}
	}

	if in.Verification == nil {
		return Outcome{NeedsVerification: true}
	}

	v := in.Verification
	switch {
	case v.Err == nil && v.User.EmailConfirmed():
		rec := sessioncache.New(v.User, access, true, in.Now)
		return Outcome{
			Status:     StatusAuthenticated,
			User:       v.User,
			Token:      access,
			WriteCache: &rec,
			Reason:     ReasonVerified,
		}
	case v.Err == nil:
		return signIn(ReasonNotConfirmed)
	case errors.Is(v.Err, gotrue.ErrUnreachable) && cacheMatches:
		return fromCache(in.Cache, access, ReasonUnreachableCache)
	}
	return signIn(ReasonRejected)
}
