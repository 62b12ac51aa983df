// reconciler.go -- Owns the auth state and drives Transition.
//
// Every pass (startup, remote session events, explicit sign-in/out) runs under
// one mutex, so passes complete in arrival order and never interleave. A pass
// whose context is cancelled before it finishes is discarded without touching
// state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MGallo-Code/ferry/internal/connectivity"
	"github.com/MGallo-Code/ferry/internal/gotrue"
	"github.com/MGallo-Code/ferry/internal/messages"
	"github.com/MGallo-Code/ferry/internal/oauth"
	"github.com/MGallo-Code/ferry/internal/profile"
	"github.com/MGallo-Code/ferry/internal/sessioncache"
	"github.com/MGallo-Code/ferry/internal/telemetry"
)

// AuthService is the remote auth service. Satisfied by *gotrue.Client.
type AuthService interface {
	GetSession(ctx context.Context) (*gotrue.Session, error)
	GetUser(ctx context.Context, accessToken string) (*gotrue.User, error)
	SignInWithPassword(ctx context.Context, email, password string) (*gotrue.Session, error)
	SignUp(ctx context.Context, email, password, redirectTo string) (*gotrue.SignUpResult, error)
	SignInWithIDToken(ctx context.Context, provider, idToken, nonce string) (*gotrue.Session, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	Subscribe() (<-chan gotrue.Event, func())
}

// Connectivity reports the current network state. Satisfied by *connectivity.Monitor.
type Connectivity interface {
	CurrentState() connectivity.State
}

// ConnectivityFeed pushes reachability changes. Satisfied by *connectivity.Monitor.
type ConnectivityFeed interface {
	AddListener(fn func(online bool)) func()
}

// IdentityProvider runs an interactive federated sign-in. Satisfied by *oauth.LoopbackFlow.
type IdentityProvider interface {
	SignIn(ctx context.Context) (*oauth.Claims, error)
}

// Config wires a Reconciler. Auth, Conn and Cache are required.
type Config struct {
	Auth    AuthService
	Conn    Connectivity
	Cache   *sessioncache.Cache
	Pending *profile.PendingStore
	// Google is optional; SignInWithGoogle reports false without it.
	Google IdentityProvider

	Catalog  *messages.Catalog
	Locale   string
	Reporter telemetry.Reporter
	Policy   PasswordPolicy

	AllowUnverifiedOffline bool
	// EmailRedirect is where the verification email's link lands (the deep link).
	EmailRedirect string
	// ResetRedirect is where the password reset email's link lands.
	ResetRedirect string

	Now func() time.Time
}

// Reconciler holds the auth state. Safe for concurrent use.
type Reconciler struct {
	auth     AuthService
	conn     Connectivity
	cache    *sessioncache.Cache
	pending  *profile.PendingStore
	google   IdentityProvider
	catalog  *messages.Catalog
	locale   string
	reporter telemetry.Reporter
	policy   PasswordPolicy
	allow    bool
	emailTo  string
	resetTo  string
	now      func() time.Time

	// passMu serializes reconciliation passes.
	passMu sync.Mutex
	// lastToken is the access token of the last pass's input ("" for none).
	lastToken string

	mu        sync.RWMutex
	snap      Snapshot
	listeners map[int]func(Snapshot)
	nextID    int
}

// New returns a Reconciler in the signIn state with InitialCheckDone false.
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		auth:      cfg.Auth,
		conn:      cfg.Conn,
		cache:     cfg.Cache,
		pending:   cfg.Pending,
		google:    cfg.Google,
		catalog:   cfg.Catalog,
		locale:    cfg.Locale,
		reporter:  telemetry.Safe(cfg.Reporter),
		policy:    cfg.Policy,
		allow:     cfg.AllowUnverifiedOffline,
		emailTo:   cfg.EmailRedirect,
		resetTo:   cfg.ResetRedirect,
		now:       cfg.Now,
		snap:      Snapshot{Status: StatusSignIn},
		listeners: make(map[int]func(Snapshot)),
	}
	if r.catalog == nil {
		r.catalog = messages.New()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.policy == (PasswordPolicy{}) {
		r.policy = DefaultPasswordPolicy
	}
	return r
}

// Snapshot returns the current state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Subscribe registers fn for every state change. fn runs on the reconciling
// goroutine and must not call back into the Reconciler's passes. Returns an
// unsubscribe func.
func (r *Reconciler) Subscribe(fn func(Snapshot)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Reconciler) notify(s Snapshot) {
	r.mu.RLock()
	fns := make([]func(Snapshot), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()
	for _, fn := range fns {
		r.callListener(fn, s)
	}
}

// callListener runs fn, reporting a panic instead of letting it reach the pass.
func (r *Reconciler) callListener(fn func(Snapshot), s Snapshot) {
	defer func() {
		if p := recover(); p != nil {
			r.crashed("state listener", p)
		}
	}()
	fn(s)
}

// crashed reports a recovered panic and returns it as an error.
func (r *Reconciler) crashed(op string, p any) error {
	err := fmt.Errorf("auth: %s panic: %v", op, p)
	slog.Error("auth panic recovered", "op", op, "error", err)
	r.reporter.ReportCrash(err)
	return err
}

// failClosed reports a panic that escaped an operation and commits signIn.
// holdsPass says whether the caller already holds passMu.
func (r *Reconciler) failClosed(ctx context.Context, op string, p any, holdsPass bool) {
	r.crashed(op, p)
	if ctx.Err() != nil {
		return
	}
	if !holdsPass {
		r.passMu.Lock()
		defer r.passMu.Unlock()
	}
	r.lastToken = ""
	r.apply(context.WithoutCancel(ctx), signIn(ReasonPanic))
}

// apply commits out to the in-memory state, writes the cache if asked, and
// notifies listeners.
func (r *Reconciler) apply(ctx context.Context, out Outcome) {
	r.mu.Lock()
	r.snap.Status = out.Status
	if out.Status == StatusAuthenticated {
		r.snap.User, r.snap.Token = out.User, out.Token
	} else {
		r.snap.User, r.snap.Token = nil, ""
	}
	snap := r.snap
	r.mu.Unlock()

	if out.WriteCache != nil {
		if !r.cache.Save(ctx, *out.WriteCache) {
			slog.Warn("cached auth write failed", "reason", out.Reason)
		}
	}
	slog.Info("auth state reconciled", "status", out.Status, "reason", out.Reason, "from_cache", out.FromCache)
	r.notify(snap)
}

func (r *Reconciler) markInitialCheckDone() {
	r.mu.Lock()
	if r.snap.InitialCheckDone {
		r.mu.Unlock()
		return
	}
	r.snap.InitialCheckDone = true
	snap := r.snap
	r.mu.Unlock()
	r.notify(snap)
}

// reconcile runs one serialized pass for s.
func (r *Reconciler) reconcile(ctx context.Context, s *gotrue.Session, sessionUnreachable bool) Outcome {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	return r.pass(ctx, s, sessionUnreachable)
}

// pass must be called with passMu held. A panic inside is reported and fails
// closed to signIn, unless an offline cache fallback had already been applied.
func (r *Reconciler) pass(ctx context.Context, s *gotrue.Session, sessionUnreachable bool) (out Outcome) {
	decided := false
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		r.crashed("reconciliation", p)
		if decided {
			return
		}
		out = signIn(ReasonPanic)
		if ctx.Err() == nil {
			r.apply(context.WithoutCancel(ctx), out)
		}
	}()

	r.lastToken = ""
	if s != nil {
		r.lastToken = s.AccessToken
	}

	in := Input{
		Session:                s,
		SessionUnreachable:     sessionUnreachable,
		Connectivity:           r.conn.CurrentState(),
		AllowUnverifiedOffline: r.allow,
		Now:                    r.now(),
	}
	if c, ok := r.cache.Load(ctx); ok {
		in.Cache = c
	}

	out = Transition(in)
	if out.NeedsVerification {
		user, err := r.auth.GetUser(ctx, s.AccessToken)
		if err != nil {
			slog.Warn("session verification failed", "error", err)
		}
		in.Verification = &Verification{User: user, Err: err}
		out = Transition(in)
	}

	if err := ctx.Err(); err != nil {
		slog.Debug("discarding reconciliation result", "reason", out.Reason, "error", err)
		return out
	}
	decided = out.FromCache && out.Status == StatusAuthenticated
	r.apply(ctx, out)
	return out
}

// Initialize runs the startup pass: the cached identity is applied first so
// dependents can render, then the remote session is reconciled.
// InitialCheckDone is set once this returns, whatever the outcome. A panic
// is reported and leaves the state at signIn.
func (r *Reconciler) Initialize(ctx context.Context) {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	defer r.markInitialCheckDone()
	defer func() {
		if p := recover(); p != nil {
			r.failClosed(ctx, "initialize", p, true)
		}
	}()

	if c, ok := r.cache.Load(ctx); ok && (c.Verified || r.allow) {
		r.apply(ctx, fromCache(c, "", ReasonOptimisticCache))
	}

	// Offline there is nothing to ask; the pass falls back to the cache.
	if r.conn.CurrentState() == connectivity.Offline {
		r.pass(ctx, nil, true)
		return
	}
	s, unreachable := r.currentSession(ctx)
	r.pass(ctx, s, unreachable)
}

// currentSession asks the auth service for the persisted session. A nil
// session with unreachable set means the service could not be reached.
func (r *Reconciler) currentSession(ctx context.Context) (*gotrue.Session, bool) {
	s, err := r.auth.GetSession(ctx)
	if err != nil {
		unreachable := errors.Is(err, gotrue.ErrUnreachable)
		if !unreachable {
			slog.Warn("session lookup failed", "error", err)
		}
		return nil, unreachable
	}
	return s, false
}

// Resync reconciles the persisted session again. Called when the network
// comes back so a session skipped while offline, or a cached identity, gets
// verified.
func (r *Reconciler) Resync(ctx context.Context) {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			r.failClosed(ctx, "resync", p, true)
		}
	}()

	s, unreachable := r.currentSession(ctx)
	r.pass(ctx, s, unreachable)
}

// FollowConnectivity runs Resync on every offline to online transition of
// feed until ctx is done. The first online report is left to Initialize.
func (r *Reconciler) FollowConnectivity(ctx context.Context, feed ConnectivityFeed) {
	wake := make(chan struct{}, 1)
	var mu sync.Mutex
	wasOffline := false

	unsubscribe := feed.AddListener(func(online bool) {
		mu.Lock()
		edge := online && wasOffline
		wasOffline = !online
		mu.Unlock()
		if !edge {
			return
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			slog.Info("network back, resyncing session")
			r.Resync(ctx)
		}
	}
}

// HandleSession reconciles a session delivered from outside the event stream
// (deep links, platform callbacks).
func (r *Reconciler) HandleSession(ctx context.Context, s *gotrue.Session) Snapshot {
	r.reconcile(ctx, s, false)
	return r.Snapshot()
}

// Run reconciles remote session events until ctx is done. An event carrying
// the token the previous pass already reconciled is skipped.
func (r *Reconciler) Run(ctx context.Context) {
	events, unsubscribe := r.auth.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handleEvent(ctx, ev)
		}
	}
}

func (r *Reconciler) handleEvent(ctx context.Context, ev gotrue.Event) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	if ev.Session != nil && ev.Session.AccessToken != "" && ev.Session.AccessToken == r.lastToken {
		slog.Debug("session event already reconciled", "event", ev.Type)
		return
	}
	slog.Debug("session event", "event", ev.Type)
	r.pass(ctx, ev.Session, false)
}

// --- User-triggered operations ---

func (r *Reconciler) ok(key string) Result {
	res := Result{OK: true}
	if key != "" {
		res.Message = r.catalog.Text(r.locale, key)
	}
	return res
}

func (r *Reconciler) fail(code string) Result {
	return Result{Code: code, Message: r.catalog.Text(r.locale, messageKeys[code])}
}

func (r *Reconciler) invalid(msgs ...string) Result {
	return Result{Code: CodeValidation, Message: strings.Join(msgs, "; ")}
}

// SignIn signs in with email and password, then reconciles the new session.
func (r *Reconciler) SignIn(ctx context.Context, email, password string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.failClosed(ctx, "sign in", p, false)
			res = r.fail(CodeUnknown)
		}
	}()

	email = strings.ToLower(strings.TrimSpace(email))
	if msg := ValidateEmail(email); msg != "" {
		return r.invalid(msg)
	}
	if password == "" {
		return r.invalid("No password provided")
	}

	s, err := r.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		slog.Info("sign in failed", "error", err)
		return r.fail(ErrorCode(err))
	}
	out := r.reconcile(ctx, s, false)
	if out.Status != StatusAuthenticated {
		return r.fail(codeForReason(out.Reason))
	}
	return r.ok("")
}

// SignUpInput is a sign-up request. The names are held as a PendingProfile
// until the email is verified.
type SignUpInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// SignUp parks the profile fields, then registers the account. The parked
// record has no user id until the auth service assigns one; it is dropped
// again if registration fails. When the auth service signs the user in
// straight away the session is reconciled.
func (r *Reconciler) SignUp(ctx context.Context, in SignUpInput) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.failClosed(ctx, "sign up", p, false)
			res = r.fail(CodeUnknown)
		}
	}()

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	var msgs []string
	if msg := ValidateEmail(in.Email); msg != "" {
		msgs = append(msgs, msg)
	}
	msgs = append(msgs, r.policy.Validate(in.Password)...)
	if msg := profile.ValidateName("First name", in.FirstName); msg != "" {
		msgs = append(msgs, msg)
	}
	if msg := profile.ValidateName("Last name", in.LastName); msg != "" {
		msgs = append(msgs, msg)
	}
	if len(msgs) > 0 {
		return r.invalid(msgs...)
	}

	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	r.park(ctx, profile.NewPending("", first, last, in.Email))

	out, err := r.auth.SignUp(ctx, in.Email, in.Password, r.emailTo)
	if err != nil {
		slog.Info("sign up failed", "error", err)
		r.unpark(ctx)
		return r.fail(ErrorCode(err))
	}
	if out.User == nil || out.User.ID == "" {
		slog.Warn("sign up returned no user")
		r.unpark(ctx)
		return r.fail(CodeUnknown)
	}
	r.park(ctx, profile.NewPending(out.User.ID, first, last, in.Email))

	if out.Session != nil {
		r.reconcile(ctx, out.Session, false)
		return r.ok("")
	}
	return r.ok(messages.VerificationSent)
}

func (r *Reconciler) park(ctx context.Context, p profile.PendingProfile) {
	if r.pending != nil && !r.pending.Put(ctx, p) {
		slog.Warn("parking pending profile failed", "user_id", p.UserID)
	}
}

func (r *Reconciler) unpark(ctx context.Context) {
	if r.pending != nil {
		r.pending.Delete(context.WithoutCancel(ctx))
	}
}

// SignOut signs out remotely, then deletes the cached identity whatever the
// remote call returned, and reconciles to signIn. The remote error is
// returned for logging only; local sign-out always happens, even when the
// remote call panics.
func (r *Reconciler) SignOut(ctx context.Context) (err error) {
	err = r.remoteSignOut(ctx)
	if err != nil {
		slog.Warn("remote sign out failed", "error", err)
	}

	r.passMu.Lock()
	defer r.passMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			r.failClosed(ctx, "sign out", p, true)
		}
	}()
	r.cache.Delete(context.WithoutCancel(ctx))
	r.pass(ctx, nil, false)
	return err
}

func (r *Reconciler) remoteSignOut(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = r.crashed("remote sign out", p)
		}
	}()
	return r.auth.SignOut(ctx)
}

// ResetPassword asks the auth service to email a reset link. It never
// changes the auth state, not even when the request panics.
func (r *Reconciler) ResetPassword(ctx context.Context, email string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.crashed("password reset", p)
			res = r.fail(CodeUnknown)
		}
	}()

	email = strings.ToLower(strings.TrimSpace(email))
	if msg := ValidateEmail(email); msg != "" {
		return r.invalid(msg)
	}
	if err := r.auth.ResetPasswordForEmail(ctx, email, r.resetTo); err != nil {
		slog.Info("password reset request failed", "error", err)
		return r.fail(ErrorCode(err))
	}
	return r.ok(messages.PasswordResetSent)
}

// SignInWithGoogle runs the Google flow, exchanges the ID token for a
// session, and reconciles it. A cancelled flow returns false quietly;
// other failures are reported.
func (r *Reconciler) SignInWithGoogle(ctx context.Context) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.failClosed(ctx, "google sign in", p, false)
			ok = false
		}
	}()

	if r.google == nil {
		slog.Warn("google sign in not configured")
		return false
	}

	claims, err := r.google.SignIn(ctx)
	if errors.Is(err, oauth.ErrCancelled) {
		slog.Info("google sign in cancelled")
		return false
	}
	if err != nil {
		r.reporter.ReportCrash(fmt.Errorf("google sign in: %w", err))
		return false
	}
	if claims.RawIDToken == "" {
		return false
	}

	s, err := r.auth.SignInWithIDToken(ctx, "google", claims.RawIDToken, claims.Nonce)
	if err != nil {
		r.reporter.ReportCrash(fmt.Errorf("google sign in: exchanging ID token: %w", err))
		return false
	}
	out := r.reconcile(ctx, s, false)
	return out.Status == StatusAuthenticated
}
