package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MGallo-Code/ferry/internal/auth"
	"github.com/MGallo-Code/ferry/internal/config"
	"github.com/MGallo-Code/ferry/internal/connectivity"
	"github.com/MGallo-Code/ferry/internal/deeplink"
	"github.com/MGallo-Code/ferry/internal/gotrue"
	"github.com/MGallo-Code/ferry/internal/messages"
	"github.com/MGallo-Code/ferry/internal/oauth"
	"github.com/MGallo-Code/ferry/internal/profile"
	"github.com/MGallo-Code/ferry/internal/sessioncache"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run builds every component and serves the control surface until ctx is
// cancelled. It returns an error instead of calling os.Exit, so deferred
// cleanup always runs. If ready is non-nil, the server's base URL is sent on
// it once the listener is bound and the control token is known.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	reporter, closeReporter := buildReporter(cfg)
	defer closeReporter()

	st, err := buildStore(ctx, cfg, reporter)
	if err != nil {
		return err
	}
	defer st.close()

	gt := gotrue.New(gotrue.Config{
		URL:         cfg.SupabaseURL,
		AnonKey:     cfg.SupabaseAnonKey,
		Store:       st.store,
		RefreshTick: cfg.RefreshTick,
	})

	catalog := messages.New()
	monitor := connectivity.NewMonitor(
		connectivity.DialProber{Address: cfg.ProbeAddr, Timeout: cfg.ProbeTimeout},
		connectivity.WithNotifier(connectivity.LogNotifier{Catalog: catalog, Locale: cfg.Locale}),
		connectivity.WithDebounce(cfg.ToastDebounce),
	)
	// Refresh sessions only while the app is in the foreground.
	monitor.OnAppState(func(ctx context.Context, s connectivity.AppState) {
		if s == connectivity.AppActive {
			gt.StartAutoRefresh(ctx)
			return
		}
		gt.StopAutoRefresh()
	})
	defer gt.StopAutoRefresh()

	checks := map[string]auth.HealthChecker{"postgres": nil}
	if st.redis != nil {
		checks["redis"] = st.redis
	}

	// Profile materialization is optional and must not block an offline start.
	var profiles *profile.Service
	if cfg.DatabaseURL != "" {
		ps, err := profile.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Warn("profile database unavailable, profile creation disabled", "error", err)
		} else {
			defer ps.Close()
			if err := ps.Migrate(ctx, profile.Migrations()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			profiles = profile.NewService(ps, st.store, monitor)
			checks["postgres"] = ps
		}
	}

	var google auth.IdentityProvider
	if cfg.GoogleClientID != "" {
		// Discovery needs the network; offline starts simply go without Google.
		p, err := oauth.NewGoogleProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret)
		if err != nil {
			slog.Warn("google sign in unavailable", "error", err)
		} else {
			google = &oauth.LoopbackFlow{Provider: p, Open: showConsentURL}
		}
	}

	pending := profile.NewPendingStore(st.store)
	rec := auth.New(auth.Config{
		Auth:     gt,
		Conn:     monitor,
		Cache:    sessioncache.NewCache(st.store, nil),
		Pending:  pending,
		Google:   google,
		Catalog:  catalog,
		Locale:   cfg.Locale,
		Reporter: reporter,
		Policy: auth.PasswordPolicy{
			MinLength:        cfg.PasswordMinLength,
			MaxLength:        auth.DefaultPasswordPolicy.MaxLength,
			RequireUppercase: cfg.PasswordRequireUppercase,
			RequireDigit:     cfg.PasswordRequireDigit,
			RequireSpecial:   cfg.PasswordRequireSpecial,
		},
		AllowUnverifiedOffline: cfg.AllowUnverifiedOffline,
		EmailRedirect:          cfg.EmailRedirect,
		ResetRedirect:          cfg.ResetRedirect,
	})

	bridgeCfg := deeplink.Config{
		Sessions: gt,
		Rec:      rec,
		Pending:  pending,
		Reporter: reporter,
		Scheme:   cfg.DeepLinkScheme,
	}
	h := &auth.AuthHandler{Rec: rec, Conn: monitor, Data: st.store, Checks: checks}
	if profiles != nil {
		bridgeCfg.Profiles = profiles
		h.Profiles = profiles
	}
	bridge := deeplink.New(bridgeCfg)
	nav := deeplink.NewStack()

	h.ControlToken, err = controlToken(cfg)
	if err != nil {
		return err
	}

	// Bind loopback only; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(h, bridge.Handler(nav), appStateHandler(monitor)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Background work stops when run() returns.
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	go monitor.Run(bgCtx, cfg.ProbeInterval)
	go rec.Run(bgCtx)
	go rec.FollowConnectivity(bgCtx, monitor)
	go func() {
		monitor.HandleAppState(bgCtx, connectivity.AppActive)
		rec.Initialize(bgCtx)
		if cfg.InitialURL != "" {
			if _, err := bridge.HandleURL(bgCtx, cfg.InitialURL, nav); err != nil {
				slog.Info("initial url not handled", "error", err)
			}
		}
	}()

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("ferry listening", "addr", ln.Addr().String())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// /health and the deep-link receiver are open; everything else needs the
// control token.
func buildRouter(h *auth.AuthHandler, links, appState http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/health", h.CheckHealth)
		r.Get("/"+deeplink.VerifyPath, links)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.RequireControlToken)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/status", h.Status)
			r.Post("/signin", h.SignIn)
			r.Post("/signup", h.SignUp)
			r.Post("/signout", h.SignOut)
			r.Post("/password/reset", h.PasswordReset)
			r.Post("/app-state", appState)
			r.Get("/storage/keys", h.StorageKeys)
			r.Post("/storage/clear", h.StorageClear)
			r.With(h.RequireAuthenticated).Get("/me", h.Me)
		})

		// Waits on the user at the consent page; the flow has its own timeout.
		r.Post("/oauth/google", h.GoogleSignIn)
	})

	return r
}

// appStateHandler handles POST /app-state -- foreground/background changes
// from the host application.
func appStateHandler(m *connectivity.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			State connectivity.AppState `json:"state"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<10)
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			auth.BadRequest(w, r, "error decoding request body")
			return
		}
		switch in.State {
		case connectivity.AppActive, connectivity.AppInactive, connectivity.AppBackground:
		default:
			auth.BadRequest(w, r, "state must be active, inactive or background")
			return
		}
		// Hooks outlive the request.
		m.HandleAppState(context.WithoutCancel(r.Context()), in.State)
		auth.OK(w, m.CurrentState().String())
	}
}

// controlToken returns the configured control token, or generates one and
// writes it to <data dir>/control-token (0600) for local clients to read.
func controlToken(cfg *config.Config) (string, error) {
	if cfg.ControlToken != "" {
		return cfg.ControlToken, nil
	}
	tok, err := auth.GenerateControlToken()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	path := filepath.Join(cfg.DataDir, "control-token")
	if err := os.WriteFile(path, []byte(tok), 0o600); err != nil {
		return "", fmt.Errorf("writing control token: %w", err)
	}
	slog.Info("control token written", "path", path)
	return tok, nil
}

// showConsentURL hands the Google consent page to the user through the log.
func showConsentURL(url string) error {
	slog.Info("open this url to continue google sign in", "url", url)
	return nil
}
