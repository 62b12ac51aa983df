// loopback.go -- Installed-app sign-in via a 127.0.0.1 redirect listener.
package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// ErrCancelled means the user closed or declined the consent page.
var ErrCancelled = errors.New("oauth: sign-in cancelled")

// LoopbackFlow runs one interactive sign-in: it listens on an ephemeral
// loopback port, opens the consent page and waits for the redirect.
type LoopbackFlow struct {
	Provider Provider
	// Open shows url to the user (browser launcher). Required.
	Open func(url string) error
	// Timeout bounds the wait for the redirect. Defaults to 5 minutes; expiry counts as cancelled.
	Timeout time.Duration
	Logger  *slog.Logger
}

type callbackResult struct {
	code string
	err  error
}

// SignIn returns verified claims with Nonce set to the raw nonce, ready to
// hand to the auth service's ID-token grant.
func (f *LoopbackFlow) SignIn(ctx context.Context) (*Claims, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	secrets, err := newPKCE()
	if err != nil {
		return nil, fmt.Errorf("generating pkce: %w", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listening for oauth redirect: %w", err)
	}
	redirectURI := fmt.Sprintf("http://%s/callback", ln.Addr().String())

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackRouter(secrets.state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go srv.Serve(ln)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := f.Open(f.Provider.AuthCodeURL(secrets.state, secrets.challenge, secrets.hashedNonce, redirectURI)); err != nil {
		return nil, fmt.Errorf("opening consent page: %w", err)
	}
	logger.Info("oauth consent page opened", "provider", f.Provider.Name(), "redirect_uri", redirectURI)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res callbackResult
	select {
	case res = <-results:
	case <-timer.C:
		return nil, ErrCancelled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	claims, err := f.Provider.Exchange(ctx, res.code, secrets.verifier, secrets.hashedNonce, redirectURI)
	if err != nil {
		return nil, err
	}
	claims.Nonce = secrets.nonce
	return claims, nil
}

// callbackRouter accepts exactly one well-formed redirect.
func callbackRouter(state string, results chan<- callbackResult) http.Handler {
	r := chi.NewRouter()
	r.Get("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if subtle.ConstantTimeCompare([]byte(state), []byte(q.Get("state"))) != 1 {
			http.Error(w, "invalid oauth state", http.StatusBadRequest)
			return
		}

		var res callbackResult
		switch {
		case q.Get("error") == "access_denied":
			res.err = ErrCancelled
		case q.Get("error") != "":
			res.err = fmt.Errorf("oauth: provider error %q: %s", q.Get("error"), q.Get("error_description"))
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		default:
			res.code = q.Get("code")
		}

		select {
		case results <- res:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte("Sign-in complete. You can close this window."))
		default:
			http.Error(w, "sign-in already completed", http.StatusConflict)
		}
	})
	return r
}
