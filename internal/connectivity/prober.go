// prober.go -- TCP reachability probe and toast sinks.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/MGallo-Code/ferry/internal/messages"
)

// DialProber reports online when a TCP connection to Address succeeds within Timeout.
type DialProber struct {
	Address string
	Timeout time.Duration
}

// Probe dials Address. Dial failures mean offline, not an error; only a
// cancelled ctx is returned as one.
func (p DialProber) Probe(ctx context.Context) (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return false, ctxErr
		}
		return false, nil
	}
	conn.Close()
	return true, nil
}

// ToastType mirrors the UI's message styles.
type ToastType string

const (
	ToastSuccess ToastType = "success"
	ToastError   ToastType = "error"
)

// Toast is a transient connectivity message. Key is a messages catalog key.
type Toast struct {
	Key      string
	Type     ToastType
	Duration time.Duration
}

func newToast(online bool) Toast {
	if online {
		return Toast{Key: messages.ConnectedToInternet, Type: ToastSuccess, Duration: 3 * time.Second}
	}
	return Toast{Key: messages.NoInternet, Type: ToastError, Duration: 3 * time.Second}
}

// Notifier displays toasts.
type Notifier interface {
	Notify(Toast)
}

// NopNotifier drops toasts.
type NopNotifier struct{}

func (NopNotifier) Notify(Toast) {}

// LogNotifier renders toasts through the catalog and writes them to Logger.
type LogNotifier struct {
	Logger  *slog.Logger
	Catalog *messages.Catalog
	Locale  string
}

func (n LogNotifier) Notify(t Toast) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	text := t.Key
	if n.Catalog != nil {
		text = n.Catalog.Text(n.Locale, t.Key)
	}
	level := slog.LevelInfo
	if t.Type == ToastError {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "connectivity toast", "message", text, "type", string(t.Type))
}
