// telemetry.go -- Crash telemetry collaborator.
//
// Every subsystem reports swallowed errors here instead of propagating them.
// Reporters are fire-and-forget: they must never panic and never block.
package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives errors that were handled locally but still worth tracking.
type Reporter interface {
	ReportCrash(err error)
}

// ReporterFunc adapts a plain func to Reporter.
type ReporterFunc func(err error)

// ReportCrash calls f(err).
func (f ReporterFunc) ReportCrash(err error) { f(err) }

// Nop drops every report. Zero value is ready to use.
type Nop struct{}

// ReportCrash does nothing.
func (Nop) ReportCrash(error) {}

// LogReporter writes reports as slog error lines. Used when no DSN is configured.
type LogReporter struct {
	Logger *slog.Logger // nil means slog.Default()
}

// ReportCrash logs err at error level.
func (l LogReporter) ReportCrash(err error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("handled error reported", "error", err)
}

// SentryReporter forwards reports to Sentry.
// CaptureException only queues the event; the HTTP transport sends in the background.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter initializes the Sentry client for dsn.
// environment is attached to every event (e.g. "production", "dev").
func NewSentryReporter(dsn, environment string) (*SentryReporter, error) {
	if dsn == "" {
		return nil, errors.New("sentry dsn is required")
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing sentry client: %w", err)
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// ReportCrash queues err as a Sentry exception event.
func (s *SentryReporter) ReportCrash(err error) {
	s.hub.CaptureException(err)
}

// Close flushes queued events, waiting at most timeout.
func (s *SentryReporter) Close(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

// safeReporter guards an inner Reporter so callers can report unconditionally.
type safeReporter struct {
	inner Reporter
}

// Safe wraps r so that nil errors are ignored and panics inside r are swallowed.
// A nil r yields a reporter that logs through slog.
func Safe(r Reporter) Reporter {
	if r == nil {
		r = LogReporter{}
	}
	if s, ok := r.(safeReporter); ok {
		return s
	}
	return safeReporter{inner: r}
}

// ReportCrash forwards err to the inner reporter; never panics.
func (s safeReporter) ReportCrash(err error) {
	if err == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("telemetry reporter panicked", "panic", rec, "error", err)
		}
	}()
	s.inner.ReportCrash(err)
}
