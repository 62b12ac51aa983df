package telemetry

import (
	"errors"
	"testing"
)

// --- Safe ---

func TestSafe(t *testing.T) {
	t.Run("forwards non-nil errors", func(t *testing.T) {
		var got []error
		r := Safe(ReporterFunc(func(err error) { got = append(got, err) }))

		want := errors.New("boom")
		r.ReportCrash(want)

		if len(got) != 1 || got[0] != want {
			t.Fatalf("expected [%v], got %v", want, got)
		}
	})

	t.Run("ignores nil errors", func(t *testing.T) {
		called := false
		r := Safe(ReporterFunc(func(error) { called = true }))

		r.ReportCrash(nil)

		if called {
			t.Error("inner reporter should not be called for nil error")
		}
	})

	t.Run("swallows panics from inner reporter", func(t *testing.T) {
		r := Safe(ReporterFunc(func(error) { panic("reporter down") }))

		// Must not panic.
		r.ReportCrash(errors.New("boom"))
	})

	t.Run("nil reporter falls back to logging", func(t *testing.T) {
		r := Safe(nil)
		r.ReportCrash(errors.New("boom"))
	})

	t.Run("does not double wrap", func(t *testing.T) {
		r := Safe(Nop{})
		if _, ok := Safe(r).(safeReporter); !ok {
			t.Fatal("expected safeReporter")
		}
		if Safe(r).(safeReporter).inner != (Nop{}) {
			t.Error("expected inner reporter to stay Nop")
		}
	})
}

// --- NewSentryReporter ---

func TestNewSentryReporter(t *testing.T) {
	t.Run("errors on empty dsn", func(t *testing.T) {
		_, err := NewSentryReporter("", "test")
		if err == nil {
			t.Fatal("expected error for empty dsn, got nil")
		}
	})

	t.Run("errors on malformed dsn", func(t *testing.T) {
		_, err := NewSentryReporter("not a dsn", "test")
		if err == nil {
			t.Fatal("expected error for malformed dsn, got nil")
		}
	})
}
