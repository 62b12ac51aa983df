package securestore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MGallo-Code/ferry/internal/telemetry"
)

// --- Helpers ---

// recordingReporter collects reported errors for assertion.
type recordingReporter struct {
	errs []error
}

func (r *recordingReporter) ReportCrash(err error) { r.errs = append(r.errs, err) }

// failingKV returns err from every operation.
type failingKV struct {
	err error
}

func (f failingKV) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f failingKV) Set(context.Context, string, string) error          { return f.err }
func (f failingKV) Delete(context.Context, string) error               { return f.err }
func (f failingKV) Keys(context.Context) ([]string, error)             { return nil, f.err }

// newSealedStore returns a Store whose keystore is a SealedKV over memory, plus the raw
// backends for inspection.
func newSealedStore(t *testing.T) (*Store, *MemoryKV, *MemoryKV, *recordingReporter) {
	t.Helper()
	fast := NewMemoryKV()
	raw := NewMemoryKV()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	sealed, err := NewSealedKV(raw, key)
	if err != nil {
		t.Fatalf("NewSealedKV failed: %v", err)
	}
	rep := &recordingReporter{}
	return New(fast, sealed, rep), fast, raw, rep
}

// --- IsSecureKey ---

func TestIsSecureKey(t *testing.T) {
	cases := map[string]bool{
		"cachedAuth":             true,
		"sb-auth-token":          true,
		"user_password_hint":     true,
		"credentials":            true,
		"api_key":                true,
		"pendingProfile":         false,
		"themePreference":        false,
		"userProfile_0193-abc":   false,
		"session-encryption-key": false,
		"cachedAuth_chunk_3":     true,
		"hasSeenOnboarding":      false,
	}
	for key, want := range cases {
		if got := IsSecureKey(key); got != want {
			t.Errorf("IsSecureKey(%q): expected %v, got %v", key, want, got)
		}
	}
}

// --- Save + Load ---

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips a struct through the fast store", func(t *testing.T) {
		s, fast, raw, _ := newSealedStore(t)
		type prefs struct {
			Theme string `json:"theme"`
		}

		if !s.Save(ctx, "preferences", prefs{Theme: "dark"}) {
			t.Fatal("Save returned false")
		}
		got, ok := Load[prefs](ctx, s, "preferences")
		if !ok {
			t.Fatal("Load missed")
		}
		if got.Theme != "dark" {
			t.Errorf("Theme: expected %q, got %q", "dark", got.Theme)
		}
		if _, ok, _ := fast.Get(ctx, "preferences"); !ok {
			t.Error("expected value in fast backend")
		}
		if keys, _ := raw.Keys(ctx); len(keys) != 0 {
			t.Errorf("expected empty keystore, got %v", keys)
		}
	})

	t.Run("routes secure keys to the keystore encrypted", func(t *testing.T) {
		s, fast, raw, _ := newSealedStore(t)

		if !s.Save(ctx, "api_key", "sk-123") {
			t.Fatal("Save returned false")
		}
		if _, ok, _ := fast.Get(ctx, "api_key"); ok {
			t.Error("secure key leaked into fast backend")
		}
		enc, ok, _ := raw.Get(ctx, "api_key")
		if !ok {
			t.Fatal("expected value in keystore")
		}
		if strings.Contains(enc, "sk-123") {
			t.Error("keystore value is not encrypted")
		}
		got, ok := Load[string](ctx, s, "api_key")
		if !ok || got != "sk-123" {
			t.Errorf("expected %q, got %q (ok=%v)", "sk-123", got, ok)
		}
	})

	t.Run("missing key is a miss", func(t *testing.T) {
		s, _, _, _ := newSealedStore(t)
		if _, ok := Load[string](ctx, s, "nope"); ok {
			t.Error("expected miss")
		}
	})

	t.Run("non-JSON value degrades to raw string", func(t *testing.T) {
		s, _, _, _ := newSealedStore(t)
		s.SaveString(ctx, "userLanguage", "pt")

		got, ok := Load[string](ctx, s, "userLanguage")
		if !ok || got != "pt" {
			t.Errorf("expected raw %q, got %q (ok=%v)", "pt", got, ok)
		}
	})

	t.Run("non-JSON value is a miss for struct types", func(t *testing.T) {
		s, _, _, _ := newSealedStore(t)
		s.SaveString(ctx, "preferences", "{broken")

		type prefs struct{ Theme string }
		if _, ok := Load[prefs](ctx, s, "preferences"); ok {
			t.Error("expected miss for undecodable struct")
		}
	})
}

// --- Chunking ---

func TestChunking(t *testing.T) {
	ctx := context.Background()

	t.Run("5000 byte value round-trips exactly", func(t *testing.T) {
		s, _, raw, rep := newSealedStore(t)
		value := strings.Repeat("abcdefghij", 500)

		if !s.SaveString(ctx, "cachedAuth", value) {
			t.Fatalf("SaveString failed: %v", rep.errs)
		}
		got, ok := s.LoadString(ctx, "cachedAuth")
		if !ok {
			t.Fatal("LoadString missed")
		}
		if got != value {
			t.Fatalf("round trip mismatch: expected %d bytes, got %d", len(value), len(got))
		}

		// 5000 / 1800 -> 3 chunks plus count, no single entry.
		keys, _ := raw.Keys(ctx)
		want := []string{"cachedAuth_chunk_0", "cachedAuth_chunk_1", "cachedAuth_chunk_2", "cachedAuth_chunks"}
		if strings.Join(keys, ",") != strings.Join(want, ",") {
			t.Errorf("keystore keys: expected %v, got %v", want, keys)
		}
	})

	t.Run("multibyte text splits on bytes and reassembles", func(t *testing.T) {
		s, _, _, _ := newSealedStore(t)
		value := strings.Repeat("ação—", 700)

		s.SaveString(ctx, "token", value)
		got, ok := s.LoadString(ctx, "token")
		if !ok || got != value {
			t.Error("multibyte round trip mismatch")
		}
	})

	t.Run("small write after large write drops stale chunks", func(t *testing.T) {
		s, _, raw, _ := newSealedStore(t)
		s.SaveString(ctx, "cachedAuth", strings.Repeat("x", 4000))
		s.SaveString(ctx, "cachedAuth", "small")

		got, ok := s.LoadString(ctx, "cachedAuth")
		if !ok || got != "small" {
			t.Errorf("expected %q, got %q", "small", got)
		}
		keys, _ := raw.Keys(ctx)
		if len(keys) != 1 || keys[0] != "cachedAuth" {
			t.Errorf("expected only single entry, got %v", keys)
		}
	})

	t.Run("large write after small write is not shadowed", func(t *testing.T) {
		s, _, _, _ := newSealedStore(t)
		large := strings.Repeat("y", 3700)
		s.SaveString(ctx, "cachedAuth", "small")
		s.SaveString(ctx, "cachedAuth", large)

		got, _ := s.LoadString(ctx, "cachedAuth")
		if got != large {
			t.Error("stale single value shadowed chunked value")
		}
	})

	t.Run("shrinking chunk count removes trailing chunks", func(t *testing.T) {
		s, _, raw, _ := newSealedStore(t)
		s.SaveString(ctx, "cachedAuth", strings.Repeat("a", 5000))
		s.SaveString(ctx, "cachedAuth", strings.Repeat("b", 2000))

		if _, ok, _ := raw.Get(ctx, "cachedAuth_chunk_2"); ok {
			t.Error("stale chunk 2 still present")
		}
		got, _ := s.LoadString(ctx, "cachedAuth")
		if got != strings.Repeat("b", 2000) {
			t.Error("unexpected value after shrink")
		}
	})

	t.Run("missing chunk is a miss", func(t *testing.T) {
		s, _, raw, _ := newSealedStore(t)
		s.SaveString(ctx, "cachedAuth", strings.Repeat("z", 5000))
		raw.Delete(ctx, "cachedAuth_chunk_1")

		if _, ok := s.LoadString(ctx, "cachedAuth"); ok {
			t.Error("expected miss with a chunk missing")
		}
	})

	t.Run("remove deletes all chunks and count", func(t *testing.T) {
		s, _, raw, _ := newSealedStore(t)
		s.SaveString(ctx, "cachedAuth", strings.Repeat("z", 5000))
		s.Remove(ctx, "cachedAuth")

		if keys, _ := raw.Keys(ctx); len(keys) != 0 {
			t.Errorf("expected empty keystore, got %v", keys)
		}
	})
}

// --- Failure policy ---

func TestFailuresAreReportedNotReturned(t *testing.T) {
	ctx := context.Background()
	backendErr := errors.New("keystore unavailable")

	t.Run("save returns false and reports", func(t *testing.T) {
		rep := &recordingReporter{}
		s := New(NewMemoryKV(), failingKV{err: backendErr}, rep)

		if s.SaveString(ctx, "cachedAuth", "v") {
			t.Error("expected SaveString to return false")
		}
		if len(rep.errs) != 1 || !errors.Is(rep.errs[0], backendErr) {
			t.Errorf("expected one reported backend error, got %v", rep.errs)
		}
	})

	t.Run("load misses and reports", func(t *testing.T) {
		rep := &recordingReporter{}
		s := New(NewMemoryKV(), failingKV{err: backendErr}, rep)

		if _, ok := s.LoadString(ctx, "cachedAuth"); ok {
			t.Error("expected miss")
		}
		if len(rep.errs) != 1 {
			t.Errorf("expected one report, got %d", len(rep.errs))
		}
	})

	t.Run("remove reports only", func(t *testing.T) {
		rep := &recordingReporter{}
		s := New(failingKV{err: backendErr}, NewMemoryKV(), rep)

		s.Remove(ctx, "pendingProfile")
		if len(rep.errs) != 1 {
			t.Errorf("expected one report, got %d", len(rep.errs))
		}
	})

	t.Run("oversized direct keystore write is rejected", func(t *testing.T) {
		_, _, raw, _ := newSealedStore(t)
		sealed, _ := NewSealedKV(raw, make([]byte, 32))
		err := sealed.Set(ctx, "token", strings.Repeat("q", MaxSealedValue+1))
		if !errors.Is(err, ErrValueTooLarge) {
			t.Errorf("expected ErrValueTooLarge, got %v", err)
		}
	})

	t.Run("nil reporter is tolerated", func(t *testing.T) {
		s := New(failingKV{err: backendErr}, failingKV{err: backendErr}, nil)
		s.SaveString(ctx, "x", "y")
		s.Clear(ctx)
	})
}

// --- Clear / ClearAll ---

func TestClear(t *testing.T) {
	ctx := context.Background()

	seed := func(s *Store) {
		s.SaveString(ctx, "themePreference", "dark")
		s.SaveString(ctx, "hasSeenOnboarding", "true")
		s.SaveString(ctx, "userLanguage", "en")
		s.SaveString(ctx, DeviceKeyName, "k")
		s.SaveString(ctx, "pendingProfile", "{}")
		s.SaveString(ctx, "cachedAuth", strings.Repeat("c", 4000))
	}

	t.Run("clear keeps protected keys", func(t *testing.T) {
		s := NewMemory(telemetry.Nop{})
		seed(s)
		s.Clear(ctx)

		for _, k := range []string{"themePreference", "hasSeenOnboarding", "userLanguage", DeviceKeyName} {
			if _, ok := s.LoadString(ctx, k); !ok {
				t.Errorf("protected key %q was cleared", k)
			}
		}
		for _, k := range []string{"pendingProfile", "cachedAuth"} {
			if _, ok := s.LoadString(ctx, k); ok {
				t.Errorf("key %q survived clear", k)
			}
		}
	})

	t.Run("clear all removes everything", func(t *testing.T) {
		s := NewMemory(telemetry.Nop{})
		seed(s)
		s.ClearAll(ctx)

		if keys := s.Keys(ctx); len(keys) != 0 {
			t.Errorf("expected no keys, got %v", keys)
		}
	})

	t.Run("keys folds chunk entries", func(t *testing.T) {
		s := NewMemory(telemetry.Nop{})
		s.SaveString(ctx, "cachedAuth", strings.Repeat("c", 4000))
		s.SaveString(ctx, "pendingProfile", "{}")

		keys := s.Keys(ctx)
		if len(keys) != 2 {
			t.Fatalf("expected 2 logical keys, got %v", keys)
		}
	})
}
