package profile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/ferry/internal/securestore"
	"github.com/MGallo-Code/ferry/internal/telemetry"
)

const validID = "6f1c2a52-1d3b-4c8e-9a77-0b1f2e3d4c5a"

// --- Validate ---

func TestValidate(t *testing.T) {
	base := NewPending(validID, "Ana", "Silva", "ana@example.com")

	t.Run("valid input is normalized", func(t *testing.T) {
		in := base
		in.FirstName = "  João "
		in.LastName = "O'Neil-Souza"
		in.Email = "Ana@Example.COM"
		got, err := Validate(in)
		if err != nil {
			t.Fatalf("expected valid, got %v", err)
		}
		if got.FirstName != "João" || got.Email != "ana@example.com" {
			t.Errorf("unexpected normalization %+v", got)
		}
	})

	cases := []struct {
		name  string
		edit  func(*PendingProfile)
		field string
	}{
		{"bad uuid", func(p *PendingProfile) { p.UserID = "123" }, "userId"},
		{"empty first name", func(p *PendingProfile) { p.FirstName = "" }, "firstName"},
		{"long last name", func(p *PendingProfile) { p.LastName = strings.Repeat("a", 51) }, "lastName"},
		{"digits in name", func(p *PendingProfile) { p.FirstName = "Ana2" }, "firstName"},
		{"empty email", func(p *PendingProfile) { p.Email = "" }, "email"},
		{"long email", func(p *PendingProfile) { p.Email = strings.Repeat("a", 95) + "@x.com" }, "email"},
		{"malformed email", func(p *PendingProfile) { p.Email = "not-an-email" }, "email"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.edit(&in)
			_, err := Validate(in)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(verr) != 1 || verr[0].Field != tc.field {
				t.Errorf("expected single failure on %s, got %+v", tc.field, verr)
			}
		})
	}

	t.Run("fifty characters is allowed", func(t *testing.T) {
		in := base
		in.FirstName = strings.Repeat("é", 50)
		if _, err := Validate(in); err != nil {
			t.Errorf("expected 50 runes to pass, got %v", err)
		}
	})
}

// --- PendingStore ---

func TestPendingStore(t *testing.T) {
	ctx := context.Background()

	t.Run("take returns once then misses", func(t *testing.T) {
		s := NewPendingStore(securestore.NewMemory(telemetry.Nop{}))
		s.Put(ctx, NewPending(validID, "Ana", "Silva", "ana@example.com"))

		p, ok := s.Take(ctx)
		if !ok || p.UserID != validID {
			t.Fatalf("expected pending profile, got %+v (ok=%v)", p, ok)
		}
		if _, ok := s.Take(ctx); ok {
			t.Error("expected second Take to miss")
		}
	})

	t.Run("malformed record is removed and misses", func(t *testing.T) {
		store := securestore.NewMemory(telemetry.Nop{})
		store.SaveString(ctx, PendingKey, `{"userId":"x"}`)
		s := NewPendingStore(store)
		if _, ok := s.Take(ctx); ok {
			t.Error("expected untagged record to miss")
		}
		if _, ok := store.LoadString(ctx, PendingKey); ok {
			t.Error("expected malformed record removed")
		}
	})

	t.Run("concurrent takers receive it once", func(t *testing.T) {
		s := NewPendingStore(securestore.NewMemory(telemetry.Nop{}))
		s.Put(ctx, NewPending(validID, "Ana", "Silva", "ana@example.com"))

		var wg sync.WaitGroup
		var mu sync.Mutex
		hits := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := s.Take(ctx); ok {
					mu.Lock()
					hits++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if hits != 1 {
			t.Errorf("expected exactly one taker, got %d", hits)
		}
	})

	t.Run("record without a user id is kept when it has an email", func(t *testing.T) {
		s := NewPendingStore(securestore.NewMemory(telemetry.Nop{}))
		s.Put(ctx, NewPending("", "Ana", "Silva", "ana@example.com"))

		p, ok := s.Take(ctx)
		if !ok || p.Email != "ana@example.com" {
			t.Fatalf("expected id-less pending profile, got %+v (ok=%v)", p, ok)
		}
	})

	t.Run("delete drops the record", func(t *testing.T) {
		s := NewPendingStore(securestore.NewMemory(telemetry.Nop{}))
		s.Put(ctx, NewPending(validID, "Ana", "Silva", "ana@example.com"))
		s.Delete(ctx)
		if _, ok := s.Take(ctx); ok {
			t.Error("expected miss after Delete")
		}
	})
}

func TestPendingBelongsTo(t *testing.T) {
	cases := []struct {
		name          string
		p             PendingProfile
		userID, email string
		want          bool
	}{
		{"same id", NewPending(validID, "A", "B", "a@example.com"), validID, "x@example.com", true},
		{"other id", NewPending(validID, "A", "B", "a@example.com"), "other", "a@example.com", false},
		{"no id, same email", NewPending("", "A", "B", "a@example.com"), validID, "A@Example.com", true},
		{"no id, other email", NewPending("", "A", "B", "a@example.com"), validID, "b@example.com", false},
		{"no id, no email on session", NewPending("", "A", "B", "a@example.com"), validID, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.BelongsTo(tc.userID, tc.email); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// --- Service ---

type fakeStore struct {
	signupErr error
	getErr    error
	profiles  map[uuid.UUID]*Profile
	calls     []SignupParams
	gets      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: make(map[uuid.UUID]*Profile)}
}

func (f *fakeStore) CallSignupProfile(_ context.Context, p SignupParams) error {
	f.calls = append(f.calls, p)
	if f.signupErr != nil {
		return f.signupErr
	}
	f.profiles[p.UserID] = &Profile{ID: p.UserID, FirstName: p.FirstName, LastName: p.LastName, Email: p.Email}
	return nil
}

func (f *fakeStore) GetProfileByID(_ context.Context, id uuid.UUID) (*Profile, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

type offlineFlag bool

func (o *offlineFlag) IsOffline() bool { return bool(*o) }

func TestCreateProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes and calls signup procedure", func(t *testing.T) {
		fs := newFakeStore()
		online := offlineFlag(false)
		svc := NewService(fs, securestore.NewMemory(telemetry.Nop{}), &online)

		p, err := svc.CreateProfile(ctx, NewPending(validID, " Ana ", "Silva", "ANA@example.com"), "signup-tok")
		if err != nil {
			t.Fatalf("CreateProfile failed: %v", err)
		}
		if p.Email != "ana@example.com" || p.FirstName != "Ana" {
			t.Errorf("unexpected profile %+v", p)
		}
		if len(fs.calls) != 1 || fs.calls[0].SignupToken != "signup-tok" {
			t.Errorf("unexpected signup calls %+v", fs.calls)
		}
	})

	t.Run("invalid input never reaches the store", func(t *testing.T) {
		fs := newFakeStore()
		online := offlineFlag(false)
		svc := NewService(fs, securestore.NewMemory(telemetry.Nop{}), &online)
		if _, err := svc.CreateProfile(ctx, NewPending("nope", "Ana", "Silva", "ana@example.com"), "t"); err == nil {
			t.Fatal("expected validation error")
		}
		if len(fs.calls) != 0 {
			t.Error("expected no store call")
		}
	})

	t.Run("rejection is wrapped", func(t *testing.T) {
		fs := newFakeStore()
		fs.signupErr = ErrRejected
		online := offlineFlag(false)
		svc := NewService(fs, securestore.NewMemory(telemetry.Nop{}), &online)
		if _, err := svc.CreateProfile(ctx, NewPending(validID, "Ana", "Silva", "ana@example.com"), "t"); !errors.Is(err, ErrRejected) {
			t.Errorf("expected ErrRejected, got %v", err)
		}
	})
}

func TestGetProfileByID(t *testing.T) {
	ctx := context.Background()
	id := uuid.FromStringOrNil(validID)

	t.Run("invalid id", func(t *testing.T) {
		online := offlineFlag(false)
		svc := NewService(newFakeStore(), securestore.NewMemory(telemetry.Nop{}), &online)
		if _, err := svc.GetProfileByID(ctx, "x"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("online fetch primes cache used offline", func(t *testing.T) {
		fs := newFakeStore()
		fs.profiles[id] = &Profile{ID: id, FirstName: "Ana"}
		offline := offlineFlag(false)
		svc := NewService(fs, securestore.NewMemory(telemetry.Nop{}), &offline)

		if _, err := svc.GetProfileByID(ctx, validID); err != nil {
			t.Fatalf("online fetch failed: %v", err)
		}
		offline = true
		fs.getErr = errors.New("network down")
		p, err := svc.GetProfileByID(ctx, validID)
		if err != nil || p.FirstName != "Ana" {
			t.Fatalf("expected cached profile offline, got %+v, %v", p, err)
		}
		if fs.gets != 1 {
			t.Errorf("expected offline read served from cache without fetch, got %d fetches", fs.gets)
		}
	})

	t.Run("online failure is returned", func(t *testing.T) {
		fs := newFakeStore()
		fs.getErr = errors.New("boom")
		online := offlineFlag(false)
		svc := NewService(fs, securestore.NewMemory(telemetry.Nop{}), &online)
		if _, err := svc.GetProfileByID(ctx, validID); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("offline without cache falls through to fetch", func(t *testing.T) {
		fs := newFakeStore()
		fs.profiles[id] = &Profile{ID: id, FirstName: "Ana"}
		offline := offlineFlag(true)
		svc := NewService(fs, securestore.NewMemory(telemetry.Nop{}), &offline)
		p, err := svc.GetProfileByID(ctx, validID)
		if err != nil || p.FirstName != "Ana" {
			t.Errorf("expected fetched profile, got %+v, %v", p, err)
		}
	})
}
