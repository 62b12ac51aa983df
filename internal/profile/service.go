// service.go -- Profile creation and cached lookup.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/ferry/internal/securestore"
)

// CacheKeyPrefix prefixes the per-user profile cache key.
const CacheKeyPrefix = "userProfile_"

var (
	// ErrNotFound is returned when no profile exists for the id.
	ErrNotFound = errors.New("profile: not found")
	// ErrRejected wraps a refusal reported by the signup procedure itself.
	ErrRejected = errors.New("profile: signup rejected")
	// ErrInvalidID is returned for ids that are not UUIDs.
	ErrInvalidID = errors.New("profile: invalid user id")
)

// Profile is a row of the users table.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SignupParams are the arguments of the signup procedure.
type SignupParams struct {
	UserID      uuid.UUID
	FirstName   string
	LastName    string
	Email       string
	SignupToken string
}

// Store is the backend holding profiles. Satisfied by *PostgresStore.
type Store interface {
	// CallSignupProfile runs the signup procedure. A refusal wraps ErrRejected.
	CallSignupProfile(ctx context.Context, p SignupParams) error

	// GetProfileByID returns ErrNotFound when no row exists.
	GetProfileByID(ctx context.Context, id uuid.UUID) (*Profile, error)
}

// Connectivity reports whether the network is known to be down.
type Connectivity interface {
	IsOffline() bool
}

// Service creates profiles and serves them with an offline cache.
type Service struct {
	store Store
	cache *securestore.Store
	conn  Connectivity
}

// NewService returns a Service.
func NewService(store Store, cache *securestore.Store, conn Connectivity) *Service {
	return &Service{store: store, cache: cache, conn: conn}
}

// CreateProfile validates p, runs the signup procedure, then returns the new
// profile (which also primes the cache).
func (s *Service) CreateProfile(ctx context.Context, p PendingProfile, signupToken string) (*Profile, error) {
	valid, err := Validate(p)
	if err != nil {
		return nil, err
	}
	id := uuid.FromStringOrNil(valid.UserID)

	if err := s.store.CallSignupProfile(ctx, SignupParams{
		UserID:      id,
		FirstName:   valid.FirstName,
		LastName:    valid.LastName,
		Email:       valid.Email,
		SignupToken: signupToken,
	}); err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}
	return s.GetProfileByID(ctx, valid.UserID)
}

// GetProfileByID fetches a profile. While offline the cached copy is served
// first; if the fetch fails while offline the cache is the fallback.
func (s *Service) GetProfileByID(ctx context.Context, userID string) (*Profile, error) {
	id, err := uuid.FromString(userID)
	if err != nil {
		return nil, ErrInvalidID
	}

	offline := s.conn.IsOffline()
	if offline {
		if p, ok := s.cached(ctx, id); ok {
			return p, nil
		}
	}

	p, err := s.store.GetProfileByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && s.conn.IsOffline() {
			if cached, ok := s.cached(ctx, id); ok {
				return cached, nil
			}
		}
		return nil, err
	}
	s.cache.Save(ctx, CacheKeyPrefix+id.String(), p)
	return p, nil
}

func (s *Service) cached(ctx context.Context, id uuid.UUID) (*Profile, bool) {
	p, ok := securestore.Load[Profile](ctx, s.cache, CacheKeyPrefix+id.String())
	if !ok || p.ID != id {
		return nil, false
	}
	return &p, true
}
