// Package profile materializes application profiles for verified sign-ups.
//
// pending.go -- Sign-up details parked until the email is verified.
// Written at sign-up, taken exactly once by the deep-link bridge.
package profile

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/MGallo-Code/ferry/internal/securestore"
)

// PendingKey holds the parked sign-up. Not a secure key: names and email only.
const PendingKey = "pendingProfile"

const (
	pendingKind    = "pendingProfile"
	pendingVersion = 1
)

// PendingProfile is the versioned record stored under PendingKey.
type PendingProfile struct {
	Version   int    `json:"version"`
	Kind      string `json:"kind"`
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// NewPending returns a tagged record.
func NewPending(userID, firstName, lastName, email string) PendingProfile {
	return PendingProfile{
		Version:   pendingVersion,
		Kind:      pendingKind,
		UserID:    userID,
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
	}
}

// BelongsTo reports whether p was parked for the user. A record parked before
// the auth service assigned an id matches on email instead.
func (p PendingProfile) BelongsTo(userID, email string) bool {
	if p.UserID != "" {
		return p.UserID == userID
	}
	return email != "" && strings.EqualFold(p.Email, email)
}

// PendingStore parks at most one PendingProfile.
type PendingStore struct {
	store *securestore.Store
	mu    sync.Mutex
}

// NewPendingStore returns a PendingStore over store.
func NewPendingStore(store *securestore.Store) *PendingStore {
	return &PendingStore{store: store}
}

// Put replaces any parked profile with p.
func (s *PendingStore) Put(ctx context.Context, p PendingProfile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Save(ctx, PendingKey, p)
}

// Take removes and returns the parked profile. The key is deleted even when
// the stored record is malformed, which reads as a miss. Concurrent callers
// never both receive the same record.
func (s *PendingStore) Take(ctx context.Context) (*PendingProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.store.LoadString(ctx, PendingKey)
	if !ok {
		return nil, false
	}
	s.store.Remove(ctx, PendingKey)

	var p PendingProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false
	}
	if p.Kind != pendingKind || p.Version != pendingVersion || (p.UserID == "" && p.Email == "") {
		return nil, false
	}
	return &p, true
}

// Delete drops any parked profile. Used when the sign-up it was parked for
// fails.
func (s *PendingStore) Delete(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Remove(ctx, PendingKey)
}
