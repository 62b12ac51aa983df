// cache.go -- Durable last-known-good session for offline continuity.
//
// One record under Key, written after every successful remote verification
// and read when the auth service cannot be asked. A record that fails schema
// validation or has expired is deleted on sight and reported as a miss.
package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MGallo-Code/ferry/internal/gotrue"
	"github.com/MGallo-Code/ferry/internal/securestore"
	"github.com/MGallo-Code/ferry/internal/token"
)

// Key is routed to the keystore (contains "cachedAuth").
const Key = "cachedAuth"

const (
	kind    = "cachedAuth"
	version = 1
)

var errSchema = errors.New("sessioncache: schema mismatch")

// CachedAuth is the persisted record.
type CachedAuth struct {
	Version   int          `json:"version"`
	Kind      string       `json:"kind"`
	User      *gotrue.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	// Verified is true when the auth service confirmed the token at write time.
	// False only for identities decoded from an unverified token while offline.
	Verified bool `json:"verified"`
}

// New builds a record for user and accessToken, expiring at the token's exp
// (or now+24h without one).
func New(user *gotrue.User, accessToken string, verified bool, now time.Time) CachedAuth {
	return CachedAuth{
		Version:   version,
		Kind:      kind,
		User:      user,
		Token:     accessToken,
		ExpiresAt: ExpiresAtFromToken(accessToken, now),
		Verified:  verified,
	}
}

// ExpiresAtFromToken returns the token's exp claim, or now+24h.
func ExpiresAtFromToken(accessToken string, now time.Time) time.Time {
	return token.ExpiresAt(accessToken, now)
}

func (c CachedAuth) validate() error {
	switch {
	case c.Kind != kind:
		return fmt.Errorf("%w: kind %q", errSchema, c.Kind)
	case c.Version != version:
		return fmt.Errorf("%w: version %d", errSchema, c.Version)
	case c.User == nil || c.User.ID == "":
		return fmt.Errorf("%w: missing user id", errSchema)
	case c.Token == "":
		return fmt.Errorf("%w: missing token", errSchema)
	case c.ExpiresAt.IsZero():
		return fmt.Errorf("%w: missing expiresAt", errSchema)
	}
	return nil
}

// Expired reports whether the record must no longer be used at now.
func (c CachedAuth) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Cache reads and writes the record.
type Cache struct {
	store *securestore.Store
	now   func() time.Time
}

// NewCache returns a Cache over store. now defaults to time.Now.
func NewCache(store *securestore.Store, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{store: store, now: now}
}

// Load returns the record if present, well-formed and unexpired.
func (c *Cache) Load(ctx context.Context) (*CachedAuth, bool) {
	raw, ok := c.store.LoadString(ctx, Key)
	if !ok {
		return nil, false
	}
	var rec CachedAuth
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.store.Remove(ctx, Key)
		return nil, false
	}
	if rec.validate() != nil || rec.Expired(c.now()) {
		c.store.Remove(ctx, Key)
		return nil, false
	}
	return &rec, true
}

// Save writes rec. Returns false if the store rejected it (already reported).
func (c *Cache) Save(ctx context.Context, rec CachedAuth) bool {
	if err := rec.validate(); err != nil {
		return false
	}
	return c.store.Save(ctx, Key, rec)
}

// Delete removes the record.
func (c *Cache) Delete(ctx context.Context) {
	c.store.Remove(ctx, Key)
}
