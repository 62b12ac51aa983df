// session.go -- Persisted session, refresh, auto-refresh and change events.
package gotrue

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MGallo-Code/ferry/internal/securestore"
	"github.com/MGallo-Code/ferry/internal/token"
)

// refreshMargin is how early before expiry a session is refreshed: the
// structural validity margin plus three auto-refresh ticks.
func (c *Client) refreshMargin() time.Duration {
	return token.ExpiryMargin + 3*c.refreshTick
}

func (c *Client) loadSession(ctx context.Context) (*Session, bool) {
	s, ok := securestore.Load[Session](ctx, c.store, c.storageKey)
	if !ok || s.AccessToken == "" {
		return nil, false
	}
	return &s, true
}

func (c *Client) storeSession(ctx context.Context, s *Session) error {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	if !c.store.Save(ctx, c.storageKey, s) {
		return errors.New("gotrue: persisting session failed")
	}
	return nil
}

// setSession persists s and emits ev.
func (c *Client) setSession(ctx context.Context, s *Session, ev EventType) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if err := c.storeSession(ctx, s); err != nil {
		return err
	}
	c.emit(Event{Type: ev, Session: s})
	return nil
}

func (c *Client) expiring(s *Session) bool {
	exp := s.Expiry()
	return !exp.IsZero() && exp.Sub(c.now()) < c.refreshMargin()
}

// GetSession returns the persisted session, refreshing it first when it is
// close to expiry. (nil, nil) means nobody is signed in. A refresh the auth
// service rejects forgets the session and emits SIGNED_OUT; an unreachable
// service leaves it stored and returns the ErrUnreachable error.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	s, ok := c.loadSession(ctx)
	if !ok {
		return nil, nil
	}
	if !c.expiring(s) {
		return s, nil
	}
	return c.refreshLocked(ctx, s.RefreshToken)
}

// refreshLocked trades refreshToken for a new session and emits
// TOKEN_REFRESHED. Callers hold sessionMu.
func (c *Client) refreshLocked(ctx context.Context, refreshToken string) (*Session, error) {
	in := struct {
		RefreshToken string `json:"refresh_token"`
	}{refreshToken}

	var s Session
	q := url.Values{"grant_type": {"refresh_token"}}
	if err := c.do(ctx, http.MethodPost, "/token", q, "", in, &s); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			c.store.Remove(ctx, c.storageKey)
			c.emit(Event{Type: EventSignedOut})
		}
		return nil, err
	}
	if err := c.storeSession(ctx, &s); err != nil {
		return nil, err
	}
	c.emit(Event{Type: EventTokenRefreshed, Session: &s})
	return &s, nil
}

// --- Auto-refresh ---

// StartAutoRefresh refreshes the persisted session in the background whenever
// it nears expiry. A second call while running is a no-op.
func (c *Client) StartAutoRefresh(ctx context.Context) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.refreshCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.refreshCancel = cancel
	c.refreshDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.refreshTick)
		defer ticker.Stop()
		for {
			c.autoRefreshTick(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// StopAutoRefresh stops the background refresher and waits for it to exit.
func (c *Client) StopAutoRefresh() {
	c.refreshMu.Lock()
	cancel, done := c.refreshCancel, c.refreshDone
	c.refreshCancel, c.refreshDone = nil, nil
	c.refreshMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// AutoRefreshing reports whether the background refresher is running.
func (c *Client) AutoRefreshing() bool {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshCancel != nil
}

func (c *Client) autoRefreshTick(ctx context.Context) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	s, ok := c.loadSession(ctx)
	if !ok || !c.expiring(s) || s.RefreshToken == "" {
		return
	}
	// Failures surface through events (SIGNED_OUT) or the next GetSession.
	_, _ = c.refreshLocked(ctx, s.RefreshToken)
}

// --- Events ---

// subscriber is an unbounded mailbox so emit never blocks on a slow reader
// and events keep their issuance order.
type subscriber struct {
	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	out   chan Event
	done  chan struct{}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// Subscribe returns a channel of session events in issuance order and a
// function that unsubscribes and closes the channel.
func (c *Client) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = s
	c.subMu.Unlock()

	go s.pump()

	var once sync.Once
	return s.out, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(s.done)
		})
	}
}

func (c *Client) emit(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, s := range c.subs {
		s.push(ev)
	}
}
