// stores.go
//
// Shared mocks for the auth service, profile store and connectivity.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/ferry/internal/connectivity"
	"github.com/MGallo-Code/ferry/internal/gotrue"
	"github.com/MGallo-Code/ferry/internal/profile"
)

// MockAuthService implements auth.AuthService for tests.
//
// Sessions returned by sign-in calls are also recorded as the current session
// and published to subscribers, like the real client.
// Use *Err fields to inject errors for specific operations.
type MockAuthService struct {
	// Error injection...zero value means no error
	GetSessionErr    error
	GetUserErr       error
	SignInErr        error
	SignUpErr        error
	IDTokenErr       error
	SignOutErr       error
	ResetPasswordErr error
	VerifyOTPErr     error

	// Responses
	Session       *gotrue.Session
	Users         map[string]*gotrue.User // keyed by access token
	SignInSession *gotrue.Session
	SignUpResult  *gotrue.SignUpResult
	OTPSession    *gotrue.Session

	// Call recording
	GetSessionCalls int
	GetUserCalls    int
	SignOutCalls    int
	ResetEmails     []string
	IDTokens        []string
	VerifiedLinks   []string

	mu   sync.Mutex
	subs []chan gotrue.Event
}

// NewMockAuthService returns a MockAuthService with no session.
func NewMockAuthService() *MockAuthService {
	return &MockAuthService{Users: make(map[string]*gotrue.User)}
}

// AddUser makes GetUser(accessToken) return u.
func (m *MockAuthService) AddUser(accessToken string, u *gotrue.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Users[accessToken] = u
}

func (m *MockAuthService) GetSession(_ context.Context) (*gotrue.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetSessionCalls++
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	return m.Session, nil
}

func (m *MockAuthService) GetUser(_ context.Context, accessToken string) (*gotrue.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetUserCalls++
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	u, ok := m.Users[accessToken]
	if !ok {
		return nil, &gotrue.Error{Status: 401, Code: "bad_jwt", Message: "invalid JWT"}
	}
	return u, nil
}

func (m *MockAuthService) SignInWithPassword(_ context.Context, email, password string) (*gotrue.Session, error) {
	m.mu.Lock()
	if m.SignInErr != nil {
		m.mu.Unlock()
		return nil, m.SignInErr
	}
	s := m.SignInSession
	m.Session = s
	m.mu.Unlock()
	m.Publish(gotrue.Event{Type: gotrue.EventSignedIn, Session: s})
	return s, nil
}

func (m *MockAuthService) SignUp(_ context.Context, email, password, redirectTo string) (*gotrue.SignUpResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SignUpErr != nil {
		return nil, m.SignUpErr
	}
	if m.SignUpResult == nil {
		return &gotrue.SignUpResult{User: &gotrue.User{ID: uuid.Must(uuid.NewV4()).String(), Email: email}}, nil
	}
	return m.SignUpResult, nil
}

func (m *MockAuthService) SignInWithIDToken(_ context.Context, provider, idToken, nonce string) (*gotrue.Session, error) {
	m.mu.Lock()
	m.IDTokens = append(m.IDTokens, idToken)
	if m.IDTokenErr != nil {
		m.mu.Unlock()
		return nil, m.IDTokenErr
	}
	s := m.SignInSession
	m.Session = s
	m.mu.Unlock()
	return s, nil
}

func (m *MockAuthService) SignOut(_ context.Context) error {
	m.mu.Lock()
	m.SignOutCalls++
	m.Session = nil
	err := m.SignOutErr
	m.mu.Unlock()
	m.Publish(gotrue.Event{Type: gotrue.EventSignedOut})
	return err
}

func (m *MockAuthService) ResetPasswordForEmail(_ context.Context, email, redirectTo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetEmails = append(m.ResetEmails, email)
	return m.ResetPasswordErr
}

func (m *MockAuthService) VerifyOTP(_ context.Context, typ gotrue.OTPType, tokenHash string) (*gotrue.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerifiedLinks = append(m.VerifiedLinks, tokenHash)
	if m.VerifyOTPErr != nil {
		return nil, m.VerifyOTPErr
	}
	if m.OTPSession != nil {
		m.Session = m.OTPSession
	}
	return m.OTPSession, nil
}

// Subscribe returns a buffered channel fed by Publish.
func (m *MockAuthService) Subscribe() (<-chan gotrue.Event, func()) {
	ch := make(chan gotrue.Event, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, c := range m.subs {
				if c == ch {
					m.subs = append(m.subs[:i], m.subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (m *MockAuthService) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Publish delivers ev to every subscriber, dropping it for full channels.
func (m *MockAuthService) Publish(ev gotrue.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Connectivity is a settable connectivity source.
type Connectivity struct {
	mu    sync.Mutex
	state connectivity.State
}

// NewConnectivity returns a Connectivity fixed at s.
func NewConnectivity(s connectivity.State) *Connectivity {
	return &Connectivity{state: s}
}

func (c *Connectivity) Set(s connectivity.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Connectivity) CurrentState() connectivity.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connectivity) IsOffline() bool {
	return c.CurrentState() == connectivity.Offline
}

// MockProfileStore implements profile.Store for tests.
// Profiles is keyed by user ID; CallSignupProfile inserts into it.
type MockProfileStore struct {
	CallSignupErr error
	GetProfileErr error

	Profiles    map[uuid.UUID]*profile.Profile
	SignupCalls []profile.SignupParams

	mu sync.Mutex
}

// NewMockProfileStore returns an empty MockProfileStore.
func NewMockProfileStore() *MockProfileStore {
	return &MockProfileStore{Profiles: make(map[uuid.UUID]*profile.Profile)}
}

func (m *MockProfileStore) CallSignupProfile(_ context.Context, p profile.SignupParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SignupCalls = append(m.SignupCalls, p)
	if m.CallSignupErr != nil {
		return m.CallSignupErr
	}
	m.Profiles[p.UserID] = &profile.Profile{ID: p.UserID, FirstName: p.FirstName, LastName: p.LastName, Email: p.Email}
	return nil
}

func (m *MockProfileStore) GetProfileByID(_ context.Context, id uuid.UUID) (*profile.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetProfileErr != nil {
		return nil, m.GetProfileErr
	}
	p, ok := m.Profiles[id]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return p, nil
}
