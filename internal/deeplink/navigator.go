// navigator.go -- Navigation targets driven by the bridge.
package deeplink

import "sync"

// RouteHome is the authenticated root route.
const RouteHome = "Home"

// Navigator replaces the whole navigation stack with a single route.
type Navigator interface {
	Reset(route string)
}

// Stack is an in-memory Navigator for headless use. Safe for concurrent use.
type Stack struct {
	mu     sync.Mutex
	routes []string
	resets int
}

// NewStack returns a Stack holding routes, bottom first.
func NewStack(routes ...string) *Stack {
	return &Stack{routes: append([]string(nil), routes...)}
}

// Reset discards the back-stack and leaves route as the only entry.
func (s *Stack) Reset(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = []string{route}
	s.resets++
}

// Routes returns a copy of the stack, bottom first.
func (s *Stack) Routes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.routes...)
}

// Current returns the top route, or "" when empty.
func (s *Stack) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.routes) == 0 {
		return ""
	}
	return s.routes[len(s.routes)-1]
}

// Resets counts Reset calls.
func (s *Stack) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}
