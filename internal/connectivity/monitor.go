// monitor.go -- Process-wide network reachability state with change fan-out.
//
// A Monitor holds a tri-state reachability flag. Listeners are told only about
// changes (and replayed the current state when they subscribe). Transitions
// after the first determination raise a toast, at most one per debounce window.
package connectivity

import (
	"context"
	"sync"
	"time"
)

// DefaultDebounce is the minimum gap between two connectivity toasts.
const DefaultDebounce = 3 * time.Second

// State is the last known reachability.
type State int

const (
	Unknown State = iota
	Online
	Offline
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

func stateOf(online bool) State {
	if online {
		return Online
	}
	return Offline
}

// AppState is the host application's foreground state.
type AppState string

const (
	AppActive     AppState = "active"
	AppInactive   AppState = "inactive"
	AppBackground AppState = "background"
)

// Prober performs a one-shot reachability check.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) (bool, error)

func (f ProberFunc) Probe(ctx context.Context) (bool, error) { return f(ctx) }

// Option configures a Monitor.
type Option func(*Monitor)

// WithNotifier sets the toast sink. Defaults to discarding toasts.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithClock overrides time.Now for debounce bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) { m.debounce = d }
}

// Monitor is safe for concurrent use.
type Monitor struct {
	prober   Prober
	notifier Notifier
	now      func() time.Time
	debounce time.Duration

	// updateMu serializes Update so listeners observe changes in order.
	updateMu sync.Mutex

	mu        sync.Mutex
	state     State
	lastToast time.Time
	listeners map[int]func(bool)
	nextID    int
	hooks     []func(context.Context, AppState)
}

// NewMonitor returns a Monitor in the Unknown state. It does not probe until
// Check or Run is called.
func NewMonitor(p Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:    p,
		notifier:  NopNotifier{},
		now:       time.Now,
		debounce:  DefaultDebounce,
		listeners: make(map[int]func(bool)),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddListener registers fn and, if the state is already known, calls it once
// synchronously with the current value. The returned func unsubscribes.
// The replay is ordered with Update, so fn never sees a stale value after a
// newer one. Must not be called from inside a listener.
func (m *Monitor) AddListener(fn func(online bool)) func() {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	current := m.state
	m.mu.Unlock()

	if current != Unknown {
		fn(current == Online)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// CurrentState returns the last known state.
func (m *Monitor) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOffline reports whether the monitor positively knows the network is down.
// Unknown is not offline.
func (m *Monitor) IsOffline() bool {
	return m.CurrentState() == Offline
}

// Update records a reachability observation. Repeated values are ignored.
func (m *Monitor) Update(online bool) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	next := stateOf(online)

	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next

	toast := false
	if prev != Unknown {
		now := m.now()
		if now.Sub(m.lastToast) > m.debounce {
			m.lastToast = now
			toast = true
		}
	}

	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	if toast {
		m.notifier.Notify(newToast(online))
	}
	for _, fn := range fns {
		fn(online)
	}
}

// Check probes now and records the result. A probe cut short by ctx records
// nothing.
func (m *Monitor) Check(ctx context.Context) {
	online, err := m.prober.Probe(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}
	m.Update(err == nil && online)
}

// OnAppState registers a lifecycle hook called by HandleAppState.
func (m *Monitor) OnAppState(fn func(context.Context, AppState)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// HandleAppState re-checks reachability when the app returns to the
// foreground, then forwards the state to lifecycle hooks.
func (m *Monitor) HandleAppState(ctx context.Context, s AppState) {
	if s == AppActive {
		m.Check(ctx)
	}
	m.mu.Lock()
	hooks := append([]func(context.Context, AppState){}, m.hooks...)
	m.mu.Unlock()
	for _, h := range hooks {
		h(ctx, s)
	}
}

// Run performs an initial check, then re-checks every interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
