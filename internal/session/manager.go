package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager defaults.
const (
	defaultIdleTimeout   = 10 * time.Minute
	defaultSweepInterval = time.Minute
)

// Manager owns the session registry. Sessions are fully independent; the
// manager only creates them, looks them up, and evicts the idle ones.
// It is safe for concurrent use.
type Manager struct {
	deps        Deps
	idleTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	sweepStop chan struct{}
	closeOnce sync.Once
}

// ManagerOption configures a [Manager].
type ManagerOption func(*managerSettings)

type managerSettings struct {
	idleTimeout   time.Duration
	sweepInterval time.Duration
}

// WithIdleTimeout sets how long a session may go without inbound events
// before the sweep closes it. Non-positive disables eviction.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(s *managerSettings) { s.idleTimeout = d }
}

// WithSweepInterval sets the eviction check period.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(s *managerSettings) { s.sweepInterval = d }
}

// NewManager creates a Manager over the shared pipeline dependencies.
func NewManager(deps Deps, opts ...ManagerOption) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ms := managerSettings{
		idleTimeout:   defaultIdleTimeout,
		sweepInterval: defaultSweepInterval,
	}
	for _, o := range opts {
		o(&ms)
	}

	m := &Manager{
		deps:        deps,
		idleTimeout: ms.idleTimeout,
		logger:      deps.Logger,
		sessions:    make(map[string]*Session),
		sweepStop:   make(chan struct{}),
	}
	if ms.idleTimeout > 0 && ms.sweepInterval > 0 {
		go m.sweepLoop(ms.sweepInterval)
	}
	return m
}

// SetIdleTimeout replaces the eviction window at runtime. It does not start
// or stop the sweep loop; a manager created without eviction stays without
// it.
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.mu.Lock()
	m.idleTimeout = d
	m.mu.Unlock()
}

// Open creates and registers a session for identity, delivering outbound
// messages to sink. The session starts in Idle with its event loop running.
func (m *Manager) Open(ctx context.Context, identity string, settings Settings, sink Sink) *Session {
	s := newSession(ctx, uuid.NewString(), identity, settings, sink, m.deps)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session opened",
		slog.String("session_id", s.ID()),
		slog.String("identity", identity),
		slog.Int("active", count))

	// Deregister when the loop exits, however the session ended.
	go func() {
		<-s.Done()
		m.mu.Lock()
		delete(m.sessions, s.ID())
		remaining := len(m.sessions)
		m.mu.Unlock()
		m.logger.Info("session closed",
			slog.String("session_id", s.ID()),
			slog.Int("active", remaining))
	}()
	return s
}

// Get returns the session with the given ID, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every live session and stops the idle sweep. Used on
// server shutdown.
func (m *Manager) CloseAll() {
	m.closeOnce.Do(func() { close(m.sweepStop) })

	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	for _, s := range open {
		<-s.Done()
	}
}

func (m *Manager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

// evictIdle closes sessions whose last inbound event is older than the idle
// timeout. Sessions mid-cycle keep running; only inbound silence counts.
func (m *Manager) evictIdle() {
	m.mu.Lock()
	cutoff := time.Now().Add(-m.idleTimeout)
	var idle []*Session
	for _, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.logger.Info("evicting idle session", slog.String("session_id", s.ID()))
		s.Close()
	}
}
