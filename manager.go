package netx

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type disconnectEntry struct {
	sessionID int64
	at        time.Time
}

// Manager is the server-side Session Manager: it owns
// every live Token keyed by session id and a FIFO of recently disconnected
// session ids awaiting grace-window expiry.
type Manager struct {
	log            *logrus.Entry
	controllerFor  ControllerFactory
	requestOutTime time.Duration
	sessionSave    time.Duration

	mu     sync.Mutex
	tokens map[int64]*Token
	queue  []disconnectEntry

	metrics *Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

// WithManagerMetrics attaches a Metrics sink the Manager updates as tokens
// are created, destroyed, and swept.
func WithManagerMetrics(m *Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// NewManager constructs a Manager and starts its periodic sweep goroutine.
// Call Close to stop the sweep when the server shuts down.
func NewManager(factory ControllerFactory, requestOutTime, sessionSaveTime time.Duration, log *logrus.Entry, opts ...ManagerOption) *Manager {
	if requestOutTime <= 0 {
		requestOutTime = DefaultRequestOutTime
	}
	if sessionSaveTime <= 0 {
		sessionSaveTime = DefaultSessionSaveTime
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{
		log:            log,
		controllerFor:  factory,
		requestOutTime: requestOutTime,
		sessionSave:    sessionSaveTime,
		tokens:         make(map[int64]*Token),
		stopCh:         make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweepLoop()
	return m
}

// CreateToken mints a fresh session id, constructs a Token, and asks the
// user-supplied ControllerFactory for its handler map.
func (m *Manager) CreateToken() (*Token, error) {
	m.mu.Lock()
	id := m.mintSessionIDLocked()
	token := newToken(id, m, m.log, m.requestOutTime)
	if m.metrics != nil {
		token.attachMetrics(m.metrics)
	}
	m.tokens[id] = token
	m.mu.Unlock()

	controller, err := m.controllerFor(token)
	if err != nil {
		m.removeToken(id)
		return nil, fmt.Errorf("netx: create controller for session %d: %w", id, err)
	}
	reg, err := controller.Register()
	if err != nil {
		m.removeToken(id)
		return nil, fmt.Errorf("netx: register handlers for session %d: %w", id, err)
	}
	token.setRegistry(reg)
	if m.metrics != nil {
		m.metrics.tokensCreated.Inc()
		m.metrics.tokensActive.Inc()
	}
	return token, nil
}

// mintSessionIDLocked mints a monotonic session id from a high-resolution
// clock, retrying on the (astronomically unlikely) collision with a
// currently live token.
func (m *Manager) mintSessionIDLocked() int64 {
	for {
		id := time.Now().UnixNano()
		if id == 0 {
			continue
		}
		if _, exists := m.tokens[id]; !exists {
			return id
		}
	}
}

func (m *Manager) removeToken(id int64) {
	m.mu.Lock()
	delete(m.tokens, id)
	m.mu.Unlock()
}

// GetToken resolves a previously issued session id, used on handshake to
// support resumption.
func (m *Manager) GetToken(sessionID int64) (*Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[sessionID]
	return t, ok
}

// GetOrCreateToken implements the handshake's session resolution: id zero or
// unknown mints a new Token, a known id returns the existing one intact.
func (m *Manager) GetOrCreateToken(sessionID int64) (*Token, error) {
	if sessionID != 0 {
		if t, ok := m.GetToken(sessionID); ok {
			return t, nil
		}
	}
	return m.CreateToken()
}

// peerDisconnect enqueues sessionID for deferred cleanup. It does not remove
// the Token immediately — only the disconnect sweep does, after the grace
// window.
func (m *Manager) peerDisconnect(sessionID int64) {
	m.mu.Lock()
	m.queue = append([]disconnectEntry{{sessionID: sessionID, at: time.Now()}}, m.queue...)
	m.mu.Unlock()
	m.log.WithField("session_id", sessionID).Debug("session disconnected, grace window started")
}

// Tokens returns a snapshot of every currently live Token.
func (m *Manager) Tokens() []*Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Token, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t)
	}
	return out
}

func (m *Manager) sweepLoop() {
	defer close(m.stopped)
	ticker := time.NewTicker(requestSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepRequestTimeouts()
			m.sweepDisconnects()
		}
	}
}

// sweepRequestTimeouts expires pending calls across every live token.
func (m *Manager) sweepRequestTimeouts() {
	for _, t := range m.Tokens() {
		t.sweepTimeouts()
	}
}

// sweepDisconnects pops from the back of the queue (oldest entry), removing
// any token whose grace window has elapsed and which is still disconnected.
// A token that reconnected in the meantime is left alone and the stale queue
// entry is simply dropped. The queue is roughly time-ordered, so the sweep
// stops at the first entry that hasn't expired yet.
func (m *Manager) sweepDisconnects() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		last := len(m.queue) - 1
		entry := m.queue[last]
		if time.Since(entry.at) < m.sessionSave {
			m.mu.Unlock()
			return
		}
		m.queue = m.queue[:last]
		token, exists := m.tokens[entry.sessionID]
		m.mu.Unlock()

		if !exists {
			continue
		}
		if !token.IsDisconnected() {
			m.log.WithField("session_id", entry.sessionID).Debug("reconnected before grace window expired")
			continue
		}
		m.removeToken(entry.sessionID)
		token.destroy()
		if m.metrics != nil {
			m.metrics.tokensActive.Dec()
			m.metrics.tokensExpired.Inc()
		}
		m.log.WithField("session_id", entry.sessionID).Debug("token removed after grace window")
	}
}

// Close stops the sweep goroutine. It does not close any live Token's
// transport.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.stopped
}
