package session

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager tracks the active sessions, keyed by remote endpoint. The map is
// mutated from every connection goroutine, so all access goes through the
// lock; the sessions themselves are owned by their connection goroutine.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Open creates and registers a session for an endpoint.
func (m *Manager) Open(endpoint string) *Session {
	s := New(endpoint)
	m.mu.Lock()
	m.sessions[endpoint] = s
	m.mu.Unlock()
	return s
}

// Get retrieves the session for an endpoint.
func (m *Manager) Get(endpoint string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[endpoint]
	return s, ok
}

// Close removes an endpoint's session. Called when the connection dies,
// whatever the session state.
func (m *Manager) Close(endpoint string) {
	m.mu.Lock()
	_, existed := m.sessions[endpoint]
	delete(m.sessions, endpoint)
	m.mu.Unlock()

	if existed {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"endpoint": endpoint,
		}).Debug("Session removed")
	}
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
