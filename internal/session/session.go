package session

import "sync"

// Session serializes the load-mutate-store cycle of one poll. Callers hold
// its lock for the whole cycle.
type Session struct {
	sync.Mutex
}

// Manager hands out one Session per poll key.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Get(key string) *Session {
	m.mu.RLock()
	s := m.sessions[key]
	m.mu.RUnlock()
	if s != nil {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s = m.sessions[key]
	if s == nil {
		s = &Session{}
		m.sessions[key] = s
	}
	return s
}

// Reset forgets every session. Holders of an old Session keep a valid lock;
// it just no longer guards anything new.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]*Session)
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}
