package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/news-digest/internal/metrics"
	"github.com/JakeFAU/news-digest/internal/news"
)

// ErrSessionNotFound is returned when an ID has no live session.
var ErrSessionNotFound = errors.New("session not found")

// Manager keeps live sessions in memory.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ids      news.IDGenerator
	deps     Deps
}

// NewManager constructs a Manager that builds sessions from deps.
func NewManager(ids news.IDGenerator, deps Deps) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		ids:      ids,
		deps:     deps,
	}
}

// Create starts a new session with a fresh ID.
func (m *Manager) Create() (*Session, error) {
	id, err := m.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("new session id: %w", err)
	}
	s := New(id, m.deps)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("session %s already exists", id)
	}
	m.sessions[id] = s
	metrics.SetActiveSessions(len(m.sessions))
	return s, nil
}

// Get looks up a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetOrCreate returns the session for id, or a new session when id is empty
// or unknown. The boolean reports whether a session was created.
func (m *Manager) GetOrCreate(id string) (*Session, bool, error) {
	if id != "" {
		if s, err := m.Get(id); err == nil {
			return s, false, nil
		}
	}
	s, err := m.Create()
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Delete discards a session and its cache.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	metrics.SetActiveSessions(len(m.sessions))
	return nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions idle longer than maxIdle as of now and returns how
// many were removed. A non-positive maxIdle disables expiry.
func (m *Manager) Sweep(now time.Time, maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	m.mu.RLock()
	var stale []*Session
	for _, s := range m.sessions {
		if now.Sub(s.LastSeen()) > maxIdle {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()
	if len(stale) == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, s := range stale {
		// Skip sessions replaced or used since the scan.
		if m.sessions[s.id] != s || now.Sub(s.LastSeen()) <= maxIdle {
			continue
		}
		delete(m.sessions, s.id)
		removed++
	}
	if removed > 0 {
		metrics.SetActiveSessions(len(m.sessions))
	}
	return removed
}
