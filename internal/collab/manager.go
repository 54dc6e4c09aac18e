package collab

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Manager runs one session per open document, all sharing a transport.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*managed

	// Shared dependencies
	transport  Transport
	clock      clockwork.Clock
	retryDelay time.Duration
	logger     *zap.Logger
}

type managed struct {
	session *Session
	cancel  context.CancelFunc
}

// ManagerConfig holds configuration for creating a manager.
type ManagerConfig struct {
	Transport  Transport
	Clock      clockwork.Clock
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// NewManager creates a new session manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		sessions:   make(map[string]*managed),
		transport:  cfg.Transport,
		clock:      cfg.Clock,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// Open returns the running session for docID, starting one bound to surface
// if there is none. The session runs until ctx is cancelled or it is closed.
// The surface is ignored when the session already exists.
func (m *Manager) Open(ctx context.Context, docID string, surface Surface) *Session {
	// Try read lock first
	m.mu.RLock()
	entry, exists := m.sessions[docID]
	m.mu.RUnlock()

	if exists {
		return entry.session
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if entry, exists = m.sessions[docID]; exists {
		return entry.session
	}

	session := NewSession(SessionConfig{
		DocID:      docID,
		Surface:    surface,
		Transport:  m.transport,
		Clock:      m.clock,
		RetryDelay: m.retryDelay,
		Logger:     m.logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	m.sessions[docID] = &managed{session: session, cancel: cancel}

	go func() {
		_ = session.Run(runCtx)
	}()

	return session
}

// Session returns an open session or nil if not found.
func (m *Manager) Session(docID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if entry, ok := m.sessions[docID]; ok {
		return entry.session
	}

	return nil
}

// Close stops a session and waits for it to exit.
func (m *Manager) Close(docID string) {
	m.mu.Lock()
	entry, exists := m.sessions[docID]

	if !exists {
		m.mu.Unlock()

		return
	}

	delete(m.sessions, docID)
	m.mu.Unlock()

	entry.cancel()
	<-entry.session.Done()
}

// CloseAll stops every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := make([]*managed, 0, len(m.sessions))

	for _, e := range m.sessions {
		entries = append(entries, e)
	}

	m.sessions = make(map[string]*managed)
	m.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		<-e.session.Done()
	}
}

// SessionCount returns the number of open sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}
