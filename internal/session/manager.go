package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beingfastian/apd-listener-tool/internal/audio"
	"github.com/beingfastian/apd-listener-tool/internal/metrics"
)

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	Session        Config
	MaxSessions    int
	SessionTimeout time.Duration
}

// Manager tracks all active live sessions, enforces the session cap, and
// reaps sessions that stopped sending messages.
type Manager struct {
	config      ManagerConfig
	decoder     audio.Decoder
	transcriber Transcriber
	finalizer   Finalizer
	metrics     *metrics.Metrics
	logger      *slog.Logger

	sessions map[string]*Driver
	mu       sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its cleanup routine
func NewManager(config ManagerConfig, decoder audio.Decoder, transcriber Transcriber,
	finalizer Finalizer, m *metrics.Metrics, logger *slog.Logger) (*Manager, error) {

	if decoder == nil || transcriber == nil || finalizer == nil {
		return nil, fmt.Errorf("decoder, transcriber and finalizer must be set")
	}

	if config.MaxSessions <= 0 {
		config.MaxSessions = 100
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 5 * time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		config:      config,
		decoder:     decoder,
		transcriber: transcriber,
		finalizer:   finalizer,
		metrics:     m,
		logger:      logger,
		sessions:    make(map[string]*Driver),
		ctx:         ctx,
		cancel:      cancel,
		cleanup:     make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// CreateSession registers a new live session, rejecting it when the cap
// is reached
func (m *Manager) CreateSession(emit EmitFunc) (*Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.config.MaxSessions {
		return nil, fmt.Errorf("session limit reached (%d active)", len(m.sessions))
	}

	driver, err := NewDriver(m.config.Session, m.decoder, m.transcriber,
		m.finalizer, m.metrics, m.logger, emit)
	if err != nil {
		return nil, err
	}

	m.sessions[driver.ID()] = driver

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("live session created",
		"session_id", driver.ID(),
		"active_sessions", len(m.sessions))

	return driver, nil
}

// RemoveSession closes a session and drops it from tracking
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	driver, exists := m.sessions[id]
	if !exists {
		return false
	}

	driver.Close()
	delete(m.sessions, id)

	if m.metrics != nil {
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("live session removed",
		"session_id", id,
		"active_sessions", len(m.sessions))

	return true
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop closes all sessions and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("stopping session manager")

	m.mu.Lock()
	for id, driver := range m.sessions {
		driver.Close()
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetActiveSessions(0)
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("session manager stopped")
}

// startCleanupRoutine reaps idle sessions on a fixed interval
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupIdleSessions()
		}
	}
}

// cleanupIdleSessions removes sessions that have been inactive past the
// configured timeout. Idle sessions are discarded, never persisted.
func (m *Manager) cleanupIdleSessions() {
	now := time.Now()

	m.mu.RLock()
	var idle []string
	for id, driver := range m.sessions {
		if now.Sub(driver.LastActivity()) > m.config.SessionTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	if len(idle) == 0 {
		return
	}

	m.logger.Info("cleaning up idle sessions", "count", len(idle))
	for _, id := range idle {
		m.RemoveSession(id)
	}
}
