package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/meeting-audio-service/internal/metrics"
)

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	IdleTimeout     time.Duration // sessions without traffic for this long are closed
	CleanupInterval time.Duration
	ChunkTimeout    time.Duration // bound on processing one live chunk
	DefaultLanguage string
	DefaultStrategy string
}

// Manager tracks live sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	config   ManagerConfig

	processor Processor
	decoder   Decoder
	alerts    AlertChecker
	metrics   *metrics.Metrics

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
	stopped bool
}

// NewManager creates a session manager and starts its idle reaper.
// alerts may be nil, in which case no speaker alerts are emitted.
func NewManager(logger *slog.Logger, config ManagerConfig, processor Processor, decoder Decoder, alerts AlertChecker, m *metrics.Metrics) (*Manager, error) {
	if processor == nil {
		return nil, errors.New("stream manager requires a processor")
	}
	if decoder == nil {
		return nil, errors.New("stream manager requires a decoder")
	}

	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}
	if config.ChunkTimeout <= 0 {
		config.ChunkTimeout = 30 * time.Second
	}
	if config.DefaultStrategy == "" {
		config.DefaultStrategy = "realtime"
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		sessions:  make(map[string]*Session),
		logger:    logger,
		config:    config,
		processor: processor,
		decoder:   decoder,
		alerts:    alerts,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		cleanup:   make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// Serve registers a session for conn, runs it to completion and removes it
func (m *Manager) Serve(ctx context.Context, conn Conn, remoteAddr string) error {
	session, err := m.CreateSession(conn, remoteAddr)
	if err != nil {
		conn.Close()
		return err
	}
	defer m.RemoveSession(session.ID)

	return session.Run(ctx)
}

// ErrManagerStopped is returned when a session is created after Stop
var ErrManagerStopped = errors.New("stream manager stopped")

// CreateSession registers a new session for conn
func (m *Manager) CreateSession(conn Conn, remoteAddr string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}

	now := time.Now()
	session := &Session{
		ID:           uuid.NewString(),
		RemoteAddr:   remoteAddr,
		StartTime:    now,
		LastActivity: now,
		language:     m.config.DefaultLanguage,
		strategy:     m.config.DefaultStrategy,
		conn:         conn,
		manager:      m,
	}
	m.sessions[session.ID] = session
	m.metrics.RecordSessionOpened()

	m.logger.Info("Created real-time session",
		slog.String("session_id", session.ID),
		slog.String("remote_addr", remoteAddr),
	)

	return session, nil
}

// GetSession retrieves a live session
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of live sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all live sessions
func (m *Manager) GetAllSessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.GetSessionInfo())
	}
	return infos
}

// RemoveSession closes and forgets a session
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	session.close()
	info := session.GetSessionInfo()
	m.metrics.RecordSessionClosed(info.Duration)

	m.logger.Info("Real-time session removed",
		slog.String("session_id", id),
		slog.Duration("duration", info.Duration),
		slog.Uint64("messages_received", info.MessagesReceived),
		slog.Uint64("chunks_processed", info.ChunksProcessed),
		slog.Uint64("transcriptions_sent", info.TranscriptionsSent),
		slog.Uint64("alerts_sent", info.AlertsSent),
	)

	return true
}

// Stop closes every session and stops the reaper
func (m *Manager) Stop() {
	m.logger.Info("Stopping stream manager...")

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	// Closing the connection unblocks Run, which removes the session itself
	for _, session := range sessions {
		session.close()
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Stream manager stopped",
		slog.Int("closed_sessions", len(sessions)),
	)
}

// startCleanupRoutine periodically closes idle sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.config.IdleTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been idle too long
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for id, session := range m.sessions {
		session.mu.RLock()
		lastActivity := session.LastActivity
		session.mu.RUnlock()

		if now.Sub(lastActivity) > m.config.IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up idle sessions",
			slog.Int("expired_count", len(expired)),
		)

		for _, id := range expired {
			m.RemoveSession(id)
		}
	}
}
