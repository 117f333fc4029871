package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/room4-2/livebridge/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	activeSessionsKey = "active_sessions"
	cleanupInterval   = 1 * time.Minute
	redisTimeout      = 2 * time.Second
)

// ErrMaxSessions is returned when the manager is at capacity
var ErrMaxSessions = errors.New("maximum sessions reached")

// Manager manages all bridged sessions
type Manager struct {
	sessions       map[string]*Bridge
	mu             sync.RWMutex
	redis          *redis.Client // nil when Redis is disabled or unreachable
	dialer         Dialer
	opts           Options
	maxSessions    int
	sessionTimeout time.Duration
	logger         *slog.Logger
}

// NewManager creates a session manager. Redis only mirrors session status for
// other processes; the manager works without it.
func NewManager(cfg *config.Config, dialer Dialer, opts Options) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		sessions:       make(map[string]*Bridge),
		dialer:         dialer,
		opts:           opts,
		maxSessions:    cfg.MaxSessions,
		sessionTimeout: cfg.SessionTimeout,
		logger:         opts.Logger,
	}

	if cfg.RedisURL == "" {
		return m
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Redis unavailable, continue without it
		m.logger.Warn("redis unavailable, session mirror disabled", "addr", cfg.RedisURL, "error", err)
		_ = redisClient.Close()
		return m
	}

	m.logger.Info("redis session mirror enabled", "addr", cfg.RedisURL)
	m.redis = redisClient
	return m
}

// CreateSession allocates an idle bridge for a newly connected client
func (m *Manager) CreateSession(ctx context.Context, transport Transport) (*Bridge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		return nil, ErrMaxSessions
	}

	sessionID := uuid.New().String()

	opts := m.opts
	opts.OnStateChange = m.onStateChange
	bridge := NewBridge(sessionID, transport, m.dialer, opts)

	m.storeSession(ctx, bridge)
	return bridge, nil
}

// storeSession saves a session to memory and Redis. Caller holds mu.
func (m *Manager) storeSession(ctx context.Context, bridge *Bridge) {
	m.sessions[bridge.ID] = bridge

	if m.redis != nil {
		key := sessionKey(bridge.ID)
		pipe := m.redis.TxPipeline()
		pipe.HSet(ctx, key, map[string]interface{}{
			"created_at":    bridge.CreatedAt.Format(time.RFC3339),
			"last_activity": bridge.LastActivity().Format(time.RFC3339),
			"status":        bridge.State().String(),
		})
		pipe.SAdd(ctx, activeSessionsKey, bridge.ID)
		pipe.Expire(ctx, key, m.sessionTimeout)
		if _, err := pipe.Exec(ctx); err != nil {
			m.logger.Warn("redis store failed", "session", shortID(bridge.ID), "error", err)
		}
	}
}

// onStateChange mirrors bridge state transitions into Redis
func (m *Manager) onStateChange(id string, state TurnState) {
	if m.redis == nil || state == StateClosed {
		return
	}
	bridge, ok := m.GetSession(id)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	fields := map[string]interface{}{
		"status":        state.String(),
		"last_activity": bridge.LastActivity().Format(time.RFC3339),
	}
	if voice := bridge.Voice(); voice != "" {
		fields["voice"] = voice
	}
	key := sessionKey(id)
	pipe := m.redis.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, m.sessionTimeout)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Debug("redis status update failed", "session", shortID(id), "error", err)
	}
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(sessionID string) (*Bridge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bridge, exists := m.sessions[sessionID]
	return bridge, exists
}

// RemoveSession stops and forgets a session
func (m *Manager) RemoveSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bridge, exists := m.sessions[sessionID]
	if !exists {
		return
	}

	bridge.Close()
	delete(m.sessions, sessionID)
	m.forget(ctx, sessionID)
}

// forget drops the Redis mirror of a session. Caller holds mu.
func (m *Manager) forget(ctx context.Context, sessionID string) {
	if m.redis == nil {
		return
	}
	pipe := m.redis.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.SRem(ctx, activeSessionsKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Debug("redis delete failed", "session", shortID(sessionID), "error", err)
	}
}

// Count returns the current session count
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupInactiveSessions stops sessions with no traffic for longer than the
// session timeout and returns how many were removed.
func (m *Manager) CleanupInactiveSessions(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, bridge := range m.sessions {
		if now.Sub(bridge.LastActivity()) <= m.sessionTimeout {
			continue
		}
		m.logger.Info("closing inactive session", "session", shortID(id), "idle", now.Sub(bridge.LastActivity()).Round(time.Second))
		bridge.Close()
		delete(m.sessions, id)
		m.forget(ctx, id)
		removed++
	}
	return removed
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (m *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown stops every session and waits for them until ctx expires
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	bridges := make([]*Bridge, 0, len(m.sessions))
	for id, bridge := range m.sessions {
		bridge.Close()
		bridges = append(bridges, bridge)
		delete(m.sessions, id)
		m.forget(ctx, id)
	}
	m.mu.Unlock()

	if !waitClosed(ctx, bridges) {
		m.logger.Warn("shutdown deadline hit with sessions still closing")
	}

	if m.redis != nil {
		_ = m.redis.Close()
	}
}

func waitClosed(ctx context.Context, bridges []*Bridge) bool {
	for _, bridge := range bridges {
		select {
		case <-bridge.Done():
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func sessionKey(id string) string {
	return "session:" + id
}
