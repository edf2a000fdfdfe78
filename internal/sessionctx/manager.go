package sessionctx

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Manager caches live session contexts with a global LRU cap so long
// uptimes cannot accumulate unbounded session state. Evicted and removed
// contexts are synced to disk on the way out.
type Manager struct {
	mu         sync.Mutex
	cache      *lru.Cache[string, *Context]
	maxHistory int
	dataDir    string
	log        *zap.Logger
}

// NewManager creates a Manager holding at most maxSessions contexts, each
// bounded to maxHistory turns.
func NewManager(maxSessions, maxHistory int, dataDir string, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if maxSessions <= 0 {
		maxSessions = 50
	}

	m := &Manager{maxHistory: maxHistory, dataDir: dataDir, log: log}
	cache, err := lru.NewWithEvict[string, *Context](maxSessions, m.onEvict)
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

func (m *Manager) onEvict(sessionID string, ctx *Context) {
	if err := ctx.Sync(m.dataDir); err != nil {
		m.log.Warn("evicted session sync failed",
			zap.String("session", sessionID),
			zap.Error(err))
	}
	m.log.Debug("session context evicted", zap.String("session", sessionID))
}

// Get returns the context for a session, creating it on first use, and
// marks it most recently used.
func (m *Manager) Get(sessionID, learnerID string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx, ok := m.cache.Get(sessionID); ok {
		return ctx
	}
	ctx := NewContext(sessionID, learnerID, m.maxHistory)
	m.cache.Add(sessionID, ctx)
	return ctx
}

// Peek returns the context without creating or promoting it.
func (m *Manager) Peek(sessionID string) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Peek(sessionID)
}

// Remove drops a session's context, syncing it first.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(sessionID)
}

// Active returns all cached contexts, for time-based skill sweeps.
func (m *Manager) Active() []*Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.cache.Keys()
	out := make([]*Context, 0, len(keys))
	for _, k := range keys {
		if ctx, ok := m.cache.Peek(k); ok {
			out = append(out, ctx)
		}
	}
	return out
}

// Len returns the number of cached sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// SyncAll flushes every cached context to disk.
func (m *Manager) SyncAll() {
	for _, ctx := range m.Active() {
		if err := ctx.Sync(m.dataDir); err != nil {
			m.log.Warn("session sync failed",
				zap.String("session", ctx.SessionID),
				zap.Error(err))
		}
	}
}
