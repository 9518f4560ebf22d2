package session

import (
	"sync"

	"github.com/latoulicious/Resona/pkg/logging"
	"github.com/latoulicious/Resona/pkg/transport"
)

// Manager is the per-guild session registry. Handles are created on
// connect and purged on destroy so no per-guild state outlives its
// session.
type Manager struct {
	log logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Handle
}

// NewManager creates an empty session registry
func NewManager(log logging.Logger) *Manager {
	return &Manager{
		log:      log,
		sessions: make(map[string]*Handle),
	}
}

// Create registers a session for the guild. An existing live session is
// returned as-is; a destroyed leftover is replaced.
func (m *Manager) Create(guildID string, player transport.Player, voiceChannelID, textChannelID string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[guildID]; ok && existing.State() != StateDestroyed {
		return existing
	}

	handle := NewHandle(guildID, player, voiceChannelID, textChannelID, m.log)
	m.sessions[guildID] = handle
	return handle
}

// Get returns the guild's session, if one exists
func (m *Manager) Get(guildID string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.sessions[guildID]
	return h, ok
}

// Destroy tears down and purges the guild's session. Destroying a guild
// without a session reports ErrInvalidState.
func (m *Manager) Destroy(guildID string) error {
	m.mu.Lock()
	handle, ok := m.sessions[guildID]
	delete(m.sessions, guildID)
	m.mu.Unlock()

	if !ok {
		return ErrInvalidState
	}
	return handle.Destroy()
}

// Remove purges the guild's session without destroying the player
func (m *Manager) Remove(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, guildID)
}

// All returns a snapshot of every live session
func (m *Manager) All() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		out = append(out, h)
	}
	return out
}

// Count returns the number of registered sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
