package session

import (
	"log/slog"
)

// cleanupLoop periodically drops expired records until Stop is called.
func (m *Manager) cleanupLoop() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.cleanup()
		case <-m.stopCleanup:
			return
		}
	}
}

// cleanup removes every expired record. Get and Search already skip them;
// this only reclaims memory and owner quota.
func (m *Manager) cleanup() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	expiredCount := 0
	for _, s := range m.sessions {
		if !now.After(s.ExpiresAt) {
			continue
		}
		slog.Debug("session expired",
			"session_id", s.ID,
			"name", s.Name,
			"members", len(s.Members),
		)
		m.remove(s)
		expiredCount++
	}

	if expiredCount > 0 {
		slog.Info("cleaned up expired sessions", "count", expiredCount)
	}
}
