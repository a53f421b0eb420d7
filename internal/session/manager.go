package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrExists        = errors.New("session already exists")
	ErrAlreadyMember = errors.New("already in session")
	ErrNotMember     = errors.New("not a member of session")
	ErrFull          = errors.New("session is full")
	ErrNotOwner      = errors.New("not the session owner")
	ErrInvalid       = errors.New("invalid session")
	ErrLimitExceeded = errors.New("session limit exceeded")
)

// Config bounds the directory store.
type Config struct {
	// SessionTTL is how long a record lives after creation.
	SessionTTL time.Duration
	// MaxSessions caps the total number of records (0 = unlimited).
	MaxSessions int
	// MaxSessionsPerOwner caps records per owner (0 = unlimited).
	MaxSessionsPerOwner int
	// MaxResults caps every search (0 = unlimited).
	MaxResults int
}

// Manager stores advertised sessions in memory with TTL-based cleanup.
// It is safe for concurrent use.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	sessions  map[string]*Session            // sessionID -> Session
	byKeyword map[string]map[string]*Session // keyword -> sessionID -> Session
	byOwner   map[string]int                 // ownerID -> record count

	now           func() time.Time
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// NewManager creates a store and starts its cleanup goroutine, which
// runs every minute until Stop.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:           cfg,
		sessions:      make(map[string]*Session),
		byKeyword:     make(map[string]map[string]*Session),
		byOwner:       make(map[string]int),
		now:           time.Now,
		cleanupTicker: time.NewTicker(1 * time.Minute),
		stopCleanup:   make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cleanupTicker.Stop()
		close(m.stopCleanup)
	})
}

// Create publishes a new record owned by ownerID.
// A single owner may not publish two live records with the same name.
func (m *Manager) Create(ownerID, name, hostAddress string, settings Settings) (*Session, error) {
	if ownerID == "" || name == "" || hostAddress == "" {
		return nil, fmt.Errorf("%w: owner, name and host address are required", ErrInvalid)
	}
	if settings.NumPublicConnections < 1 {
		return nil, fmt.Errorf("%w: at least one public connection is required", ErrInvalid)
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, fmt.Errorf("%w: directory holds %d sessions", ErrLimitExceeded, len(m.sessions))
	}
	if m.cfg.MaxSessionsPerOwner > 0 && m.byOwner[ownerID] >= m.cfg.MaxSessionsPerOwner {
		return nil, fmt.Errorf("%w: owner holds %d sessions", ErrLimitExceeded, m.byOwner[ownerID])
	}
	for _, s := range m.sessions {
		if s.OwnerID == ownerID && s.Name == name && now.Before(s.ExpiresAt) {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
	}

	s := &Session{
		ID:          uuid.NewString(),
		Name:        name,
		OwnerID:     ownerID,
		HostAddress: hostAddress,
		Settings:    settings,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.SessionTTL),
	}
	m.add(s)

	return s.clone(), nil
}

// Get returns a copy of a live record.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.live(sessionID)
	if err != nil {
		return nil, err
	}
	return s.clone(), nil
}

// Search returns copies of the live, joinable records matching f, oldest
// first.
func (m *Manager) Search(f Filter) []*Session {
	limit := f.MaxResults
	if m.cfg.MaxResults > 0 && (limit <= 0 || limit > m.cfg.MaxResults) {
		limit = m.cfg.MaxResults
	}

	now := m.now()

	m.mu.RLock()
	candidates := m.sessions
	if f.Keyword != "" {
		candidates = m.byKeyword[f.Keyword]
	}

	var out []*Session
	for _, s := range candidates {
		if now.After(s.ExpiresAt) || !s.matches(f) {
			continue
		}
		out = append(out, s.clone())
	}
	m.mu.RUnlock()

	sortByAge(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Join adds userID to a record's members and returns the updated copy.
func (m *Manager) Join(sessionID, userID string) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.live(sessionID)
	if err != nil {
		return nil, err
	}
	if s.OwnerID == userID || s.hasMember(userID) {
		return nil, ErrAlreadyMember
	}
	if s.OpenSlots() == 0 {
		return nil, ErrFull
	}

	s.Members = append(s.Members, userID)
	return s.clone(), nil
}

// Leave removes userID from a record's members.
func (m *Manager) Leave(sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.live(sessionID)
	if err != nil {
		return err
	}
	for i, member := range s.Members {
		if member == userID {
			s.Members = append(s.Members[:i], s.Members[i+1:]...)
			return nil
		}
	}
	return ErrNotMember
}

// Destroy removes a record. Only its owner may destroy it.
func (m *Manager) Destroy(sessionID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.OwnerID != ownerID {
		return ErrNotOwner
	}

	m.remove(s)
	return nil
}

// List returns copies of all live records, oldest first.
func (m *Manager) List() []*Session {
	now := m.now()

	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			continue
		}
		out = append(out, s.clone())
	}
	m.mu.RUnlock()

	sortByAge(out)
	return out
}

// Count returns the number of stored records, including expired ones not
// yet cleaned up.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// live must be called with m.mu held.
func (m *Manager) live(sessionID string) (*Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if m.now().After(s.ExpiresAt) {
		return nil, fmt.Errorf("%w: expired", ErrNotFound)
	}
	return s, nil
}

// add and remove must be called with m.mu held for writing.
func (m *Manager) add(s *Session) {
	m.sessions[s.ID] = s
	m.byOwner[s.OwnerID]++

	idx, ok := m.byKeyword[s.Settings.Keyword]
	if !ok {
		idx = make(map[string]*Session)
		m.byKeyword[s.Settings.Keyword] = idx
	}
	idx[s.ID] = s
}

func (m *Manager) remove(s *Session) {
	delete(m.sessions, s.ID)

	if m.byOwner[s.OwnerID] <= 1 {
		delete(m.byOwner, s.OwnerID)
	} else {
		m.byOwner[s.OwnerID]--
	}

	if idx, ok := m.byKeyword[s.Settings.Keyword]; ok {
		delete(idx, s.ID)
		if len(idx) == 0 {
			delete(m.byKeyword, s.Settings.Keyword)
		}
	}
}

func sortByAge(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
