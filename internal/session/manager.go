package session

import (
	"errors"
	"sync"
	"time"

	"github.com/org/keyproxy/internal/crypto"
)

// ErrLocked is returned when an owner has no active unlock session.
var ErrLocked = errors.New("vault is locked for this owner")

const defaultTTL = time.Hour

type entry struct {
	ownerKey  []byte // HKDF-derived, never the raw unlock key
	expiresAt time.Time
}

// Manager holds per-owner unlock sessions. Derived keys live in memory only and
// are wiped on logout or expiry; nothing here is ever written to durable
// storage or logs. Sessions are keyed by owner so concurrent requests from
// different owners never observe each other's keys.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	ttl      time.Duration

	now func() time.Time
}

// NewManager creates a Manager with the given session TTL. ttl <= 0 uses the
// default of one hour.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Unlock derives the owner key from the supplied unlock key and starts (or
// refreshes) the owner's session. The raw unlock key is not retained.
func (m *Manager) Unlock(ownerID string, unlockKey []byte) error {
	if ownerID == "" {
		return errors.New("empty owner id")
	}
	key, err := crypto.DeriveOwnerKey(unlockKey, ownerID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.sessions[ownerID]; ok {
		crypto.ZeroBytes(old.ownerKey)
	}
	m.sessions[ownerID] = &entry{
		ownerKey:  key,
		expiresAt: m.now().Add(m.ttl),
	}
	return nil
}

// Logout ends the owner's session and wipes the derived key. Logging out an
// owner with no session is a no-op.
func (m *Manager) Logout(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[ownerID]; ok {
		crypto.ZeroBytes(e.ownerKey)
		delete(m.sessions, ownerID)
	}
}

// IsUnlocked reports whether the owner has a live session.
func (m *Manager) IsUnlocked(ownerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[ownerID]
	return ok && m.now().Before(e.expiresAt)
}

// OwnerKey returns a copy of the owner's derived key, or ErrLocked when the
// owner has no live session. All vault operations fail closed through this.
func (m *Manager) OwnerKey(ownerID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[ownerID]
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, ErrLocked
	}
	key := make([]byte, len(e.ownerKey))
	copy(key, e.ownerKey)
	return key, nil
}

// ActiveSessions counts live sessions, for metrics.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	now := m.now()
	for _, e := range m.sessions {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// ExpireStale wipes and removes sessions past their TTL. Returns the number
// removed.
func (m *Manager) ExpireStale() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for owner, e := range m.sessions {
		if !now.Before(e.expiresAt) {
			crypto.ZeroBytes(e.ownerKey)
			delete(m.sessions, owner)
			removed++
		}
	}
	return removed
}
