// Package worklock provides single-writer locks over working directories.
//
// A lock marks a directory as owned by one session so destructive file
// operations dispatched by hooks do not interleave across agents.
package worklock

import (
	"errors"
	"path/filepath"
	"sync"
	"time"
)

// Common errors
var (
	ErrHeld    = errors.New("workspace already locked")
	ErrNotHeld = errors.New("workspace not locked by caller")
)

// Lock records one held workspace lock.
type Lock struct {
	WorkingDir string    `json:"working_dir"`
	OwnerID    string    `json:"owner_id"`
	Reason     string    `json:"reason,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Manager holds at most one lock per working directory.
type Manager struct {
	mu    sync.Mutex
	locks map[string]Lock // keyed by cleaned working dir
	now   func() time.Time
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[string]Lock), now: time.Now}
}

// SetClock overrides the manager's clock. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func key(wd string) string { return filepath.Clean(wd) }

// Acquire locks wd for owner. Fails with ErrHeld if any session holds it,
// including the owner itself (re-entry is a caller bug worth surfacing).
func (m *Manager) Acquire(wd, ownerID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(wd)
	if _, held := m.locks[k]; held {
		return ErrHeld
	}
	m.locks[k] = Lock{
		WorkingDir: k,
		OwnerID:    ownerID,
		Reason:     reason,
		AcquiredAt: m.now().UTC(),
	}
	return nil
}

// Release unlocks wd if owner holds it.
func (m *Manager) Release(wd, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(wd)
	l, held := m.locks[k]
	if !held || l.OwnerID != ownerID {
		return ErrNotHeld
	}
	delete(m.locks, k)
	return nil
}

// OwnerOf returns the current holder of wd, if any.
func (m *Manager) OwnerOf(wd string) (Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, held := m.locks[key(wd)]
	return l, held
}

// ReleaseAllFor drops every lock held by a session. Called when the
// session is deleted so a dead owner cannot wedge a workspace.
func (m *Manager) ReleaseAllFor(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, l := range m.locks {
		if l.OwnerID == ownerID {
			delete(m.locks, k)
			n++
		}
	}
	return n
}

// All returns every held lock.
func (m *Manager) All() []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Lock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, l)
	}
	return out
}
