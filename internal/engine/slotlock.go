package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

// DefaultLockTTL matches the portal's 60-second coin-drop exposure
// timer: a reservation lives as long as the payment modal is open and
// being heartbeated.
const DefaultLockTTL = 60 * time.Second

// slotState carries the live lock for one slot.  Each slot has its own
// mutex so a slow operation on one acceptor never blocks another.
// gone marks a state the sweeper pruned from the map; holders of a
// stale pointer must re-fetch.
type slotState struct {
	mu   sync.Mutex
	lock *model.CoinSlotLock
	gone bool
}

// SlotLockManager grants mutually-exclusive, time-bounded locks on named
// coin slots.  At most one non-expired lock exists per slot at any
// instant; expiry is enforced lazily on access and by a background
// sweep.  The manager gates only the reservation UI step.  Crediting is
// attributed to whichever identity holds the reservation at pulse time.
type SlotLockManager struct {
	mu    sync.RWMutex
	slots map[string]*slotState

	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// NewSlotLockManager returns a manager with the given lock TTL.  A zero
// ttl falls back to DefaultLockTTL.
func NewSlotLockManager(ttl time.Duration, logger zerolog.Logger) *SlotLockManager {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &SlotLockManager{
		slots: make(map[string]*slotState),
		ttl:   ttl,
		now:   time.Now,
		log:   logger,
	}
}

// slot returns the per-slot state with its mutex held, creating the
// state on first use.  The caller must unlock it.
func (m *SlotLockManager) slot(slotID string) *slotState {
	for {
		m.mu.RLock()
		st, ok := m.slots[slotID]
		m.mu.RUnlock()
		if !ok {
			m.mu.Lock()
			if st, ok = m.slots[slotID]; !ok {
				st = &slotState{}
				m.slots[slotID] = st
			}
			m.mu.Unlock()
		}
		st.mu.Lock()
		if !st.gone {
			return st
		}
		st.mu.Unlock()
	}
}

// peek is slot without the create: lookups on slots that were never
// reserved return nil instead of materializing state, so probing
// arbitrary slot names cannot grow the map.
func (m *SlotLockManager) peek(slotID string) *slotState {
	for {
		m.mu.RLock()
		st, ok := m.slots[slotID]
		m.mu.RUnlock()
		if !ok {
			return nil
		}
		st.mu.Lock()
		if !st.gone {
			return st
		}
		st.mu.Unlock()
	}
}

// Reserve grants an exclusive lock on the slot to the given client.  It
// fails with ErrConflict while a non-expired lock is held by anyone else.
func (m *SlotLockManager) Reserve(slotID string, owner Identity) (*model.CoinSlotLock, error) {
	st := m.slot(slotID)
	defer st.mu.Unlock()

	now := m.now()
	if cur := st.lock; cur != nil && !cur.Expired(now) {
		if cur.LockID == "" {
			// A live lock without an id cannot be released or heartbeated;
			// refuse to operate on the slot rather than pick a winner.
			m.log.Error().Str("slot", slotID).Msg("live lock with empty lock id")
			return nil, ErrInvariant
		}
		return nil, ErrConflict
	}

	lock := &model.CoinSlotLock{
		SlotID:    slotID,
		LockID:    uuid.NewString(),
		OwnerMAC:  owner.MAC,
		OwnerIP:   owner.IP,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	st.lock = lock
	m.log.Debug().Str("slot", slotID).Str("owner", owner.MAC).Time("expires_at", lock.ExpiresAt).Msg("slot reserved")

	snapshot := *lock
	return &snapshot, nil
}

// Heartbeat pushes the lock's expiry forward.  It fails with ErrNotFound
// when no live lock exists and ErrForbidden when the lock id does not
// match the live lock.
func (m *SlotLockManager) Heartbeat(slotID, lockID string) (time.Time, error) {
	st := m.peek(slotID)
	if st == nil {
		return time.Time{}, ErrNotFound
	}
	defer st.mu.Unlock()

	now := m.now()
	cur := st.lock
	if cur == nil || cur.Expired(now) {
		st.lock = nil
		return time.Time{}, ErrNotFound
	}
	if cur.LockID != lockID {
		return time.Time{}, ErrForbidden
	}
	cur.ExpiresAt = now.Add(m.ttl)
	return cur.ExpiresAt, nil
}

// Release drops the lock if lockID matches the live lock.  Late or
// duplicate releases are a no-op, never an error, so best-effort client
// cleanup can always fire it.
func (m *SlotLockManager) Release(slotID, lockID string) {
	st := m.peek(slotID)
	if st == nil {
		return
	}
	defer st.mu.Unlock()

	cur := st.lock
	if cur == nil {
		return
	}
	if cur.Expired(m.now()) || cur.LockID == lockID {
		st.lock = nil
	}
}

// Holder returns the identity currently holding a live lock on the slot.
func (m *SlotLockManager) Holder(slotID string) (Identity, bool) {
	st := m.peek(slotID)
	if st == nil {
		return Identity{}, false
	}
	defer st.mu.Unlock()

	cur := st.lock
	if cur == nil || cur.Expired(m.now()) {
		st.lock = nil
		return Identity{}, false
	}
	return Identity{MAC: cur.OwnerMAC, IP: cur.OwnerIP}, true
}

// HolderLockID reports whether lockID is the live lock on the slot.
func (m *SlotLockManager) HolderLockID(slotID, lockID string) bool {
	st := m.peek(slotID)
	if st == nil {
		return false
	}
	defer st.mu.Unlock()

	cur := st.lock
	return cur != nil && !cur.Expired(m.now()) && cur.LockID == lockID
}

// ResetWindow restarts the payment-UI exposure timer on the slot, called
// by the credit path so a coin drop keeps the reservation alive exactly
// like a heartbeat would.
func (m *SlotLockManager) ResetWindow(slotID string) {
	st := m.peek(slotID)
	if st == nil {
		return
	}
	defer st.mu.Unlock()

	cur := st.lock
	if cur == nil || cur.Expired(m.now()) {
		return
	}
	cur.ExpiresAt = m.now().Add(m.ttl)
}

// Sweep clears expired locks and prunes slots with no live lock, so the
// map never accumulates state for abandoned slot names.  It returns the
// number of locks cleared.  Pruned states are flagged so a goroutine
// holding a stale pointer re-fetches instead of mutating an orphan.
func (m *SlotLockManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, st := range m.slots {
		st.mu.Lock()
		if st.lock != nil && st.lock.Expired(now) {
			st.lock = nil
			removed++
		}
		if st.lock == nil {
			st.gone = true
			delete(m.slots, id)
		}
		st.mu.Unlock()
	}
	return removed
}

// RunSweeper sweeps expired locks on the given interval until ctx is
// cancelled.
func (m *SlotLockManager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Debug().Int("removed", n).Msg("swept expired slot locks")
			}
		case <-ctx.Done():
			return
		}
	}
}
