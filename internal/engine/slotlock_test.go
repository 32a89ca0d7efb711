package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLockManager(ttl time.Duration) (*SlotLockManager, *time.Time) {
	m := NewSlotLockManager(ttl, zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestReserveIsExclusive(t *testing.T) {
	m, _ := newTestLockManager(time.Minute)

	lock, err := m.Reserve("main", Identity{MAC: "aa:bb", IP: "10.0.0.2"})
	require.NoError(t, err)
	require.NotEmpty(t, lock.LockID)
	assert.Equal(t, "aa:bb", lock.OwnerMAC)
	assert.Equal(t, "10.0.0.2", lock.OwnerIP)

	_, err = m.Reserve("main", Identity{MAC: "cc:dd"})
	assert.ErrorIs(t, err, ErrConflict)

	// The holder itself re-reserving also conflicts: one live lock per
	// slot, no exceptions.
	_, err = m.Reserve("main", Identity{MAC: "aa:bb"})
	assert.ErrorIs(t, err, ErrConflict)

	// A different slot is independent.
	_, err = m.Reserve("d8:f1:5b", Identity{MAC: "cc:dd"})
	assert.NoError(t, err)
}

func TestReserveAfterExpiry(t *testing.T) {
	m, now := newTestLockManager(time.Minute)

	first, err := m.Reserve("main", Identity{MAC: "aa:bb"})
	require.NoError(t, err)

	*now = now.Add(61 * time.Second)

	second, err := m.Reserve("main", Identity{MAC: "cc:dd"})
	require.NoError(t, err)
	assert.NotEqual(t, first.LockID, second.LockID)
	assert.Equal(t, "cc:dd", second.OwnerMAC)
}

func TestHeartbeatExtends(t *testing.T) {
	m, now := newTestLockManager(time.Minute)

	lock, err := m.Reserve("main", Identity{MAC: "aa:bb"})
	require.NoError(t, err)

	*now = now.Add(50 * time.Second)
	expiresAt, err := m.Heartbeat("main", lock.LockID)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), expiresAt)

	// Without the heartbeat the lock would have died at +60s.
	*now = now.Add(30 * time.Second)
	_, ok := m.Holder("main")
	assert.True(t, ok)
}

func TestHeartbeatErrors(t *testing.T) {
	m, now := newTestLockManager(time.Minute)

	lock, err := m.Reserve("main", Identity{MAC: "aa:bb"})
	require.NoError(t, err)

	_, err = m.Heartbeat("main", "wrong-lock-id")
	assert.ErrorIs(t, err, ErrForbidden)

	*now = now.Add(2 * time.Minute)
	_, err = m.Heartbeat("main", lock.LockID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Heartbeat("never-reserved", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseIsIdempotent(t *testing.T) {
	m, _ := newTestLockManager(time.Minute)

	lock, err := m.Reserve("main", Identity{MAC: "aa:bb"})
	require.NoError(t, err)

	m.Release("main", lock.LockID)
	m.Release("main", lock.LockID) // duplicate release is a no-op
	m.Release("main", "stale-id")  // wrong id is a no-op too

	_, err = m.Reserve("main", Identity{MAC: "cc:dd"})
	assert.NoError(t, err)
}

func TestReleaseWrongIDKeepsLock(t *testing.T) {
	m, _ := newTestLockManager(time.Minute)

	_, err := m.Reserve("main", Identity{MAC: "aa:bb"})
	require.NoError(t, err)

	m.Release("main", "not-the-lock")
	_, err = m.Reserve("main", Identity{MAC: "cc:dd"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestHolderReflectsExpiry(t *testing.T) {
	m, now := newTestLockManager(time.Minute)

	_, err := m.Reserve("main", Identity{MAC: "aa:bb", IP: "10.0.0.2"})
	require.NoError(t, err)

	holder, ok := m.Holder("main")
	require.True(t, ok)
	assert.Equal(t, Identity{MAC: "aa:bb", IP: "10.0.0.2"}, holder)

	*now = now.Add(2 * time.Minute)
	_, ok = m.Holder("main")
	assert.False(t, ok)
}

func TestResetWindowExtendsLiveLock(t *testing.T) {
	m, now := newTestLockManager(time.Minute)

	_, err := m.Reserve("main", Identity{MAC: "aa:bb"})
	require.NoError(t, err)

	*now = now.Add(55 * time.Second)
	m.ResetWindow("main")

	*now = now.Add(50 * time.Second)
	_, ok := m.Holder("main")
	assert.True(t, ok, "coin drop at +55s should keep the window open past +60s")
}

func TestReserveConcurrentSingleWinner(t *testing.T) {
	m, _ := newTestLockManager(time.Minute)

	const contenders = 32
	var wins, conflicts atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.Reserve("main", Identity{MAC: fmt.Sprintf("aa:%02x", i)})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load(), "exactly one contender may hold the slot")
	assert.EqualValues(t, contenders-1, conflicts.Load())
}

func TestLookupsOnUnknownSlotsLeaveNoState(t *testing.T) {
	m, _ := newTestLockManager(time.Minute)

	_, err := m.Heartbeat("ghost-1", "x")
	assert.ErrorIs(t, err, ErrNotFound)
	m.Release("ghost-2", "x")
	_, ok := m.Holder("ghost-3")
	assert.False(t, ok)
	assert.False(t, m.HolderLockID("ghost-4", "x"))
	m.ResetWindow("ghost-5")

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Empty(t, m.slots, "lookups must not materialize slot state")
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	m, now := newTestLockManager(time.Minute)

	_, err := m.Reserve("a", Identity{MAC: "aa"})
	require.NoError(t, err)
	*now = now.Add(30 * time.Second)
	_, err = m.Reserve("b", Identity{MAC: "bb"})
	require.NoError(t, err)

	*now = now.Add(40 * time.Second) // "a" is at +70s, "b" at +40s
	assert.Equal(t, 1, m.Sweep())

	_, ok := m.Holder("b")
	assert.True(t, ok)
}

func TestSweepPrunesIdleSlots(t *testing.T) {
	m, now := newTestLockManager(time.Minute)

	lock, err := m.Reserve("a", Identity{MAC: "aa"})
	require.NoError(t, err)
	m.Release("a", lock.LockID)

	_, err = m.Reserve("b", Identity{MAC: "bb"})
	require.NoError(t, err)
	*now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, m.Sweep()) // "b" expired; "a" was already free

	m.mu.RLock()
	left := len(m.slots)
	m.mu.RUnlock()
	assert.Zero(t, left, "sweep must drop slots with no live lock")

	// The slot name is immediately reusable after pruning.
	_, err = m.Reserve("a", Identity{MAC: "cc"})
	assert.NoError(t, err)
}
