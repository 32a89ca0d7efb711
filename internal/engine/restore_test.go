package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

func creditSession(t *testing.T, r *Registry, mac string, denom int) model.Session {
	t.Helper()
	res, err := r.CreditPulse(context.Background(), Identity{MAC: mac},
		model.PulseEvent{SlotID: "main", Denomination: denom, Count: 1})
	require.NoError(t, err)
	return res.Session
}

func TestRestoreSameIdentity(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	s := creditSession(t, r, "aa:bb", 1)

	status, err := r.Restore(context.Background(), s.Token, Identity{MAC: "aa:bb", IP: "10.0.0.7"})
	require.NoError(t, err)
	assert.Equal(t, RestoreSuccess, status)

	got, _ := r.Get("aa:bb")
	assert.Equal(t, "10.0.0.7", got.IP)
}

func TestRestoreIsRetrySafe(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	s := creditSession(t, r, "aa:bb", 1)
	ctx := context.Background()

	// The portal retries restore a few times; every attempt after the
	// first must be an idempotent success.
	for i := 0; i < 5; i++ {
		status, err := r.Restore(ctx, s.Token, Identity{MAC: "aa:bb"})
		require.NoError(t, err)
		assert.Equal(t, RestoreSuccess, status)
	}
	got, _ := r.Get("aa:bb")
	assert.Equal(t, 600, got.RemainingSeconds)
}

func TestRestoreMigratesIdentity(t *testing.T) {
	r, store, _, _ := newTestRegistry(t)
	s := creditSession(t, r, "aa:bb", 5)
	ctx := context.Background()

	status, err := r.Restore(ctx, s.Token, Identity{MAC: "ee:ff", IP: "10.0.0.9"})
	require.NoError(t, err)
	assert.Equal(t, RestoreMigrated, status)

	// Old identity is gone, new one carries the paid time.
	_, ok := r.Get("aa:bb")
	assert.False(t, ok)
	got, ok := r.Get("ee:ff")
	require.True(t, ok)
	assert.Equal(t, 3600, got.RemainingSeconds)
	assert.Equal(t, s.Token, got.Token)
	assert.Equal(t, "10.0.0.9", got.IP)

	assert.NotContains(t, store.rows, "aa:bb")
	assert.Contains(t, store.rows, "ee:ff")

	// The token now resolves to the new identity: a repeat restore from
	// the new identity is a plain success.
	status, err = r.Restore(ctx, s.Token, Identity{MAC: "ee:ff"})
	require.NoError(t, err)
	assert.Equal(t, RestoreSuccess, status)
}

func TestRestoreMergesDisplacedSession(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	old := creditSession(t, r, "aa:bb", 5) // 3600s, 5 pesos
	_ = creditSession(t, r, "ee:ff", 1)    // 600s, 1 peso under the new MAC

	status, err := r.Restore(context.Background(), old.Token, Identity{MAC: "ee:ff"})
	require.NoError(t, err)
	assert.Equal(t, RestoreMigrated, status)

	got, ok := r.Get("ee:ff")
	require.True(t, ok)
	assert.Equal(t, 4200, got.RemainingSeconds, "displaced session's time folds in")
	assert.Equal(t, 6, got.TotalPaid)
	assert.Equal(t, old.Token, got.Token, "restored token wins")
}

func TestRestoreUnknownToken(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	status, err := r.Restore(context.Background(), "deadbeef", Identity{MAC: "aa:bb"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, RestoreNotFound, status)
}

func TestRestoreAfterExpiryIsNotFound(t *testing.T) {
	r, _, _, now := newTestRegistry(t)
	s := creditSession(t, r, "aa:bb", 1)
	ctx := context.Background()

	r.Tick(ctx)
	*now = now.Add(601 * time.Second)
	r.Tick(ctx)

	status, err := r.Restore(ctx, s.Token, Identity{MAC: "aa:bb"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, RestoreNotFound, status)
}
