package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

// memStore is an in-memory engine.Store for tests.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]model.Session
	deletes []string
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]model.Session)} }

func (s *memStore) Load(context.Context) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Session, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	return out, nil
}

func (s *memStore) Upsert(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[sess.MAC] = *sess
	return nil
}

func (s *memStore) Delete(_ context.Context, mac string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, mac)
	s.deletes = append(s.deletes, mac)
	return nil
}

// memRates maps denominations to minutes; absent keys trigger the
// linear fallback.
type memRates map[int]int

func (m memRates) MinutesFor(_ context.Context, pesos int) (int, bool, error) {
	minutes, ok := m[pesos]
	return minutes, ok, nil
}

// recordingWindow captures ResetWindow calls.
type recordingWindow struct {
	mu    sync.Mutex
	slots []string
}

func (w *recordingWindow) ResetWindow(slotID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.slots = append(w.slots, slotID)
}

func newTestRegistry(t *testing.T) (*Registry, *memStore, *recordingWindow, *time.Time) {
	t.Helper()
	store := newMemStore()
	window := &recordingWindow{}
	r := NewRegistry(store, memRates{1: 10, 5: 60, 10: 180}, window, 0, zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, store, window, &now
}

func TestCreditPulseUsesRateTable(t *testing.T) {
	r, store, window, _ := newTestRegistry(t)

	res, err := r.CreditPulse(context.Background(), Identity{MAC: "aa:bb", IP: "10.0.0.2"},
		model.PulseEvent{SlotID: "main", Denomination: 1, Count: 1})
	require.NoError(t, err)

	assert.True(t, res.SessionCreated)
	assert.Equal(t, 10, res.MinutesGranted)
	assert.Equal(t, 600, res.Session.RemainingSeconds)
	assert.Equal(t, 1, res.Session.TotalPaid)
	assert.NotEmpty(t, res.Session.Token)

	// Persisted and window restarted.
	assert.Equal(t, 600, store.rows["aa:bb"].RemainingSeconds)
	assert.Equal(t, []string{"main"}, window.slots)
}

func TestCreditPulseLinearFallback(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	// No rate row for 2 pesos: 2 x 10 minutes.
	res, err := r.CreditPulse(context.Background(), Identity{MAC: "aa:bb"},
		model.PulseEvent{SlotID: "main", Denomination: 2, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, 20, res.MinutesGranted)
	assert.Equal(t, 1200, res.Session.RemainingSeconds)
}

func TestCreditPulseCoalescedCount(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	// A settled window of three 1-peso pulses credits as three coins.
	res, err := r.CreditPulse(context.Background(), Identity{MAC: "aa:bb"},
		model.PulseEvent{SlotID: "main", Denomination: 1, Count: 3})
	require.NoError(t, err)
	assert.Equal(t, 30, res.MinutesGranted)
	assert.Equal(t, 3, res.Session.TotalPaid)
}

func TestCreditsAccumulate(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	ctx := context.Background()
	id := Identity{MAC: "aa:bb"}

	_, err := r.CreditPulse(ctx, id, model.PulseEvent{SlotID: "main", Denomination: 5, Count: 1})
	require.NoError(t, err)
	res, err := r.CreditPulse(ctx, id, model.PulseEvent{SlotID: "main", Denomination: 10, Count: 1})
	require.NoError(t, err)

	assert.False(t, res.SessionCreated)
	assert.Equal(t, (60+180)*60, res.Session.RemainingSeconds)
	assert.Equal(t, 15, res.Session.TotalPaid)
}

func TestTickCountsWallClockSeconds(t *testing.T) {
	r, _, _, now := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreditPulse(ctx, Identity{MAC: "aa:bb"}, model.PulseEvent{SlotID: "main", Denomination: 1, Count: 1})
	require.NoError(t, err)

	r.Tick(ctx) // first tick only anchors the clock
	s, _ := r.Get("aa:bb")
	assert.Equal(t, 600, s.RemainingSeconds)

	*now = now.Add(time.Second)
	r.Tick(ctx)
	s, _ = r.Get("aa:bb")
	assert.Equal(t, 599, s.RemainingSeconds)

	// A delayed tick burns exactly the elapsed wall-clock seconds.
	*now = now.Add(7 * time.Second)
	r.Tick(ctx)
	s, _ = r.Get("aa:bb")
	assert.Equal(t, 592, s.RemainingSeconds)
}

func TestTickEvictsAtZero(t *testing.T) {
	r, store, _, now := newTestRegistry(t)
	ctx := context.Background()

	res, err := r.CreditPulse(ctx, Identity{MAC: "aa:bb"}, model.PulseEvent{SlotID: "main", Denomination: 1, Count: 1})
	require.NoError(t, err)
	token := res.Session.Token

	r.Tick(ctx)
	*now = now.Add(601 * time.Second)
	r.Tick(ctx)

	_, ok := r.Get("aa:bb")
	assert.False(t, ok, "expired session must be unobservable")
	assert.ErrorIs(t, r.Pause(ctx, token), ErrForbidden, "token dies with the session")
	assert.Contains(t, store.deletes, "aa:bb")
}

func TestPauseFreezesCountdown(t *testing.T) {
	r, _, _, now := newTestRegistry(t)
	ctx := context.Background()

	res, err := r.CreditPulse(ctx, Identity{MAC: "aa:bb"}, model.PulseEvent{SlotID: "main", Denomination: 1, Count: 1})
	require.NoError(t, err)

	require.NoError(t, r.Pause(ctx, res.Session.Token))

	r.Tick(ctx)
	*now = now.Add(30 * time.Second)
	r.Tick(ctx)
	s, _ := r.Get("aa:bb")
	assert.Equal(t, 600, s.RemainingSeconds, "paused session must not burn time")

	require.NoError(t, r.Resume(ctx, res.Session.Token))
	*now = now.Add(5 * time.Second)
	r.Tick(ctx)
	s, _ = r.Get("aa:bb")
	assert.Equal(t, 595, s.RemainingSeconds)
}

func TestPauseRejectsUnknownToken(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	assert.ErrorIs(t, r.Pause(context.Background(), "no-such-token"), ErrForbidden)
}

func TestEnsureCreatesOnce(t *testing.T) {
	r, store, _, _ := newTestRegistry(t)
	ctx := context.Background()

	s1, created, err := r.Ensure(ctx, Identity{MAC: "aa:bb", IP: "10.0.0.2"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Zero(t, s1.RemainingSeconds)
	assert.NotEmpty(t, s1.Token)
	assert.Contains(t, store.rows, "aa:bb")

	s2, created, err := r.Ensure(ctx, Identity{MAC: "aa:bb", IP: "10.0.0.9"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, s1.Token, s2.Token)
	assert.Equal(t, "10.0.0.9", s2.IP)
}

func TestEnsureTokenSurvivesTicks(t *testing.T) {
	r, _, _, now := newTestRegistry(t)
	ctx := context.Background()

	s, created, err := r.Ensure(ctx, Identity{MAC: "aa:bb", IP: "10.0.0.2"})
	require.NoError(t, err)
	require.True(t, created)

	r.Tick(ctx)
	*now = now.Add(2 * time.Second)
	r.Tick(ctx)

	got, ok := r.Get("aa:bb")
	require.True(t, ok, "zero-credit session must outlive the tick")
	assert.Zero(t, got.RemainingSeconds)

	status, err := r.Restore(ctx, s.Token, Identity{MAC: "aa:bb", IP: "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, RestoreSuccess, status)

	// The first coin credits the same session; the stored token keeps
	// working instead of being replaced by a fresh one.
	res, err := r.CreditPulse(ctx, Identity{MAC: "aa:bb"}, model.PulseEvent{SlotID: "main", Denomination: 1, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, s.Token, res.Session.Token)
	require.NoError(t, r.Pause(ctx, s.Token))
}

func TestEnsureAbandonedIsEvictedAfterGrace(t *testing.T) {
	r, store, _, now := newTestRegistry(t)
	ctx := context.Background()

	_, _, err := r.Ensure(ctx, Identity{MAC: "aa:bb"})
	require.NoError(t, err)

	r.Tick(ctx)
	*now = now.Add(zeroCreditGrace + time.Minute)
	r.Tick(ctx)

	_, ok := r.Get("aa:bb")
	assert.False(t, ok, "abandoned placeholder must not live forever")
	assert.Contains(t, store.deletes, "aa:bb")
}

func TestConcurrentCreditsAndTicksLoseNothing(t *testing.T) {
	r, _, _, now := newTestRegistry(t)
	ctx := context.Background()
	id := Identity{MAC: "aa:bb"}

	// Seed enough time that the countdown cannot drain mid-test.
	_, _, err := r.ApplyCredit(ctx, id, 10, 10, "main")
	require.NoError(t, err)
	r.Tick(ctx) // anchor the clock

	const workers = 8
	const creditsEach = 5

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < creditsEach; j++ {
				_, _, err := r.ApplyCredit(ctx, id, 1, 1, "main")
				assert.NoError(t, err)
			}
		}()
	}
	close(start)
	for i := 0; i < 10; i++ {
		*now = now.Add(time.Second)
		r.Tick(ctx)
	}
	wg.Wait()

	// Credits are additive and ticks subtract exactly the elapsed
	// seconds, so the final balance is the same for every interleaving.
	s, ok := r.Get("aa:bb")
	require.True(t, ok)
	assert.Equal(t, (10+workers*creditsEach)*60-10, s.RemainingSeconds)
	assert.Equal(t, 10+workers*creditsEach, s.TotalPaid)
}

func TestWarmSkipsDrainedRows(t *testing.T) {
	store := newMemStore()
	store.rows["alive"] = model.Session{MAC: "alive", RemainingSeconds: 120, Token: "tok-alive"}
	store.rows["drained"] = model.Session{MAC: "drained", RemainingSeconds: 0, Token: "tok-drained"}

	r := NewRegistry(store, memRates{}, nil, 0, zerolog.Nop())
	require.NoError(t, r.Warm(context.Background()))

	_, ok := r.Get("alive")
	assert.True(t, ok)
	_, ok = r.Get("drained")
	assert.False(t, ok)
}

func TestRemoveByAdmin(t *testing.T) {
	r, store, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreditPulse(ctx, Identity{MAC: "aa:bb"}, model.PulseEvent{SlotID: "main", Denomination: 1, Count: 1})
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx, "aa:bb"))
	assert.NotContains(t, store.rows, "aa:bb")
	assert.ErrorIs(t, r.Remove(ctx, "aa:bb"), ErrNotFound)
}

func TestListIsSortedSnapshot(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, mac := range []string{"cc", "aa", "bb"} {
		_, err := r.CreditPulse(ctx, Identity{MAC: mac}, model.PulseEvent{SlotID: "main", Denomination: 1, Count: 1})
		require.NoError(t, err)
	}
	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "aa", list[0].MAC)
	assert.Equal(t, "bb", list[1].MAC)
	assert.Equal(t, "cc", list[2].MAC)
}
