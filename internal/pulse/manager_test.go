package pulse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/engine"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/license"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

type stubSource struct{}

func (stubSource) Name() string                                 { return "stub" }
func (stubSource) Start(context.Context, chan<- RawPulse) error { return nil }
func (stubSource) Stop() error                                  { return nil }

type failingSource struct{}

func (failingSource) Name() string                                 { return "broken" }
func (failingSource) Start(context.Context, chan<- RawPulse) error { return errors.New("no hardware") }
func (failingSource) Stop() error                                  { return nil }

type creditCall struct {
	holder engine.Identity
	ev     model.PulseEvent
}

type fakeCrediter struct {
	calls chan creditCall
}

func (f *fakeCrediter) CreditPulse(_ context.Context, holder engine.Identity, ev model.PulseEvent) (engine.CreditResult, error) {
	f.calls <- creditCall{holder: holder, ev: ev}
	return engine.CreditResult{MinutesGranted: 10}, nil
}

type fakeHolders struct {
	mu      sync.Mutex
	holders map[string]engine.Identity
}

func (f *fakeHolders) Holder(slotID string) (engine.Identity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.holders[slotID]
	return id, ok
}

type fakeGate struct{ verdict license.Verdict }

func (f *fakeGate) Verify(context.Context, string) (license.Verdict, error) {
	return f.verdict, nil
}

func newTestManager(t *testing.T, gate Verifier) (*Manager, *fakeCrediter, *fakeHolders) {
	t.Helper()
	credits := &fakeCrediter{calls: make(chan creditCall, 8)}
	holders := &fakeHolders{holders: map[string]engine.Identity{
		"main": {MAC: "aa:bb", IP: "10.0.0.2"},
	}}
	m := NewManager(ManagerConfig{
		Credits:     credits,
		Holders:     holders,
		Gate:        gate,
		Window:      20 * time.Millisecond,
		MinInterval: time.Nanosecond,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, m.Start(context.Background(), stubSource{}))
	t.Cleanup(func() { _ = m.Stop() })
	return m, credits, holders
}

func TestIngestCreditsHolder(t *testing.T) {
	m, credits, _ := newTestManager(t, nil)

	assert.True(t, m.Ingest(RawPulse{SlotID: "main", Denomination: 5}))

	select {
	case call := <-credits.calls:
		assert.Equal(t, "aa:bb", call.holder.MAC)
		assert.Equal(t, 5, call.ev.Denomination)
		assert.Equal(t, 1, call.ev.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("pulse never reached the crediter")
	}
}

func TestPulseWithoutReservationIsDropped(t *testing.T) {
	m, credits, holders := newTestManager(t, nil)

	holders.mu.Lock()
	delete(holders.holders, "main")
	holders.mu.Unlock()

	assert.True(t, m.Ingest(RawPulse{SlotID: "main", Denomination: 1}))

	select {
	case call := <-credits.calls:
		t.Fatalf("unattributed pulse was credited: %+v", call)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDisabledLicenseRefusesCredit(t *testing.T) {
	m, credits, _ := newTestManager(t, &fakeGate{verdict: license.Verdict{State: license.StateInvalid}})

	assert.True(t, m.Ingest(RawPulse{SlotID: "main", Denomination: 1}))

	select {
	case call := <-credits.calls:
		t.Fatalf("disabled machine still credited: %+v", call)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStartFallsBackToSimulated(t *testing.T) {
	credits := &fakeCrediter{calls: make(chan creditCall, 8)}
	m := NewManager(ManagerConfig{
		Credits: credits,
		Holders: &fakeHolders{holders: map[string]engine.Identity{}},
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, m.Start(context.Background(), failingSource{}))
	defer func() { _ = m.Stop() }()

	assert.Equal(t, "simulated", m.SourceName())
}

func TestReconfigureSwapsSource(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	require.NoError(t, m.Reconfigure(NewSimulatedSource("main", 1, time.Hour, zerolog.Nop())))
	assert.Equal(t, "simulated", m.SourceName())
}
