package pulse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

func collectEvents() (chan model.PulseEvent, func(model.PulseEvent)) {
	ch := make(chan model.PulseEvent, 16)
	return ch, func(ev model.PulseEvent) { ch <- ev }
}

func waitEvent(t *testing.T, ch chan model.PulseEvent) model.PulseEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no pulse event emitted")
		return model.PulseEvent{}
	}
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	events, emit := collectEvents()
	d := NewDebouncer(30*time.Millisecond, time.Nanosecond, emit)

	now := time.Now()
	d.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, d.Offer(RawPulse{SlotID: "main", Denomination: 1}))
		now = now.Add(5 * time.Millisecond)
	}

	ev := waitEvent(t, events)
	assert.Equal(t, "main", ev.SlotID)
	assert.Equal(t, 1, ev.Denomination)
	assert.Equal(t, 3, ev.Count)

	select {
	case extra := <-events:
		t.Fatalf("unexpected second event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncerAcceptanceFloor(t *testing.T) {
	events, emit := collectEvents()
	d := NewDebouncer(30*time.Millisecond, 100*time.Millisecond, emit)

	now := time.Now()
	d.now = func() time.Time { return now }

	assert.True(t, d.Offer(RawPulse{SlotID: "main", Denomination: 1}))
	now = now.Add(2 * time.Millisecond)
	assert.False(t, d.Offer(RawPulse{SlotID: "main", Denomination: 1}), "sub-floor pulse is noise")

	ev := waitEvent(t, events)
	assert.Equal(t, 1, ev.Count, "floor-dropped pulse must not count")
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	events, emit := collectEvents()
	d := NewDebouncer(30*time.Millisecond, time.Nanosecond, emit)

	require.True(t, d.Offer(RawPulse{SlotID: "main", Denomination: 1}))
	require.True(t, d.Offer(RawPulse{SlotID: "d8:f1:5b", Denomination: 5}))

	got := map[string]model.PulseEvent{}
	for i := 0; i < 2; i++ {
		ev := waitEvent(t, events)
		got[ev.SlotID] = ev
	}
	assert.Equal(t, 1, got["main"].Count)
	assert.Equal(t, 5, got["d8:f1:5b"].Denomination)
}

func TestFlushDropsPendingWindows(t *testing.T) {
	events, emit := collectEvents()
	d := NewDebouncer(30*time.Millisecond, time.Nanosecond, emit)

	require.True(t, d.Offer(RawPulse{SlotID: "main", Denomination: 1}))
	d.Flush()

	select {
	case ev := <-events:
		t.Fatalf("flushed window still emitted: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
