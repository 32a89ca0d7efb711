package pulse

import (
	"sync"
	"time"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

const (
	// DefaultWindow is the coalescing window: electrically adjacent
	// pulses inside it collapse into one logical event, emitted once the
	// window elapses with no further pulses.
	DefaultWindow = 500 * time.Millisecond
	// DefaultMinInterval is the acceptance floor: pulses arriving faster
	// than this are electrical noise (or tampering) and are dropped
	// without resetting or extending the window.
	DefaultMinInterval = 100 * time.Millisecond
)

type debounceKey struct {
	slot  string
	denom int
}

type debounceState struct {
	count        int
	lastAccepted time.Time
	timer        *time.Timer
}

// Debouncer converts raw electrical pulses into aggregated PulseEvents.
// Each (slot, denomination) pair debounces independently so two
// acceptors never smear into each other's counts.
type Debouncer struct {
	window      time.Duration
	minInterval time.Duration
	emit        func(model.PulseEvent)

	mu     sync.Mutex
	states map[debounceKey]*debounceState
	now    func() time.Time
}

// NewDebouncer builds a debouncer that calls emit once per settled
// window.  Zero durations select the defaults.
func NewDebouncer(window, minInterval time.Duration, emit func(model.PulseEvent)) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Debouncer{
		window:      window,
		minInterval: minInterval,
		emit:        emit,
		states:      make(map[debounceKey]*debounceState),
		now:         time.Now,
	}
}

// Offer feeds one raw pulse in.  It returns false when the pulse was
// dropped by the acceptance floor.
func (d *Debouncer) Offer(p RawPulse) bool {
	key := debounceKey{slot: p.SlotID, denom: p.Denomination}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	st, ok := d.states[key]
	if !ok {
		st = &debounceState{}
		d.states[key] = st
	}
	if !st.lastAccepted.IsZero() && now.Sub(st.lastAccepted) < d.minInterval {
		return false
	}

	st.count++
	st.lastAccepted = now
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(d.window, func() { d.settle(key) })
	return true
}

// settle fires when a window elapsed with no further accepted pulses.
func (d *Debouncer) settle(key debounceKey) {
	d.mu.Lock()
	st, ok := d.states[key]
	if !ok || st.count == 0 {
		d.mu.Unlock()
		return
	}
	count := st.count
	st.count = 0
	st.timer = nil
	at := st.lastAccepted
	d.mu.Unlock()

	d.emit(model.PulseEvent{
		SlotID:       key.slot,
		Denomination: key.denom,
		Count:        count,
		Timestamp:    at,
	})
}

// Flush drops all pending windows without emitting.  Called on
// reconfiguration, where losing the in-flight window is accepted.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, st := range d.states {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(d.states, key)
	}
}
