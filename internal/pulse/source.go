// Package pulse normalizes heterogeneous coin-acceptor hardware into a
// single stream of debounced PulseEvents.  Sources are polymorphic
// (direct GPIO, a serial acceptor bridge, networked NodeMCU
// sub-controllers over MQTT, or a simulated timer) and everything
// downstream of the adapter is source-agnostic.
package pulse

import (
	"context"
	"time"
)

// RawPulse is one electrical pulse as reported by a source, before
// debouncing.  Slot is "main" for the on-board acceptor or the
// sub-controller MAC for networked slots.
type RawPulse struct {
	SlotID       string
	Denomination int
	At           time.Time
}

// Source is the emission contract every hardware variant implements.
// Start launches the source's read loop in its own goroutine and
// returns immediately; detected pulses are sent to sink.  Stop tears
// the source down; a config change is Stop followed by Start of the
// replacement, and may lose at most the in-flight debounce window.
type Source interface {
	Name() string
	Start(ctx context.Context, sink chan<- RawPulse) error
	Stop() error
}
