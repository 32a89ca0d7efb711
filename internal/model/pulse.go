package model

import "time"

// PulseEvent is one unit of detected payment from a coin acceptor, after
// debouncing.  Multiple electrical pulses inside the coalescing window
// collapse into a single event carrying the aggregated count.  Events are
// not persisted; each one is consumed exactly once by the session
// registry's credit path and then discarded.
type PulseEvent struct {
	SlotID       string    `json:"slot"`
	Denomination int       `json:"denomination"` // pesos per pulse
	Count        int       `json:"count"`        // pulses coalesced into this event
	Timestamp    time.Time `json:"timestamp"`
}

// Pesos returns the total monetary value of the event.
func (p PulseEvent) Pesos() int { return p.Denomination * p.Count }
