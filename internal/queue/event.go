// Package queue defines message payloads exchanged over the message broker.
package queue

// CoinCreditedEvent is published every time an accepted pulse (or an
// explicit session start) turns into session credit.  It carries enough
// for downstream consumers (the sales log, vendor analytics) without
// querying the primary database.
type CoinCreditedEvent struct {
	SlotID         string `json:"slot_id"`
	ClientMAC      string `json:"client_mac"`
	Pesos          int    `json:"pesos"`
	MinutesGranted int    `json:"minutes_granted"`
	SessionCreated bool   `json:"session_created"`
	CreditedAt     string `json:"credited_at"`
}
