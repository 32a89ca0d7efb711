package model

import "time"

// CoinSlotLock represents temporary exclusive custody of one coin-accepting
// hardware unit.  Holding the lock means this client's payment UI is the
// only one "live" on the slot; coins dropped while the lock is held are
// attributed to the holder.  Locks are ephemeral and in-memory only;
// losing them on restart merely forces clients back through reservation.
//
// Fields:
//  SlotID    is "main" for the on-board acceptor, or a sub-controller
//            MAC.
//  LockID    is the opaque token returned to the holder; required for
//            heartbeat and release.
//  OwnerMAC  is the client identity the reservation was granted to.
//  OwnerIP   is the holder's IP at reservation time; carried so pulse
//            credit lands on a fully resolved identity.
//  ExpiresAt is the absolute deadline; the lock is dead once passed
//            regardless of explicit release.
//  CreatedAt is when the lock was granted.
type CoinSlotLock struct {
	SlotID    string
	LockID    string
	OwnerMAC  string
	OwnerIP   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the lock is past its deadline at the given instant.
func (l *CoinSlotLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
