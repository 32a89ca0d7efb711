package model

import "time"

// Session represents one client's paid internet-access grant.  A session
// is created on portal connect or on the first coin credit for a
// previously unknown client.  Once credited, it is removed the moment
// its remaining time drains to zero; a never-credited session lives just
// long enough for its token to survive until the first coin.
//
// Fields:
//  MAC              is the client hardware address, or a generated
//                   fallback id when the MAC could not be resolved.
//                   Primary key.
//  IP               is the last known client IP; refreshed on restore.
//  RemainingSeconds counts access left; decremented while not paused.
//  TotalPaid        is cumulative pesos ever credited (audit field,
//                   monotonic).
//  Token            is the opaque credential issued at creation; sole
//                   proof of ownership for pause/resume/restore.
//  IsPaused         halts the countdown while true.
//  ConnectedAt      is the creation timestamp, distinguishing "just
//                   created" from "resumed" in the portal UX.
type Session struct {
	MAC              string    // sessions.mac
	IP               string    // sessions.ip
	RemainingSeconds int       // sessions.remaining_seconds
	TotalPaid        int       // sessions.total_paid
	Token            string    // sessions.token
	IsPaused         bool      // sessions.is_paused
	ConnectedAt      time.Time // sessions.connected_at
}
