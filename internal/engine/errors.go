// Package engine implements the session and coin-slot concurrency core:
// mutually-exclusive slot reservation, the session registry with its
// countdown state machine, and the token-based restore protocol.  This
// file defines the sentinel errors shared by those components.  Handlers
// translate them to HTTP status codes; the engine itself never retries.
package engine

import "errors"

// ErrConflict is returned when a slot already has a live reservation.
// Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrNotFound is returned when a lock, token or session does not exist
// (or has expired).  Handlers should translate this into HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the resource exists but the presented
// credential (lock id or session token) does not match.  HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrLicenseInvalid is returned when the coin slot's license check fails.
// The caller-facing message must stay distinct from generic failures
// because it drives different portal messaging.  HTTP 403.
var ErrLicenseInvalid = errors.New("YOUR COINSLOT MACHINE IS DISABLED")

// ErrTransient is returned when a dependent lookup (identity resolution,
// license backend) timed out.  Safe for the caller to retry with
// backoff; the engine never retries internally.  HTTP 400.
var ErrTransient = errors.New("transient failure")

// ErrInvariant guards internal invariants that must never break, such as
// two live locks observed for one slot.  When it surfaces the engine has
// failed closed instead of silently picking a winner.
var ErrInvariant = errors.New("invariant violation")
