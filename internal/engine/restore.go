package engine

import (
	"context"
)

// RestoreStatus is the outcome of one restore attempt.
type RestoreStatus string

const (
	// RestoreSuccess means the token matches a session already bound to
	// the caller's identity; nothing changed.
	RestoreSuccess RestoreStatus = "success"
	// RestoreMigrated means the token matched a session bound to a
	// different prior identity; the session is now rebound to the caller,
	// and the caller should trigger a full data reload (its enforcement
	// point must be repointed by the network layer).
	RestoreMigrated RestoreStatus = "migrated"
	// RestoreNotFound means no live session carries this token; the
	// caller should discard it.
	RestoreNotFound RestoreStatus = "not_found"
)

// Restore reconciles a previously issued session token against the
// caller's current network identity.  Clients hit this after MAC
// randomization or a DHCP lease change made their stored token point at
// a stale identity.  Repeated calls with the same token from the same
// identity are a no-op returning RestoreSuccess, which makes the client
// retry loop (bounded, ~5 attempts with 2s spacing) safe.
//
// Identity resolution failures are the caller's concern: handlers map
// them to ErrTransient before the registry is ever consulted, and the
// client keeps its token on transient failures.
func (r *Registry) Restore(ctx context.Context, token string, id Identity) (RestoreStatus, error) {
	r.mu.Lock()
	mac, ok := r.tokens[token]
	if !ok {
		r.mu.Unlock()
		return RestoreNotFound, ErrNotFound
	}
	e := r.sessions[mac]
	if e == nil {
		// Token index pointing at a missing session means the two maps
		// disagree; fail closed instead of inventing a session.
		delete(r.tokens, token)
		r.mu.Unlock()
		r.log.Error().Str("mac", mac).Msg("token index referenced missing session")
		return RestoreNotFound, ErrInvariant
	}

	if mac == id.MAC {
		r.mu.Unlock()
		e.mu.Lock()
		defer e.mu.Unlock()
		if id.IP != "" && id.IP != e.s.IP {
			e.s.IP = id.IP
			if err := r.store.Upsert(ctx, &e.s); err != nil {
				return RestoreSuccess, err
			}
		}
		return RestoreSuccess, nil
	}

	// Rebind to the caller's identity.  If the caller already had a
	// session of its own, its paid time is folded into the restored one
	// so no credited minutes are lost.
	displaced := r.sessions[id.MAC]
	delete(r.sessions, mac)
	r.sessions[id.MAC] = e
	r.tokens[token] = id.MAC
	if displaced != nil && displaced != e {
		delete(r.tokens, displaced.s.Token)
	}
	r.mu.Unlock()

	var extraSeconds, extraPaid int
	var displacedMAC string
	if displaced != nil && displaced != e {
		displaced.mu.Lock()
		extraSeconds = displaced.s.RemainingSeconds
		extraPaid = displaced.s.TotalPaid
		displacedMAC = displaced.s.MAC
		displaced.mu.Unlock()
	}

	e.mu.Lock()
	oldMAC := e.s.MAC
	e.s.MAC = id.MAC
	if id.IP != "" {
		e.s.IP = id.IP
	}
	e.s.RemainingSeconds += extraSeconds
	e.s.TotalPaid += extraPaid
	err := r.store.Delete(ctx, oldMAC)
	if err == nil && displacedMAC != "" && displacedMAC != oldMAC {
		err = r.store.Delete(ctx, displacedMAC)
	}
	if err == nil {
		err = r.store.Upsert(ctx, &e.s)
	}
	e.mu.Unlock()
	if err != nil {
		return RestoreMigrated, err
	}

	r.log.Info().Str("from", oldMAC).Str("to", id.MAC).Msg("session migrated to new identity")
	return RestoreMigrated, nil
}
