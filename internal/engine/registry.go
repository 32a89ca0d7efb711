package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/utils"
)

// Store is the durable backing for session records.  The registry is the
// single writer; the store only mirrors registry state so sessions
// survive a restart.  Implementations must tolerate Upsert/Delete being
// called for the same key in arrival order.
type Store interface {
	Load(ctx context.Context) ([]model.Session, error)
	Upsert(ctx context.Context, s *model.Session) error
	Delete(ctx context.Context, mac string) error
}

// RateSource resolves a coin denomination to a minutes credit.  A false
// return means the denomination has no configured rate and the linear
// fallback applies.
type RateSource interface {
	MinutesFor(ctx context.Context, pesos int) (int, bool, error)
}

// SlotWindow restarts a slot's payment-UI exposure timer.  Implemented
// by the slot lock manager; split out so the registry can be tested
// without one.
type SlotWindow interface {
	ResetWindow(slotID string)
}

// Identity is a client's resolved network identity.
type Identity struct {
	MAC string
	IP  string
}

// DefaultFallbackMinutesPerPeso is the linear rate used for coins with
// no configured rate row.  Kept configurable; the historical portal
// behavior is 10 minutes per peso.
const DefaultFallbackMinutesPerPeso = 10

// zeroCreditGrace is how long a never-credited session survives before
// the countdown reclaims it.  Portal connect creates sessions with zero
// time so the client holds a restore token before the first coin drops;
// evicting those on the next tick would kill the token the client just
// stored.
const zeroCreditGrace = 10 * time.Minute

// sessionEntry wraps one session with its own mutex so mutations and
// persistence for one client never block another.
type sessionEntry struct {
	mu          sync.Mutex
	s           model.Session
	justCreated bool
}

// Registry owns the authoritative set of active and paused sessions and
// runs the credit and countdown state machine.  All other components
// read through its API and never mutate session state directly.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry // keyed by MAC
	tokens   map[string]string        // token -> MAC

	store    Store
	rates    RateSource
	window   SlotWindow
	fallback int

	tickMu   sync.Mutex
	lastTick time.Time

	now func() time.Time
	log zerolog.Logger
}

// NewRegistry builds a registry.  window may be nil when no slot manager
// is wired (tests, tooling).  fallbackMinutesPerPeso <= 0 selects the
// default linear rate.
func NewRegistry(store Store, rates RateSource, window SlotWindow, fallbackMinutesPerPeso int, logger zerolog.Logger) *Registry {
	if fallbackMinutesPerPeso <= 0 {
		fallbackMinutesPerPeso = DefaultFallbackMinutesPerPeso
	}
	return &Registry{
		sessions: make(map[string]*sessionEntry),
		tokens:   make(map[string]string),
		store:    store,
		rates:    rates,
		window:   window,
		fallback: fallbackMinutesPerPeso,
		now:      time.Now,
		log:      logger,
	}
}

// Warm loads persisted sessions into memory.  Rows with no time left are
// dropped rather than resurrected.
func (r *Registry) Warm(ctx context.Context) error {
	persisted, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range persisted {
		if s.RemainingSeconds <= 0 {
			continue
		}
		e := &sessionEntry{s: s}
		r.sessions[s.MAC] = e
		if s.Token != "" {
			r.tokens[s.Token] = s.MAC
		}
	}
	r.log.Info().Int("sessions", len(r.sessions)).Msg("session registry warmed from store")
	return nil
}

// entry returns the session entry for mac, creating one (with a fresh
// token) when absent.  The bool reports whether it was created.
func (r *Registry) entry(id Identity) (*sessionEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id.MAC]; ok {
		return e, false, nil
	}
	token, err := utils.NewSessionToken()
	if err != nil {
		return nil, false, err
	}
	e := &sessionEntry{
		s: model.Session{
			MAC:         id.MAC,
			IP:          id.IP,
			Token:       token,
			ConnectedAt: r.now(),
		},
		justCreated: true,
	}
	r.sessions[id.MAC] = e
	r.tokens[token] = id.MAC
	return e, true, nil
}

// Ensure returns the identity's session, creating a zero-credit one
// with a fresh token when absent.  The bool reports creation.  Portal
// connect calls this so the client holds a restore token before the
// first coin drops.
func (r *Registry) Ensure(ctx context.Context, id Identity) (model.Session, bool, error) {
	e, created, err := r.entry(id)
	if err != nil {
		return model.Session{}, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if id.IP != "" && e.s.IP != id.IP {
		e.s.IP = id.IP
	}
	if created {
		if err := r.store.Upsert(ctx, &e.s); err != nil {
			return model.Session{}, true, err
		}
	}
	return e.s, created, nil
}

// ApplyCredit adds minutes and pesos to the identity's session, creating
// it on first credit.  Credits are additive and commutative, so arrival
// order only matters for the audit trail.  The slot's exposure window is
// restarted, not the session's.
func (r *Registry) ApplyCredit(ctx context.Context, id Identity, minutes, pesos int, slotID string) (model.Session, bool, error) {
	e, created, err := r.entry(id)
	if err != nil {
		return model.Session{}, false, err
	}

	e.mu.Lock()
	e.s.RemainingSeconds += minutes * 60
	e.s.TotalPaid += pesos
	if id.IP != "" {
		e.s.IP = id.IP
	}
	snapshot := e.s
	err = r.store.Upsert(ctx, &e.s)
	e.mu.Unlock()
	if err != nil {
		return model.Session{}, created, err
	}

	if r.window != nil && slotID != "" {
		r.window.ResetWindow(slotID)
	}
	r.log.Info().Str("mac", id.MAC).Int("minutes", minutes).Int("pesos", pesos).Str("slot", slotID).Bool("created", created).Msg("credit applied")
	return snapshot, created, nil
}

// MinutesForPesos resolves the rate table for one coin, falling back to
// the linear rate when the denomination has no row.
func (r *Registry) MinutesForPesos(ctx context.Context, pesos int) (int, error) {
	if r.rates != nil {
		minutes, ok, err := r.rates.MinutesFor(ctx, pesos)
		if err != nil {
			return 0, err
		}
		if ok {
			return minutes, nil
		}
	}
	return pesos * r.fallback, nil
}

// CreditResult summarizes one applied pulse credit.
type CreditResult struct {
	Session        model.Session
	MinutesGranted int
	SessionCreated bool
}

// CreditPulse converts an accepted pulse event into session credit for
// whichever identity holds the slot's reservation.  A pulse on a slot
// with no live reservation has no one to credit and is dropped with a
// log line; the event was still broadcast to observers by the adapter.
func (r *Registry) CreditPulse(ctx context.Context, holder Identity, ev model.PulseEvent) (CreditResult, error) {
	perCoin, err := r.MinutesForPesos(ctx, ev.Denomination)
	if err != nil {
		return CreditResult{}, err
	}
	count := ev.Count
	if count <= 0 {
		count = 1
	}
	minutes := perCoin * count
	s, created, err := r.ApplyCredit(ctx, holder, minutes, ev.Denomination*count, ev.SlotID)
	if err != nil {
		return CreditResult{}, err
	}
	return CreditResult{Session: s, MinutesGranted: minutes, SessionCreated: created}, nil
}

// findByToken maps a session token to its entry.
func (r *Registry) findByToken(token string) (*sessionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mac, ok := r.tokens[token]
	if !ok {
		return nil, false
	}
	e, ok := r.sessions[mac]
	return e, ok
}

// Pause freezes the countdown.  The session token is the only accepted
// credential; identity alone is not enough for mutation.
func (r *Registry) Pause(ctx context.Context, token string) error {
	return r.setPaused(ctx, token, true)
}

// Resume continues the countdown from the frozen value and clears the
// first-connect marker used for portal UX cues.
func (r *Registry) Resume(ctx context.Context, token string) error {
	return r.setPaused(ctx, token, false)
}

func (r *Registry) setPaused(ctx context.Context, token string, paused bool) error {
	e, ok := r.findByToken(token)
	if !ok {
		return ErrForbidden
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.s.IsPaused = paused
	if !paused {
		e.justCreated = false
	}
	return r.store.Upsert(ctx, &e.s)
}

// Get returns the session for an identity.  Read path for dashboards;
// no token required.
func (r *Registry) Get(mac string) (model.Session, bool) {
	r.mu.RLock()
	e, ok := r.sessions[mac]
	r.mu.RUnlock()
	if !ok {
		return model.Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, true
}

// List returns a snapshot of all live sessions ordered by MAC.
func (r *Registry) List() []model.Session {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]model.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.s)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// Remove drops a session by identity regardless of remaining time.
// Administrative path; portal clients go through tokens.
func (r *Registry) Remove(ctx context.Context, mac string) error {
	r.mu.Lock()
	e, ok := r.sessions[mac]
	if ok {
		delete(r.sessions, mac)
		delete(r.tokens, e.s.Token)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return r.store.Delete(ctx, mac)
}

// Tick advances the countdown by the wall-clock seconds elapsed since
// the previous tick, so delayed scheduling (process suspension, missed
// ticks) neither loses nor double-counts time.  Credited sessions that
// drain to zero are evicted and become unretrievable by identity or
// token; never-credited placeholders get zeroCreditGrace first.
func (r *Registry) Tick(ctx context.Context) {
	now := r.now()
	r.tickMu.Lock()
	if r.lastTick.IsZero() {
		r.lastTick = now
		r.tickMu.Unlock()
		return
	}
	elapsed := int(now.Sub(r.lastTick) / time.Second)
	if elapsed <= 0 {
		r.tickMu.Unlock()
		return
	}
	r.lastTick = r.lastTick.Add(time.Duration(elapsed) * time.Second)
	r.tickMu.Unlock()

	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var expired []string
	for _, e := range entries {
		e.mu.Lock()
		if e.s.IsPaused {
			e.mu.Unlock()
			continue
		}
		if e.s.TotalPaid == 0 && e.s.RemainingSeconds <= 0 {
			// Never-credited placeholder: there is nothing to count down
			// yet, and its token must survive until the first coin.
			if now.Sub(e.s.ConnectedAt) > zeroCreditGrace {
				expired = append(expired, e.s.MAC)
			}
			e.mu.Unlock()
			continue
		}
		e.s.RemainingSeconds -= elapsed
		if e.s.RemainingSeconds <= 0 {
			e.s.RemainingSeconds = 0
			expired = append(expired, e.s.MAC)
			e.mu.Unlock()
			continue
		}
		if err := r.store.Upsert(ctx, &e.s); err != nil {
			r.log.Error().Err(err).Str("mac", e.s.MAC).Msg("failed to persist countdown")
		}
		e.mu.Unlock()
	}

	for _, mac := range expired {
		if err := r.Remove(ctx, mac); err != nil && err != ErrNotFound {
			r.log.Error().Err(err).Str("mac", mac).Msg("failed to evict expired session")
		} else {
			r.log.Info().Str("mac", mac).Msg("session expired")
		}
	}
}

// Run drives Tick at a 1 Hz cadence until ctx is cancelled.  The
// decrement itself is wall-clock based, so the cadence only bounds
// eviction latency.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}
