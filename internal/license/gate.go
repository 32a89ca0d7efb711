// Package license answers whether a coin slot is currently entitled to
// accept payment.  The actual license storage and activation flow live
// outside the engine; the gate only consumes a validity predicate and
// bounds its cost with a short-TTL cache.
package license

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// State is the tri-state outcome of a license check.
type State string

const (
	StateValid   State = "valid"
	StateTrial   State = "trial"
	StateInvalid State = "invalid"
)

// Verdict is the result of one license check.  TrialDaysLeft is only
// meaningful for StateTrial.
type Verdict struct {
	State         State `json:"state"`
	TrialDaysLeft int   `json:"trialDaysLeft,omitempty"`
}

// Usable reports whether the slot may accept payment.
func (v Verdict) Usable() bool { return v.State != StateInvalid }

// Checker is the external validity predicate, keyed by slot.  It may hit
// the network; callers bound it with a context deadline.
type Checker func(ctx context.Context, slotID string) (Verdict, error)

// DefaultCacheTTL bounds how long a positive verdict may be served from
// cache before the source is consulted again.
const DefaultCacheTTL = 30 * time.Second

// Gate caches positive verdicts for a short TTL.  Invalid verdicts are
// never cached: a revoked slot must be seen as revoked on the very next
// check, so revocation always reaches the source.  An optional Redis
// client shares the positive cache between processes; a nil client
// degrades to the in-process cache alone.
type Gate struct {
	check Checker
	cache *expirable.LRU[string, Verdict]
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewGate builds a gate over the given checker.  A zero ttl selects
// DefaultCacheTTL.
func NewGate(check Checker, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Gate{
		check: check,
		cache: expirable.NewLRU[string, Verdict](128, nil, ttl),
		rdb:   rdb,
		ttl:   ttl,
		log:   logger,
	}
}

// Verify returns the slot's current verdict.  Cheap enough to call on
// every pulse and every reservation attempt.
func (g *Gate) Verify(ctx context.Context, slotID string) (Verdict, error) {
	if v, ok := g.cache.Get(slotID); ok {
		return v, nil
	}
	if v, ok := g.redisGet(ctx, slotID); ok {
		g.cache.Add(slotID, v)
		return v, nil
	}

	v, err := g.check(ctx, slotID)
	if err != nil {
		return Verdict{State: StateInvalid}, err
	}
	if v.Usable() {
		g.cache.Add(slotID, v)
		g.redisSet(ctx, slotID, v)
	} else {
		// Make sure no stale positive verdict outlives the revocation.
		g.cache.Remove(slotID)
		g.redisDel(ctx, slotID)
		g.log.Warn().Str("slot", slotID).Msg("license check returned invalid")
	}
	return v, nil
}

func cacheKey(slotID string) string { return "license:" + slotID }

func (g *Gate) redisGet(ctx context.Context, slotID string) (Verdict, bool) {
	if g.rdb == nil {
		return Verdict{}, false
	}
	raw, err := g.rdb.Get(ctx, cacheKey(slotID)).Bytes()
	if err != nil {
		return Verdict{}, false
	}
	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return Verdict{}, false
	}
	if !v.Usable() {
		// Invalid must never be served from cache.
		return Verdict{}, false
	}
	return v, true
}

func (g *Gate) redisSet(ctx context.Context, slotID string, v Verdict) {
	if g.rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = g.rdb.Set(ctx, cacheKey(slotID), raw, g.ttl).Err()
}

func (g *Gate) redisDel(ctx context.Context, slotID string) {
	if g.rdb == nil {
		return
	}
	_ = g.rdb.Del(ctx, cacheKey(slotID)).Err()
}

// StaticChecker returns a Checker that always reports the given state;
// the deployment wires the real activation backend in its place.  Useful
// for unlicensed trial installs and tests.
func StaticChecker(state State, trialDaysLeft int) Checker {
	return func(context.Context, string) (Verdict, error) {
		return Verdict{State: state, TrialDaysLeft: trialDaysLeft}, nil
	}
}
