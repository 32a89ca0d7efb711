package license

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// switchableChecker counts calls and serves whatever verdict is set.
type switchableChecker struct {
	calls   atomic.Int64
	verdict atomic.Value // Verdict
}

func newSwitchableChecker(v Verdict) *switchableChecker {
	c := &switchableChecker{}
	c.verdict.Store(v)
	return c
}

func (c *switchableChecker) check(context.Context, string) (Verdict, error) {
	c.calls.Add(1)
	return c.verdict.Load().(Verdict), nil
}

func TestPositiveVerdictIsCached(t *testing.T) {
	checker := newSwitchableChecker(Verdict{State: StateValid})
	g := NewGate(checker.check, nil, time.Minute, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		v, err := g.Verify(ctx, "main")
		require.NoError(t, err)
		assert.True(t, v.Usable())
	}
	assert.Equal(t, int64(1), checker.calls.Load(), "positive verdicts come from cache")
}

func TestInvalidIsNeverCached(t *testing.T) {
	checker := newSwitchableChecker(Verdict{State: StateInvalid})
	g := NewGate(checker.check, nil, time.Minute, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := g.Verify(ctx, "main")
		require.NoError(t, err)
		assert.False(t, v.Usable())
	}
	assert.Equal(t, int64(3), checker.calls.Load(), "every check on an invalid slot must hit the source")
}

func TestRevocationSurfacesAfterTTL(t *testing.T) {
	checker := newSwitchableChecker(Verdict{State: StateValid})
	g := NewGate(checker.check, nil, 20*time.Millisecond, zerolog.Nop())
	ctx := context.Background()

	v, err := g.Verify(ctx, "main")
	require.NoError(t, err)
	assert.True(t, v.Usable())

	checker.verdict.Store(Verdict{State: StateInvalid})
	time.Sleep(40 * time.Millisecond)

	v, err = g.Verify(ctx, "main")
	require.NoError(t, err)
	assert.False(t, v.Usable(), "revocation must be visible once the positive TTL lapses")

	// Once seen as invalid, the very next check reaches the source again.
	checker.verdict.Store(Verdict{State: StateValid})
	v, err = g.Verify(ctx, "main")
	require.NoError(t, err)
	assert.True(t, v.Usable())
}

func TestTrialIsUsable(t *testing.T) {
	g := NewGate(StaticChecker(StateTrial, 7), nil, time.Minute, zerolog.Nop())

	v, err := g.Verify(context.Background(), "main")
	require.NoError(t, err)
	assert.True(t, v.Usable())
	assert.Equal(t, 7, v.TrialDaysLeft)
}
