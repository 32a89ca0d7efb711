package pulse

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SimulatedSource generates a test pulse on a fixed interval.  It is the
// fallback when hardware initialization fails, and the default on
// machines with no acceptor wired ("none" board type).
type SimulatedSource struct {
	SlotID       string
	Denomination int
	Interval     time.Duration
	Logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSimulatedSource emits one pulse of the given denomination per
// interval.  A zero interval selects the historical 5 seconds.
func NewSimulatedSource(slotID string, denomination int, interval time.Duration, logger zerolog.Logger) *SimulatedSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if denomination <= 0 {
		denomination = 1
	}
	return &SimulatedSource{
		SlotID:       slotID,
		Denomination: denomination,
		Interval:     interval,
		Logger:       logger,
	}
}

func (s *SimulatedSource) Name() string { return "simulated" }

// Start launches the simulation loop.
func (s *SimulatedSource) Start(ctx context.Context, sink chan<- RawPulse) error {
	if s.ctx != nil {
		return errors.New("simulated source is already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Logger.Debug().Str("slot", s.SlotID).Int("denomination", s.Denomination).Msg("simulated test pulse")
				select {
				case sink <- RawPulse{SlotID: s.SlotID, Denomination: s.Denomination, At: time.Now()}:
				case <-s.ctx.Done():
					return
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()

	s.Logger.Info().Str("slot", s.SlotID).Dur("interval", s.Interval).Msg("simulated pulse source started")
	return nil
}

// Stop halts the simulation loop.
func (s *SimulatedSource) Stop() error {
	if s.ctx == nil {
		return errors.New("simulated source is not running")
	}
	s.cancel()
	s.wg.Wait()
	s.ctx = nil
	s.cancel = nil
	return nil
}
