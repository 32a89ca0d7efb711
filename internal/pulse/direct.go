package pulse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DirectSource reads a coin acceptor wired to a GPIO input through the
// sysfs interface, polling the value file for rising edges.  Pin mapping
// (BCM vs. physical) is the deployer's concern; the source takes the
// system GPIO number directly.
type DirectSource struct {
	Pin          int
	SlotID       string
	Denomination int
	Logger       zerolog.Logger

	gpioRoot string // overridable for tests
	poll     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDirectSource builds a sysfs GPIO source for the main slot.
func NewDirectSource(pin, denomination int, logger zerolog.Logger) *DirectSource {
	if denomination <= 0 {
		denomination = 1
	}
	return &DirectSource{
		Pin:          pin,
		SlotID:       "main",
		Denomination: denomination,
		Logger:       logger,
		gpioRoot:     "/sys/class/gpio",
		poll:         5 * time.Millisecond,
	}
}

func (s *DirectSource) Name() string { return fmt.Sprintf("direct(gpio%d)", s.Pin) }

// export makes the pin visible under sysfs and sets it to input.  A pin
// already exported by a previous run is unexported first, matching the
// historical init sequence.
func (s *DirectSource) export() (string, error) {
	pinDir := filepath.Join(s.gpioRoot, fmt.Sprintf("gpio%d", s.Pin))
	pinStr := fmt.Sprintf("%d", s.Pin)
	if _, err := os.Stat(pinDir); err == nil {
		_ = os.WriteFile(filepath.Join(s.gpioRoot, "unexport"), []byte(pinStr), 0o200)
	}
	if err := os.WriteFile(filepath.Join(s.gpioRoot, "export"), []byte(pinStr), 0o200); err != nil {
		return "", fmt.Errorf("export gpio%d: %w", s.Pin, err)
	}
	if err := os.WriteFile(filepath.Join(pinDir, "direction"), []byte("in"), 0o200); err != nil {
		return "", fmt.Errorf("set gpio%d direction: %w", s.Pin, err)
	}
	return filepath.Join(pinDir, "value"), nil
}

// Start exports the pin and launches the edge-poll loop.  Callers treat
// an error here as "hardware unavailable" and fall back to the
// simulated source.
func (s *DirectSource) Start(ctx context.Context, sink chan<- RawPulse) error {
	if s.ctx != nil {
		return errors.New("direct source is already running")
	}
	valuePath, err := s.export()
	if err != nil {
		return err
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watch(valuePath, sink)
	}()

	s.Logger.Info().Int("pin", s.Pin).Msg("gpio pulse source active")
	return nil
}

// watch polls the value file and reports rising edges.
func (s *DirectSource) watch(valuePath string, sink chan<- RawPulse) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	last := byte('0')
	for {
		select {
		case <-ticker.C:
			raw, err := os.ReadFile(valuePath)
			if err != nil {
				s.Logger.Error().Err(err).Int("pin", s.Pin).Msg("gpio read failed")
				return
			}
			v := byte('0')
			if t := strings.TrimSpace(string(raw)); t != "" {
				v = t[0]
			}
			if last == '0' && v == '1' {
				select {
				case sink <- RawPulse{SlotID: s.SlotID, Denomination: s.Denomination, At: time.Now()}:
				case <-s.ctx.Done():
					return
				}
			}
			last = v
		case <-s.ctx.Done():
			return
		}
	}
}

// Stop halts the poll loop and unexports the pin.
func (s *DirectSource) Stop() error {
	if s.ctx == nil {
		return errors.New("direct source is not running")
	}
	s.cancel()
	s.wg.Wait()
	s.ctx = nil
	s.cancel = nil
	_ = os.WriteFile(filepath.Join(s.gpioRoot, "unexport"), []byte(fmt.Sprintf("%d", s.Pin)), 0o200)
	return nil
}
