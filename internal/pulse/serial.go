package pulse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

// SerialSource reads an acceptor attached through a USB serial bridge
// (x64 boxes with no GPIO header).  The bridge firmware prints one line
// per detected coin:
//
//	PULSE:<denomination>
//
// Anything else on the wire is ignored.
type SerialSource struct {
	Device string
	Baud   int
	SlotID string
	Logger zerolog.Logger

	port   *serial.Port
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSerialSource builds a source for the given device, e.g.
// /dev/ttyUSB0 at 9600 baud.
func NewSerialSource(device string, baud int, logger zerolog.Logger) *SerialSource {
	if baud <= 0 {
		baud = 9600
	}
	return &SerialSource{
		Device: device,
		Baud:   baud,
		SlotID: "main",
		Logger: logger,
	}
}

func (s *SerialSource) Name() string { return fmt.Sprintf("serial(%s)", s.Device) }

// Start opens the port and launches the line-reader loop.  An open
// failure means the bridge is absent; callers fall back to simulation.
func (s *SerialSource) Start(ctx context.Context, sink chan<- RawPulse) error {
	if s.ctx != nil {
		return errors.New("serial source is already running")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        s.Device,
		Baud:        s.Baud,
		ReadTimeout: time.Second,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Device, err)
	}
	s.port = port
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(sink)
	}()

	s.Logger.Info().Str("device", s.Device).Int("baud", s.Baud).Msg("serial pulse source active")
	return nil
}

func (s *SerialSource) readLoop(sink chan<- RawPulse) {
	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		denom, ok := parsePulseLine(line)
		if !ok {
			continue
		}
		select {
		case sink <- RawPulse{SlotID: s.SlotID, Denomination: denom, At: time.Now()}:
		case <-s.ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		s.Logger.Error().Err(err).Str("device", s.Device).Msg("serial read loop ended")
	}
}

// parsePulseLine extracts the denomination from a PULSE line.
func parsePulseLine(line string) (int, bool) {
	if !strings.HasPrefix(line, "PULSE:") {
		return 0, false
	}
	denom, err := strconv.Atoi(strings.TrimPrefix(line, "PULSE:"))
	if err != nil || denom <= 0 {
		return 0, false
	}
	return denom, true
}

// Stop halts the reader and closes the port.
func (s *SerialSource) Stop() error {
	if s.ctx == nil {
		return errors.New("serial source is not running")
	}
	s.cancel()
	_ = s.port.Close()
	s.wg.Wait()
	s.ctx = nil
	s.cancel = nil
	s.port = nil
	return nil
}
