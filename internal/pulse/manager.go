package pulse

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/engine"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/license"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/queue"
)

// sinkBuffer absorbs pulse bursts between the source read loop and the
// debouncer without blocking hardware callbacks.
const sinkBuffer = 64

// Crediter converts an accepted pulse into session credit.  Implemented
// by the session registry.
type Crediter interface {
	CreditPulse(ctx context.Context, holder engine.Identity, ev model.PulseEvent) (engine.CreditResult, error)
}

// HolderResolver answers who currently holds a slot's reservation.
// Implemented by the slot lock manager.
type HolderResolver interface {
	Holder(slotID string) (engine.Identity, bool)
}

// Verifier answers whether a slot is licensed to accept payment.
type Verifier interface {
	Verify(ctx context.Context, slotID string) (license.Verdict, error)
}

// Notifier fans accepted pulses out to portal observers.
type Notifier interface {
	BroadcastPulse(ev model.PulseEvent)
}

// SalesPublisher emits one event per applied credit for downstream
// consumers.  Failures are best-effort: a lost sales event never refuses
// a coin.
type SalesPublisher interface {
	PublishCoinCredited(ctx context.Context, event queue.CoinCreditedEvent) error
}

// Manager runs the pulse pipeline: one active hardware source feeds raw
// pulses through the debouncer, and every settled event is licensed,
// attributed to the slot's reservation holder and credited.  Sources are
// swappable at runtime; swapping loses at most the in-flight debounce
// window.
type Manager struct {
	credits Crediter
	holders HolderResolver
	gate    Verifier
	notify  Notifier
	sales   SalesPublisher
	devices *DeviceRegistry
	log     zerolog.Logger

	debouncer *Debouncer
	sink      chan RawPulse
	events    chan model.PulseEvent

	mu      sync.Mutex
	source  Source
	aux     []Source
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// ManagerConfig carries the manager's collaborators.  Gate, Notify,
// Sales and Devices may be nil; the corresponding step is skipped.
type ManagerConfig struct {
	Credits     Crediter
	Holders     HolderResolver
	Gate        Verifier
	Notify      Notifier
	Sales       SalesPublisher
	Devices     *DeviceRegistry
	Window      time.Duration
	MinInterval time.Duration
	Logger      zerolog.Logger
}

// NewManager builds a manager around the given collaborators.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		credits: cfg.Credits,
		holders: cfg.Holders,
		gate:    cfg.Gate,
		notify:  cfg.Notify,
		sales:   cfg.Sales,
		devices: cfg.Devices,
		log:     cfg.Logger,
		sink:    make(chan RawPulse, sinkBuffer),
		events:  make(chan model.PulseEvent, sinkBuffer),
	}
	m.debouncer = NewDebouncer(cfg.Window, cfg.MinInterval, func(ev model.PulseEvent) {
		select {
		case m.events <- ev:
		default:
			m.log.Warn().Str("slot", ev.SlotID).Msg("pulse event dropped: pipeline full")
		}
	})
	return m
}

// Start launches the pipeline with the given source.  When the source
// fails to start (missing GPIO tree, unplugged serial adapter, broker
// down) the manager falls back to a simulated source rather than leaving
// the machine unable to accept anything, mirroring the behaviour
// operators expect from an unprovisioned board.
func (m *Manager) Start(ctx context.Context, src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("pulse manager is already running")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := src.Start(m.ctx, m.sink); err != nil {
		m.log.Error().Err(err).Str("source", src.Name()).Msg("pulse source failed to start, falling back to simulated")
		fallback := NewSimulatedSource("main", 1, 0, m.log)
		if ferr := fallback.Start(m.ctx, m.sink); ferr != nil {
			m.cancel()
			m.ctx = nil
			m.cancel = nil
			return ferr
		}
		src = fallback
	}
	m.source = src
	m.started = true

	m.wg.Add(2)
	go m.debounceLoop()
	go m.creditLoop()

	m.log.Info().Str("source", m.source.Name()).Msg("pulse pipeline started")
	return nil
}

// Attach starts an additional source feeding the same pipeline.  Used
// for the NodeMCU MQTT listener, which runs beside the board source
// rather than instead of it.  Attached sources live until Stop.
func (m *Manager) Attach(src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return errors.New("pulse manager is not running")
	}
	if err := src.Start(m.ctx, m.sink); err != nil {
		return err
	}
	m.aux = append(m.aux, src)
	m.log.Info().Str("source", src.Name()).Msg("auxiliary pulse source attached")
	return nil
}

// Reconfigure swaps the active source.  The in-flight debounce window is
// flushed so pulses from the old hardware never smear into the new.
func (m *Manager) Reconfigure(src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return errors.New("pulse manager is not running")
	}
	if err := m.source.Stop(); err != nil {
		m.log.Warn().Err(err).Str("source", m.source.Name()).Msg("stopping pulse source")
	}
	m.debouncer.Flush()
	if err := src.Start(m.ctx, m.sink); err != nil {
		return err
	}
	m.source = src
	m.log.Info().Str("source", src.Name()).Msg("pulse source reconfigured")
	return nil
}

// Stop tears the pipeline down.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return errors.New("pulse manager is not running")
	}
	err := m.source.Stop()
	for _, src := range m.aux {
		if serr := src.Stop(); serr != nil && err == nil {
			err = serr
		}
	}
	m.debouncer.Flush()
	m.cancel()
	m.wg.Wait()
	m.started = false
	m.ctx = nil
	m.cancel = nil
	m.source = nil
	m.aux = nil
	return err
}

// SourceName reports the active source for the admin status API.
func (m *Manager) SourceName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source == nil {
		return ""
	}
	return m.source.Name()
}

// Ingest feeds one externally delivered pulse (the HTTP ingestion path)
// into the same debounce pipeline hardware pulses use.  It returns false
// when the acceptance floor dropped the pulse.
func (m *Manager) Ingest(p RawPulse) bool {
	if p.At.IsZero() {
		p.At = time.Now()
	}
	return m.debouncer.Offer(p)
}

// IngestBurst accepts a pulse burst the reporter already debounced
// locally (networked sub-controllers aggregate on-device).  The event
// skips the debouncer and enters the pipeline as-is.
func (m *Manager) IngestBurst(slotID string, denomination, count int) bool {
	if count <= 0 {
		count = 1
	}
	ev := model.PulseEvent{SlotID: slotID, Denomination: denomination, Count: count, Timestamp: time.Now()}
	select {
	case m.events <- ev:
		return true
	default:
		m.log.Warn().Str("slot", slotID).Msg("pulse burst dropped: pipeline full")
		return false
	}
}

func (m *Manager) debounceLoop() {
	defer m.wg.Done()
	for {
		select {
		case p := <-m.sink:
			if !m.debouncer.Offer(p) {
				m.log.Debug().Str("slot", p.SlotID).Msg("pulse dropped by acceptance floor")
			}
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) creditLoop() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.events:
			m.handleEvent(ev)
		case <-m.ctx.Done():
			return
		}
	}
}

// handleEvent runs one settled pulse event through license, attribution
// and credit.
func (m *Manager) handleEvent(ev model.PulseEvent) {
	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()

	if m.gate != nil {
		v, err := m.gate.Verify(ctx, ev.SlotID)
		if err != nil {
			m.log.Error().Err(err).Str("slot", ev.SlotID).Msg("license check failed, pulse refused")
			return
		}
		if !v.Usable() {
			m.log.Warn().Str("slot", ev.SlotID).Msg("pulse refused: machine disabled")
			return
		}
	}

	if m.notify != nil {
		m.notify.BroadcastPulse(ev)
	}
	if m.devices != nil && ev.SlotID != "main" {
		m.devices.RecordPulse(ev.SlotID, ev.Pesos())
	}

	holder, ok := m.holders.Holder(ev.SlotID)
	if !ok {
		// No live reservation means no one to credit.  Observers already
		// saw the pulse; the money is in the hopper either way.
		m.log.Warn().Str("slot", ev.SlotID).Int("pesos", ev.Pesos()).Msg("pulse with no live reservation, credit dropped")
		return
	}

	res, err := m.credits.CreditPulse(ctx, holder, ev)
	if err != nil {
		m.log.Error().Err(err).Str("slot", ev.SlotID).Str("mac", holder.MAC).Msg("credit failed")
		return
	}

	if m.sales != nil {
		event := queue.CoinCreditedEvent{
			SlotID:         ev.SlotID,
			ClientMAC:      holder.MAC,
			Pesos:          ev.Pesos(),
			MinutesGranted: res.MinutesGranted,
			SessionCreated: res.SessionCreated,
			CreditedAt:     time.Now().UTC().Format(time.RFC3339),
		}
		go func() {
			pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer pcancel()
			_ = m.sales.PublishCoinCredited(pctx, event)
		}()
	}
}
