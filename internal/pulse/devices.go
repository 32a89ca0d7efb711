package pulse

import (
	"errors"
	"sync"
	"time"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

// ErrDeviceNotAuthorized is returned for pulses from unknown, rejected
// or wrongly-keyed sub-controllers.  Such pulses are acknowledged at the
// transport level but never reach the credit path.
var ErrDeviceNotAuthorized = errors.New("device not found or not authorized")

// DeviceRegistry tracks the networked coin sub-controllers that may
// report pulses, plus their revenue counters.  Device provisioning is an
// admin concern; the registry only enforces the accepted/authenticated
// gate and keeps stats.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*model.NodeMCUDevice // keyed by MAC
	now     func() time.Time
}

// NewDeviceRegistry seeds the registry with the provisioned devices.
func NewDeviceRegistry(devices []model.NodeMCUDevice) *DeviceRegistry {
	r := &DeviceRegistry{
		devices: make(map[string]*model.NodeMCUDevice, len(devices)),
		now:     time.Now,
	}
	for i := range devices {
		d := devices[i]
		r.devices[d.MACAddress] = &d
	}
	return r
}

// Authorize checks that the device exists, is accepted, and presented
// the right authentication key.  An empty key skips the key comparison
// (HTTP ingestion, where transport auth happened upstream).
func (r *DeviceRegistry) Authorize(mac, authKey string) (*model.NodeMCUDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[mac]
	if !ok || !d.Accepted() {
		return nil, ErrDeviceNotAuthorized
	}
	if authKey != "" && d.AuthKey != authKey {
		return nil, ErrDeviceNotAuthorized
	}
	snapshot := *d
	return &snapshot, nil
}

// RecordPulse bumps the device's revenue counters and last-seen stamp.
func (r *DeviceRegistry) RecordPulse(mac string, pesos int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[mac]
	if !ok {
		return
	}
	d.TotalPulses++
	d.TotalPesos += pesos
	d.LastSeen = r.now()
}

// List returns a snapshot of all provisioned devices for the admin API.
func (r *DeviceRegistry) List() []model.NodeMCUDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.NodeMCUDevice, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	return out
}
