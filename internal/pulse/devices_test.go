package pulse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

func seedDevices() *DeviceRegistry {
	return NewDeviceRegistry([]model.NodeMCUDevice{
		{MACAddress: "d8:f1:5b", Status: "accepted", AuthKey: "secret-key"},
		{MACAddress: "aa:aa:aa", Status: "pending", AuthKey: "other-key"},
	})
}

func TestAuthorize(t *testing.T) {
	r := seedDevices()

	d, err := r.Authorize("d8:f1:5b", "secret-key")
	require.NoError(t, err)
	assert.Equal(t, "d8:f1:5b", d.MACAddress)

	// HTTP path presents no key; transport auth already happened.
	_, err = r.Authorize("d8:f1:5b", "")
	assert.NoError(t, err)

	_, err = r.Authorize("d8:f1:5b", "wrong-key")
	assert.ErrorIs(t, err, ErrDeviceNotAuthorized)

	_, err = r.Authorize("aa:aa:aa", "other-key")
	assert.ErrorIs(t, err, ErrDeviceNotAuthorized, "pending device cannot report")

	_, err = r.Authorize("no:such:dev", "")
	assert.ErrorIs(t, err, ErrDeviceNotAuthorized)
}

func TestRecordPulseUpdatesCounters(t *testing.T) {
	r := seedDevices()

	r.RecordPulse("d8:f1:5b", 5)
	r.RecordPulse("d8:f1:5b", 1)
	r.RecordPulse("no:such:dev", 1) // silently ignored

	var dev model.NodeMCUDevice
	for _, d := range r.List() {
		if d.MACAddress == "d8:f1:5b" {
			dev = d
		}
	}
	assert.Equal(t, 2, dev.TotalPulses)
	assert.Equal(t, 6, dev.TotalPesos)
	assert.False(t, dev.LastSeen.IsZero())
}
