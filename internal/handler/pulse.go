package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/engine"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/license"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/pulse"
)

// PulseHandler ingests coin pulses delivered over HTTP: NodeMCU
// sub-controllers without MQTT, and the admin test-coin button.  Pulses
// enter the same debounce pipeline as hardware pulses.
type PulseHandler struct {
	Manager *pulse.Manager
	Devices *pulse.DeviceRegistry
	Gate    *license.Gate
}

func NewPulseHandler(m *pulse.Manager, devices *pulse.DeviceRegistry, gate *license.Gate) *PulseHandler {
	return &PulseHandler{Manager: m, Devices: devices, Gate: gate}
}

type pulseReq struct {
	SlotID       string `json:"slotId"`
	MACAddress   string `json:"macAddress"`
	AuthKey      string `json:"authenticationKey"`
	Denomination int    `json:"denomination"`
	Count        int    `json:"count"`
}

// Submit accepts one reported pulse.  Returns 202 because acceptance
// only means "entered the pipeline": debouncing may still coalesce or
// drop it, and crediting depends on a live reservation.
func (h *PulseHandler) Submit(c echo.Context) error {
	var req pulseReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Denomination <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "denomination must be positive"})
	}

	slotID := slotOrMain(req.SlotID)
	if req.MACAddress != "" {
		// Sub-controller path: the device must be provisioned and accepted.
		if _, err := h.Devices.Authorize(req.MACAddress, req.AuthKey); err != nil {
			return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
		}
		slotID = req.MACAddress
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if h.Gate != nil {
		v, err := h.Gate.Verify(ctx, slotID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "license check failed, try again"})
		}
		if !v.Usable() {
			return c.JSON(http.StatusForbidden, echo.Map{"error": engine.ErrLicenseInvalid.Error()})
		}
	}

	var accepted bool
	if req.Count > 1 {
		// The reporter aggregated the burst on-device; do not re-debounce.
		accepted = h.Manager.IngestBurst(slotID, req.Denomination, req.Count)
	} else {
		accepted = h.Manager.Ingest(pulse.RawPulse{
			SlotID:       slotID,
			Denomination: req.Denomination,
			At:           time.Now(),
		})
	}
	return c.JSON(http.StatusAccepted, echo.Map{"accepted": accepted})
}
