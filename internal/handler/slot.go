package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/engine"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/license"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/middleware"
)

// SlotHandler bundles dependencies for the coin-slot reservation endpoints.
type SlotHandler struct {
	Locks *engine.SlotLockManager
	Gate  *license.Gate
}

func NewSlotHandler(locks *engine.SlotLockManager, gate *license.Gate) *SlotHandler {
	return &SlotHandler{Locks: locks, Gate: gate}
}

// ----- DTOs -----

type reserveReq struct {
	SlotID string `json:"slotId"`
}
type slotOpReq struct {
	SlotID string `json:"slotId"`
	LockID string `json:"lockId"`
}
type reserveResp struct {
	SlotID    string    `json:"slotId"`
	LockID    string    `json:"lockId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// slotOrMain defaults an omitted slot id to the on-board acceptor.
func slotOrMain(slotID string) string {
	if slotID == "" {
		return "main"
	}
	return slotID
}

// Reserve grants the caller exclusive custody of a coin slot for the
// lock TTL.  While someone else holds the slot the portal shows them a
// busy message, hence the specific conflict wording.
func (h *SlotHandler) Reserve(c echo.Context) error {
	var req reserveReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	slotID := slotOrMain(req.SlotID)

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

	lock, err := h.Locks.Reserve(slotID, middleware.ClientFrom(c))
	switch err {
	case nil:
	case engine.ErrConflict:
		return c.JSON(http.StatusConflict, echo.Map{"error": "JUST WAIT SOMEONE IS PAYING."})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reserve failed"})
	}

	return c.JSON(http.StatusOK, reserveResp{
		SlotID:    lock.SlotID,
		LockID:    lock.LockID,
		ExpiresAt: lock.ExpiresAt,
	})
}

// Heartbeat extends a held reservation while the payment modal is open.
func (h *SlotHandler) Heartbeat(c echo.Context) error {
	var req slotOpReq
	if err := c.Bind(&req); err != nil || req.LockID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "lockId required"})
	}

	expiresAt, err := h.Locks.Heartbeat(slotOrMain(req.SlotID), req.LockID)
	switch err {
	case nil:
	case engine.ErrNotFound:
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation expired"})
	case engine.ErrForbidden:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "reservation is not yours"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "heartbeat failed"})
	}

	return c.JSON(http.StatusOK, echo.Map{"expiresAt": expiresAt})
}

// Release drops a reservation.  Always 200: clients fire it from page
// unload handlers and must never see an error for a lock that already
// expired.
func (h *SlotHandler) Release(c echo.Context) error {
	var req slotOpReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	h.Locks.Release(slotOrMain(req.SlotID), req.LockID)
	return c.JSON(http.StatusOK, echo.Map{"released": true})
}
