package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/engine"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/middleware"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

// SessionHandler bundles dependencies for the portal session endpoints.
type SessionHandler struct {
	Registry *engine.Registry
	Locks    *engine.SlotLockManager
}

func NewSessionHandler(reg *engine.Registry, locks *engine.SlotLockManager) *SessionHandler {
	return &SessionHandler{Registry: reg, Locks: locks}
}

// ----- DTOs -----

type startReq struct {
	SlotID  string `json:"slotId"`
	LockID  string `json:"lockId"`
	Minutes int    `json:"minutes"`
	Pesos   int    `json:"pesos"`
}
type tokenReq struct {
	Token string `json:"token"`
}
type sessionResp struct {
	MAC              string    `json:"mac"`
	IP               string    `json:"ip"`
	RemainingSeconds int       `json:"remainingSeconds"`
	TotalPaid        int       `json:"totalPaid"`
	Token            string    `json:"token,omitempty"`
	IsPaused         bool      `json:"isPaused"`
	ConnectedAt      time.Time `json:"connectedAt"`
}

func toSessionResp(s model.Session, includeToken bool) sessionResp {
	r := sessionResp{
		MAC:              s.MAC,
		IP:               s.IP,
		RemainingSeconds: s.RemainingSeconds,
		TotalPaid:        s.TotalPaid,
		IsPaused:         s.IsPaused,
		ConnectedAt:      s.ConnectedAt,
	}
	if includeToken {
		r.Token = s.Token
	}
	return r
}

// Start hands the caller its session, creating a zero-credit one with a
// fresh token on first contact.  When the portal already holds a slot
// reservation it passes the lock along, which catches clients whose
// reservation silently expired while the payment modal was open.  An
// explicit credit (minutes/pesos) is only honored under a live lock the
// caller owns.  Without one, credit flows through the pulse pipeline
// alone.
func (h *SessionHandler) Start(c echo.Context) error {
	var req startReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	slotID := slotOrMain(req.SlotID)
	if req.LockID != "" && !h.Locks.HolderLockID(slotID, req.LockID) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "reservation is not yours"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id := middleware.ClientFrom(c)
	s, created, err := h.Registry.Ensure(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "session start failed"})
	}

	if req.Minutes > 0 || req.Pesos > 0 {
		if req.LockID == "" || !h.Locks.HolderLockID(slotID, req.LockID) {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "credit requires a live reservation"})
		}
		s, _, err = h.Registry.ApplyCredit(ctx, id, req.Minutes, req.Pesos, slotID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "credit failed"})
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, toSessionResp(s, true))
}

// Me returns the caller's own session, token included so the portal can
// re-save it after a cleared cache.
func (h *SessionHandler) Me(c echo.Context) error {
	id := middleware.ClientFrom(c)
	s, ok := h.Registry.Get(id.MAC)
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no active session"})
	}
	return c.JSON(http.StatusOK, toSessionResp(s, true))
}

// Pause freezes the countdown.  The session token is the only accepted
// credential.
func (h *SessionHandler) Pause(c echo.Context) error {
	return h.setPaused(c, true)
}

// Resume continues the countdown from the frozen value.
func (h *SessionHandler) Resume(c echo.Context) error {
	return h.setPaused(c, false)
}

func (h *SessionHandler) setPaused(c echo.Context, paused bool) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	var err error
	if paused {
		err = h.Registry.Pause(ctx, req.Token)
	} else {
		err = h.Registry.Resume(ctx, req.Token)
	}
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"paused": paused})
	case errors.Is(err, engine.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid session token"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
}

// Restore reconciles a stored session token against the caller's current
// identity after MAC randomization or a lease change.  The client
// retries a few times on 400 and discards the token on 404.
func (h *SessionHandler) Restore(c echo.Context) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}

	id := middleware.ClientFrom(c)
	if id.MAC == "" {
		// Identity resolution failed; the client must keep its token and
		// retry rather than discard it.
		return c.JSON(http.StatusBadRequest, echo.Map{"error": engine.ErrTransient.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status, err := h.Registry.Restore(ctx, req.Token, id)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"status": string(engine.RestoreNotFound)})
	case errors.Is(err, engine.ErrInvariant):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "restore failed"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "restore failed"})
	}

	s, _ := h.Registry.Get(id.MAC)
	return c.JSON(http.StatusOK, echo.Map{
		"status":  string(status),
		"session": toSessionResp(s, true),
	})
}

// List returns every live session for the admin dashboard.  Tokens are
// omitted: an admin can delete a session but never impersonate one.
func (h *SessionHandler) List(c echo.Context) error {
	sessions := h.Registry.List()
	out := make([]sessionResp, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResp(s, false))
	}
	return c.JSON(http.StatusOK, out)
}
