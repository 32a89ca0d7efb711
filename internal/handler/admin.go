package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/broadcast"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/config"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/engine"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/license"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/pulse"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/utils"
)

// AdminHandler bundles dependencies for the operator API.  There is a
// single admin account, configured by environment; its password hash is
// computed once at startup.
type AdminHandler struct {
	Cfg      config.Config
	PassHash string
	Registry *engine.Registry
	Devices  *pulse.DeviceRegistry
	Pulses   *pulse.Manager
	Gate     *license.Gate
	Hub      *broadcast.Hub
}

func NewAdminHandler(cfg config.Config, passHash string, reg *engine.Registry, devices *pulse.DeviceRegistry, pulses *pulse.Manager, gate *license.Gate, hub *broadcast.Hub) *AdminHandler {
	return &AdminHandler{Cfg: cfg, PassHash: passHash, Registry: reg, Devices: devices, Pulses: pulses, Gate: gate, Hub: hub}
}

type adminLoginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies the operator credentials and issues a short-lived JWT.
func (h *AdminHandler) Login(c echo.Context) error {
	var req adminLoginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Username != h.Cfg.AdminUser || !utils.VerifyPassword(h.PassHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	token, err := utils.NewAdminToken(h.Cfg.JWTSecret, req.Username, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue token failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"token": token.Token, "expires": token.Exp})
}

// CheckAuth lets the dashboard validate a stored token on load.  Reaching
// it at all means the JWT middleware accepted the token.
func (h *AdminHandler) CheckAuth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"username": c.Get("username"),
		"role":     c.Get("role"),
	})
}

// DeleteSession force-removes a client's session regardless of remaining
// time.
func (h *AdminHandler) DeleteSession(c echo.Context) error {
	mac := c.Param("mac")
	if mac == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "mac required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Registry.Remove(ctx, mac)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"deleted": mac})
	case errors.Is(err, engine.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no such session"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
}

// LicenseStatus reports the main slot's current verdict.
func (h *AdminHandler) LicenseStatus(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	v, err := h.Gate.Verify(ctx, "main")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "license check failed, try again"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"state":         string(v.State),
		"trialDaysLeft": v.TrialDaysLeft,
		"usable":        v.Usable(),
	})
}

// ListDevices returns the provisioned sub-controllers with their revenue
// counters.
func (h *AdminHandler) ListDevices(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Devices.List())
}

// Status is the dashboard's at-a-glance machine summary.
func (h *AdminHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"pulseSource": h.Pulses.SourceName(),
		"observers":   h.Hub.Observers(),
		"sessions":    len(h.Registry.List()),
	})
}
