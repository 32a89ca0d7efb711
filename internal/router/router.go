package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/broadcast"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/handler"
	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/middleware"
)

// Handlers carries every handler the routes need.  main builds it once
// after wiring dependencies.
type Handlers struct {
	Slots    *handler.SlotHandler
	Pulses   *handler.PulseHandler
	Sessions *handler.SessionHandler
	Rates    *handler.RatesHandler
	Admin    *handler.AdminHandler
	Hub      *broadcast.Hub

	// RateCache caches the rate card response; nil disables caching.
	RateCache echo.MiddlewareFunc
}

// RegisterRoutes wires the portal, ingestion and admin routes.  Portal
// routes resolve the client's identity from the ARP table before the
// handler runs; admin routes require a Bearer token with the ADMIN role.
func RegisterRoutes(e *echo.Echo, h Handlers, jwtSecret string, log zerolog.Logger) {
	e.GET("/healthz", handler.Health)
	e.GET("/ws", h.Hub.Handle)

	// Portal routes: the caller is a LAN client identified by MAC.
	api := e.Group("/api")
	api.Use(middleware.ClientIdentity(log))

	api.POST("/coinslot/reserve", h.Slots.Reserve)
	api.POST("/coinslot/heartbeat", h.Slots.Heartbeat)
	api.POST("/coinslot/release", h.Slots.Release)

	// Pulse ingestion for HTTP-only sub-controllers and the admin test
	// button.  Device auth happens in the handler, not here: the reporter
	// is hardware, not a browser.
	api.POST("/pulse", h.Pulses.Submit)

	api.POST("/sessions/start", h.Sessions.Start)
	api.GET("/sessions", h.Sessions.List)
	api.GET("/sessions/me", h.Sessions.Me)
	api.POST("/sessions/pause", h.Sessions.Pause)
	api.POST("/sessions/resume", h.Sessions.Resume)
	api.POST("/sessions/restore", h.Sessions.Restore)

	if h.RateCache != nil {
		api.GET("/rates", h.Rates.List, h.RateCache)
	} else {
		api.GET("/rates", h.Rates.List)
	}

	// The portal polls license status to decide whether to show the
	// disabled banner; no auth needed, the verdict is not a secret.
	api.GET("/license/status", h.Admin.LicenseStatus)

	// Admin routes.  Login is open; everything else needs the ADMIN role.
	api.POST("/admin/login", h.Admin.Login)

	admin := e.Group("/api/admin")
	admin.Use(middleware.JWTAuth(jwtSecret))
	admin.Use(middleware.RequireRole("ADMIN"))
	admin.GET("/check-auth", h.Admin.CheckAuth)
	admin.GET("/status", h.Admin.Status)
	admin.GET("/sessions", h.Sessions.List)
	admin.DELETE("/sessions/:mac", h.Admin.DeleteSession)
	admin.GET("/devices", h.Admin.ListDevices)
	admin.GET("/license", h.Admin.LicenseStatus)
	admin.PUT("/rates", h.Rates.Upsert)
	admin.DELETE("/rates/:pesos", h.Rates.Delete)
}
