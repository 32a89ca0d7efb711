package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/repository"
)

// RatesHandler serves the rate card: the portal reads it, the admin
// edits it.
type RatesHandler struct {
	Rates *repository.RateRepo
}

func NewRatesHandler(rates *repository.RateRepo) *RatesHandler {
	return &RatesHandler{Rates: rates}
}

type rateReq struct {
	Pesos   int `json:"pesos"`
	Minutes int `json:"minutes"`
}

// List returns all configured rates ordered by denomination.
func (h *RatesHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	rates, err := h.Rates.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load rates failed"})
	}
	type rateResp struct {
		Pesos   int `json:"pesos"`
		Minutes int `json:"minutes"`
	}
	out := make([]rateResp, 0, len(rates))
	for _, r := range rates {
		out = append(out, rateResp{Pesos: r.Pesos, Minutes: r.Minutes})
	}
	return c.JSON(http.StatusOK, out)
}

// Upsert creates or replaces the rate for one denomination.
func (h *RatesHandler) Upsert(c echo.Context) error {
	var req rateReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Pesos <= 0 || req.Minutes <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "pesos and minutes must be positive"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Rates.Upsert(ctx, req.Pesos, req.Minutes); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save rate failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"pesos": req.Pesos, "minutes": req.Minutes})
}

// Delete removes the rate for one denomination; coins of that value fall
// back to the linear rate afterwards.
func (h *RatesHandler) Delete(c echo.Context) error {
	pesos, err := strconv.Atoi(c.Param("pesos"))
	if err != nil || pesos <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid denomination"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Rates.Remove(ctx, pesos); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete rate failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": pesos})
}
