package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health answers liveness probes.  It touches no dependencies: a wedged
// database or broker must not make the process itself look dead.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
