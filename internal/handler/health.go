package handler // HTTP handlers

import (
	"net/http" // status codes

	"github.com/labstack/echo/v4" // echo context
)

// Health is the liveness check used by load balancers and compose health
// checks. It does not touch the store.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
