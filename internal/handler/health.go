package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"scoreboard-relay/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	service *service.RelayService
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(svc *service.RelayService, v Version) *HealthHandler {
	return &HealthHandler{service: svc, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns relay status information. Upstream URLs are deliberately
// left out so the endpoint does not reveal internal topology.
func (h *HealthHandler) Status(c echo.Context) error {
	paths := make([]string, 0)
	for _, r := range h.service.Routes() {
		paths = append(paths, r.LocalPath)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": string(h.version),
		"routes":  paths,
	})
}
