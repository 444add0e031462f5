// Package handler provides the Echo handlers and route registration for the relay.
package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scoreboard-relay/internal/config"
	"scoreboard-relay/internal/metrics"
	"scoreboard-relay/internal/service"
)

// RegisterRoutes wires all route handlers onto the Echo instance: one GET per
// entry of the route mapping, the health endpoints, and the metrics endpoint
// when m is non-nil.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, svc *service.RelayService, relay *RelayHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)

	for _, r := range svc.Routes() {
		e.GET(r.LocalPath, relay.Handle)
	}

	if m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
