package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"scoreboard-relay/internal/client"
	"scoreboard-relay/internal/metrics"
	"scoreboard-relay/internal/model"
	"scoreboard-relay/internal/service"
)

// failureMessage is the only thing a caller learns about an upstream failure.
const failureMessage = "Error fetching data"

const defaultContentType = echo.MIMEApplicationJSON + "; charset=UTF-8"

// RelayHandler relays matched routes to the upstream service.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelayHandler creates a RelayHandler.
// The metrics parameter is optional; pass nil to disable failure counting.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger, m *metrics.Metrics) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
		metrics: m,
	}
}

// Handle relays the request for the matched route and writes the upstream
// body back, or a generic 500 on any upstream failure.
func (h *RelayHandler) Handle(c echo.Context) error {
	route, ok := h.service.Lookup(c.Path())
	if !ok {
		return echo.ErrNotFound
	}

	resp, err := h.service.Relay(&model.RelayRequest{
		Ctx:   c.Request().Context(),
		Route: route,
	})
	if err != nil {
		return h.fail(c, route, err)
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	return c.Blob(http.StatusOK, contentType, resp.Body)
}

func (h *RelayHandler) fail(c echo.Context, route model.Route, err error) error {
	reason := client.Reason(err)
	attrs := []any{
		"err", err,
		"route", route.LocalPath,
		"reason", reason,
	}
	var se *client.StatusError
	if errors.As(err, &se) {
		attrs = append(attrs, "upstream_status", se.StatusCode)
	}

	if errors.Is(err, client.ErrCanceled) {
		h.logger.Warn("relay canceled", attrs...)
	} else {
		h.logger.Error("relay failed", attrs...)
	}

	if h.metrics != nil {
		h.metrics.RelayFailures.WithLabelValues(route.LocalPath, reason).Inc()
	}

	return c.String(http.StatusInternalServerError, failureMessage)
}
