// Package middleware provides Echo middleware for logging, CORS, security and metrics.
package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Responses with a 5xx status are logged at warn level.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			status := responseStatus(c, err)

			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelWarn
			}

			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"route", c.Path(),
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

// responseStatus resolves the status code of the request. When a handler
// returns an *echo.HTTPError the response has not been written yet; Echo's
// central error handler writes it later, so the code is taken from the error.
func responseStatus(c echo.Context, err error) int {
	status := c.Response().Status
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		}
	}
	return status
}
