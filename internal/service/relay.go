// Package service implements the core relay logic.
package service

import (
	"fmt"
	"log/slog"

	"scoreboard-relay/internal/client"
	"scoreboard-relay/internal/config"
	"scoreboard-relay/internal/model"
)

// RelayService maps local paths to upstream URLs and performs the outbound fetch.
// It holds only the immutable route mapping and is safe for concurrent use.
type RelayService struct {
	client *client.UpstreamClient
	logger *slog.Logger
	routes []model.Route
	byPath map[string]model.Route
}

// NewRelayService creates a RelayService from the configured route mapping.
func NewRelayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*RelayService, error) {
	routes, err := cfg.ResolveRoutes()
	if err != nil {
		return nil, fmt.Errorf("resolve routes: %w", err)
	}

	byPath := make(map[string]model.Route, len(routes))
	for _, r := range routes {
		if _, dup := byPath[r.LocalPath]; dup {
			return nil, fmt.Errorf("duplicate route path %q", r.LocalPath)
		}
		byPath[r.LocalPath] = r
	}

	return &RelayService{
		client: c,
		logger: logger.With("component", "relay_service"),
		routes: routes,
		byPath: byPath,
	}, nil
}

// Routes returns the route mapping in configuration order.
func (s *RelayService) Routes() []model.Route {
	out := make([]model.Route, len(s.routes))
	copy(out, s.routes)
	return out
}

// Lookup returns the route whose local path matches path exactly.
func (s *RelayService) Lookup(path string) (model.Route, bool) {
	r, ok := s.byPath[path]
	return r, ok
}

// Relay performs exactly one upstream fetch for the matched route. There are
// no retries; any error is terminal for the request.
func (s *RelayService) Relay(rr *model.RelayRequest) (*model.RelayResponse, error) {
	s.logger.Debug("relaying request",
		"route", rr.Route.LocalPath,
	)

	resp, err := s.client.Fetch(rr.Ctx, rr.Route)
	if err != nil {
		return nil, fmt.Errorf("relay %s: %w", rr.Route.LocalPath, err)
	}
	return resp, nil
}
