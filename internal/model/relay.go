// Package model defines shared types for the relay.
package model

import "context"

// Route maps a local request path to an absolute upstream URL.
type Route struct {
	LocalPath   string
	UpstreamURL string
}

// RelayRequest is an inbound call matched to a route.
type RelayRequest struct {
	Ctx   context.Context
	Route Route
}

// RelayResponse is a successful upstream payload ready to be written back.
type RelayResponse struct {
	ContentType string
	Body        []byte
}
