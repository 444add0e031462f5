// Package client provides the upstream HTTP client for the relayed service.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"scoreboard-relay/internal/config"
	"scoreboard-relay/internal/metrics"
	"scoreboard-relay/internal/model"
)

var (
	// ErrUnreachable is returned when the upstream cannot be reached at the network level.
	ErrUnreachable = errors.New("upstream unreachable")
	// ErrTimeout is returned when the upstream does not answer within the configured timeout.
	ErrTimeout = errors.New("upstream timeout")
	// ErrCanceled is returned when the inbound caller goes away before the upstream answers.
	ErrCanceled = errors.New("upstream request canceled")
	// ErrStatus is returned for any non-2xx upstream status. See StatusError.
	ErrStatus = errors.New("upstream error status")
	// ErrInvalidBody is returned when the upstream body is not valid JSON or is too large.
	ErrInvalidBody = errors.New("upstream invalid body")
)

// StatusError carries the upstream status code for logs and metrics.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrStatus, e.StatusCode)
}

// Is reports ErrStatus so callers can match on the sentinel.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// UpstreamClient fetches JSON payloads from the upstream service.
type UpstreamClient struct {
	httpClient   *http.Client
	maxBodyBytes int64
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Upstream.Timeout(),
		},
		maxBodyBytes: cfg.Upstream.MaxBodyBytes,
		logger:       logger.With("component", "upstream_client"),
		metrics:      m,
	}
}

// Fetch issues a single GET to the route's upstream URL and returns the body if the upstream
// answered 2xx with valid JSON. The context controls the lifetime of the
// upstream request: when it is canceled (e.g. client disconnects), the
// upstream request is canceled too.
func (c *UpstreamClient) Fetch(ctx context.Context, route model.Route) (*model.RelayResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, route.UpstreamURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("upstream request",
		"route", route.LocalPath,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(route.LocalPath).Observe(duration)
	}

	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(route.LocalPath, strconv.Itoa(resp.StatusCode)).Inc()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can go back to the pool.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodyBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := c.readBody(resp.Body)
	if err != nil {
		if errors.Is(err, ErrInvalidBody) {
			return nil, err
		}
		return nil, classify(ctx, err)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidBody)
	}

	return &model.RelayResponse{
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// readBody reads at most maxBodyBytes, failing if the body is larger.
func (c *UpstreamClient) readBody(r io.Reader) ([]byte, error) {
	if c.maxBodyBytes <= 0 {
		return io.ReadAll(r)
	}

	body, err := io.ReadAll(io.LimitReader(r, c.maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrInvalidBody, c.maxBodyBytes)
	}
	return body, nil
}

// classify maps a transport error onto one of the sentinel errors.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

// Reason returns a bounded label describing why err failed a relay.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrStatus):
		return "status"
	case errors.Is(err, ErrInvalidBody):
		return "invalid_body"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	default:
		return "other"
	}
}
