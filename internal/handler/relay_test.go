package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"scoreboard-relay/internal/client"
	"scoreboard-relay/internal/config"
	"scoreboard-relay/internal/metrics"
	"scoreboard-relay/internal/service"
)

var relayPaths = []string{"/api/scoreboard/players", "/api/ctf", "/api/players"}

func testConfig(baseURL string, timeoutMs int) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         baseURL,
			TimeoutMs:       timeoutMs,
			IdleConnections: 10,
			MaxBodyBytes:    1 << 20,
		},
		Routes: []config.RouteConfig{
			{Path: "/api/scoreboard/players", Upstream: "/api/v1/scoreboard/players"},
			{Path: "/api/ctf", Upstream: "/api/v1/ctf"},
			{Path: "/api/players", Upstream: "/api/v1/players"},
		},
		CORS:    config.CORSConfig{AllowOrigins: []string{"*"}},
		Metrics: config.MetricsConfig{Path: "/metrics"},
	}
}

func newTestService(t *testing.T, baseURL string, timeoutMs int) *service.RelayService {
	t.Helper()
	cfg := testConfig(baseURL, timeoutMs)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.NewRelayService(client.NewUpstreamClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewRelayService: %v", err)
	}
	return svc
}

// assertNotLeaked fails if needle appears in the response body or any header value.
func assertNotLeaked(t *testing.T, rec *httptest.ResponseRecorder, needle string) {
	t.Helper()
	if strings.Contains(rec.Body.String(), needle) {
		t.Errorf("body %q leaks %q", rec.Body.String(), needle)
	}
	for k, vals := range rec.Header() {
		for _, v := range vals {
			if strings.Contains(v, needle) {
				t.Errorf("header %s = %q leaks %q", k, v, needle)
			}
		}
	}
}

// serveRoute runs h.Handle for path the way the router would after a match.
func serveRoute(t *testing.T, h *RelayHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	return rec
}

func TestRelayHandler_Handle_Success(t *testing.T) {
	payloads := map[string]string{
		"/api/v1/scoreboard/players": `[{"name":"alice","points":1337}]`,
		"/api/v1/ctf":                `{"name":"m0unt41n","start":"2026-01-01T00:00:00Z"}`,
		"/api/v1/players":            `[{"name":"alice"},{"name":"bob"}]`,
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payloads[r.URL.Path]))
	}))
	defer upstream.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRelayHandler(newTestService(t, upstream.URL, 5000), logger, nil)

	for _, path := range relayPaths {
		t.Run(path, func(t *testing.T) {
			rec := serveRoute(t, h, path)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			want := payloads["/api/v1"+strings.TrimPrefix(path, "/api")]
			if rec.Body.String() != want {
				t.Errorf("body = %q, want %q", rec.Body.String(), want)
			}
			if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}
		})
	}
}

func TestRelayHandler_Handle_DefaultContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRelayHandler(newTestService(t, upstream.URL, 5000), logger, nil)

	rec := serveRoute(t, h, "/api/ctf")
	if ct := rec.Header().Get(echo.HeaderContentType); ct != defaultContentType {
		t.Errorf("Content-Type = %q, want %q", ct, defaultContentType)
	}
}

func TestRelayHandler_Handle_Failures(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Upstream-Secret", "internal-node-7")
		http.Error(w, "upstream maintenance window", http.StatusServiceUnavailable)
	}))
	defer unavailable.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer garbage.Close()

	// Grab a free port and release it so connections to it are refused.
	closed := httptest.NewServer(http.NotFoundHandler())
	refusedURL := closed.URL
	closed.Close()

	tests := []struct {
		name    string
		baseURL string
		leaks   []string
	}{
		{"connection refused", refusedURL, []string{strings.TrimPrefix(refusedURL, "http://"), "refused"}},
		{"timeout", slow.URL, []string{strings.TrimPrefix(slow.URL, "http://"), "deadline", "Timeout"}},
		{"status 503", unavailable.URL, []string{"503", "maintenance", "internal-node-7", "Service Unavailable"}},
		{"invalid body", garbage.URL, []string{"html"}},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, tt := range tests {
		for _, path := range relayPaths {
			t.Run(tt.name+" "+path, func(t *testing.T) {
				h := NewRelayHandler(newTestService(t, tt.baseURL, 100), logger, nil)
				rec := serveRoute(t, h, path)

				if rec.Code != http.StatusInternalServerError {
					t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
				}
				if rec.Body.String() != failureMessage {
					t.Errorf("body = %q, want %q", rec.Body.String(), failureMessage)
				}
				for _, needle := range tt.leaks {
					assertNotLeaked(t, rec, needle)
				}
			})
		}
	}
}

func TestRelayHandler_Handle_CountsFailures(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	m := metrics.New(relayPaths...)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRelayHandler(newTestService(t, upstream.URL, 5000), logger, m)

	serveRoute(t, h, "/api/ctf")

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "scoreboard_relay_failures_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == "/api/ctf" && labels["reason"] == "status" {
				if v := metric.GetCounter().GetValue(); v != 1 {
					t.Errorf("counter value = %v, want 1", v)
				}
				return
			}
		}
	}
	t.Error("expected scoreboard_relay_failures_total with route=/api/ctf, reason=status")
}

func TestRelayHandler_Handle_CanceledContext(t *testing.T) {
	started := make(chan struct{})
	upstreamCanceled := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
		close(upstreamCanceled)
	}))
	defer upstream.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRelayHandler(newTestService(t, upstream.URL, 30000), logger, nil)

	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/ctf", http.NoBody).WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/ctf")

	done := make(chan error, 1)
	go func() { done <- h.Handle(c) }()

	<-started
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	// The outbound request is torn down with the inbound one.
	<-upstreamCanceled
}

func TestRelayHandler_Handle_UnknownPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRelayHandler(newTestService(t, "http://127.0.0.1:1", 5000), logger, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/unknown", http.NoBody)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/unknown")

	if err := h.Handle(c); err != echo.ErrNotFound {
		t.Errorf("Handle() error = %v, want echo.ErrNotFound", err)
	}
}
