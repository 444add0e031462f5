// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	toml "github.com/pelletier/go-toml/v2"

	"scoreboard-relay/internal/model"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/scoreboard-relay/config.toml",
	"configs/config.toml",
}

// DefaultUpstreamBase is the scoreboard service relayed when no base_url is configured.
const DefaultUpstreamBase = "https://library.m0unt41n.ch"

// defaultRoutes is the route table used when the config file declares no [[routes]].
var defaultRoutes = []RouteConfig{
	{Path: "/api/scoreboard/players", Upstream: "/api/v1/scoreboard/players"},
	{Path: "/api/ctf", Upstream: "/api/v1/ctf"},
	{Path: "/api/players", Upstream: "/api/v1/players"},
}

// reservedPaths are served by the relay itself and cannot be used as relay routes.
var reservedPaths = []string{"/healthz", "/relay/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config           string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host             string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port             int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamBase     string           `kong:"help='Upstream base URL (overrides config).',env='UPSTREAM_BASE'"`
	RequestTimeoutMs int              `kong:"name='request-timeout-ms',help='Upstream request timeout in milliseconds (overrides config).',env='REQUEST_TIMEOUT_MS'"`
	LogLevel         string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version          kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Routes   []RouteConfig  `toml:"routes"`
	CORS     CORSConfig     `toml:"cors"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path, empty when running on defaults
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutMs       int    `toml:"timeout_ms"`
	IdleConnections int    `toml:"idle_connections"`
	MaxBodyBytes    int64  `toml:"max_body_bytes"`
}

// RouteConfig maps a local path to an upstream path or absolute URL.
type RouteConfig struct {
	Path     string `toml:"path"`
	Upstream string `toml:"upstream"`
}

// CORSConfig controls cross-origin response headers.
type CORSConfig struct {
	AllowOrigins []string `toml:"allow_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/scoreboard-relay/config.toml then configs/config.toml, and falls back
// to built-in defaults when neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	if _, err := cfg.ResolveRoutes(); err != nil {
		return nil, fmt.Errorf("config: routes: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UpstreamBase != "" {
		c.Upstream.BaseURL = cli.UpstreamBase
	}
	if cli.RequestTimeoutMs != 0 {
		c.Upstream.TimeoutMs = cli.RequestTimeoutMs
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	return validation.Errors{
		"server.port": validation.Validate(c.Server.Port,
			validation.Min(0), validation.Max(65535)),
		"server.body_max_bytes": validation.Validate(c.Server.BodyMaxBytes,
			validation.Min(int64(0))),
		"upstream.base_url": validation.Validate(c.Upstream.BaseURL,
			validation.Required, validation.By(validateUpstreamURL)),
		"upstream.timeout_ms": validation.Validate(c.Upstream.TimeoutMs,
			validation.Min(0)),
		"upstream.idle_connections": validation.Validate(c.Upstream.IdleConnections,
			validation.Min(0)),
		"upstream.max_body_bytes": validation.Validate(c.Upstream.MaxBodyBytes,
			validation.Min(int64(0))),
		"routes": validation.Validate(c.Routes,
			validation.Each(validation.By(validateRoute)),
			validation.By(uniqueRoutePaths)),
		"cors.allow_origins": validation.Validate(c.CORS.AllowOrigins,
			validation.Each(validation.Required)),
		"log.level": validation.Validate(strings.ToLower(c.Log.Level),
			validation.In("debug", "info", "warn", "error")),
		"log.format": validation.Validate(strings.ToLower(c.Log.Format),
			validation.In("json", "text")),
		"metrics.path": c.validateMetricsPath(),
	}.Filter()
}

func validateUpstreamURL(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}
	if u.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}
	return nil
}

func validateRoute(value interface{}) error {
	rc, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	return validation.ValidateStruct(&rc,
		validation.Field(&rc.Path,
			validation.Required,
			validation.By(func(v interface{}) error {
				p, _ := v.(string)
				if !strings.HasPrefix(p, "/") {
					return validation.NewError("validation_invalid_path", "must start with '/'")
				}
				// Routes match exactly; router wildcards and params are not allowed.
				if strings.ContainsAny(p, ":*?#") {
					return validation.NewError("validation_invalid_path", "must be a literal path")
				}
				for _, reserved := range reservedPaths {
					if p == reserved {
						return validation.NewError("validation_reserved_path", fmt.Sprintf("conflicts with reserved route %q", reserved))
					}
				}
				return nil
			}),
		),
		validation.Field(&rc.Upstream, validation.Required),
	)
}

func uniqueRoutePaths(value interface{}) error {
	routes, _ := value.([]RouteConfig)
	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		if seen[r.Path] {
			return validation.NewError("validation_duplicate_path", fmt.Sprintf("duplicate path %q", r.Path))
		}
		seen[r.Path] = true
	}
	return nil
}

// validateMetricsPath is only enforced when metrics are enabled.
func (c *Config) validateMetricsPath() error {
	if !c.Metrics.Enabled || c.Metrics.Path == "" {
		return nil
	}

	p := c.Metrics.Path
	if p[0] != '/' {
		return fmt.Errorf("must start with '/'; got %q", p)
	}

	taken := append([]string{}, reservedPaths...)
	for _, r := range c.Routes {
		taken = append(taken, r.Path)
	}
	for _, reserved := range taken {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return fmt.Errorf("%q conflicts with route %q", p, reserved)
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultUpstreamBase
	}
	if c.Upstream.TimeoutMs == 0 {
		c.Upstream.TimeoutMs = 10000
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxBodyBytes == 0 {
		c.Upstream.MaxBodyBytes = 10 * 1024 * 1024 // 10 MB
	}
	if len(c.Routes) == 0 {
		c.Routes = append([]RouteConfig(nil), defaultRoutes...)
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// ResolveRoutes builds the route mapping, joining relative upstream paths
// onto upstream.base_url. Absolute upstream URLs are used as given.
func (c *Config) ResolveRoutes() ([]model.Route, error) {
	base, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	routes := make([]model.Route, 0, len(c.Routes))
	for _, rc := range c.Routes {
		target, err := resolveUpstream(base, rc.Upstream)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rc.Path, err)
		}
		if err := validateUpstreamURL(target); err != nil {
			return nil, fmt.Errorf("route %s: upstream %q: %w", rc.Path, target, err)
		}
		routes = append(routes, model.Route{LocalPath: rc.Path, UpstreamURL: target})
	}
	return routes, nil
}

func resolveUpstream(base *url.URL, upstream string) (string, error) {
	ref, err := url.Parse(upstream)
	if err != nil {
		return "", fmt.Errorf("parse upstream %q: %w", upstream, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}

	u := base.JoinPath(ref.Path)
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the per-request upstream timeout.
func (c *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// LogSource records where the configuration came from.
func (c *Config) LogSource(logger *slog.Logger) {
	if c.filePath == "" {
		logger.Info("no config file found, using built-in defaults",
			"searched", configSearchPaths,
		)
		return
	}
	logger.Info("loaded config file", "path", c.filePath)
}
