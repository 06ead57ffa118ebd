// Package health serves the watchdog's own status over HTTP: liveness,
// readiness (a relay is bound), a JSON statistics report and, optionally,
// the Prometheus metrics endpoint.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/hass-watchdog/pkg/relay"
	"github.com/supporttools/hass-watchdog/pkg/types"
)

const shutdownTimeout = 5 * time.Second

// StatsSource provides the statistics snapshot. monitor.HealthMonitor
// implements it.
type StatsSource interface {
	Stats() types.StatisticsSnapshot
}

// DeviceSource reports the bound relay device, nil until discovery
// completes. relay.Binder implements it.
type DeviceSource interface {
	Device() relay.Device
}

// Server provides the status endpoints.
type Server struct {
	config   *Config
	echo     *echo.Echo
	stats    StatsSource
	devices  DeviceSource
	metrics  http.Handler
	logger   logrus.FieldLogger
	listener net.Listener

	mu           sync.RWMutex
	started      bool
	startTime    time.Time
	healthChecks []HealthCheck
}

// Config contains configuration for the status server.
type Config struct {
	// BindAddress is the address to bind to (default: 0.0.0.0)
	BindAddress string

	// Port is the port to listen on. Zero picks a free port.
	Port int

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration

	// Version is reported by /status.
	Version string
}

// HealthCheck represents a health check function.
type HealthCheck struct {
	Name  string
	Check func() error
}

// HealthResponse represents the JSON response for /healthz endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Checks    []Check   `json:"checks,omitempty"`
}

// Check represents an individual health check result.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ReadinessResponse represents the JSON response for /ready endpoint.
type ReadinessResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// RelayStatus describes the bound relay.
type RelayStatus struct {
	Bound bool   `json:"bound"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
}

// StatusResponse represents the JSON response for /status endpoint.
type StatusResponse struct {
	State      types.HealthState        `json:"state"`
	Failures   int                      `json:"failures"`
	Uptime     string                   `json:"uptime"`
	Statistics types.StatisticsSnapshot `json:"statistics"`
	Relay      RelayStatus              `json:"relay"`
	Version    string                   `json:"version,omitempty"`
}

// Option customises a Server.
type Option func(*Server)

// WithDevices sets the relay source used by /ready and /status.
func WithDevices(d DeviceSource) Option {
	return func(s *Server) { s.devices = d }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new status server with the given configuration.
func NewServer(config *Config, stats StatsSource, opts ...Option) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if stats == nil {
		return nil, fmt.Errorf("stats source cannot be nil")
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", config.Port)
	}

	// Apply defaults
	if config.BindAddress == "" {
		config.BindAddress = "0.0.0.0"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 5 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	s := &Server{
		config:    config,
		echo:      echo.New(),
		stats:     stats,
		logger:    logrus.StandardLogger(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.Recover())

	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/ready", s.handleReady)
	s.echo.GET("/status", s.handleStatus)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("status server already started")
	}

	addr := net.JoinHostPort(s.config.BindAddress, fmt.Sprintf("%d", s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.echo.Listener = ln
	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout

	go func() {
		s.logger.Infof("Starting status server on %s", ln.Addr())
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Status server failed: %v", err)
		}
	}()

	s.started = true
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Infof("Stopping status server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown status server: %w", err)
	}

	s.started = false
	s.logger.Infof("Status server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// AddHealthCheck adds a custom health check.
func (s *Server) AddHealthCheck(name string, check func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthChecks = append(s.healthChecks, HealthCheck{Name: name, Check: check})
}

// handleHealthz handles the /healthz endpoint (liveness probe).
func (s *Server) handleHealthz(c echo.Context) error {
	s.mu.RLock()
	healthChecks := append([]HealthCheck(nil), s.healthChecks...)
	s.mu.RUnlock()

	checks := make([]Check, 0, len(healthChecks))
	allHealthy := true

	for _, hc := range healthChecks {
		check := Check{Name: hc.Name, Status: "ok"}
		if err := hc.Check(); err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		}
		checks = append(checks, check)
	}

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    s.uptime(),
		Checks:    checks,
	}

	if !allHealthy {
		response.Status = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, response)
	}
	return c.JSON(http.StatusOK, response)
}

// handleReady handles the /ready endpoint. The watchdog is ready once it
// can remediate, that is once a relay is bound.
func (s *Server) handleReady(c echo.Context) error {
	response := ReadinessResponse{Timestamp: time.Now()}

	dev := s.device()
	if dev == nil {
		response.Message = "Not ready: relay not discovered yet"
		return c.JSON(http.StatusServiceUnavailable, response)
	}

	response.Ready = true
	response.Message = "Ready: " + dev.Name()
	return c.JSON(http.StatusOK, response)
}

// handleStatus handles the /status endpoint (detailed status).
func (s *Server) handleStatus(c echo.Context) error {
	snap := s.stats.Stats()

	response := StatusResponse{
		State:      snap.State,
		Failures:   snap.Failures,
		Uptime:     s.uptime(),
		Statistics: snap,
		Version:    s.config.Version,
	}
	if dev := s.device(); dev != nil {
		response.Relay = RelayStatus{Bound: true, ID: dev.ID(), Name: dev.Name()}
	}

	return c.JSON(http.StatusOK, response)
}

func (s *Server) device() relay.Device {
	if s.devices == nil {
		return nil
	}
	return s.devices.Device()
}

func (s *Server) uptime() string {
	return time.Since(s.startTime).Round(time.Second).String()
}
