package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"PivotPull/pkg/http/middleware"
	applogger "PivotPull/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler defines HTTP route registration interface.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// HealthCheck reports the state of one dependency on /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ServerOption configures Server.
type ServerOption func(*ServerConfig)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsPath     string
	Registry        *prometheus.Registry
	HealthChecks    []HealthCheck
	HealthTimeout   time.Duration
}

// Server wraps Echo HTTP server.
type Server struct {
	echo   *echo.Echo
	config *ServerConfig
	log    *applogger.Logger
}

// NewServer creates a new HTTP server with Echo.
func NewServer(handler Handler, l *applogger.Logger, opts ...ServerOption) *Server {
	cfg := &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		HealthTimeout:   2 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.Recover(l))
	e.Use(middleware.RequestLogging(l))
	e.Use(middleware.CORS(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	if cfg.MetricsPath != "" {
		var reg prometheus.Registerer = prometheus.DefaultRegisterer
		var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
		if cfg.Registry != nil {
			reg, gatherer = cfg.Registry, cfg.Registry
		}
		e.Use(middleware.Metrics(reg, l, 5*time.Second))
		e.GET(cfg.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	e.GET("/healthz", healthHandler(cfg))

	if handler != nil {
		handler.RegisterRoutes(e)
	}

	return &Server{echo: e, config: cfg, log: l}
}

// healthHandler answers 200 when every check passes and 503 otherwise.
func healthHandler(cfg *ServerConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.HealthTimeout)
		defer cancel()

		status := "ok"
		checks := make(map[string]string, len(cfg.HealthChecks))
		for _, hc := range cfg.HealthChecks {
			if err := hc.Check(ctx); err != nil {
				status = "degraded"
				checks[hc.Name] = err.Error()
				continue
			}
			checks[hc.Name] = "ok"
		}

		body := map[string]interface{}{"status": status, "checks": checks}
		if status != "ok" {
			return DataResponse(c, http.StatusServiceUnavailable, body)
		}
		return SuccessResponse(c, body)
	}
}

// Start starts the HTTP server in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	go func() {
		s.log.Info("http server listening", applogger.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", applogger.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// WithPort sets server port.
func WithPort(port int) ServerOption {
	return func(c *ServerConfig) {
		c.Port = port
	}
}

// WithTimeouts sets read/write/shutdown timeouts.
func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *ServerConfig) {
		c.ReadTimeout = read
		c.WriteTimeout = write
		c.ShutdownTimeout = shutdown
	}
}

// WithMetrics exposes Prometheus metrics at path. A nil registry uses the default one.
func WithMetrics(path string, reg *prometheus.Registry) ServerOption {
	return func(c *ServerConfig) {
		c.MetricsPath = path
		c.Registry = reg
	}
}

// WithHealthCheck adds a dependency check to /healthz.
func WithHealthCheck(name string, check func(ctx context.Context) error) ServerOption {
	return func(c *ServerConfig) {
		c.HealthChecks = append(c.HealthChecks, HealthCheck{Name: name, Check: check})
	}
}
