// Package server hosts the three HTTP servers of the coordinator: the
// designer-facing API, the Kubernetes probe endpoints, and the Prometheus
// metrics endpoint.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/config"
	"github.com/studio-ops/coordinator/internal/handlers"
	"github.com/studio-ops/coordinator/internal/health"
	"github.com/studio-ops/coordinator/internal/metrics"
	"github.com/studio-ops/coordinator/internal/middleware"
	syncmw "github.com/studio-ops/coordinator/internal/sync"
)

// Dependencies carries the wired components the servers expose.
type Dependencies struct {
	// Metrics is the service's metric set with its private registry.
	Metrics *metrics.Metrics

	// Health aggregates the health checkers behind the probe endpoints.
	Health *health.Manager

	// Settings serves the app settings API.
	Settings *handlers.SettingsHandlers

	// Sync serialises mutating designer requests. Optional; when nil the
	// API runs unsynchronised (tests only).
	Sync *syncmw.Middleware
}

// Server manages the three HTTP servers (API, Probe, Metrics).
type Server struct {
	cfg           *config.Config
	logger        *zap.Logger
	deps          *Dependencies
	apiServer     *http.Server
	probeServer   *http.Server
	metricsServer *http.Server
	startTime     time.Time
	shutdownChan  chan struct{}
	shutdownOnce  sync.Once
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *zap.Logger, deps *Dependencies) (*Server, error) {
	if deps == nil || deps.Metrics == nil || deps.Health == nil || deps.Settings == nil {
		return nil, fmt.Errorf("server dependencies are incomplete")
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		deps:         deps,
		startTime:    time.Now(),
		shutdownChan: make(chan struct{}),
	}

	s.setupServers()

	return s, nil
}

// setupServers configures the three HTTP servers.
func (s *Server) setupServers() {
	// API Server
	apiRouter := s.setupAPIRouter()
	s.apiServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler:      apiRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSEnabled {
		s.apiServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Probe Server
	probeRouter := s.setupProbeRouter()
	s.probeServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.ProbeHost, s.cfg.ProbePort),
		Handler:      probeRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	// Metrics Server
	metricsRouter := s.setupMetricsRouter()
	s.metricsServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.MetricsHost, s.cfg.MetricsPort),
		Handler:      metricsRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

// setupAPIRouter creates the API server router with middleware.
func (s *Server) setupAPIRouter() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.LoggingMiddleware(s.logger, "api"))
	r.Use(middleware.RecovererMiddleware(s.logger))
	r.Use(middleware.MetricsMiddleware(s.deps.Metrics, s.logger))

	// Routes
	setupAPIRoutes(r, s.deps, s.logger)

	return r
}

// setupProbeRouter creates the probe server router.
func (s *Server) setupProbeRouter() *chi.Mux {
	r := chi.NewRouter()

	// Routes
	setupProbeRoutes(r, s.deps, s.logger)

	return r
}

// setupMetricsRouter creates the metrics server router.
func (s *Server) setupMetricsRouter() *chi.Mux {
	r := chi.NewRouter()

	// Serve only this service's registry, not the process-global one
	r.Handle("/metrics", promhttp.HandlerFor(
		s.deps.Metrics.Registry(),
		promhttp.HandlerOpts{},
	))

	return r
}

// Start starts all three HTTP servers.
func (s *Server) Start() error {
	errChan := make(chan error, 3)

	// Start API server
	go func() {
		s.logger.Info("Starting API server", zap.String("addr", s.apiServer.Addr))

		var err error
		if s.cfg.TLSEnabled {
			err = s.apiServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.apiServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Start probe server
	go func() {
		s.logger.Info("Starting probe server", zap.String("addr", s.probeServer.Addr))

		if err := s.probeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("probe server error: %w", err)
		}
	}()

	// Start metrics server
	go func() {
		s.logger.Info("Starting metrics server", zap.String("addr", s.metricsServer.Addr))

		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Wait a bit to see if any server fails to start
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-errChan:
		return err
	default:
		s.deps.Health.SetServersRunning(true)
		go s.updateRuntimeMetrics()
		return nil
	}
}

// updateRuntimeMetrics updates the uptime and runtime metrics periodically.
func (s *Server) updateRuntimeMetrics() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.deps.Metrics.AppUptimeSeconds.Add(1)
			s.deps.Metrics.UpdateRuntimeMetrics()
		case <-s.shutdownChan:
			return
		}
	}
}

// Shutdown gracefully shuts down all servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down servers gracefully")

	s.deps.Health.SetShuttingDown(true)

	// Signal the runtime metrics goroutine to stop
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)
	})

	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// Shutdown API server first
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("Shutting down API server")
		if err := s.apiServer.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("API server shutdown error: %w", err)
		}
	}()

	// Shutdown metrics server second
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("Shutting down metrics server")
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("metrics server shutdown error: %w", err)
		}
	}()

	// Shutdown probe server last
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("Shutting down probe server")
		if err := s.probeServer.Shutdown(ctx); err != nil {
			errChan <- fmt.Errorf("probe server shutdown error: %w", err)
		}
	}()

	wg.Wait()
	close(errChan)

	for err := range errChan {
		if err != nil {
			return err
		}
	}

	s.logger.Info("All servers shut down successfully")
	return nil
}

// WaitForServers waits for all servers to be ready.
func (s *Server) WaitForServers(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if s.checkServer(s.apiServer.Addr) &&
			s.checkServer(s.probeServer.Addr) &&
			s.checkServer(s.metricsServer.Addr) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	return fmt.Errorf("servers did not become ready within %s", timeout)
}

// checkServer checks if a server is listening on the given address.
func (s *Server) checkServer(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
