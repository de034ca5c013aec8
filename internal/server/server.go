package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/semantrix/semaroute-router/internal/config"
	"github.com/semantrix/semaroute-router/internal/observability"
	"github.com/semantrix/semaroute-router/internal/router"
	"github.com/semantrix/semaroute-router/internal/router/health"
)

// Server represents the main HTTP server for the semaroute service.
type Server struct {
	config        *config.Config
	runtime       *Runtime
	mux           *chi.Mux
	manager       *router.Manager
	healthChecker *health.HealthChecker
	logger        *zap.Logger
	metrics       *observability.Metrics
	tracing       *observability.Tracing
	server        *http.Server
	version       string
	startedAt     time.Time

	stopMetrics context.CancelFunc
}

// NewServer bootstraps every component from config and creates a server.
func NewServer(ctx context.Context, cfg *config.Config, version string) (*Server, error) {
	rt, err := Bootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newServer(cfg, rt, version), nil
}

func newServer(cfg *config.Config, rt *Runtime, version string) *Server {
	s := &Server{
		config:    cfg,
		runtime:   rt,
		mux:       chi.NewRouter(),
		manager:   rt.Manager,
		logger:    rt.Logger,
		metrics:   rt.Metrics,
		tracing:   rt.Tracing,
		version:   version,
		startedAt: time.Now(),
	}
	s.healthChecker = health.NewHealthChecker(
		rt.Manager,
		cfg.HealthCheck.Interval,
		cfg.HealthCheck.Timeout,
		rt.Logger,
	)

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupRoutes configures the HTTP routes and middleware.
func (s *Server) setupRoutes() {
	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.RealIP)
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(s.observabilityMiddleware)
	s.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	s.mux.Get("/health", s.handleHealthCheck)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	s.mux.Route("/v1", func(r chi.Router) {
		r.Post("/completions", s.handleCompletion)
		r.Post("/completions/estimate", s.handleEstimate)
		r.Get("/models", s.handleGetModels)
		r.Get("/stats", s.handleGetStats)
		r.Post("/stats/reset", s.handleResetStats)
	})

	s.mux.Route("/admin", func(r chi.Router) {
		r.Get("/providers", s.handleGetProviders)
		r.Get("/providers/{name}/health", s.handleGetProviderHealth)
		r.Post("/health-check", s.handleForceHealthCheck)
	})
}

// observabilityMiddleware traces each request and records its metrics under
// the matched route pattern.
func (s *Server) observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := s.tracing.StartSpan(r.Context(), "http_request")
		defer span.End()

		s.tracing.SetAttributes(ctx, map[string]string{
			"http.method":     r.Method,
			"http.url":        r.URL.String(),
			"http.user_agent": r.UserAgent(),
			"http.request_id": middleware.GetReqID(r.Context()),
		})

		wrappedWriter := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := time.Since(start)
		s.metrics.RecordRequest(r.Method, route, wrappedWriter.statusCode, duration)

		s.tracing.SetAttributes(ctx, map[string]string{
			"http.route":       route,
			"http.status_code": strconv.Itoa(wrappedWriter.statusCode),
			"http.duration_ms": strconv.FormatInt(duration.Milliseconds(), 10),
		})
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the health checker and begins accepting requests.
func (s *Server) Start() error {
	s.healthChecker.Start()

	if s.config.Observability.Metrics.Enabled {
		metricsCtx, cancel := context.WithCancel(context.Background())
		s.stopMetrics = cancel
		go func() {
			if err := s.metrics.StartMetricsServer(metricsCtx); err != nil {
				s.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	s.logger.Info("Starting semaroute server",
		zap.Int("port", s.config.Server.Port),
		zap.Int("providers", len(s.manager.Providers())),
		zap.String("routing_policy", s.manager.Policy().Name()),
		zap.Duration("health_check_interval", s.healthChecker.GetCheckInterval()),
		zap.Bool("tracing", s.tracing.IsEnabled()),
		zap.String("version", s.version))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server and releases its components.
func (s *Server) Stop() error {
	s.logger.Info("Shutting down server...")

	s.healthChecker.Stop()
	if s.stopMetrics != nil {
		s.stopMetrics()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", zap.Error(err))
		errs = append(errs, err)
	}
	if err := s.runtime.Close(ctx); err != nil {
		s.logger.Error("Error releasing components", zap.Error(err))
		errs = append(errs, err)
	}

	s.logger.Info("Server stopped", zap.Float64("spent", s.manager.SpentTotal()))
	observability.SyncLogger(s.logger)
	return errors.Join(errs...)
}

// WaitForShutdown waits for shutdown signals and gracefully stops the server.
func (s *Server) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	s.logger.Info("Received shutdown signal")
	return s.Stop()
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}
