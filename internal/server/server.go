// Package server assembles the HTTP surface: core endpoints, module routes
// mounted by the registry, and the middleware chain in front of them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/exhibitdesk/internal/auth"
	"github.com/HerbHall/exhibitdesk/internal/metrics"
	"github.com/HerbHall/exhibitdesk/internal/plugin"
	"github.com/HerbHall/exhibitdesk/internal/version"
	pkgplugin "github.com/HerbHall/exhibitdesk/pkg/plugin"
)

// Paths served without authentication.
const (
	HealthPath  = "/api/v1/health"
	MetricsPath = "/metrics"
)

// Options configures the HTTP server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RatePerSecond caps inbound requests; zero means unlimited.
	RatePerSecond float64
	Burst         int
}

// Server is the main exhibitdesk server.
type Server struct {
	httpServer *http.Server
	registry   *plugin.Registry
	metrics    *metrics.Metrics
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a new Server instance. A nil verifier disables authentication;
// every request is then anonymous and locked records stay read-only.
func New(opts Options, reg *plugin.Registry, m *metrics.Metrics, verifier *auth.Verifier, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		registry: reg,
		metrics:  m,
		logger:   logger,
		mux:      mux,
	}

	s.registerCoreRoutes()
	s.mountModuleRoutes()

	var handler http.Handler = mux
	if verifier != nil {
		handler = auth.Middleware(verifier, logger, HealthPath, MetricsPath)(handler)
	} else {
		logger.Warn("authentication disabled; all requests are anonymous")
	}
	if opts.RatePerSecond > 0 {
		handler = rateLimiter(rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(opts.Burst, 1)))(handler)
	}
	if m != nil {
		handler = m.Middleware(handler)
	}
	handler = requestLogger(logger)(handler)
	handler = recoverer(logger)(handler)

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      handler,
		ReadTimeout:  orDefault(opts.ReadTimeout, 15*time.Second),
		WriteTimeout: orDefault(opts.WriteTimeout, 15*time.Second),
		IdleTimeout:  orDefault(opts.IdleTimeout, 60*time.Second),
	}
	return s
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET "+HealthPath, s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/modules", s.handleModules)
	if s.metrics != nil {
		s.mux.Handle("GET "+MetricsPath, s.metrics.Handler())
	}
	s.mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, "no route for "+r.Method+" "+r.URL.Path, r.URL.Path)
	})
}

// mountModuleRoutes registers all module routes under /api/v1/{module}/.
func (s *Server) mountModuleRoutes() {
	allRoutes := s.registry.AllRoutes()
	names := make([]string, 0, len(allRoutes))
	for name := range allRoutes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, route := range allRoutes[name] {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, name, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("module", name),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports overall status plus every module that checks its own
// health. Any unhealthy module turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]pkgplugin.HealthStatus)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	for _, p := range s.registry.All() {
		hc, ok := p.(pkgplugin.HealthChecker)
		if !ok {
			continue
		}
		h := hc.Health(ctx)
		checks[p.Name()] = h
		switch h.Status {
		case "unhealthy":
			status, code = "unhealthy", http.StatusServiceUnavailable
		case "degraded":
			if status == "ok" {
				status = "degraded"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Exhibitdesk-Version", version.Short())
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"service": "exhibitdesk",
		"version": version.Map(),
		"modules": checks,
	})
}

// handleModules returns the list of enabled modules.
func (s *Server) handleModules(w http.ResponseWriter, _ *http.Request) {
	modules := s.registry.All()
	type moduleResponse struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	info := make([]moduleResponse, 0, len(modules))
	for _, p := range modules {
		info = append(info, moduleResponse{Name: p.Name(), Version: p.Version()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Exhibitdesk-Version", version.Short())
	_ = json.NewEncoder(w).Encode(info)
}
