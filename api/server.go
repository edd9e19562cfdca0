// Package api assembles the scanner's HTTP surface: the v1 REST/websocket
// routes plus the process-level health root, bound to an already-running
// engine and its supporting collaborators.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	v1 "github.com/optionscan/engine/api/v1"
	"github.com/optionscan/engine/internal/config"
	"github.com/optionscan/engine/internal/engine"
	"github.com/optionscan/engine/internal/history"
	"github.com/optionscan/engine/internal/metrics"
	"github.com/optionscan/engine/internal/presets"
	"github.com/rs/zerolog"
)

// Server owns the top-level HTTP listener and request router; all scan and
// scoring logic lives in internal/engine, reached only through the v1 API.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     zerolog.Logger
	port       int
}

// NewServer wires the v1 API onto a fresh router and builds the underlying
// http.Server with the configured timeouts.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, presetStore *presets.Store, auth presets.Authenticator, hist *history.Store, coll *metrics.Collector, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		router: router,
		logger: logger.With().Str("component", "server").Logger(),
		port:   cfg.Port,
	}

	router.HandleFunc("/", s.handleRoot).Methods("GET")
	router.Handle("/metrics", promHandler())

	apiV1 := v1.NewAPI(eng, presetStore, auth, hist, coll, logger, cfg.RateLimitPerMinute)
	apiV1.RegisterRoutes(router)

	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Start begins serving in a background goroutine; a failure to bind is
// fatal and logged, matching the teacher's own startup behavior.
func (s *Server) Start() {
	s.logger.Info().Int("port", s.port).Msg("starting API server")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal().Err(err).Msg("API server failed")
		}
	}()
}

// Stop gracefully shuts down the HTTP listener, giving in-flight requests
// up to ctx's deadline to complete.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("stopping API server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"service": "options spread scanner",
		"status":  "online",
		"endpoints": map[string]string{
			"scans":   "/api/v1/scans",
			"presets": "/api/v1/presets",
			"health":  "/api/v1/health",
			"metrics": "/metrics",
		},
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     "not found",
		"path":      r.URL.Path,
		"timestamp": time.Now().Unix(),
	})
}
