// Package v1 implements the REST and websocket surface described in the
// scanner's external-interface section: scan lifecycle, filter updates,
// paginated result history, preset CRUD, and a live subscription feed, all
// wired against the transport-agnostic internal/engine.
package v1

import (
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/optionscan/engine/internal/engine"
	"github.com/optionscan/engine/internal/history"
	"github.com/optionscan/engine/internal/metrics"
	"github.com/optionscan/engine/internal/presets"
	"github.com/rs/zerolog"
)

// API wires the REST/WS handlers to the engine and its supporting
// collaborators. It owns no scan state of its own beyond the registry's
// bookkeeping.
type API struct {
	engine   *engine.Engine
	registry *registry
	presets  *presets.Store
	auth     presets.Authenticator
	history  *history.Store
	metrics  *metrics.Collector
	logger   zerolog.Logger

	upgrader           wsUpgrader
	wsConns            int64
	rateLimitPerMinute int
}

// trackWSConnect adjusts the live websocket connection gauge by delta
// (+1 on connect, -1 on disconnect).
func (a *API) trackWSConnect(delta int64) {
	n := atomic.AddInt64(&a.wsConns, delta)
	a.metrics.SetWSConnections(int(n))
}

// NewAPI constructs the API layer. auth gates the preset endpoints only;
// scan lifecycle and result endpoints are unauthenticated, matching the
// spec's treatment of preset storage as the one durable, multi-tenant-ish
// surface worth gating.
func NewAPI(eng *engine.Engine, presetStore *presets.Store, auth presets.Authenticator, hist *history.Store, coll *metrics.Collector, logger zerolog.Logger, rateLimitPerMinute int) *API {
	return &API{
		engine:             eng,
		registry:           newRegistry(eng, hist, coll),
		presets:            presetStore,
		auth:               auth,
		history:            hist,
		metrics:            coll,
		logger:             logger.With().Str("component", "api").Logger(),
		upgrader:           newWSUpgrader(),
		rateLimitPerMinute: rateLimitPerMinute,
	}
}

// RegisterRoutes attaches every v1 route, wrapped in logging, CORS, and
// metrics middleware, onto r.
func (a *API) RegisterRoutes(r *mux.Router) {
	sub := r.PathPrefix("/api/v1").Subrouter()
	sub.Use(loggingMiddleware, corsMiddleware, metricsMiddleware(a.metrics), rateLimitMiddleware(a.rateLimitPerMinute))

	sub.HandleFunc("/scans", a.handleStartScan).Methods("POST")
	sub.HandleFunc("/scans/{scanId}", a.handleStopScan).Methods("DELETE")
	sub.HandleFunc("/scans/{scanId}/status", a.handleGetStatus).Methods("GET")
	sub.HandleFunc("/scans/{scanId}/filters", a.handleUpdateFilters).Methods("PUT")
	sub.HandleFunc("/scans/{scanId}/results", a.handleGetResults).Methods("GET")
	sub.HandleFunc("/scans/{scanId}/ws", a.handleWebSocket)

	presetsRouter := sub.PathPrefix("/presets").Subrouter()
	presetsRouter.Use(a.authMiddleware)
	presetsRouter.HandleFunc("", a.handleListPresets).Methods("GET")
	presetsRouter.HandleFunc("", a.handleCreatePreset).Methods("POST")
	presetsRouter.HandleFunc("/{presetId}", a.handleGetPreset).Methods("GET")
	presetsRouter.HandleFunc("/{presetId}", a.handleUpdatePreset).Methods("PUT")
	presetsRouter.HandleFunc("/{presetId}", a.handleDeletePreset).Methods("DELETE")

	sub.HandleFunc("/health", a.handleHealth).Methods("GET")
}
