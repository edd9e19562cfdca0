package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/optionscan/engine/internal/engine"
	"github.com/optionscan/engine/internal/filters"
	"github.com/optionscan/engine/internal/models"
	"github.com/optionscan/engine/internal/presets"
)

// startScanRequest is the wire shape for POST /scans. IntervalSecs and
// MaxResults both fall back to the scanner's reference defaults when zero.
type startScanRequest struct {
	Symbols      []string            `json:"symbols"`
	Filters      filters.FilterConfig `json:"filters"`
	IntervalSecs float64             `json:"interval_seconds"`
	MaxResults   int                 `json:"max_results"`
	SortKey      string              `json:"sort_key"`
	SortDir      string              `json:"sort_dir"`
}

const (
	defaultScanInterval = 5 * time.Second
	defaultMaxResults   = 50
)

func (a *API) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	interval := defaultScanInterval
	if req.IntervalSecs > 0 {
		interval = time.Duration(req.IntervalSecs * float64(time.Second))
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	sortKey := models.SortKey(req.SortKey)
	if sortKey == "" {
		sortKey = models.SortByScore
	}
	sortDir := models.SortDirection(req.SortDir)
	if sortDir == "" {
		sortDir = models.Descending
	}

	spec := engine.ScanSpec{
		Symbols:    req.Symbols,
		Filters:    req.Filters,
		Interval:   interval,
		MaxResults: maxResults,
		SortKey:    sortKey,
		SortDir:    sortDir,
	}

	scanID, err := a.engine.StartScan(spec)
	if err != nil {
		var invalid engine.ErrInvalidSpec
		var cfgErr *filters.ErrConfig
		if errors.As(err, &invalid) || errors.As(err, &cfgErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := a.registry.track(scanID, spec); err != nil {
		a.logger.Error().Err(err).Str("scan_id", scanID).Msg("failed to enroll internal recorder")
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"scan_id":       scanID,
		"subscribe_uri": "/api/v1/scans/" + scanID + "/ws",
	})
}

func (a *API) handleStopScan(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scanId"]
	if err := a.engine.StopScan(scanID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	a.registry.untrack(scanID)
	w.WriteHeader(http.StatusOK)
}

type statusResponse struct {
	ScanID      string `json:"scan_id"`
	Tick        int64  `json:"tick"`
	ResultCount int    `json:"result_count"`
	SkipReason  string `json:"skip_reason,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	LastTickAt  string `json:"last_tick_at,omitempty"`
	NextDueAt   string `json:"next_due_at,omitempty"`
}

func (a *API) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scanId"]
	ts, ok := a.registry.get(scanID)
	if !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}

	status, lastTickAt, nextDueAt := ts.snapshotStatus()
	resp := statusResponse{
		ScanID:      scanID,
		Tick:        status.Tick,
		ResultCount: status.ResultCount,
		SkipReason:  status.SkipReason,
		DurationMs:  status.Duration.Milliseconds(),
	}
	if !lastTickAt.IsZero() {
		resp.LastTickAt = lastTickAt.Format(time.RFC3339Nano)
		resp.NextDueAt = nextDueAt.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleUpdateFilters(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scanId"]

	var cfg filters.FilterConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := a.engine.UpdateFilters(scanID, cfg); err != nil {
		var cfgErr *filters.ErrConfig
		if errors.As(err, &cfgErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	a.registry.setFilters(scanID, cfg)
	writeJSON(w, http.StatusOK, map[string]interface{}{"applied_config": cfg})
}

type resultsResponse struct {
	Entries []resultEntry `json:"entries"`
	Total   int           `json:"total"`
}

type resultEntry struct {
	Tick       int64                 `json:"tick"`
	RecordedAt string                `json:"recorded_at"`
	Result     models.Result         `json:"result"`
}

func (a *API) handleGetResults(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scanId"]
	if _, ok := a.registry.get(scanID); !ok {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}

	q := r.URL.Query()
	since := parseInt64(q.Get("since"), 0)
	offset := int(parseInt64(q.Get("offset"), 0))
	limit := int(parseInt64(q.Get("limit"), 100))

	entries, total := a.history.Query(scanID, since, offset, limit)
	out := make([]resultEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, resultEntry{
			Tick:       e.Tick,
			RecordedAt: e.RecordedAt.Format(time.RFC3339Nano),
			Result:     e.Result,
		})
	}
	writeJSON(w, http.StatusOK, resultsResponse{Entries: out, Total: total})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleListPresets(w http.ResponseWriter, r *http.Request) {
	list, err := a.presets.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var p presets.Preset
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	created, err := a.presets.Create(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["presetId"]
	p, err := a.presets.Get(r.Context(), id)
	if err != nil {
		writePresetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["presetId"]
	var p presets.Preset
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	updated, err := a.presets.Update(r.Context(), id, p)
	if err != nil {
		writePresetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["presetId"]
	if err := a.presets.Delete(r.Context(), id); err != nil {
		writePresetError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writePresetError(w http.ResponseWriter, err error) {
	if errors.Is(err, presets.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}
