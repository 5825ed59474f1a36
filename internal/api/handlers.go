package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightctl/internal/control"
	"github.com/dokzlo13/lightctl/internal/ensure"
	"github.com/dokzlo13/lightctl/internal/ledger"
	"github.com/dokzlo13/lightctl/internal/preset"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleEnsureState runs one operation synchronously. The response is the
// operation result whatever its outcome; only malformed input is a 4xx.
func (s *Server) handleEnsureState(w http.ResponseWriter, r *http.Request) {
	var p control.Params
	if !decodeBody(w, r, &p) {
		return
	}
	res, err := s.deps.Service.EnsureState(r.Context(), p, "api")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	sums, err := s.deps.Presets.Summaries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sums)
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var p preset.Preset
	if !decodeBody(w, r, &p) {
		return
	}
	created, err := s.deps.Presets.Store().Create(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type captureRequest struct {
	Name     string             `json:"name"`
	EntityID control.EntityList `json:"entity_id"`
}

func (s *Server) handleCapturePreset(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := s.deps.Presets.Capture(r.Context(), req.Name, req.EntityID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Presets.Store().Find(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	var p preset.Preset
	if !decodeBody(w, r, &p) {
		return
	}
	p.ID = r.PathValue("id")
	updated, err := s.deps.Presets.Store().Update(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Presets.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePresetStatus(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Presets.Store().Find(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Presets.Status(p.ID))
}

func (s *Server) handleActivatePreset(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Presets.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeJSON(w, http.StatusOK, []*ledger.Entry{})
		return
	}
	limit, err := listLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	var entries []*ledger.Entry
	if t := r.URL.Query().Get("type"); t != "" {
		entries, err = s.deps.Ledger.GetByType(ledger.EventType(t), limit)
	} else {
		entries, err = s.deps.Ledger.Recent(limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type diagnostics struct {
	Backend    string                `json:"backend"`
	Defaults   defaultsView          `json:"defaults"`
	Presets    []preset.Summary      `json:"presets"`
	Operations []*ledger.Entry       `json:"recent_operations"`
	Tolerances ensure.ColorTolerance `json:"tolerances"`
}

type defaultsView struct {
	Settings              ensure.Settings `json:"settings"`
	DelayAfterSend        float64         `json:"delay_after_send"`
	MaxRetries            int             `json:"max_retries"`
	MaxRuntime            float64         `json:"max_runtime"`
	UseExponentialBackoff bool            `json:"use_exponential_backoff"`
	MaxBackoff            float64         `json:"max_backoff"`
	RetryScope            string          `json:"retry_scope"`
	LogSuccess            bool            `json:"log_success"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	d := s.deps.Service.Defaults()
	out := diagnostics{
		Backend: s.deps.Backend,
		Defaults: defaultsView{
			Settings:              d.Settings,
			DelayAfterSend:        d.Retry.DelayAfterSend.Seconds(),
			MaxRetries:            d.Retry.MaxRetries,
			MaxRuntime:            d.Retry.MaxRuntime.Seconds(),
			UseExponentialBackoff: d.Retry.UseExponentialBackoff,
			MaxBackoff:            d.Retry.MaxBackoff.Seconds(),
			RetryScope:            string(d.Retry.Scope),
			LogSuccess:            d.LogSuccess,
		},
		Tolerances: d.Tolerance,
		Presets:    []preset.Summary{},
		Operations: []*ledger.Entry{},
	}

	sums, err := s.deps.Presets.Summaries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sums != nil {
		out.Presets = sums
	}

	if s.deps.Ledger != nil {
		entries, err := s.deps.Ledger.Recent(10)
		if err != nil {
			writeError(w, err)
			return
		}
		if entries != nil {
			out.Operations = entries
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

type errorBody struct {
	Error string `json:"error"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, control.ErrInvalidParams), errors.Is(err, preset.ErrNoEntities):
		status = http.StatusBadRequest
	case errors.Is(err, preset.ErrPresetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, preset.ErrPresetExists):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("API request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
