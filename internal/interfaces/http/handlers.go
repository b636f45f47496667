package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/apexguard/guardian/internal/compliance"
	"github.com/apexguard/guardian/internal/domain"
	"github.com/apexguard/guardian/internal/metrics"
	"github.com/apexguard/guardian/internal/persistence"
)

// Core is the decision-engine surface the API reads from.
type Core interface {
	RiskState() domain.RiskState
	ClearEmergency(instrument string) bool
}

// Intake is the write-side surface for the external capture and execution
// feeds: signal readings in, trade outcomes and account updates back.
type Intake interface {
	Submit(r domain.SignalReading) bool
	ApplyOutcome(o domain.TradeOutcome)
	UpdateAccount(s domain.AccountState)
}

// LimitsAdmin is the compliance surface for limit inspection and updates.
type LimitsAdmin interface {
	Limits() compliance.Limits
	SetLimits(limits compliance.Limits)
}

// Streamer serves the websocket subscription endpoint.
type Streamer interface {
	Handler() http.HandlerFunc
}

// Handlers implements the API endpoints.
type Handlers struct {
	core       Core
	intake     Intake
	limits     LimitsAdmin
	directives persistence.DirectiveRepo
	metrics    *metrics.Registry
	stream     Streamer
	version    string
	startedAt  time.Time
}

// NewHandlers wires the endpoint dependencies. directives, metrics, and
// stream may be nil; the affected endpoints degrade gracefully.
func NewHandlers(core Core, intake Intake, limits LimitsAdmin, directives persistence.DirectiveRepo, reg *metrics.Registry, stream Streamer, version string) *Handlers {
	return &Handlers{
		core:       core,
		intake:     intake,
		limits:     limits,
		directives: directives,
		metrics:    reg,
		stream:     stream,
		version:    version,
		startedAt:  time.Now().UTC(),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

// Health reports liveness and uptime.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// Risk returns the current account-protection snapshot.
func (h *Handlers) Risk(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.core.RiskState())
}

// Directives lists the audit trail for one instrument.
func (h *Handlers) Directives(w http.ResponseWriter, r *http.Request) {
	if h.directives == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "persistence not configured"})
		return
	}
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "instrument query parameter required"})
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	tr := persistence.TimeRange{From: time.Now().UTC().Add(-24 * time.Hour), To: time.Now().UTC()}
	if from := r.URL.Query().Get("from"); from != "" {
		if ts, err := time.Parse(time.RFC3339, from); err == nil {
			tr.From = ts
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if ts, err := time.Parse(time.RFC3339, to); err == nil {
			tr.To = ts
		}
	}

	list, err := h.directives.ListByInstrument(r.Context(), instrument, tr, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "directive lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instrument": instrument,
		"count":      len(list),
		"directives": list,
	})
}

// DirectiveByID fetches one directive from the audit trail.
func (h *Handlers) DirectiveByID(w http.ResponseWriter, r *http.Request) {
	if h.directives == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "persistence not configured"})
		return
	}
	id := mux.Vars(r)["id"]
	d, err := h.directives.GetByID(r.Context(), id)
	if errors.Is(err, persistence.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "directive not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "directive lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetLimits returns the active compliance limits.
func (h *Handlers) GetLimits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.limits.Limits())
}

// UpdateLimits applies an administrative limits change after validation.
func (h *Handlers) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	var limits compliance.Limits
	if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limits payload"})
		return
	}
	if err := limits.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	h.limits.SetLimits(limits)
	writeJSON(w, http.StatusOK, limits)
}

// ClearEmergency lifts an instrument's emergency pause after manual review.
func (h *Handlers) ClearEmergency(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]
	if !h.core.ClearEmergency(instrument) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no active emergency pause for " + instrument})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"instrument": instrument,
		"status":     "cleared",
	})
}

// SubmitSignal accepts one signal reading from the capture feed. Responds
// 202 when queued, 429 when the instrument's worker inbox is full.
func (h *Handlers) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var reading domain.SignalReading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid signal payload"})
		return
	}
	if !h.intake.Submit(reading) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "worker inbox full"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// SubmitOutcome accepts one completed trade outcome from the execution feed.
func (h *Handlers) SubmitOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome domain.TradeOutcome
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid outcome payload"})
		return
	}
	if err := outcome.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	h.intake.ApplyOutcome(outcome)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// UpdateAccount replaces the account snapshot from the venue feed.
func (h *Handlers) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var state domain.AccountState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid account payload"})
		return
	}
	if state.Equity <= 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "equity must be positive"})
		return
	}
	h.intake.UpdateAccount(state)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "applied"})
}

// NotFound is the JSON 404 handler.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown endpoint " + r.URL.Path})
}
