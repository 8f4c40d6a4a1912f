package orchestrator

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes the orchestrator API: handoff triggers, the status
// dashboard, and the maintenance toggle.
func (o *Orchestrator) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/handoff/prime-to-study", o.handlePrimeToStudy)
	r.Post("/handoff/study-to-prime", o.handleStudyToPrime)
	r.Get("/status", o.handleStatus)
	r.Post("/maintenance", o.handleMaintenance)
	r.Get("/health", o.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (o *Orchestrator) handlePrimeToStudy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := o.HandoffToStudy(r.Context(), body.Reason); err != nil {
		status := http.StatusInternalServerError
		if o.State() != StateError {
			// Precondition failure, not a broken handoff.
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(o.State())})
}

func (o *Orchestrator) handleStudyToPrime(w http.ResponseWriter, r *http.Request) {
	if err := o.HandoffToCore(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if o.State() != StateError {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(o.State())})
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	state := o.state
	lastErr := o.lastError
	o.mu.Unlock()

	owner := "none"
	switch state {
	case StateCore:
		owner = "generation"
	case StateStudy:
		owner = "training"
	}

	var services []ServiceStatus
	if o.watchdog != nil {
		services = o.watchdog.Snapshot()
	}

	payload := map[string]any{
		"gpu_owner": owner,
		"state":     state,
		"services":  services,
	}
	if lastErr != "" {
		payload["last_error"] = lastErr
	}
	writeJSON(w, http.StatusOK, payload)
}

func (o *Orchestrator) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.Mode != "on" && body.Mode != "off" {
		writeError(w, http.StatusBadRequest, `mode must be "on" or "off"`)
		return
	}
	if o.maintenance == nil {
		writeError(w, http.StatusInternalServerError, "maintenance flag not configured")
		return
	}
	if err := o.maintenance.Set(body.Mode == "on"); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"maintenance": body.Mode == "on"})
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
