// Package server exposes the cognition engine over HTTP: packet
// processing, lifecycle control, and GPU coordination endpoints used by
// the gateway and the orchestrator.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/azraeltruthsay/gaia-sub000/pkg/engine"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
	"github.com/azraeltruthsay/gaia-sub000/pkg/sleep"
	"github.com/azraeltruthsay/gaia-sub000/pkg/version"
)

// Server is the engine's HTTP face.
type Server struct {
	engine *engine.Engine
	log    *slog.Logger
	router chi.Router
}

func New(eng *engine.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{engine: eng, log: log.With("component", "http")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/process_packet", s.handleProcessPacket)
	r.Get("/health", s.handleHealth)
	r.Get("/sleep/status", s.handleSleepStatus)
	r.Post("/sleep/enter", s.handleSleepEnter)
	r.Post("/sleep/wake", s.handleWake)
	r.Get("/gpu/status", s.handleGPUStatus)
	r.Post("/gpu/release", s.handleGPURelease)
	r.Post("/gpu/reclaim", s.handleGPUReclaim)
	r.Post("/gpu/wait", s.handleGPUWait)
	r.Post("/cognition/checkpoint", s.handleCheckpoint)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleProcessPacket(w http.ResponseWriter, r *http.Request) {
	var p packet.Packet
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed packet: "+err.Error())
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	processed := s.engine.ProcessPacket(r.Context(), &p)
	writeJSON(w, http.StatusOK, processed)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     version.Version,
		"sleep_state": s.engine.Sleep().State(),
	})
}

func (s *Server) handleSleepStatus(w http.ResponseWriter, r *http.Request) {
	sleptAt, wokeAt := s.engine.Sleep().Timestamps()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":     s.engine.Sleep().State(),
		"slept_at":  timeOrNil(sleptAt),
		"woke_at":   timeOrNil(wokeAt),
		"queue_len": s.engine.Sleep().QueueLen(),
	})
}

func (s *Server) handleSleepEnter(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Sleep().Sleep(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.engine.Sleep().State())})
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Sleep().Wake(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.engine.Sleep().State())})
}

func (s *Server) handleGPUStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"gpu_released":      s.engine.Pool().GPUReleased(),
		"gpu_models_loaded": s.engine.Pool().GPUModelsLoaded(),
		"aliases":           s.engine.Pool().Aliases(),
	})
}

// handleGPURelease demotes the GPU entries so the orchestrator can hand
// the card to the training service. A release during an active sleep
// transition conflicts.
func (s *Server) handleGPURelease(w http.ResponseWriter, r *http.Request) {
	state := s.engine.Sleep().State()
	if state == sleep.StateEnteringSleep || state == sleep.StateWaking {
		writeError(w, http.StatusConflict, "sleep transition in progress")
		return
	}
	if err := s.engine.Pool().ReleaseGPU(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": true})
}

func (s *Server) handleGPUReclaim(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pool().ReclaimGPU(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": s.engine.Pool().GPUReleased()})
}

// handleGPUWait blocks until the GPU entries are loaded again or the
// timeout expires. timeout_seconds must be in [1, 60].
func (s *Server) handleGPUWait(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TimeoutSeconds int `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	timeout := req.TimeoutSeconds
	if timeout < 1 || timeout > 60 {
		writeError(w, http.StatusBadRequest, "timeout_seconds must be in [1, 60]")
		return
	}

	deadline := time.Now().Add(time.Duration(timeout) * time.Second)
	for time.Now().Before(deadline) {
		if !s.engine.Pool().GPUReleased() {
			writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
			return
		}
		select {
		case <-r.Context().Done():
			writeError(w, http.StatusRequestTimeout, "client gave up")
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": false})
}

// handleCheckpoint forces a checkpoint write outside the sleep path,
// used by the orchestrator before risky maintenance.
func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.WriteCheckpointNow(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "written"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
