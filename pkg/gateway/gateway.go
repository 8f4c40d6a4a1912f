// Package gateway is the platform's external ingress: it turns inbound
// messages into cognition packets, sends them to the engine with
// retry-and-failover, and routes completed packets back out to their
// source destination.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/httpclient"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

const (
	// sleepPollInterval and sleepWaitMax bound the sleep-aware queue.
	sleepPollInterval = 5 * time.Second
	sleepWaitMax      = 120 * time.Second

	dedupCapacity = 512
)

// Dispatcher delivers a completed packet to one destination surface
// (discord channel, web socket, cli pipe).
type Dispatcher interface {
	Dispatch(ctx context.Context, p *packet.Packet) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, p *packet.Packet) error

func (f DispatcherFunc) Dispatch(ctx context.Context, p *packet.Packet) error { return f(ctx, p) }

// Gateway owns ingress, engine delivery, and the output router.
type Gateway struct {
	cfg    *config.Config
	log    *slog.Logger
	http   *httpclient.Client
	router chi.Router

	primaryURL  string
	fallbackURL string

	dedup *dedupLRU

	mu          sync.RWMutex
	dispatchers map[string]Dispatcher
}

func New(cfg *config.Config, client *httpclient.Client, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		cfg:         cfg,
		log:         log.With("component", "gateway"),
		http:        client,
		primaryURL:  cfg.Services.Engine,
		fallbackURL: cfg.Services.EngineFallback,
		dedup:       newDedupLRU(dedupCapacity),
		dispatchers: make(map[string]Dispatcher),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/ingress", g.handleIngress)
	r.Post("/output_router", g.handleOutputRouter)
	r.Get("/health", g.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	g.router = r
	return g
}

func (g *Gateway) Handler() http.Handler { return g.router }

// RegisterDispatcher binds a destination name to its delivery surface.
func (g *Gateway) RegisterDispatcher(destination string, d Dispatcher) {
	g.mu.Lock()
	g.dispatchers[destination] = d
	g.mu.Unlock()
}

func (g *Gateway) dispatcher(destination string) (Dispatcher, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.dispatchers[destination]
	return d, ok
}

// ingressRequest is the surface-agnostic inbound message shape.
type ingressRequest struct {
	SessionID   string `json:"session_id"`
	Prompt      string `json:"prompt"`
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination"`
}

func (g *Gateway) handleIngress(w http.ResponseWriter, r *http.Request) {
	var req ingressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	if req.SessionID == "" || req.Destination == "" {
		writeError(w, http.StatusBadRequest, "session_id and destination are required")
		return
	}
	if req.Prompt == "" {
		// Empty prompt declines without a model call.
		writeJSON(w, http.StatusOK, map[string]string{"response": "I didn't catch that."})
		return
	}

	origin := packet.OriginUser
	if req.Origin == string(packet.OriginSystem) {
		origin = packet.OriginSystem
	}
	p := packet.New(req.SessionID, req.Prompt, origin, req.Destination)

	processed, err := g.SendToEngine(r.Context(), p)
	if err != nil {
		g.log.Error("Engine delivery failed", "packet_id", p.Header.PacketID, "error", err)
		writeError(w, http.StatusBadGateway, "engine unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"packet_id": processed.Header.PacketID,
		"response":  processed.Response.Candidate,
	})
}

// SendToEngine waits out a sleeping engine, then posts the packet with
// retry on the primary and a single maintenance-gated fallback attempt.
func (g *Gateway) SendToEngine(ctx context.Context, p *packet.Packet) (*packet.Packet, error) {
	g.waitForWake(ctx)

	resp, err := g.http.PostWithRetry(ctx, g.primaryURL+"/process_packet", g.fallbackEndpoint(), p)
	if err != nil {
		return nil, err
	}

	var processed packet.Packet
	if err := httpclient.DecodeJSON(resp, &processed); err != nil {
		return nil, fmt.Errorf("engine returned undecodable packet: %w", err)
	}
	return &processed, nil
}

func (g *Gateway) fallbackEndpoint() string {
	if g.fallbackURL == "" {
		return ""
	}
	return g.fallbackURL + "/process_packet"
}

// waitForWake polls the engine's sleep state while it sleeps, up to
// the queue cap. Errors and timeouts fall through to a normal send;
// the engine's own queue covers the race.
func (g *Gateway) waitForWake(ctx context.Context) {
	deadline := time.Now().Add(sleepWaitMax)
	for time.Now().Before(deadline) {
		state, err := g.sleepState(ctx)
		if err != nil || state == "AWAKE" {
			return
		}
		g.log.Debug("Engine asleep, waiting", "state", state)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepPollInterval):
		}
	}
}

func (g *Gateway) sleepState(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.primaryURL+"/sleep/status", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.State, nil
}

// handleOutputRouter receives completed packets from the engine and
// dispatches them to their destination. Duplicate packet ids are
// acknowledged without re-dispatching.
func (g *Gateway) handleOutputRouter(w http.ResponseWriter, r *http.Request) {
	var p packet.Packet
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed packet: "+err.Error())
		return
	}
	if p.Header.PacketID == "" {
		writeError(w, http.StatusBadRequest, "packet is missing packet_id")
		return
	}

	if g.dedup.Remember(p.Header.PacketID) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	destinations := append([]string{p.Header.OutputRouting.Primary}, p.Header.OutputRouting.FanOut...)
	for _, dest := range destinations {
		d, ok := g.dispatcher(dest)
		if !ok {
			g.log.Warn("No dispatcher for destination", "destination", dest, "packet_id", p.Header.PacketID)
			continue
		}
		if err := d.Dispatch(r.Context(), &p); err != nil {
			g.log.Error("Dispatch failed", "destination", dest, "packet_id", p.Header.PacketID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dispatched"})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
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
