package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

// platformStatusTTL bounds how often a turn may hit the orchestrator.
const platformStatusTTL = 30 * time.Second

// platformStatus caches the orchestrator's /status answer across turns.
type platformStatus struct {
	mu        sync.Mutex
	fetchedAt time.Time
	gpuOwner  string
	unhealthy []string
}

// snapshotWorldState fills the packet's world-state block with the
// facts the model is allowed to know about its own platform.
func (e *Engine) snapshotWorldState(ctx context.Context, p *packet.Packet) {
	state := map[string]string{
		"time_utc":    time.Now().UTC().Format(time.RFC3339),
		"sleep_state": string(e.sleep.State()),
		"prime_model": e.pool.Resolve("prime"),
		"lite_model":  e.pool.Resolve("lite"),
	}
	if e.pool.GPUReleased() {
		state["gpu"] = "released for study"
	} else if loaded := e.pool.GPUModelsLoaded(); len(loaded) > 0 {
		state["gpu"] = "serving " + strings.Join(loaded, ", ")
	}
	if n := e.sleep.QueueLen(); n > 0 {
		state["queued_packets"] = fmt.Sprintf("%d", n)
	}
	if p.Context.KnowledgeBaseName != "" {
		state["active_knowledge_base"] = p.Context.KnowledgeBaseName
	}

	if owner, unhealthy, ok := e.platformSnapshot(ctx); ok {
		if owner != "" {
			state["gpu_owner"] = owner
		}
		if len(unhealthy) > 0 {
			state["unhealthy_services"] = strings.Join(unhealthy, ", ")
		}
	}
	p.Context.WorldState = state
}

// platformSnapshot reads the orchestrator's /status view, cached for
// platformStatusTTL. Failures leave the world state without platform
// facts rather than delaying the turn.
func (e *Engine) platformSnapshot(ctx context.Context) (string, []string, bool) {
	if e.cfg.Services.Orchestrator == "" {
		return "", nil, false
	}

	e.platform.mu.Lock()
	defer e.platform.mu.Unlock()
	if time.Since(e.platform.fetchedAt) < platformStatusTTL {
		return e.platform.gpuOwner, e.platform.unhealthy, true
	}
	// Refresh attempts are also throttled when the orchestrator is down.
	e.platform.fetchedAt = time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.cfg.Services.Orchestrator+"/status", nil)
	if err != nil {
		return "", nil, false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.log.Debug("Orchestrator status unavailable", "error", err)
		return e.platform.gpuOwner, e.platform.unhealthy, e.platform.gpuOwner != ""
	}
	defer resp.Body.Close()

	var body struct {
		GPUOwner string `json:"gpu_owner"`
		Services []struct {
			Name    string `json:"name"`
			Healthy bool   `json:"healthy"`
		} `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", nil, false
	}

	e.platform.gpuOwner = body.GPUOwner
	e.platform.unhealthy = nil
	for _, svc := range body.Services {
		if !svc.Healthy {
			e.platform.unhealthy = append(e.platform.unhealthy, svc.Name)
		}
	}
	return e.platform.gpuOwner, e.platform.unhealthy, true
}
