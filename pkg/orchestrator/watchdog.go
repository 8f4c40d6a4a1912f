package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/azraeltruthsay/gaia-sub000/pkg/checkpoint"
	"github.com/azraeltruthsay/gaia-sub000/pkg/ha"
	"github.com/azraeltruthsay/gaia-sub000/pkg/metrics"
)

// ServiceTarget names one watched service and where its live and
// candidate instances answer /health. CandidateURL is empty for
// services without a standby.
type ServiceTarget struct {
	Name         string
	LiveURL      string
	CandidateURL string
}

// ServiceStatus is the per-service slice of the /status payload.
type ServiceStatus struct {
	Name           string `json:"name"`
	Healthy        bool   `json:"healthy"`
	ConsecFailures int    `json:"consec_failures"`
	HAStatus       string `json:"ha_status"`
}

type serviceHealth struct {
	liveHealthy      bool
	candidateHealthy bool
	consecFailures   int
	haStatus         string
}

// Watchdog polls every watched service on a fixed cycle, tracking
// consecutive failures rather than binary state, and kicks the session
// sync on the same cycle.
type Watchdog struct {
	log         *slog.Logger
	interval    time.Duration
	targets     []ServiceTarget
	checkpoints *checkpoint.Store
	maintenance *ha.MaintenanceFlag
	syncer      *Syncer

	mu     sync.Mutex
	health map[string]*serviceHealth
}

type WatchdogDeps struct {
	Log         *slog.Logger
	IntervalSec int
	Targets     []ServiceTarget
	Checkpoints *checkpoint.Store
	Maintenance *ha.MaintenanceFlag
	Syncer      *Syncer
}

func NewWatchdog(deps WatchdogDeps) *Watchdog {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	interval := time.Duration(deps.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watchdog{
		log:         log.With("component", "watchdog"),
		interval:    interval,
		targets:     deps.Targets,
		checkpoints: deps.Checkpoints,
		maintenance: deps.Maintenance,
		syncer:      deps.Syncer,
		health:      make(map[string]*serviceHealth),
	}
}

// Run polls until the context ends. One poll happens immediately so the
// /status endpoint is meaningful at startup.
func (wd *Watchdog) Run(ctx context.Context) {
	wd.pollOnce(ctx)
	ticker := time.NewTicker(wd.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wd.pollOnce(ctx)
		}
	}
}

func (wd *Watchdog) pollOnce(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, target := range wd.targets {
		g.Go(func() error {
			wd.probeTarget(gctx, target)
			return nil
		})
	}
	_ = g.Wait()

	if wd.syncer != nil && (wd.maintenance == nil || !wd.maintenance.Active()) {
		if err := wd.syncer.Sync(ctx); err != nil {
			wd.log.Warn("Session sync failed", "error", err)
		}
	}
}

func (wd *Watchdog) probeTarget(ctx context.Context, target ServiceTarget) {
	liveOK := probeHealth(ctx, target.LiveURL)
	candOK := target.CandidateURL != "" && probeHealth(ctx, target.CandidateURL)

	metrics.ServiceHealthy.WithLabelValues(target.Name, "live").Set(boolGauge(liveOK))
	if target.CandidateURL != "" {
		metrics.ServiceHealthy.WithLabelValues(target.Name, "candidate").Set(boolGauge(candOK))
	}

	wd.mu.Lock()
	h, ok := wd.health[target.Name]
	if !ok {
		h = &serviceHealth{}
		wd.health[target.Name] = h
	}
	if liveOK {
		h.consecFailures = 0
	} else {
		h.consecFailures++
	}
	h.liveHealthy = liveOK
	h.candidateHealthy = candOK

	prev := h.haStatus
	h.haStatus = haStatus(liveOK, candOK, target.CandidateURL != "")
	status := h.haStatus
	failures := h.consecFailures
	wd.mu.Unlock()

	if status != prev && (status == "degraded" || status == "failed" || status == "failover_active") {
		wd.log.Warn("Service HA status changed",
			"service", target.Name, "status", status, "consec_failures", failures)
		if wd.checkpoints != nil {
			obs := fmt.Sprintf("Noticed %s is %s (%d consecutive failures).",
				target.Name, status, failures)
			if err := wd.checkpoints.AppendObservation(obs); err != nil {
				wd.log.Warn("Failed to record observation", "error", err)
			}
		}
	}
}

// Snapshot returns per-service status sorted by name.
func (wd *Watchdog) Snapshot() []ServiceStatus {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	out := make([]ServiceStatus, 0, len(wd.health))
	for name, h := range wd.health {
		out = append(out, ServiceStatus{
			Name:           name,
			Healthy:        h.liveHealthy,
			ConsecFailures: h.consecFailures,
			HAStatus:       h.haStatus,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// haStatus classifies the live/candidate pair. Services without a
// standby only report active or failed.
func haStatus(liveOK, candOK, hasCandidate bool) string {
	if !hasCandidate {
		if liveOK {
			return "active"
		}
		return "failed"
	}
	switch {
	case liveOK && candOK:
		return "active"
	case liveOK && !candOK:
		return "degraded"
	case !liveOK && candOK:
		return "failover_active"
	default:
		return "failed"
	}
}

var healthHTTP = &http.Client{Timeout: 5 * time.Second}

// probeHealth treats a 2xx response with a non-error status field as
// healthy. Anything else, including transport failure, is unhealthy.
func probeHealth(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := healthHTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Status == "healthy" || body.Status == "ok"
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
