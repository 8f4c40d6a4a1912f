// Package orchestrator owns the cross-service concerns that no single
// service can decide alone: which process holds the GPU, whether the
// live stack is healthy enough to keep routing to, and how fresh the
// hot standby's copy of session state is.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/ha"
	"github.com/azraeltruthsay/gaia-sub000/pkg/httpclient"
	"github.com/azraeltruthsay/gaia-sub000/pkg/metrics"
)

// GPUState tracks which process owns the card. Only the orchestrator
// mutates it, and every mutation happens under the ownership mutex.
type GPUState string

const (
	StateCore           GPUState = "CORE"
	StateStudy          GPUState = "STUDY"
	StateHandingToStudy GPUState = "HANDING_OFF_TO_STUDY"
	StateHandingToCore  GPUState = "HANDING_OFF_TO_CORE"
	StateUnclaimed      GPUState = "UNCLAIMED"
	StateError          GPUState = "ERROR"
)

const (
	// vramReleasedMiB is the ceiling below which the card counts as free.
	vramReleasedMiB  = 500
	vramPollInterval = 1 * time.Second
	vramWaitMax      = 30 * time.Second

	healthPollInterval = 3 * time.Second
	healthWaitMax      = 120 * time.Second
)

// Orchestrator drives GPU handoff between the generation backend and
// the training service, and records the sleep timestamp the engine
// reports when it releases the card for a sleep cycle.
type Orchestrator struct {
	cfg         *config.Config
	log         *slog.Logger
	http        *httpclient.Client
	containers  ContainerRuntime
	vram        VRAMProber
	maintenance *ha.MaintenanceFlag
	watchdog    *Watchdog

	mu          sync.Mutex
	state       GPUState
	lastSleep   time.Time
	lastHandoff time.Time
	lastError   string
}

type Deps struct {
	Config      *config.Config
	Log         *slog.Logger
	HTTP        *httpclient.Client
	Containers  ContainerRuntime
	VRAM        VRAMProber
	Maintenance *ha.MaintenanceFlag
	Watchdog    *Watchdog
}

func New(deps Deps) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	httpc := deps.HTTP
	if httpc == nil {
		httpc = httpclient.New()
	}
	return &Orchestrator{
		cfg:         deps.Config,
		log:         log.With("component", "orchestrator"),
		http:        httpc,
		containers:  deps.Containers,
		vram:        deps.VRAM,
		maintenance: deps.Maintenance,
		watchdog:    deps.Watchdog,
		state:       StateCore,
	}
}

// State returns a read-only snapshot of GPU ownership.
func (o *Orchestrator) State() GPUState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastSleep reports when the engine last released the GPU for sleep.
func (o *Orchestrator) LastSleep() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSleep
}

// begin moves the state machine into a transition, rejecting requests
// that arrive while another handoff is in flight or from the wrong
// owner. Handoffs are serialized globally through the ownership mutex.
func (o *Orchestrator) begin(from, transit GPUState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == transit {
		return fmt.Errorf("handoff already in progress (state %s)", o.state)
	}
	if o.state != from {
		return fmt.Errorf("handoff requires state %s, currently %s", from, o.state)
	}
	o.state = transit
	return nil
}

func (o *Orchestrator) commit(target GPUState) {
	o.mu.Lock()
	o.state = target
	o.lastHandoff = time.Now()
	o.lastError = ""
	o.mu.Unlock()
	metrics.HandoffTransitions.WithLabelValues(string(target), "success").Inc()
}

func (o *Orchestrator) fail(target GPUState, err error) error {
	o.mu.Lock()
	o.state = StateError
	o.lastError = err.Error()
	o.mu.Unlock()
	metrics.HandoffTransitions.WithLabelValues(string(target), "failure").Inc()
	o.log.Error("Handoff failed", "target", target, "error", err)
	return err
}

// HandoffToStudy hands the GPU from the generation backend to the
// training service. Sequence: stop the generation container, demote the
// engine's pool, confirm VRAM drained, signal the trainer.
func (o *Orchestrator) HandoffToStudy(ctx context.Context, reason string) error {
	if err := o.begin(StateCore, StateHandingToStudy); err != nil {
		return err
	}
	if reason == "sleep" {
		o.mu.Lock()
		o.lastSleep = time.Now()
		o.mu.Unlock()
	}
	o.log.Info("Handing GPU to study", "reason", reason)

	if err := o.containers.Stop(ctx, o.cfg.Services.GenerationContainer); err != nil {
		return o.fail(StateStudy, fmt.Errorf("failed to stop generation container: %w", err))
	}
	if err := o.post(ctx, o.cfg.Services.Engine+"/gpu/release", nil); err != nil {
		return o.fail(StateStudy, fmt.Errorf("engine refused gpu release: %w", err))
	}
	if err := o.waitVRAMReleased(ctx); err != nil {
		return o.fail(StateStudy, err)
	}
	if err := o.post(ctx, o.cfg.Services.Training+"/study/gpu-ready", nil); err != nil {
		return o.fail(StateStudy, fmt.Errorf("training service not ready: %w", err))
	}

	o.commit(StateStudy)
	o.log.Info("GPU owner is now study")
	return nil
}

// HandoffToCore returns the GPU to the generation backend: the trainer
// releases, VRAM drains, the container restarts, health comes back, and
// the engine reloads its pool entries.
func (o *Orchestrator) HandoffToCore(ctx context.Context) error {
	if err := o.begin(StateStudy, StateHandingToCore); err != nil {
		return err
	}
	o.log.Info("Handing GPU back to core")

	if err := o.post(ctx, o.cfg.Services.Training+"/study/gpu-release", nil); err != nil {
		return o.fail(StateCore, fmt.Errorf("training service refused release: %w", err))
	}
	if err := o.waitVRAMReleased(ctx); err != nil {
		return o.fail(StateCore, err)
	}
	if err := o.containers.Start(ctx, o.cfg.Services.GenerationContainer); err != nil {
		return o.fail(StateCore, fmt.Errorf("failed to start generation container: %w", err))
	}
	if err := o.waitHealthy(ctx, o.cfg.Services.Generation+"/health"); err != nil {
		return o.fail(StateCore, err)
	}
	if err := o.post(ctx, o.cfg.Services.Engine+"/gpu/reclaim", nil); err != nil {
		return o.fail(StateCore, fmt.Errorf("engine failed to reclaim pool: %w", err))
	}

	o.commit(StateCore)
	o.log.Info("GPU owner is now core")
	return nil
}

func (o *Orchestrator) post(ctx context.Context, url string, body any) error {
	if body == nil {
		body = map[string]string{}
	}
	resp, err := o.http.PostJSON(ctx, url, body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (o *Orchestrator) waitVRAMReleased(ctx context.Context) error {
	deadline := time.Now().Add(vramWaitMax)
	for {
		used, err := o.vram.UsedMiB(ctx)
		if err == nil && used < vramReleasedMiB {
			return nil
		}
		if err != nil {
			o.log.Warn("VRAM probe failed", "error", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("VRAM still at %d MiB after %s", used, vramWaitMax)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(vramPollInterval):
		}
	}
}

func (o *Orchestrator) waitHealthy(ctx context.Context, healthURL string) error {
	deadline := time.Now().Add(healthWaitMax)
	for time.Now().Before(deadline) {
		if probeHealth(ctx, healthURL) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}
	return fmt.Errorf("service at %s not healthy within %s", healthURL, healthWaitMax)
}
