// Package sleep manages the engine's sleep/wake lifecycle:
// AWAKE → ENTERING_SLEEP → SLEEPING → WAKING → AWAKE. Transitions are
// non-reentrant and guarded by a mutex; packets arriving while sleeping are
// queued and replayed after wake.
package sleep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

type State string

const (
	StateAwake         State = "AWAKE"
	StateEnteringSleep State = "ENTERING_SLEEP"
	StateSleeping      State = "SLEEPING"
	StateWaking        State = "WAKING"
)

// Hooks are the engine-supplied transition actions. Each may be nil.
type Hooks struct {
	// WriteCheckpoints persists prime.md and lite.md with the sleep anchor.
	WriteCheckpoints func(ctx context.Context, sleepStarted time.Time) error
	// NotifyRelease tells the orchestrator the GPU may be taken.
	NotifyRelease func(ctx context.Context) error
	// RequestReclaim asks the orchestrator for the GPU back and waits for
	// the generation backend to become healthy.
	RequestReclaim func(ctx context.Context) error
	// LoadWakeContext reads council notes and checkpoints into the engine.
	LoadWakeContext func(ctx context.Context) error
	// ProcessQueued replays one queued packet after wake.
	ProcessQueued func(ctx context.Context, p *packet.Packet)
}

type Manager struct {
	mu        sync.Mutex
	state     State
	sleptAt   time.Time
	wokeAt    time.Time
	queue     []*packet.Packet
	queueCap  int
	hooks     Hooks
}

func NewManager(hooks Hooks) *Manager {
	return &Manager{
		state:    StateAwake,
		queueCap: 64,
		hooks:    hooks,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Timestamps returns the last sleep and wake times.
func (m *Manager) Timestamps() (sleptAt, wokeAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sleptAt, m.wokeAt
}

// Enqueue holds a packet that arrived while not AWAKE. Returns false when
// the queue is full or the engine is awake.
func (m *Manager) Enqueue(p *packet.Packet) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateAwake {
		return false
	}
	if len(m.queue) >= m.queueCap {
		slog.Warn("Sleep queue full, dropping packet", "packet_id", p.Header.PacketID)
		return false
	}
	m.queue = append(m.queue, p)
	return true
}

// QueueLen reports the number of queued packets.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Sleep runs the ENTERING_SLEEP sequence: checkpoint, then release the
// GPU, then settle into SLEEPING. Returns an error if not currently AWAKE.
func (m *Manager) Sleep(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAwake {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot enter sleep from state %s", state)
	}
	m.state = StateEnteringSleep
	m.sleptAt = time.Now().UTC()
	sleptAt := m.sleptAt
	m.mu.Unlock()

	slog.Info("Entering sleep", "slept_at", sleptAt)

	if m.hooks.WriteCheckpoints != nil {
		if err := m.hooks.WriteCheckpoints(ctx, sleptAt); err != nil {
			slog.Error("Checkpoint write failed during sleep entry", "error", err)
		}
	}
	if m.hooks.NotifyRelease != nil {
		if err := m.hooks.NotifyRelease(ctx); err != nil {
			slog.Error("GPU release notification failed", "error", err)
		}
	}

	m.mu.Lock()
	m.state = StateSleeping
	m.mu.Unlock()
	slog.Info("Sleeping")
	return nil
}

// Wake runs the WAKING sequence: reclaim GPU, load council notes and
// checkpoints, replay queued packets, then AWAKE. Idempotent when already
// awake.
func (m *Manager) Wake(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateAwake:
		m.mu.Unlock()
		return nil
	case StateWaking, StateEnteringSleep:
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot wake from state %s", state)
	}
	m.state = StateWaking
	m.mu.Unlock()

	slog.Info("Waking")

	if m.hooks.RequestReclaim != nil {
		if err := m.hooks.RequestReclaim(ctx); err != nil {
			slog.Error("GPU reclaim failed during wake; continuing on fallbacks", "error", err)
		}
	}
	if m.hooks.LoadWakeContext != nil {
		if err := m.hooks.LoadWakeContext(ctx); err != nil {
			slog.Error("Wake context load failed", "error", err)
		}
	}

	m.mu.Lock()
	m.state = StateAwake
	m.wokeAt = time.Now().UTC()
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()

	slog.Info("Awake", "queued_packets", len(queued))
	if m.hooks.ProcessQueued != nil {
		for _, p := range queued {
			m.hooks.ProcessQueued(ctx, p)
		}
	}
	return nil
}
