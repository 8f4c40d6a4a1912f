package engine

import (
	"encoding/json"
	"sync"

	"github.com/azraeltruthsay/gaia-sub000/pkg/engine/loopdetect"
	"github.com/azraeltruthsay/gaia-sub000/pkg/metrics"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

const loopWindowSize = 8

// loopTracker keeps the in-memory activity windows the detectors vote
// over. Windows are rebuilt from scratch on restart; persistent loop
// state (warn, reset count) lives on the session.
type loopTracker struct {
	mu      sync.Mutex
	windows map[string]*loopdetect.Window
}

func newLoopTracker() *loopTracker {
	return &loopTracker{windows: make(map[string]*loopdetect.Window)}
}

func (t *loopTracker) window(sessionID string) loopdetect.Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.windows[sessionID]; ok {
		return *w
	}
	return loopdetect.Window{}
}

// record appends this turn's activity, trimming each track to the
// window size.
func (t *loopTracker) record(sessionID string, p *packet.Packet, response string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[sessionID]
	if !ok {
		w = &loopdetect.Window{}
		t.windows[sessionID] = w
	}

	if tr := p.ToolRouting; tr != nil && tr.SelectedTool != nil {
		params, _ := json.Marshal(tr.SelectedTool.Params)
		call := loopdetect.ToolCall{Name: tr.SelectedTool.Name, Params: string(params)}
		if tr.ExecutionResult != nil {
			call.Result = tr.ExecutionResult.Output
			if call.Result == "" {
				call.Result = tr.ExecutionResult.Error
			}
			if tr.ExecutionResult.Error != "" {
				w.Errors = append(w.Errors, tr.ExecutionResult.Error)
			}
		}
		w.ToolCalls = append(w.ToolCalls, call)
		w.States = append(w.States, string(tr.ExecutionStatus))
	}
	if response != "" {
		w.Outputs = append(w.Outputs, response)
	}

	trim := func(n int) int {
		if n > loopWindowSize {
			return n - loopWindowSize
		}
		return 0
	}
	w.ToolCalls = w.ToolCalls[trim(len(w.ToolCalls)):]
	w.Outputs = w.Outputs[trim(len(w.Outputs)):]
	w.States = w.States[trim(len(w.States)):]
	w.Errors = w.Errors[trim(len(w.Errors)):]
}

// checkLoop records the turn, runs the aggregator, and applies the
// warn-then-reset ladder to the persisted loop state. On reset it
// returns the recovery block for injection into the next turn.
func (e *Engine) checkLoop(p *packet.Packet, response string) {
	sessionID := p.Header.SessionID
	e.loops.record(sessionID, p, response)

	state := e.sessions.LoopStateFor(sessionID)
	decision := e.detector.Evaluate(e.loops.window(sessionID), state.WarnIssued, state.ResetCount)
	if !decision.Triggered {
		return
	}
	metrics.LoopTriggers.WithLabelValues(topDetector(decision), string(decision.Action)).Inc()

	switch decision.Action {
	case loopdetect.ActionWarn:
		state.WarnIssued = true
		state.WarnAgeTurns = 0
		state.LastPattern = decision.Pattern
		p.Reflect("loop_detection", "warning issued: "+decision.Pattern, topConfidence(decision))

	case loopdetect.ActionReset, loopdetect.ActionEscalate:
		state.ResetCount++
		state.WarnIssued = false
		state.WarnAgeTurns = 0
		state.LastPattern = decision.Pattern

		recovery := loopdetect.RecoveryBlock(state.ResetCount, decision.Pattern, previousAttempts(p))
		p.AddField("loop_recovery", recovery, packet.FieldSystemHint, "loop_detector")
		p.LoopState = &packet.LoopState{
			ResetCount:       state.ResetCount,
			WarnIssued:       false,
			PreviousAttempts: previousAttempts(p),
		}
		summary := "reset fired: " + decision.Pattern
		if decision.Action == loopdetect.ActionEscalate {
			summary = "escalated to user intervention: " + decision.Pattern
		}
		p.Reflect("loop_detection", summary, topConfidence(decision))
	}

	if err := e.sessions.SetLoopState(sessionID, state); err != nil {
		e.log.Warn("Loop state persist failed", "session", sessionID, "error", err)
	}
}

// recoveryHint returns the recovery block to inject into the next
// turn's context while a reset is pending.
func (e *Engine) recoveryHint(sessionID string) string {
	state := e.sessions.LoopStateFor(sessionID)
	if state.ResetCount == 0 || state.LastPattern == "" {
		return ""
	}
	return loopdetect.RecoveryBlock(state.ResetCount, state.LastPattern, nil)
}

func previousAttempts(p *packet.Packet) []string {
	var attempts []string
	if tr := p.ToolRouting; tr != nil && tr.SelectedTool != nil {
		attempts = append(attempts, tr.SelectedTool.Name)
	}
	return attempts
}

func topDetector(d loopdetect.Decision) string {
	best, name := 0.0, "none"
	for _, s := range d.Signals {
		if s.Confidence > best {
			best, name = s.Confidence, s.Detector
		}
	}
	return name
}

func topConfidence(d loopdetect.Decision) float64 {
	best := 0.0
	for _, s := range d.Signals {
		if s.Confidence > best {
			best = s.Confidence
		}
	}
	return best
}
