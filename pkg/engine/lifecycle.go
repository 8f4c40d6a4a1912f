package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// writeCheckpoints persists prime.md and lite.md on sleep entry. The
// prime narrative carries the sleep anchor the wake path matches
// against council note timestamps.
func (e *Engine) writeCheckpoints(ctx context.Context, sleepStarted time.Time) error {
	narrative := e.primeNarrative(ctx)
	if err := e.checkpoints.WritePrime(narrative, sleepStarted); err != nil {
		return fmt.Errorf("prime checkpoint: %w", err)
	}
	if err := e.checkpoints.WriteLite("entering sleep, taking over as responder"); err != nil {
		return fmt.Errorf("lite journal: %w", err)
	}
	return nil
}

// primeNarrative summarizes the sessions Prime was serving. Best
// effort: an unavailable model still yields a usable checkpoint.
func (e *Engine) primeNarrative(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("## Active Sessions\n")
	for _, id := range e.sessions.IDs() {
		history := e.sessions.History(id)
		if len(history) == 0 {
			continue
		}
		last := history[len(history)-1]
		fmt.Fprintf(&b, "- %s: %d messages, last %s at %s\n",
			id, len(history), last.Role, last.Timestamp.Format(time.RFC3339))
	}
	return b.String()
}

// WriteCheckpointNow forces a checkpoint outside the sleep path. The
// anchor is the current time; a later sleep overwrites it.
func (e *Engine) WriteCheckpointNow(ctx context.Context) error {
	return e.writeCheckpoints(ctx, time.Now().UTC())
}

// notifyRelease demotes the GPU-holding pool entries and tells the
// orchestrator the card is free.
func (e *Engine) notifyRelease(ctx context.Context) error {
	if err := e.pool.ReleaseGPU(); err != nil {
		return err
	}
	if e.http == nil || e.cfg.Services.Orchestrator == "" {
		return nil
	}
	resp, err := e.http.PostJSON(ctx, e.cfg.Services.Orchestrator+"/handoff/prime-to-study", map[string]string{"reason": "sleep"})
	if err != nil {
		return fmt.Errorf("orchestrator release notify: %w", err)
	}
	resp.Body.Close()
	return nil
}

// requestReclaim asks the orchestrator for the GPU back and restores
// the demoted pool entries once granted.
func (e *Engine) requestReclaim(ctx context.Context) error {
	if e.http != nil && e.cfg.Services.Orchestrator != "" {
		resp, err := e.http.PostJSON(ctx, e.cfg.Services.Orchestrator+"/handoff/study-to-prime", map[string]string{"reason": "wake"})
		if err != nil {
			return fmt.Errorf("orchestrator reclaim request: %w", err)
		}
		resp.Body.Close()
	}
	return e.pool.ReclaimGPU(ctx)
}

// loadWakeContext consumes council notes newer than the sleep anchor
// and reads both checkpoints. The digest is injected into prompts
// until the next sleep.
func (e *Engine) loadWakeContext(ctx context.Context) error {
	anchor, err := e.checkpoints.Anchor()
	if err != nil {
		e.log.Warn("Sleep anchor unreadable, consuming all pending notes", "error", err)
	}

	notes, err := e.council.ConsumeSince(anchor)
	if err != nil {
		return fmt.Errorf("council consume: %w", err)
	}

	var b strings.Builder
	if len(notes) > 0 {
		b.WriteString("While you slept, your lighter self handled these and flagged them:\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "- [%s] %q: %s (reason: %s)\n",
				n.Timestamp.Format("2006-01-02 15:04"), n.UserPrompt, n.LiteQuickTake, n.EscalationReason)
		}
	}
	if prime, err := e.checkpoints.ReadPrime(); err == nil && prime != "" {
		b.WriteString("\nYour checkpoint from before sleep:\n" + prime)
	}
	if lite, err := e.checkpoints.ReadLite(); err == nil && lite != "" {
		b.WriteString("\nLite journal:\n" + lite)
	}

	e.setWakeContext(b.String())
	e.log.Info("Wake context loaded", "council_notes", len(notes))
	return nil
}
