package packet

import (
	"errors"
	"fmt"
)

var (
	ErrMissingPacketID  = errors.New("packet is missing packet_id")
	ErrMissingSessionID = errors.New("packet is missing session_id")
)

// ExecutionStatus is the tool-execution state machine. Transitions are
// driven only by the engine's tool-routing loop.
type ExecutionStatus string

const (
	StatusPending            ExecutionStatus = "PENDING"
	StatusAwaitingConfidence ExecutionStatus = "AWAITING_CONFIDENCE"
	StatusApproved           ExecutionStatus = "APPROVED"
	StatusExecuted           ExecutionStatus = "EXECUTED"
	StatusFailed             ExecutionStatus = "FAILED"
	StatusSkipped            ExecutionStatus = "SKIPPED"
	StatusUserDenied         ExecutionStatus = "USER_DENIED"
)

var validNext = map[ExecutionStatus][]ExecutionStatus{
	StatusPending:            {StatusAwaitingConfidence, StatusSkipped},
	StatusAwaitingConfidence: {StatusApproved, StatusSkipped, StatusUserDenied},
	StatusApproved:           {StatusExecuted, StatusFailed, StatusUserDenied},
}

// IsTerminal reports whether no further transition is allowed. EXECUTED is
// sticky: duplicate directives for an executed tool are dropped, never
// re-queued.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusSkipped, StatusUserDenied:
		return true
	}
	return false
}

// Transition moves the tool-routing block to the next status, enforcing the
// state machine.
func (tr *ToolRouting) Transition(next ExecutionStatus) error {
	current := tr.ExecutionStatus
	if current == "" {
		current = StatusPending
	}
	if current == next {
		return nil
	}
	if current.IsTerminal() {
		return fmt.Errorf("cannot transition from terminal status %s to %s", current, next)
	}
	for _, allowed := range validNext[current] {
		if allowed == next {
			tr.ExecutionStatus = next
			return nil
		}
	}
	return fmt.Errorf("invalid tool-execution transition %s -> %s", current, next)
}

// Skip forces the routing block to SKIPPED and records the reason.
func (tr *ToolRouting) Skip(reason string) {
	if !tr.ExecutionStatus.IsTerminal() {
		tr.ExecutionStatus = StatusSkipped
	}
	if reason != "" && tr.ReviewReasoning == "" {
		tr.ReviewReasoning = reason
	}
}

// Reinject bumps the reinjection counter. Exceeding the cap forces SKIPPED.
func (tr *ToolRouting) Reinject() bool {
	if tr.ReinjectionCount >= tr.MaxReinjections {
		tr.ExecutionStatus = StatusSkipped
		return false
	}
	tr.ReinjectionCount++
	return true
}
