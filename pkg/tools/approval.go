package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
	ApprovalExpired  = "expired"
)

// DefaultApprovalTTL bounds how long a pending request stays actionable.
const DefaultApprovalTTL = 24 * time.Hour

// Approval is one queued sensitive tool call awaiting a user decision.
type Approval struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	Result    *ToolResult    `json:"result,omitempty"`
}

// ApprovalQueue holds sensitive tool calls until a user approves or
// denies them. Approved calls execute immediately through the registry.
type ApprovalQueue struct {
	mu       sync.Mutex
	entries  map[string]*Approval
	registry *Registry
	ttl      time.Duration
}

func NewApprovalQueue(registry *Registry, ttl time.Duration) *ApprovalQueue {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	return &ApprovalQueue{
		entries:  make(map[string]*Approval),
		registry: registry,
		ttl:      ttl,
	}
}

// Enqueue records a sensitive call and returns its approval ID.
func (q *ApprovalQueue) Enqueue(toolName string, args map[string]any, sessionID, reason string) *Approval {
	approval := &Approval{
		ID:        uuid.NewString(),
		ToolName:  toolName,
		Arguments: args,
		SessionID: sessionID,
		Reason:    reason,
		Status:    ApprovalPending,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	q.entries[approval.ID] = approval
	q.mu.Unlock()

	slog.Info("Sensitive tool call queued for approval",
		"approval_id", approval.ID, "tool", toolName, "session", sessionID)
	return approval
}

// Get returns one approval by ID.
func (q *ApprovalQueue) Get(id string) (*Approval, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	approval, ok := q.entries[id]
	if ok {
		q.expireLocked(approval)
	}
	return approval, ok
}

// Pending lists pending approvals oldest first.
func (q *ApprovalQueue) Pending() []*Approval {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*Approval
	for _, approval := range q.entries {
		q.expireLocked(approval)
		if approval.Status == ApprovalPending {
			pending = append(pending, approval)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending
}

// Approve executes the queued call and stores its result.
func (q *ApprovalQueue) Approve(ctx context.Context, id string) (*Approval, error) {
	q.mu.Lock()
	approval, ok := q.entries[id]
	if ok {
		q.expireLocked(approval)
	}
	if !ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("approval %q not found", id)
	}
	if approval.Status != ApprovalPending {
		q.mu.Unlock()
		return nil, fmt.Errorf("approval %q is %s, not pending", id, approval.Status)
	}
	approval.Status = ApprovalApproved
	q.mu.Unlock()

	result, err := q.registry.ExecuteTool(ctx, approval.ToolName, approval.Arguments)
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}

	q.mu.Lock()
	approval.Result = &result
	q.mu.Unlock()

	slog.Info("Approved tool call executed",
		"approval_id", id, "tool", approval.ToolName, "success", result.Success)
	return approval, nil
}

// Deny marks the queued call denied without executing it.
func (q *ApprovalQueue) Deny(id string) (*Approval, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	approval, ok := q.entries[id]
	if ok {
		q.expireLocked(approval)
	}
	if !ok {
		return nil, fmt.Errorf("approval %q not found", id)
	}
	if approval.Status != ApprovalPending {
		return nil, fmt.Errorf("approval %q is %s, not pending", id, approval.Status)
	}
	approval.Status = ApprovalDenied
	slog.Info("Tool call denied", "approval_id", id, "tool", approval.ToolName)
	return approval, nil
}

func (q *ApprovalQueue) expireLocked(approval *Approval) {
	if approval.Status == ApprovalPending && time.Since(approval.CreatedAt) > q.ttl {
		approval.Status = ApprovalExpired
	}
}
