package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/azraeltruthsay/gaia-sub000/pkg/llms"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
	"github.com/azraeltruthsay/gaia-sub000/pkg/tools"
)

// toolSelection is the strict JSON contract the Lite selector must emit.
type toolSelection struct {
	SelectedTool *string        `json:"selected_tool"`
	Params       map[string]any `json:"params"`
	Reasoning    string         `json:"reasoning"`
	Confidence   float64        `json:"confidence"`
	Alternatives []string       `json:"alternatives"`
}

// toolReview is the Prime reviewer's verdict.
type toolReview struct {
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// extractJSONObject finds the first balanced JSON object in model
// output, tolerating prose and code fences around it.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// routeTool runs the two-stage routing protocol: Lite selects, Prime
// reviews, and the composite confidence gates execution. Every outcome
// lands the packet in a terminal execution status.
func (e *Engine) routeTool(ctx context.Context, p *packet.Packet, catalog []tools.ToolInfo) {
	tr := p.EnsureToolRouting(e.cfg.Session.MaxReinjections)
	tr.NeedsTool = true

	selection, err := e.selectTool(ctx, p, catalog)
	if err != nil || selection == nil || selection.SelectedTool == nil {
		tr.Skip("no suitable tool selected")
		p.Reflect("tool_routing", "selector returned no tool", 0)
		return
	}

	tr.SelectedTool = &packet.SelectedTool{
		Name:                *selection.SelectedTool,
		Params:              selection.Params,
		SelectionReasoning:  selection.Reasoning,
		SelectionConfidence: selection.Confidence,
	}
	tr.AlternativeTools = selection.Alternatives
	if err := tr.Transition(packet.StatusAwaitingConfidence); err != nil {
		e.log.Warn("Tool routing state error", "error", err)
		return
	}

	review := e.reviewSelection(ctx, p, tr.SelectedTool)
	tr.ReviewConfidence = review.Confidence
	tr.ReviewReasoning = review.Reasoning

	composite := (selection.Confidence + review.Confidence) / 2
	if !review.Approved || composite < e.cfg.ToolRouting.CompositeThreshold {
		tr.Skip(fmt.Sprintf("composite confidence %.2f below threshold", composite))
		p.Reflect("tool_routing", fmt.Sprintf("tool %s skipped at confidence %.2f", tr.SelectedTool.Name, composite), composite)
		return
	}

	if err := tr.Transition(packet.StatusApproved); err != nil {
		e.log.Warn("Tool routing state error", "error", err)
		return
	}
	e.executeSelected(ctx, p, tr)
}

// selectTool asks the Lite model to pick one tool, or null, from the
// catalog at low temperature.
func (e *Engine) selectTool(ctx context.Context, p *packet.Packet, catalog []tools.ToolInfo) (*toolSelection, error) {
	provider, err := e.pool.AcquireForRole(ctx, "lite")
	if err != nil {
		return nil, err
	}
	defer e.pool.Release(provider.Name())

	var sb strings.Builder
	for _, info := range catalog {
		fmt.Fprintf(&sb, "- %s: %s\n", info.Name, info.Description)
	}

	system := "You are a tool router. Available tools:\n" + sb.String() +
		"\nPick the single best tool for the user's request, or null if none applies." +
		" Respond with JSON only, exactly this shape:" +
		` {"selected_tool": "<name or null>", "params": {}, "reasoning": "", "confidence": 0.0, "alternatives": []}`

	text, _, err := provider.ChatCompletion(ctx, []llms.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: p.Content.OriginalPrompt},
	}, llms.Params{Temperature: e.cfg.ToolRouting.SelectorTemperature, MaxTokens: 512})
	if err != nil {
		return nil, err
	}

	raw := extractJSONObject(text)
	if raw == "" {
		return nil, fmt.Errorf("selector returned no JSON object")
	}
	var sel toolSelection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return nil, fmt.Errorf("selector JSON: %w", err)
	}
	if sel.SelectedTool != nil && *sel.SelectedTool == "null" {
		sel.SelectedTool = nil
	}
	return &sel, nil
}

// reviewSelection asks the Prime model to second-guess the Lite pick.
// A failed review degrades to an unapproved verdict, never an error.
func (e *Engine) reviewSelection(ctx context.Context, p *packet.Packet, sel *packet.SelectedTool) toolReview {
	provider, err := e.pool.AcquireForRole(ctx, "prime")
	if err != nil {
		// With no reviewer available the selector stands alone.
		return toolReview{Approved: true, Confidence: sel.SelectionConfidence, Reasoning: "reviewer unavailable"}
	}
	defer e.pool.Release(provider.Name())

	params, _ := json.Marshal(sel.Params)
	system := "You review a proposed tool call before execution. Consider whether the tool and" +
		" parameters actually serve the user's request and whether execution is safe." +
		` Respond with JSON only: {"approved": true, "confidence": 0.0, "reasoning": ""}`
	user := fmt.Sprintf("Request: %s\n\nProposed call: %s(%s)\nSelector reasoning: %s",
		p.Content.OriginalPrompt, sel.Name, params, sel.SelectionReasoning)

	text, _, err := provider.ChatCompletion(ctx, []llms.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, llms.Params{Temperature: e.cfg.ToolRouting.ReviewTemperature, MaxTokens: 256})
	if err != nil {
		return toolReview{Approved: false, Reasoning: "review failed: " + err.Error()}
	}

	var review toolReview
	if raw := extractJSONObject(text); raw != "" {
		if err := json.Unmarshal([]byte(raw), &review); err == nil {
			return review
		}
	}
	return toolReview{Approved: false, Reasoning: "reviewer returned unparseable output"}
}

// approvalID extracts the approval handle from a pending-approval
// error, or returns empty.
func approvalID(err error) string {
	var pending *tools.ApprovalPendingError
	if errors.As(err, &pending) {
		return pending.ApprovalID
	}
	return ""
}

// executeSelected calls the tool server and records the outcome. A
// sensitive tool parked in the approval queue is not a failure; the
// user gets an acknowledgment instead of a result.
func (e *Engine) executeSelected(ctx context.Context, p *packet.Packet, tr *packet.ToolRouting) {
	start := time.Now()
	result, err := e.tools.Call(ctx, tr.SelectedTool.Name, tr.SelectedTool.Params, p.Header.SessionID)

	var pending *tools.ApprovalPendingError
	if errors.As(err, &pending) {
		tr.ExecutionResult = &packet.ExecutionResult{
			Success:  false,
			Output:   fmt.Sprintf("queued for approval (id %s)", pending.ApprovalID),
			Duration: time.Since(start),
		}
		if terr := tr.Transition(packet.StatusUserDenied); terr != nil {
			e.log.Warn("Tool routing state error", "error", terr)
		}
		p.AddField("tool_approval_pending", pending.ApprovalID, packet.FieldSystemHint, "tool_server")
		p.Reflect("tool_execution", "sensitive tool queued for user approval", tr.ReviewConfidence)
		return
	}
	if err != nil {
		tr.ExecutionResult = &packet.ExecutionResult{
			Success: false, Error: err.Error(), Duration: time.Since(start),
		}
		if terr := tr.Transition(packet.StatusFailed); terr != nil {
			e.log.Warn("Tool routing state error", "error", terr)
		}
		p.Reflect("tool_execution", "tool call failed: "+err.Error(), 0)
		return
	}

	tr.ExecutionResult = &packet.ExecutionResult{
		Success:  result.Success,
		Output:   result.Content,
		Error:    result.Error,
		Duration: time.Since(start),
	}
	next := packet.StatusExecuted
	if !result.Success {
		next = packet.StatusFailed
	}
	if terr := tr.Transition(next); terr != nil {
		e.log.Warn("Tool routing state error", "error", terr)
	}
	if result.Success {
		p.AddField("tool_result_"+tr.SelectedTool.Name, result.Content, packet.FieldToolResult, "tool_server")
	}
	p.Reflect("tool_execution", fmt.Sprintf("%s finished with status %s", tr.SelectedTool.Name, tr.ExecutionStatus), tr.ReviewConfidence)
}
