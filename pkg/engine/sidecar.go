package engine

import (
	"context"
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

// EXECUTE directives are emitted inline by the model and parsed out of
// the candidate text. The arguments are either a JSON object or a bare
// shell-style string folded into {"command": ...}.
var executePattern = regexp.MustCompile(`(?m)^\s*EXECUTE:\s*([\w.-]+)\s*(.*)$`)

// parseSidecarActions strips EXECUTE lines from the candidate and
// returns them as structured actions. A directive that duplicates the
// already-executed routed tool is dropped.
func parseSidecarActions(p *packet.Packet, candidate string) (string, []packet.SidecarAction) {
	matches := executePattern.FindAllStringSubmatch(candidate, -1)
	if len(matches) == 0 {
		return candidate, nil
	}

	cleaned := strings.TrimSpace(executePattern.ReplaceAllString(candidate, ""))
	var actions []packet.SidecarAction
	for _, m := range matches {
		action := packet.SidecarAction{Tool: m[1], Raw: strings.TrimSpace(m[0])}
		argText := strings.TrimSpace(m[2])
		if argText != "" {
			if raw := extractJSONObject(argText); raw != "" {
				var params map[string]any
				if err := json.Unmarshal([]byte(raw), &params); err == nil {
					action.Params = params
				}
			}
			if action.Params == nil {
				action.Params = map[string]any{"command": argText}
			}
		}
		if duplicatesExecuted(p, action) {
			continue
		}
		actions = append(actions, action)
	}
	return cleaned, actions
}

// duplicatesExecuted reports whether the action repeats the routed tool
// call that already ran this turn. EXECUTED is sticky.
func duplicatesExecuted(p *packet.Packet, action packet.SidecarAction) bool {
	tr := p.ToolRouting
	if tr == nil || tr.ExecutionStatus != packet.StatusExecuted || tr.SelectedTool == nil {
		return false
	}
	if tr.SelectedTool.Name != action.Tool {
		return false
	}
	return paramsEqual(tr.SelectedTool.Params, action.Params)
}

func paramsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// safetyVerdict is the tiered gate's decision for one sidecar action.
type safetyVerdict int

const (
	verdictPass safetyVerdict = iota
	verdictApproval
)

// gateSidecarAction applies the tiered safety gate: a governance
// allow-list entry passes, tools in the safe set pass, everything else
// goes to the approval queue.
func (e *Engine) gateSidecarAction(action packet.SidecarAction) safetyVerdict {
	if e.governanceAllowed(action) {
		return verdictPass
	}
	for _, name := range e.cfg.SafeSidecar {
		if name == action.Tool {
			return verdictPass
		}
	}
	return verdictApproval
}

// governanceAllowed checks for an explicit allow marker carried in the
// action params. The marker is set only by system-origin packets.
func (e *Engine) governanceAllowed(action packet.SidecarAction) bool {
	allow, ok := action.Params["governance_allow"].(bool)
	if !ok || !allow {
		return false
	}
	id, _ := action.Params["whitelist_id"].(string)
	return id != ""
}

// runSidecarActions executes gated actions and records results on the
// packet. Approval-routed actions produce a pending acknowledgment.
func (e *Engine) runSidecarActions(ctx context.Context, p *packet.Packet) {
	for _, action := range p.Response.SidecarActions {
		if e.gateSidecarAction(action) == verdictApproval {
			e.queueSidecarApproval(ctx, p, action)
			continue
		}

		params := action.Params
		delete(params, "governance_allow")
		delete(params, "whitelist_id")
		result, err := e.tools.Call(ctx, action.Tool, params, p.Header.SessionID)
		if err != nil {
			e.log.Warn("Sidecar action failed", "tool", action.Tool, "error", err)
			p.Reflect("sidecar", "action "+action.Tool+" failed: "+err.Error(), 0)
			continue
		}
		p.AddField("sidecar_result_"+action.Tool, result.Content, packet.FieldToolResult, "tool_server")
		p.Reflect("sidecar", "executed "+action.Tool, 1)
	}
}

// queueSidecarApproval sends the sensitive action to the tool server,
// which parks it and replies with an approval handle.
func (e *Engine) queueSidecarApproval(ctx context.Context, p *packet.Packet, action packet.SidecarAction) {
	_, err := e.tools.Call(ctx, action.Tool, action.Params, p.Header.SessionID)
	if pending := approvalID(err); pending != "" {
		p.AddField("tool_approval_pending", pending, packet.FieldSystemHint, "tool_server")
		p.Reflect("sidecar", "action "+action.Tool+" queued for approval", 1)
		return
	}
	if err != nil {
		e.log.Warn("Sidecar approval routing failed", "tool", action.Tool, "error", err)
	}
}
