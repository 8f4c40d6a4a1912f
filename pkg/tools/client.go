package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// ApprovalPendingError reports that a sensitive call was queued instead
// of executed. The caller surfaces the approval ID to the user.
type ApprovalPendingError struct {
	ApprovalID string
	Tool       string
}

func (e *ApprovalPendingError) Error() string {
	return fmt.Sprintf("tool %q requires user approval (approval %s)", e.Tool, e.ApprovalID)
}

// Client is the engine-side caller for the sidecar tool server. Tool
// calls are not idempotent, so there is no retry here; one attempt, one
// answer.
type Client struct {
	baseURL string
	client  *http.Client
	nextID  atomic.Int64
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// ListTools fetches the sidecar catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list failed: %s", resp.Error.Message)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog: %w", err)
	}
	return result.Tools, nil
}

// Call executes one tool. A 403 from the server means the call was
// queued for approval and comes back as *ApprovalPendingError.
func (c *Client) Call(ctx context.Context, name string, args map[string]any, sessionID string) (ToolResult, error) {
	resp, err := c.call(ctx, "tools/call", CallParams{
		Name:      name,
		Arguments: args,
		SessionID: sessionID,
	})
	if err != nil {
		return ToolResult{ToolName: name}, err
	}

	if resp.Error != nil {
		if resp.Error.Code == CodeApprovalRequired {
			approvalID := ""
			if data, ok := resp.Error.Data.(map[string]any); ok {
				approvalID, _ = data["approval_id"].(string)
			}
			return ToolResult{ToolName: name}, &ApprovalPendingError{ApprovalID: approvalID, Tool: name}
		}
		return ToolResult{ToolName: name}, fmt.Errorf("tool call failed: %s", resp.Error.Message)
	}

	return parseCallResult(name, resp.Result)
}

func (c *Client) call(ctx context.Context, method string, params any) (*Response, error) {
	req := Request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tool server unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to parse response (HTTP %d): %w", httpResp.StatusCode, err)
	}
	return &resp, nil
}

// parseCallResult unpacks the content-array result frame.
func parseCallResult(name string, result any) (ToolResult, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return ToolResult{ToolName: name}, err
	}
	var frame struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError  bool           `json:"isError"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return ToolResult{ToolName: name}, fmt.Errorf("unexpected result shape: %w", err)
	}

	var text string
	for _, item := range frame.Content {
		if item.Type == "text" {
			text += item.Text
		}
	}

	out := ToolResult{
		Success:  !frame.IsError,
		ToolName: name,
		Metadata: frame.Metadata,
	}
	if frame.IsError {
		out.Error = text
	} else {
		out.Content = text
	}
	return out, nil
}
