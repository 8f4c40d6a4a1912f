// Package tools holds the sidecar tool implementations and the JSON-RPC
// surface the engine calls them through. Tools declare their argument
// schema; sensitive tools route through the approval queue before they
// are allowed to execute.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/invopop/jsonschema"
)

// ToolInfo describes a tool in the catalog.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	Sensitive   bool           `json:"sensitive,omitempty"`
}

// ToolResult is the uniform execution result.
type ToolResult struct {
	Success       bool           `json:"success"`
	Content       string         `json:"content,omitempty"`
	Error         string         `json:"error,omitempty"`
	ToolName      string         `json:"tool_name"`
	ExecutionTime time.Duration  `json:"execution_time,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type Tool interface {
	GetInfo() ToolInfo

	Execute(ctx context.Context, args map[string]any) (ToolResult, error)

	GetName() string

	GetDescription() string
}

// reflectSchema derives a JSON schema map from an args struct prototype.
func reflectSchema(prototype any) map[string]any {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(prototype)

	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// errorResult builds the standard failure result.
func errorResult(toolName, msg string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         msg,
		ToolName:      toolName,
		ExecutionTime: time.Since(start),
	}
}
