package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/azraeltruthsay/gaia-sub000/pkg/metrics"
	"github.com/azraeltruthsay/gaia-sub000/pkg/registry"
)

// Registry holds the tool set served by the sidecar.
type Registry struct {
	*registry.BaseRegistry[Tool]

	sensitive map[string]bool
}

// NewRegistry creates an empty registry. Names in sensitiveTools are
// forced through the approval queue regardless of what the tool itself
// reports.
func NewRegistry(sensitiveTools []string) *Registry {
	sensitive := make(map[string]bool, len(sensitiveTools))
	for _, name := range sensitiveTools {
		sensitive[name] = true
	}
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Tool](),
		sensitive:    sensitive,
	}
}

// RegisterTool adds a tool under its own name.
func (r *Registry) RegisterTool(tool Tool) error {
	name := tool.GetName()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	return r.Register(name, tool)
}

// GetTool looks a tool up by name.
func (r *Registry) GetTool(name string) (Tool, error) {
	tool, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("tool %q not found", name)
	}
	return tool, nil
}

// Sensitive reports whether a tool requires user approval to run.
func (r *Registry) Sensitive(name string) bool {
	if r.sensitive[name] {
		return true
	}
	tool, exists := r.Get(name)
	return exists && tool.GetInfo().Sensitive
}

// ListTools returns the catalog sorted by name.
func (r *Registry) ListTools() []ToolInfo {
	var infos []ToolInfo
	for _, tool := range r.List() {
		info := tool.GetInfo()
		info.Sensitive = info.Sensitive || r.sensitive[info.Name]
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// ExecuteTool runs a tool and records the outcome.
func (r *Registry) ExecuteTool(ctx context.Context, toolName string, args map[string]any) (ToolResult, error) {
	start := time.Now()

	tool, err := r.GetTool(toolName)
	if err != nil {
		metrics.ToolExecutions.WithLabelValues(toolName, "not_found").Inc()
		return ToolResult{
			Success:  false,
			Error:    err.Error(),
			ToolName: toolName,
		}, err
	}

	result, execErr := tool.Execute(ctx, args)
	duration := time.Since(start)

	status := "success"
	if execErr != nil || !result.Success {
		status = "error"
	}
	metrics.ToolExecutions.WithLabelValues(toolName, status).Inc()

	slog.Debug("Tool executed",
		"tool", toolName,
		"success", result.Success,
		"duration_ms", duration.Milliseconds())

	return result, execErr
}
