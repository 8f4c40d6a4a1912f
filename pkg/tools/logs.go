package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxLogLines    = 200
	logTailWindow  = 2 * 1024 * 1024
	defaultLogExt  = ".log"
	defaultLogName = "engine.log"
)

// IntrospectLogsTool tails service log files so the assistant can
// inspect its own recent activity. Only the last window of a file is
// read so huge logs stay cheap.
type IntrospectLogsTool struct {
	logDir string
}

type introspectLogsArgs struct {
	Service string `json:"service,omitempty" jsonschema:"description=Service log to read (engine, gateway, orchestrator, toolserver)"`
	Lines   int    `json:"lines,omitempty" jsonschema:"description=Number of trailing lines (max 200)"`
	Search  string `json:"search,omitempty" jsonschema:"description=Only return lines containing this substring"`
	Level   string `json:"level,omitempty" jsonschema:"description=Only return lines at this log level (debug, info, warn, error)"`
}

func NewIntrospectLogsTool(logDir string) *IntrospectLogsTool {
	return &IntrospectLogsTool{logDir: logDir}
}

func (t *IntrospectLogsTool) GetName() string { return "introspect_logs" }

func (t *IntrospectLogsTool) GetDescription() string {
	return "Read the tail of a service log file"
}

func (t *IntrospectLogsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		InputSchema: reflectSchema(&introspectLogsArgs{}),
	}
}

func (t *IntrospectLogsTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	service, _ := args["service"].(string)
	name := defaultLogName
	if service != "" {
		if strings.ContainsAny(service, "/\\.") {
			err := fmt.Errorf("invalid service name: %s", service)
			return errorResult(t.GetName(), err.Error(), start), err
		}
		name = service + defaultLogExt
	}
	path := filepath.Join(t.logDir, name)

	lines := intArg(args, "lines")
	if lines <= 0 || lines > maxLogLines {
		lines = maxLogLines
	}
	search, _ := args["search"].(string)
	level, _ := args["level"].(string)

	content, err := tailLines(path, lines, search, level)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	return ToolResult{
		Success:       true,
		Content:       content,
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"log":   path,
			"lines": lines,
		},
	}, nil
}

// tailLines reads at most the trailing window of the file and returns
// the last n lines, optionally filtered by substring and level.
func tailLines(path string, n int, search, level string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot open log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	offset := int64(0)
	if info.Size() > logTailWindow {
		offset = info.Size() - logTailWindow
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}

	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if offset > 0 && len(all) > 1 {
		// The first line after a mid-file seek is usually partial.
		all = all[1:]
	}
	if search != "" || level != "" {
		level = strings.ToUpper(level)
		filtered := all[:0]
		for _, line := range all {
			if search != "" && !strings.Contains(line, search) {
				continue
			}
			if level != "" && !strings.Contains(strings.ToUpper(line), level) {
				continue
			}
			filtered = append(filtered, line)
		}
		all = filtered
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return strings.Join(all, "\n"), nil
}
