package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxReadBytes = 1048576

// pathGuard confines file access to a set of allowed root directories.
// Paths are resolved through symlinks before the containment check so a
// link cannot escape a root.
type pathGuard struct {
	roots []string
}

func newPathGuard(roots []string) *pathGuard {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		cleaned = append(cleaned, filepath.Clean(abs))
	}
	return &pathGuard{roots: cleaned}
}

// resolve returns the real absolute path, or an error if it falls
// outside every allowed root. For paths that do not exist yet the
// nearest existing ancestor is resolved instead.
func (g *pathGuard) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	abs = filepath.Clean(abs)

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("cannot resolve path: %w", err)
		}
		dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
		if err != nil {
			return "", fmt.Errorf("cannot resolve parent directory: %w", err)
		}
		real = filepath.Join(dir, filepath.Base(abs))
	}

	for _, root := range g.roots {
		if real == root || strings.HasPrefix(real, root+string(filepath.Separator)) {
			return real, nil
		}
	}
	return "", fmt.Errorf("path outside allowed roots: %s", path)
}

// ReadFileTool reads files under the allowed roots, optionally a line
// range.
type ReadFileTool struct {
	guard *pathGuard
}

type readFileArgs struct {
	Path      string `json:"path" jsonschema:"required,description=Absolute path of the file to read"`
	StartLine int    `json:"start_line,omitempty" jsonschema:"description=First line to return (1-based)"`
	NumLines  int    `json:"num_lines,omitempty" jsonschema:"description=Number of lines to return from start_line"`
}

func NewReadFileTool(roots []string) *ReadFileTool {
	return &ReadFileTool{guard: newPathGuard(roots)}
}

func (t *ReadFileTool) GetName() string { return "read_file" }

func (t *ReadFileTool) GetDescription() string {
	return "Read a file from the shared workspace, optionally a specific line range"
}

func (t *ReadFileTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		InputSchema: reflectSchema(&readFileArgs{}),
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	path, _ := args["path"].(string)
	real, err := t.guard.resolve(path)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	info, err := os.Stat(real)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("cannot stat file: %v", err), start), err
	}
	if info.IsDir() {
		err := fmt.Errorf("%s is a directory", path)
		return errorResult(t.GetName(), err.Error(), start), err
	}
	if info.Size() > maxReadBytes {
		err := fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxReadBytes)
		return errorResult(t.GetName(), err.Error(), start), err
	}

	data, err := os.ReadFile(real)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("failed to read file: %v", err), start), err
	}
	content := string(data)

	startLine := intArg(args, "start_line")
	numLines := intArg(args, "num_lines")
	if startLine > 0 {
		lines := strings.Split(content, "\n")
		if startLine > len(lines) {
			err := fmt.Errorf("start_line %d beyond end of file (%d lines)", startLine, len(lines))
			return errorResult(t.GetName(), err.Error(), start), err
		}
		end := len(lines)
		if numLines > 0 && startLine-1+numLines < end {
			end = startLine - 1 + numLines
		}
		content = strings.Join(lines[startLine-1:end], "\n")
	}

	return ToolResult{
		Success:       true,
		Content:       content,
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"path": real,
			"size": len(content),
		},
	}, nil
}

// WriteFileTool creates or overwrites files under the allowed roots.
// It is sensitive: calls reach it only after user approval.
type WriteFileTool struct {
	guard *pathGuard
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Absolute path of the file to write"`
	Content string `json:"content" jsonschema:"required,description=Full content to write"`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append instead of overwrite"`
}

func NewWriteFileTool(roots []string) *WriteFileTool {
	return &WriteFileTool{guard: newPathGuard(roots)}
}

func (t *WriteFileTool) GetName() string { return "write_file" }

func (t *WriteFileTool) GetDescription() string {
	return "Create or overwrite a file in the shared workspace"
}

func (t *WriteFileTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		InputSchema: reflectSchema(&writeFileArgs{}),
		Sensitive:   true,
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	path, _ := args["path"].(string)
	content, ok := args["content"].(string)
	if !ok {
		err := fmt.Errorf("content parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	real, err := t.guard.resolve(path)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("failed to create directory: %v", err), start), err
	}

	appendMode, _ := args["append"].(bool)
	action := "created"
	if _, statErr := os.Stat(real); statErr == nil {
		action = "overwritten"
		if appendMode {
			action = "appended"
		}
	}

	if appendMode {
		f, err := os.OpenFile(real, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return errorResult(t.GetName(), fmt.Sprintf("failed to open file: %v", err), start), err
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return errorResult(t.GetName(), fmt.Sprintf("failed to append: %v", err), start), err
		}
	} else {
		if err := os.WriteFile(real, []byte(content), 0o644); err != nil {
			return errorResult(t.GetName(), fmt.Sprintf("failed to write file: %v", err), start), err
		}
	}

	return ToolResult{
		Success:       true,
		Content:       fmt.Sprintf("File %s: %s (%d bytes)", action, real, len(content)),
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"path":   real,
			"size":   len(content),
			"action": action,
		},
	}, nil
}

// intArg reads an integer argument that may arrive as float64 from JSON.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
