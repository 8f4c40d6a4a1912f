package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const maxShellOutput = 65536

// RunShellTool executes whitelisted commands. The command line is
// tokenized without a shell, so pipes, redirects and substitutions are
// rejected outright rather than interpreted.
type RunShellTool struct {
	whitelist map[string]bool
	timeout   time.Duration
	workDir   string
}

type runShellArgs struct {
	Command    string `json:"command" jsonschema:"required,description=Command line to execute (no shell operators)"`
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"description=Working directory override"`
}

func NewRunShellTool(whitelist []string, timeout time.Duration, workDir string) *RunShellTool {
	allowed := make(map[string]bool, len(whitelist))
	for _, cmd := range whitelist {
		allowed[cmd] = true
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RunShellTool{whitelist: allowed, timeout: timeout, workDir: workDir}
}

func (t *RunShellTool) GetName() string { return "run_shell" }

func (t *RunShellTool) GetDescription() string {
	return "Run a whitelisted command without shell interpretation"
}

func (t *RunShellTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		InputSchema: reflectSchema(&runShellArgs{}),
		Sensitive:   true,
	}
}

func (t *RunShellTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		err := fmt.Errorf("command parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	tokens, err := splitCommand(command)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}
	if len(t.whitelist) > 0 && !t.whitelist[tokens[0]] {
		err := fmt.Errorf("command not allowed: %s", tokens[0])
		return errorResult(t.GetName(), err.Error(), start), err
	}

	workDir := t.workDir
	if wd, ok := args["working_dir"].(string); ok && wd != "" {
		workDir = wd
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tokens[0], tokens[1:]...)
	cmd.Dir = workDir
	output, runErr := cmd.CombinedOutput()

	content := string(output)
	if len(content) > maxShellOutput {
		content = content[:maxShellOutput] + "\n... [output truncated]"
	}

	result := ToolResult{
		Success:       runErr == nil,
		Content:       content,
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"command": command,
		},
	}
	if runErr != nil {
		result.Error = runErr.Error()
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.Metadata["exit_code"] = exitErr.ExitCode()
		}
		if ctx.Err() == context.DeadlineExceeded {
			result.Error = fmt.Sprintf("command timed out after %s", t.timeout)
		}
	}
	return result, runErr
}

// splitCommand tokenizes a command line honoring single and double
// quotes. Shell operators are rejected since nothing interprets them.
func splitCommand(command string) ([]string, error) {
	if strings.ContainsAny(command, "|&;<>`$()\n") {
		return nil, fmt.Errorf("shell operators are not supported")
	}

	var tokens []string
	var current strings.Builder
	var quote rune
	inToken := false

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command")
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return tokens, nil
}
