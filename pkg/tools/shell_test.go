package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommandQuotes(t *testing.T) {
	tokens, err := splitCommand(`echo "hello world" 'single quoted'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hello world", "single quoted"}, tokens)
}

func TestSplitCommandRejectsOperators(t *testing.T) {
	for _, cmd := range []string{
		"ls | grep x",
		"echo hi > out.txt",
		"true && false",
		"echo $(whoami)",
		"echo `id`",
		"ls; rm -rf /",
	} {
		_, err := splitCommand(cmd)
		assert.Error(t, err, cmd)
	}
}

func TestSplitCommandUnterminatedQuote(t *testing.T) {
	_, err := splitCommand(`echo "oops`)
	require.Error(t, err)
}

func TestRunShellWhitelist(t *testing.T) {
	tool := NewRunShellTool([]string{"echo"}, 5*time.Second, t.TempDir())

	result, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Content, "hello")

	result, err = tool.Execute(context.Background(), map[string]any{"command": "rm -rf /tmp/x"})
	require.Error(t, err)
	assert.Contains(t, result.Error, "command not allowed")
}

func TestRunShellTimeout(t *testing.T) {
	tool := NewRunShellTool([]string{"sleep"}, 50*time.Millisecond, t.TempDir())

	result, _ := tool.Execute(context.Background(), map[string]any{"command": "sleep 5"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
}

func TestRunShellMarkedSensitive(t *testing.T) {
	tool := NewRunShellTool(nil, 0, "")
	assert.True(t, tool.GetInfo().Sensitive)
}
