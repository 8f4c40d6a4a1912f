package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEngineLog(t *testing.T, lines string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.log"), []byte(lines), 0o644))
	return dir
}

func TestIntrospectLogsTail(t *testing.T) {
	dir := writeEngineLog(t, "INFO one\nINFO two\nINFO three\n")
	tool := NewIntrospectLogsTool(dir)

	result, err := tool.Execute(context.Background(), map[string]any{"lines": 2})
	require.NoError(t, err)
	assert.Equal(t, "INFO two\nINFO three", result.Content)
}

func TestIntrospectLogsSearchAndLevel(t *testing.T) {
	dir := writeEngineLog(t, "INFO packet accepted\nWARN packet dropped\nERROR packet dropped\nINFO turn complete\n")
	tool := NewIntrospectLogsTool(dir)

	result, err := tool.Execute(context.Background(), map[string]any{"search": "packet"})
	require.NoError(t, err)
	assert.Equal(t, "INFO packet accepted\nWARN packet dropped\nERROR packet dropped", result.Content)

	result, err = tool.Execute(context.Background(), map[string]any{"level": "error"})
	require.NoError(t, err)
	assert.Equal(t, "ERROR packet dropped", result.Content)

	result, err = tool.Execute(context.Background(), map[string]any{"search": "dropped", "level": "warn"})
	require.NoError(t, err)
	assert.Equal(t, "WARN packet dropped", result.Content)
}

func TestIntrospectLogsRejectsPathTraversal(t *testing.T) {
	tool := NewIntrospectLogsTool(t.TempDir())

	result, err := tool.Execute(context.Background(), map[string]any{"service": "../etc/passwd"})
	require.Error(t, err)
	assert.Contains(t, result.Error, "invalid service name")
}
