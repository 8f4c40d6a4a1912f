package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFileWithinRoot(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\ngamma\n"), 0o644))

	tool := NewReadFileTool([]string{root})
	result, err := tool.Execute(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "alpha\nbeta\ngamma\n", result.Content)
}

func TestReadFileLineRange(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour"), 0o644))

	tool := NewReadFileTool([]string{root})
	result, err := tool.Execute(context.Background(), map[string]any{
		"path":       path,
		"start_line": float64(2),
		"num_lines":  float64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "two\nthree", result.Content)
}

func TestReadFileOutsideRootRejected(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("secret"), 0o644))

	tool := NewReadFileTool([]string{root})
	result, err := tool.Execute(context.Background(), map[string]any{"path": path})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "outside allowed roots")
}

func TestReadFileTraversalRejected(t *testing.T) {
	root := t.TempDir()
	tool := NewReadFileTool([]string{root})

	_, err := tool.Execute(context.Background(), map[string]any{
		"path": filepath.Join(root, "..", "escape.txt"),
	})
	require.Error(t, err)
}

func TestReadFileSymlinkEscapeRejected(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("hidden"), 0o644))

	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	tool := NewReadFileTool([]string{root})
	result, err := tool.Execute(context.Background(), map[string]any{"path": link})
	require.Error(t, err)
	assert.Contains(t, result.Error, "outside allowed roots")
}

func TestWriteFileCreatesAndOverwrites(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "sub", "out.txt")

	tool := NewWriteFileTool([]string{root})
	result, err := tool.Execute(context.Background(), map[string]any{
		"path":    path,
		"content": "first",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "created", result.Metadata["action"])

	result, err = tool.Execute(context.Background(), map[string]any{
		"path":    path,
		"content": "second",
	})
	require.NoError(t, err)
	assert.Equal(t, "overwritten", result.Metadata["action"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestWriteFileAppend(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "journal.md")

	tool := NewWriteFileTool([]string{root})
	_, err := tool.Execute(context.Background(), map[string]any{"path": path, "content": "a"})
	require.NoError(t, err)
	_, err = tool.Execute(context.Background(), map[string]any{"path": path, "content": "b", "append": true})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))
}

func TestWriteFileOutsideRootRejected(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	tool := NewWriteFileTool([]string{root})
	result, err := tool.Execute(context.Background(), map[string]any{
		"path":    filepath.Join(outside, "evil.txt"),
		"content": "nope",
	})
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestWriteFileMarkedSensitive(t *testing.T) {
	tool := NewWriteFileTool([]string{t.TempDir()})
	assert.True(t, tool.GetInfo().Sensitive)
}
