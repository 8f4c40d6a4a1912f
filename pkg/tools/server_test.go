package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, root string) (*httptest.Server, *ApprovalQueue) {
	t.Helper()

	reg := NewRegistry([]string{"write_file", "run_shell"})
	require.NoError(t, reg.RegisterTool(NewReadFileTool([]string{root})))
	require.NoError(t, reg.RegisterTool(NewWriteFileTool([]string{root})))

	approvals := NewApprovalQueue(reg, time.Hour)
	srv := httptest.NewServer(NewServer(reg, approvals).Handler())
	t.Cleanup(srv.Close)
	return srv, approvals
}

func rpcCall(t *testing.T, url string, req Request) (*http.Response, Response) {
	t.Helper()

	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpResp, err := http.Post(url+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var resp Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	return httpResp, resp
}

func TestToolsListCatalog(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	httpResp, resp := rpcCall(t, srv.URL, Request{JSONRPC: "2.0", ID: 1, Method: "tools/list"})
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Tools, 2)
	assert.Equal(t, "read_file", result.Tools[0].Name)
	assert.Equal(t, "write_file", result.Tools[1].Name)
	assert.True(t, result.Tools[1].Sensitive)
	assert.NotNil(t, result.Tools[0].InputSchema)
}

func TestSafeToolExecutesDirectly(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
	srv, _ := newTestServer(t, root)

	httpResp, resp := rpcCall(t, srv.URL, Request{
		JSONRPC: "2.0", ID: 2, Method: "tools/call",
		Params: CallParams{Name: "read_file", Arguments: map[string]any{"path": path}},
	})
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
	require.Nil(t, resp.Error)

	result, err := parseCallResult("read_file", resp.Result)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "payload", result.Content)
}

func TestSensitiveToolQueuedForApproval(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "out.txt")
	srv, approvals := newTestServer(t, root)

	httpResp, resp := rpcCall(t, srv.URL, Request{
		JSONRPC: "2.0", ID: 3, Method: "tools/call",
		Params: CallParams{
			Name:      "write_file",
			Arguments: map[string]any{"path": path, "content": "approved content"},
			SessionID: "sess-1",
		},
	})
	assert.Equal(t, http.StatusForbidden, httpResp.StatusCode)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeApprovalRequired, resp.Error.Code)

	data, ok := resp.Error.Data.(map[string]any)
	require.True(t, ok)
	approvalID, _ := data["approval_id"].(string)
	require.NotEmpty(t, approvalID)

	// Nothing written until the user approves.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	pending := approvals.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "write_file", pending[0].ToolName)

	approveResp, err := http.Post(srv.URL+"/approvals/"+approvalID+"/approve", "application/json", nil)
	require.NoError(t, err)
	defer approveResp.Body.Close()
	assert.Equal(t, http.StatusOK, approveResp.StatusCode)

	data2, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "approved content", string(data2))
}

func TestDeniedApprovalNeverExecutes(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "never.txt")
	srv, approvals := newTestServer(t, root)

	_, resp := rpcCall(t, srv.URL, Request{
		JSONRPC: "2.0", ID: 4, Method: "tools/call",
		Params: CallParams{Name: "write_file", Arguments: map[string]any{"path": path, "content": "x"}},
	})
	data := resp.Error.Data.(map[string]any)
	approvalID := data["approval_id"].(string)

	denied, err := approvals.Deny(approvalID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalDenied, denied.Status)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// A second decision on the same approval is a conflict.
	_, err = approvals.Approve(context.Background(), approvalID)
	require.Error(t, err)
}

func TestUnknownMethodReturnsError(t *testing.T) {
	srv, _ := newTestServer(t, t.TempDir())

	_, resp := rpcCall(t, srv.URL, Request{JSONRPC: "2.0", ID: 5, Method: "tools/destroy"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestClientMapsApprovalTo403Error(t *testing.T) {
	root := t.TempDir()
	srv, _ := newTestServer(t, root)

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.Call(context.Background(), "write_file", map[string]any{
		"path":    filepath.Join(root, "f.txt"),
		"content": "x",
	}, "sess-2")
	require.Error(t, err)

	var pending *ApprovalPendingError
	require.ErrorAs(t, err, &pending)
	assert.NotEmpty(t, pending.ApprovalID)
	assert.Equal(t, "write_file", pending.Tool)
}

func TestClientRoundTrip(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "roundtrip.txt")
	require.NoError(t, os.WriteFile(path, []byte("round trip"), 0o644))
	srv, _ := newTestServer(t, root)

	client := NewClient(srv.URL, 5*time.Second)

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	result, err := client.Call(context.Background(), "read_file", map[string]any{"path": path}, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "round trip", result.Content)
}
