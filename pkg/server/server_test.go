package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azraeltruthsay/gaia-sub000/pkg/checkpoint"
	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/council"
	"github.com/azraeltruthsay/gaia-sub000/pkg/embedder"
	"github.com/azraeltruthsay/gaia-sub000/pkg/engine"
	"github.com/azraeltruthsay/gaia-sub000/pkg/llms"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
	"github.com/azraeltruthsay/gaia-sub000/pkg/session"
	"github.com/azraeltruthsay/gaia-sub000/pkg/vector"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{}
	cfg.SetDefaults()

	sessions, err := session.NewStore(filepath.Join(dir, "sessions.json"), 40)
	require.NoError(t, err)
	knowledge, err := vector.NewKnowledgeStore(filepath.Join(dir, "knowledge"), false)
	require.NoError(t, err)
	pool, err := llms.NewPool(cfg)
	require.NoError(t, err)

	eng, err := engine.New(engine.Deps{
		Config:      cfg,
		Sessions:    sessions,
		Embedder:    embedder.NewStaticEmbedder(64),
		Knowledge:   knowledge,
		Pool:        pool,
		Council:     council.NewBox(filepath.Join(dir, "notes"), filepath.Join(dir, "archive")),
		Checkpoints: checkpoint.NewStore(filepath.Join(dir, "prime.md"), filepath.Join(dir, "lite.md")),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(New(eng, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	code := getJSON(t, ts.URL+"/health", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "AWAKE", body["sleep_state"])
}

func TestSleepStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]any
	code := getJSON(t, ts.URL+"/sleep/status", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "AWAKE", body["state"])
	assert.Nil(t, body["slept_at"])
	assert.EqualValues(t, 0, body["queue_len"])
}

func TestProcessPacketRejectsMissingSessionID(t *testing.T) {
	ts := newTestServer(t)

	p := packet.New("", "hello", packet.OriginUser, "cli")
	p.Header.SessionID = ""
	raw, _ := json.Marshal(p)

	resp, err := http.Post(ts.URL+"/process_packet", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcessPacketPreservesPacketID(t *testing.T) {
	ts := newTestServer(t)

	p := packet.New("web_abc", "hello there", packet.OriginUser, "web")
	raw, _ := json.Marshal(p)

	resp, err := http.Post(ts.URL+"/process_packet", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out packet.Packet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, p.Header.PacketID, out.Header.PacketID)
	assert.NotEmpty(t, out.Response.Candidate)
}

func TestGPUStatusAndRelease(t *testing.T) {
	ts := newTestServer(t)

	var status map[string]any
	getJSON(t, ts.URL+"/gpu/status", &status)
	assert.Equal(t, false, status["gpu_released"])

	resp, err := http.Post(ts.URL+"/gpu/release", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	getJSON(t, ts.URL+"/gpu/status", &status)
	assert.Equal(t, true, status["gpu_released"])
}

func TestGPUWaitValidation(t *testing.T) {
	ts := newTestServer(t)

	wait := func(body string) *http.Response {
		resp, err := http.Post(ts.URL+"/gpu/wait", "application/json", bytes.NewReader([]byte(body)))
		require.NoError(t, err)
		return resp
	}

	resp := wait(`{"timeout_seconds": 0}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = wait(`{"timeout_seconds": 61}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// GPU is held, so wait reports ready immediately.
	resp = wait(`{"timeout_seconds": 1}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, true, out["ready"])
}

func TestCheckpointEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/cognition/checkpoint", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
