package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/httpclient"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

// fakeEngine answers /process_packet by echoing the packet with a
// canned candidate, and reports the given sleep states in order.
func fakeEngine(t *testing.T, sleepStates ...string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	var statusCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/process_packet", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var p packet.Packet
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		p.Response.Candidate = "echo: " + p.Content.OriginalPrompt
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(&p)
	})
	mux.HandleFunc("/sleep/status", func(w http.ResponseWriter, r *http.Request) {
		idx := statusCalls.Add(1) - 1
		state := "AWAKE"
		if int(idx) < len(sleepStates) {
			state = sleepStates[idx]
		}
		fmt.Fprintf(w, `{"state": %q}`, state)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, &calls
}

func newGateway(engineURL, fallbackURL string) *Gateway {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Services.Engine = engineURL
	cfg.Services.EngineFallback = fallbackURL
	return New(cfg, httpclient.New(httpclient.WithMaxRetries(1)), nil)
}

func TestDedupLRU(t *testing.T) {
	lru := newDedupLRU(2)

	assert.False(t, lru.Remember("a"))
	assert.True(t, lru.Remember("a"))
	assert.False(t, lru.Remember("b"))
	assert.False(t, lru.Remember("c")) // evicts a
	assert.False(t, lru.Remember("a"))
	assert.True(t, lru.Remember("c"))
}

func TestIngressRoundTrip(t *testing.T) {
	engine, calls := fakeEngine(t)
	g := newGateway(engine.URL, "")
	ts := httptest.NewServer(g.Handler())
	defer ts.Close()

	body := `{"session_id": "discord_dm_42", "prompt": "hello", "destination": "discord"}`
	resp, err := http.Post(ts.URL+"/ingress", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "echo: hello", out["response"])
	assert.NotEmpty(t, out["packet_id"])
	assert.EqualValues(t, 1, calls.Load())
}

func TestIngressValidation(t *testing.T) {
	g := newGateway("http://unused", "")
	ts := httptest.NewServer(g.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/ingress", "application/json",
		bytes.NewReader([]byte(`{"prompt": "hi"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngressEmptyPromptNoModelCall(t *testing.T) {
	engine, calls := fakeEngine(t)
	g := newGateway(engine.URL, "")
	ts := httptest.NewServer(g.Handler())
	defer ts.Close()

	body := `{"session_id": "s", "prompt": "", "destination": "cli"}`
	resp, err := http.Post(ts.URL+"/ingress", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, calls.Load())
}

func TestSendToEngineFailsOver(t *testing.T) {
	// Primary refuses connections; fallback answers.
	fallback, fallbackCalls := fakeEngine(t)

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close() // now connection-refused

	g := newGateway(deadURL, fallback.URL)
	p := packet.New("s1", "are you there", packet.OriginUser, "cli")

	processed, err := g.SendToEngine(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "echo: are you there", processed.Response.Candidate)
	assert.EqualValues(t, 1, fallbackCalls.Load())
}

func TestSendToEngineWaitsThroughSleep(t *testing.T) {
	engine, calls := fakeEngine(t, "AWAKE")
	g := newGateway(engine.URL, "")

	p := packet.New("s1", "good morning", packet.OriginUser, "cli")
	processed, err := g.SendToEngine(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "echo: good morning", processed.Response.Candidate)
	assert.EqualValues(t, 1, calls.Load())
}

func TestOutputRouterDispatchesOnce(t *testing.T) {
	g := newGateway("http://unused", "")
	ts := httptest.NewServer(g.Handler())
	defer ts.Close()

	var delivered atomic.Int64
	g.RegisterDispatcher("discord", DispatcherFunc(func(ctx context.Context, p *packet.Packet) error {
		delivered.Add(1)
		return nil
	}))

	p := packet.New("s1", "hi", packet.OriginUser, "discord")
	p.Response.Candidate = "hello back"
	raw, _ := json.Marshal(p)

	post := func() map[string]string {
		resp, err := http.Post(ts.URL+"/output_router", "application/json", bytes.NewReader(raw))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	assert.Equal(t, "dispatched", post()["status"])
	assert.Equal(t, "duplicate", post()["status"])
	assert.EqualValues(t, 1, delivered.Load())
}

func TestOutputRouterRejectsMissingPacketID(t *testing.T) {
	g := newGateway("http://unused", "")
	ts := httptest.NewServer(g.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/output_router", "application/json",
		bytes.NewReader([]byte(`{"header": {}}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
