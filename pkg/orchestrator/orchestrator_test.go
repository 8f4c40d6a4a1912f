package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/ha"
	"github.com/azraeltruthsay/gaia-sub000/pkg/httpclient"
)

type fakeRuntime struct {
	mu       sync.Mutex
	stopped  []string
	started  []string
	stopErr  error
	startErr error
}

func (f *fakeRuntime) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeRuntime) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, name)
	return nil
}

// fakeVRAM replays a fixed sequence of readings, repeating the last.
type fakeVRAM struct {
	mu       sync.Mutex
	readings []int
	idx      int
}

func (f *fakeVRAM) UsedMiB(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.readings) == 0 {
		return 0, errors.New("no readings")
	}
	r := f.readings[f.idx]
	if f.idx < len(f.readings)-1 {
		f.idx++
	}
	return r, nil
}

// recordingService stands in for the engine, trainer, and generation
// backend at once: it records every POST path and answers /health.
func recordingService(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var posts []string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			mu.Lock()
			posts = append(posts, r.URL.Path)
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "healthy"}`))
	}))
	t.Cleanup(ts.Close)
	return ts, &posts
}

func newTestOrchestrator(t *testing.T, rt ContainerRuntime, vram VRAMProber) (*Orchestrator, *[]string) {
	t.Helper()
	svc, posts := recordingService(t)

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Services.Engine = svc.URL
	cfg.Services.Training = svc.URL
	cfg.Services.Generation = svc.URL
	cfg.Services.GenerationContainer = "gaia-generation"

	o := New(Deps{
		Config:     cfg,
		HTTP:       httpclient.New(httpclient.WithMaxRetries(0)),
		Containers: rt,
		VRAM:       vram,
	})
	return o, posts
}

func TestHandoffToStudy(t *testing.T) {
	rt := &fakeRuntime{}
	o, posts := newTestOrchestrator(t, rt, &fakeVRAM{readings: []int{200}})

	require.NoError(t, o.HandoffToStudy(context.Background(), "sleep"))

	assert.Equal(t, StateStudy, o.State())
	assert.Equal(t, []string{"gaia-generation"}, rt.stopped)
	assert.Equal(t, []string{"/gpu/release", "/study/gpu-ready"}, *posts)
	assert.WithinDuration(t, time.Now(), o.LastSleep(), 5*time.Second)
}

func TestHandoffToStudyRejectsWrongState(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeRuntime{}, &fakeVRAM{readings: []int{200}})
	o.state = StateStudy

	err := o.HandoffToStudy(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, StateStudy, o.State())
}

func TestHandoffToStudyFailureEntersError(t *testing.T) {
	rt := &fakeRuntime{stopErr: errors.New("docker daemon unreachable")}
	o, posts := newTestOrchestrator(t, rt, &fakeVRAM{readings: []int{200}})

	err := o.HandoffToStudy(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, StateError, o.State())
	assert.Empty(t, *posts)
}

func TestHandoffToCore(t *testing.T) {
	rt := &fakeRuntime{}
	o, posts := newTestOrchestrator(t, rt, &fakeVRAM{readings: []int{200}})
	o.state = StateStudy

	require.NoError(t, o.HandoffToCore(context.Background()))

	assert.Equal(t, StateCore, o.State())
	assert.Equal(t, []string{"gaia-generation"}, rt.started)
	assert.Equal(t, []string{"/study/gpu-release", "/gpu/reclaim"}, *posts)
}

func TestHandoffRoundTrip(t *testing.T) {
	rt := &fakeRuntime{}
	o, _ := newTestOrchestrator(t, rt, &fakeVRAM{readings: []int{100}})

	require.NoError(t, o.HandoffToStudy(context.Background(), "scheduled"))
	require.NoError(t, o.HandoffToCore(context.Background()))

	assert.Equal(t, StateCore, o.State())
	assert.Equal(t, []string{"gaia-generation"}, rt.stopped)
	assert.Equal(t, []string{"gaia-generation"}, rt.started)
}

func TestWaitVRAMReleasedPollsUntilDrained(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeRuntime{}, &fakeVRAM{readings: []int{8000, 200}})

	start := time.Now()
	require.NoError(t, o.waitVRAMReleased(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), vramPollInterval)
}

func TestStatusEndpoint(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeRuntime{}, &fakeVRAM{readings: []int{200}})
	ts := httptest.NewServer(o.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "generation", body["gpu_owner"])
	assert.Equal(t, string(StateCore), body["state"])
}

func TestHandoffEndpointConflict(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeRuntime{}, &fakeVRAM{readings: []int{200}})
	o.state = StateStudy
	ts := httptest.NewServer(o.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/handoff/prime-to-study", "application/json",
		bytes.NewReader([]byte(`{"reason": "sleep"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMaintenanceEndpoint(t *testing.T) {
	flag := ha.NewMaintenanceFlag(filepath.Join(t.TempDir(), "ha_maintenance"))
	o, _ := newTestOrchestrator(t, &fakeRuntime{}, &fakeVRAM{readings: []int{200}})
	o.maintenance = flag
	ts := httptest.NewServer(o.Handler())
	defer ts.Close()

	post := func(body string) int {
		resp, err := http.Post(ts.URL+"/maintenance", "application/json",
			bytes.NewReader([]byte(body)))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, post(`{"mode": "on"}`))
	assert.True(t, flag.Active())
	assert.Equal(t, http.StatusOK, post(`{"mode": "off"}`))
	assert.False(t, flag.Active())
	assert.Equal(t, http.StatusBadRequest, post(`{"mode": "maybe"}`))
}

func TestWatchdogTracksConsecutiveFailures(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "error"}`))
	}))
	defer live.Close()

	wd := NewWatchdog(WatchdogDeps{
		Targets: []ServiceTarget{{Name: "engine", LiveURL: live.URL + "/health"}},
	})

	wd.pollOnce(context.Background())
	wd.pollOnce(context.Background())

	snap := wd.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Healthy)
	assert.Equal(t, 2, snap[0].ConsecFailures)
	assert.Equal(t, "failed", snap[0].HAStatus)
}

func TestWatchdogDegradedWhenCandidateDown(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "healthy"}`))
	}))
	defer live.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	wd := NewWatchdog(WatchdogDeps{
		Targets: []ServiceTarget{{
			Name:         "engine",
			LiveURL:      live.URL + "/health",
			CandidateURL: deadURL + "/health",
		}},
	})
	wd.pollOnce(context.Background())

	snap := wd.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Healthy)
	assert.Equal(t, 0, snap[0].ConsecFailures)
	assert.Equal(t, "degraded", snap[0].HAStatus)
}

func TestHAStatusMatrix(t *testing.T) {
	assert.Equal(t, "active", haStatus(true, true, true))
	assert.Equal(t, "degraded", haStatus(true, false, true))
	assert.Equal(t, "failover_active", haStatus(false, true, true))
	assert.Equal(t, "failed", haStatus(false, false, true))
	assert.Equal(t, "active", haStatus(true, false, false))
	assert.Equal(t, "failed", haStatus(false, false, false))
}

func TestSyncerCopiesSessionState(t *testing.T) {
	live := t.TempDir()
	candidate := t.TempDir()

	paths := config.PathsConfig{
		SessionsFile:    filepath.Join(live, "sessions.json"),
		SessionVectors:  filepath.Join(live, "session_vectors"),
		PrimeCheckpoint: filepath.Join(live, "prime.md"),
		LiteJournal:     filepath.Join(live, "Lite.md"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(paths.SessionVectors, "archive"), 0755))
	require.NoError(t, os.WriteFile(paths.SessionsFile, []byte(`{"sessions": {}}`), 0644))
	require.NoError(t, os.WriteFile(paths.PrimeCheckpoint, []byte("# Checkpoint"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(paths.SessionVectors, "s1.json"), []byte(`[]`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(paths.SessionVectors, "archive", "old.json"), []byte(`[]`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(paths.SessionVectors, "readme.txt"), []byte("x"), 0644))

	s := NewSyncer(paths, candidate, nil)
	require.NoError(t, s.Sync(context.Background()))

	assert.FileExists(t, filepath.Join(candidate, "sessions.json"))
	assert.FileExists(t, filepath.Join(candidate, "sleep_state", "prime.md"))
	assert.FileExists(t, filepath.Join(candidate, "session_vectors", "s1.json"))
	assert.NoFileExists(t, filepath.Join(candidate, "session_vectors", "archive", "old.json"))
	assert.NoFileExists(t, filepath.Join(candidate, "session_vectors", "readme.txt"))
	// Lite journal is missing on the live side; sync skips it.
	assert.NoFileExists(t, filepath.Join(candidate, "lite_journal", "Lite.md"))
	assert.False(t, s.LastSync().IsZero())
}

func TestSyncerNoCandidateIsNoop(t *testing.T) {
	s := NewSyncer(config.PathsConfig{}, "", nil)
	require.NoError(t, s.Sync(context.Background()))
	assert.True(t, s.LastSync().IsZero())
}
