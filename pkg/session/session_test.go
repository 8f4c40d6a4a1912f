package session

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "sessions.json"), 5)
	require.NoError(t, err)
	return s
}

func TestAppend_StripsThinkTags(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("web_1", "assistant", "<think>secret reasoning</think>The answer is 4."))
	history := s.History("web_1")
	require.Len(t, history, 1)
	assert.Equal(t, "The answer is 4.", history[0].Content)

	// Fully think-tagged content is skipped entirely.
	require.NoError(t, s.Append("web_1", "assistant", "<think>only reasoning</think>"))
	assert.Len(t, s.History("web_1"), 1)
}

func TestAppend_SlidingWindowAndOrder(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 8; i++ {
		require.NoError(t, s.Append("web_1", "user", fmt.Sprintf("message %d", i)))
	}

	history := s.History("web_1")
	require.Len(t, history, 5, "window caps history")
	assert.Equal(t, "message 3", history[0].Content)
	assert.Equal(t, "message 7", history[4].Content)

	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp),
			"messages must be append-ordered by timestamp")
	}
}

func TestStore_PersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := NewStore(path, 5)
	require.NoError(t, err)

	require.NoError(t, s.Append("discord_dm_bob", "user", "hello"))
	require.NoError(t, s.SetLoopState("discord_dm_bob", LoopState{WarnIssued: true, LastPattern: "tool_pingpong"}))

	reloaded, err := NewStore(path, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"discord_dm_bob"}, reloaded.IDs())
	assert.Equal(t, "hello", reloaded.History("discord_dm_bob")[0].Content)

	loop := reloaded.LoopStateFor("discord_dm_bob")
	assert.True(t, loop.WarnIssued, "loop warn state survives restart")
	assert.Equal(t, "tool_pingpong", loop.LastPattern)
}

func TestProbeCache_AgesOut(t *testing.T) {
	s := newTestStore(t)
	s.Get("web_1")

	s.CacheProbe("web_1", "The Raven", `{"collection":"poetry"}`)

	got, ok := s.CachedProbe("web_1", "The Raven", 2)
	require.True(t, ok)
	assert.Contains(t, got, "poetry")

	s.AdvanceTurn("web_1", 2, 20)
	_, ok = s.CachedProbe("web_1", "The Raven", 2)
	assert.False(t, ok, "entry at max age is evicted")
}

func TestLoopWarn_TTLClears(t *testing.T) {
	s := newTestStore(t)
	s.Get("web_1")
	require.NoError(t, s.SetLoopState("web_1", LoopState{WarnIssued: true, LastPattern: "error_cycle"}))

	for i := 0; i < 3; i++ {
		s.AdvanceTurn("web_1", 10, 3)
	}
	loop := s.LoopStateFor("web_1")
	assert.False(t, loop.WarnIssued, "warn clears after TTL turns with no re-trigger")
	assert.Empty(t, loop.LastPattern)
}

func TestLock_SerializesSameSession(t *testing.T) {
	s := newTestStore(t)

	var order []int
	var mu sync.Mutex
	release := s.Lock("web_1")

	done := make(chan struct{})
	go func() {
		unlock := s.Lock("web_1")
		defer unlock()
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	release()
	<-done

	assert.Equal(t, []int{1, 2}, order, "second turn waits for the first")
}
