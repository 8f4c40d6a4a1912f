package sleep

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

func TestSleepWake_Sequence(t *testing.T) {
	var checkpointed, released, reclaimed, loaded atomic.Bool
	var sleepAnchor time.Time

	m := NewManager(Hooks{
		WriteCheckpoints: func(ctx context.Context, at time.Time) error {
			sleepAnchor = at
			checkpointed.Store(true)
			return nil
		},
		NotifyRelease: func(ctx context.Context) error {
			require.True(t, checkpointed.Load(), "checkpoints are written before GPU release")
			released.Store(true)
			return nil
		},
		RequestReclaim: func(ctx context.Context) error { reclaimed.Store(true); return nil },
		LoadWakeContext: func(ctx context.Context) error {
			require.True(t, reclaimed.Load(), "GPU reclaim precedes wake context load")
			loaded.Store(true)
			return nil
		},
	})

	assert.Equal(t, StateAwake, m.State())
	require.NoError(t, m.Sleep(context.Background()))
	assert.Equal(t, StateSleeping, m.State())
	assert.False(t, sleepAnchor.IsZero())

	require.NoError(t, m.Wake(context.Background()))
	assert.Equal(t, StateAwake, m.State())
	assert.True(t, released.Load())
	assert.True(t, loaded.Load())
}

func TestSleep_NonReentrant(t *testing.T) {
	m := NewManager(Hooks{})
	require.NoError(t, m.Sleep(context.Background()))
	assert.Error(t, m.Sleep(context.Background()), "sleeping engine cannot re-enter sleep")
}

func TestWake_WhenAwakeIsNoop(t *testing.T) {
	m := NewManager(Hooks{})
	require.NoError(t, m.Wake(context.Background()))
	assert.Equal(t, StateAwake, m.State())
}

func TestEnqueue_OnlyWhileNotAwake(t *testing.T) {
	var replayed []*packet.Packet
	m := NewManager(Hooks{
		ProcessQueued: func(ctx context.Context, p *packet.Packet) { replayed = append(replayed, p) },
	})

	p1 := packet.New("s1", "while awake", packet.OriginUser, "discord")
	assert.False(t, m.Enqueue(p1), "awake engine does not queue")

	require.NoError(t, m.Sleep(context.Background()))
	p2 := packet.New("s1", "while asleep", packet.OriginUser, "discord")
	assert.True(t, m.Enqueue(p2))
	assert.Equal(t, 1, m.QueueLen())

	require.NoError(t, m.Wake(context.Background()))
	require.Len(t, replayed, 1)
	assert.Equal(t, p2.Header.PacketID, replayed[0].Header.PacketID)
	assert.Equal(t, 0, m.QueueLen())
}
