package llms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCouncilPool(t *testing.T) (*Pool, map[string]*FakeProvider) {
	t.Helper()
	providers := map[string]*FakeProvider{
		"gpu_prime":     NewFakeProvider("gpu_prime", "[Prime] answer"),
		"lite":          NewFakeProvider("lite", "[Lite] answer"),
		"groq_fallback": NewFakeProvider("groq_fallback", "[Prime] cloud answer"),
	}
	pool, err := NewFakePool(providers,
		map[string]string{"prime": "gpu_prime"},
		map[string][]string{"prime": {"gpu_prime", "groq_fallback"}},
		"gpu_prime")
	require.NoError(t, err)
	return pool, providers
}

func TestAcquireForRole_ResolvesAlias(t *testing.T) {
	pool, _ := newCouncilPool(t)

	p, err := pool.AcquireForRole(context.Background(), "prime")
	require.NoError(t, err)
	assert.Equal(t, "gpu_prime", p.Name())
	assert.True(t, pool.Busy("gpu_prime"))

	pool.Release("gpu_prime")
	assert.False(t, pool.Busy("gpu_prime"))
}

func TestAcquireForRole_FallsThroughChainOnUnavailability(t *testing.T) {
	pool, providers := newCouncilPool(t)
	providers["gpu_prime"].LoadErr = errors.New("vram held by trainer")

	p, err := pool.AcquireForRole(context.Background(), "prime")
	require.NoError(t, err)
	assert.Equal(t, "groq_fallback", p.Name())
}

func TestAcquireForRole_AllUnavailable(t *testing.T) {
	pool, providers := newCouncilPool(t)
	providers["gpu_prime"].LoadErr = errors.New("down")
	providers["groq_fallback"].LoadErr = errors.New("quota")

	_, err := pool.AcquireForRole(context.Background(), "prime")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model available for role")
}

func TestReleaseReclaimGPU_RestoresAliasMap(t *testing.T) {
	pool, _ := newCouncilPool(t)
	before := pool.Aliases()

	require.NoError(t, pool.ReleaseGPU())
	assert.True(t, pool.GPUReleased())
	assert.Empty(t, pool.GPUModelsLoaded())
	assert.False(t, pool.Has("gpu_prime"))

	// Prime now resolves to nothing useful; acquire falls to the cloud.
	p, err := pool.AcquireForRole(context.Background(), "prime")
	require.NoError(t, err)
	assert.Equal(t, "groq_fallback", p.Name())

	require.NoError(t, pool.ReclaimGPU(context.Background()))
	assert.False(t, pool.GPUReleased())
	assert.Equal(t, before, pool.Aliases(), "release then reclaim restores the prior alias map")
	assert.Equal(t, []string{"gpu_prime"}, pool.GPUModelsLoaded())

	p, err = pool.AcquireForRole(context.Background(), "prime")
	require.NoError(t, err)
	assert.Equal(t, "gpu_prime", p.Name())
}

func TestReleaseGPU_Idempotent(t *testing.T) {
	pool, _ := newCouncilPool(t)

	require.NoError(t, pool.ReleaseGPU())
	require.NoError(t, pool.ReleaseGPU())
	require.NoError(t, pool.ReclaimGPU(context.Background()))
	require.NoError(t, pool.ReclaimGPU(context.Background()))
	assert.True(t, pool.Has("gpu_prime"))
}
