package vector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatStore_AddQueryPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_vectors", "web_1.json")

	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Add("m1", []float32{1, 0, 0}, map[string]string{"text": "alpha"}))
	require.NoError(t, s.Add("m2", []float32{0, 1, 0}, map[string]string{"text": "beta"}))
	require.NoError(t, s.Add("m3", []float32{0.9, 0.1, 0}, nil))

	hits := s.Query([]float32{1, 0, 0}, 2)
	require.Len(t, hits, 2)
	assert.Equal(t, "m1", hits[0].ID)
	assert.Equal(t, "m3", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)

	// Reopen from disk; contents survive.
	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Len())
	hits = reopened.Query([]float32{0, 1, 0}, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, "m2", hits[0].ID)
}

func TestFlatStore_AddReplacesExistingID(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "v.json"))
	require.NoError(t, err)

	require.NoError(t, s.Add("m1", []float32{1, 0}, nil))
	require.NoError(t, s.Add("m1", []float32{0, 1}, nil))
	assert.Equal(t, 1, s.Len())

	hits := s.Query([]float32{0, 1}, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestCosine_Boundaries(t *testing.T) {
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}), "mismatched dims score zero")
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}), "zero vector scores zero")
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}
