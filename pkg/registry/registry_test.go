package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ID string
}

func TestBaseRegistry_Register(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	require.NoError(t, r.Register("a", testItem{ID: "a"}))
	assert.Error(t, r.Register("a", testItem{ID: "a2"}), "duplicate names are rejected")
	assert.Error(t, r.Register("", testItem{}), "empty names are rejected")

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
}

func TestBaseRegistry_Replace(t *testing.T) {
	r := NewBaseRegistry[testItem]()

	require.NoError(t, r.Register("prime", testItem{ID: "v1"}))
	require.NoError(t, r.Replace("prime", testItem{ID: "v2"}))

	got, ok := r.Get("prime")
	require.True(t, ok)
	assert.Equal(t, "v2", got.ID)
}

func TestBaseRegistry_NamesSorted(t *testing.T) {
	r := NewBaseRegistry[testItem]()
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(name, testItem{ID: name}))
	}

	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
	assert.Equal(t, 3, r.Count())

	require.NoError(t, r.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, r.Names())
	assert.Error(t, r.Remove("b"))

	r.Clear()
	assert.Equal(t, 0, r.Count())
}
