package ha

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintenanceFlag_TouchAndRemove(t *testing.T) {
	flag := NewMaintenanceFlag(filepath.Join(t.TempDir(), "ha_maintenance"))

	assert.False(t, flag.Active())

	require.NoError(t, flag.Set(true))
	assert.True(t, flag.Active())

	// Setting twice is idempotent.
	require.NoError(t, flag.Set(true))
	assert.True(t, flag.Active())

	require.NoError(t, flag.Set(false))
	assert.False(t, flag.Active())

	// Clearing an absent flag is not an error.
	require.NoError(t, flag.Set(false))
}
