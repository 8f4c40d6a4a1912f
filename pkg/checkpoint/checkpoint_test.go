package checkpoint

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(
		filepath.Join(dir, "sleep_state", "prime.md"),
		filepath.Join(dir, "lite_journal", "Lite.md"),
	)
}

func TestWritePrime_RoundTripIsLossless(t *testing.T) {
	s := newTestStore(t)
	sleepAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	narrative := "Spent the evening helping with a poetry recitation.\nNothing unresolved."

	require.NoError(t, s.WritePrime(narrative, sleepAt))

	content, err := s.ReadPrime()
	require.NoError(t, err)
	assert.Contains(t, content, narrative)

	anchor, err := s.Anchor()
	require.NoError(t, err)
	assert.True(t, anchor.Equal(sleepAt), "anchor round-trips exactly")
}

func TestAnchor_MissingFileAndMissingLine(t *testing.T) {
	s := newTestStore(t)

	anchor, err := s.Anchor()
	require.NoError(t, err)
	assert.True(t, anchor.IsZero())
}

func TestWriteLite_Appends(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteLite("Handled two quick questions."))
	require.NoError(t, s.WriteLite("Escalated one prompt to Prime."))

	content, err := s.ReadLite()
	require.NoError(t, err)
	assert.Contains(t, content, "Handled two quick questions.")
	assert.Contains(t, content, "Escalated one prompt to Prime.")
}

func TestAppendObservation_PreservesAnchor(t *testing.T) {
	s := newTestStore(t)
	sleepAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.WritePrime("quiet day", sleepAt))

	require.NoError(t, s.AppendObservation("candidate engine unhealthy; failover would fail"))

	anchor, err := s.Anchor()
	require.NoError(t, err)
	assert.True(t, anchor.Equal(sleepAt))

	content, err := s.ReadPrime()
	require.NoError(t, err)
	assert.Contains(t, content, "candidate engine unhealthy")
}
