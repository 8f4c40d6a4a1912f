package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountGrowsWithText(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	assert.Zero(t, tc.Count(""))
	short := tc.Count("Hello, world!")
	long := tc.Count("This is a longer sentence with quite a few more words in it.")
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}

func TestUnknownModelFallsBack(t *testing.T) {
	tc, err := NewTokenCounter("gaia-lite-7b")
	require.NoError(t, err)
	assert.Greater(t, tc.Count("fallback encoding still counts"), 0)
}

func TestCountMessagesIncludesOverhead(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	messages := []Message{
		{Role: "user", Content: "What is AI?"},
		{Role: "assistant", Content: "A field of computer science."},
	}
	bare := tc.Count("What is AI?") + tc.Count("A field of computer science.")
	assert.Greater(t, tc.CountMessages(messages), bare)
	assert.Equal(t, 3, tc.CountMessages(nil))
}

func TestFitWithinLimitKeepsMostRecent(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	messages := []Message{
		{Role: "user", Content: "first message"},
		{Role: "assistant", Content: "first reply"},
		{Role: "user", Content: "second message"},
		{Role: "assistant", Content: "second reply"},
	}

	all := tc.FitWithinLimit(messages, 1000)
	assert.Len(t, all, len(messages))

	none := tc.FitWithinLimit(messages, 4)
	assert.Empty(t, none)

	budget := tc.CountMessages(messages[2:])
	some := tc.FitWithinLimit(messages, budget)
	require.NotEmpty(t, some)
	assert.Equal(t, "second reply", some[len(some)-1].Content)
	assert.LessOrEqual(t, tc.CountMessages(some), budget)
}
