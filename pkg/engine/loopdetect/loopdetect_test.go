package loopdetect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
)

func testConfig() *config.LoopDetectionConfig {
	cfg := &config.Config{}
	cfg.SetDefaults()
	return &cfg.LoopDetection
}

func TestToolPingPongDetected(t *testing.T) {
	d := toolRepetitionDetector{}
	sig := d.Detect(Window{ToolCalls: []ToolCall{
		{Name: "read_file", Params: "a"},
		{Name: "write_file", Params: "b"},
		{Name: "read_file", Params: "a"},
		{Name: "write_file", Params: "b"},
	}})
	assert.GreaterOrEqual(t, sig.Confidence, 0.9)
	assert.Contains(t, sig.Pattern, "ping-pong")
}

func TestExactToolRepetitionDetected(t *testing.T) {
	d := toolRepetitionDetector{}
	sig := d.Detect(Window{ToolCalls: []ToolCall{
		{Name: "web_search", Params: "q=x"},
		{Name: "web_search", Params: "q=x"},
		{Name: "web_search", Params: "q=x"},
	}})
	assert.GreaterOrEqual(t, sig.Confidence, 0.9)
}

func TestDistinctToolCallsNotFlagged(t *testing.T) {
	d := toolRepetitionDetector{}
	sig := d.Detect(Window{ToolCalls: []ToolCall{
		{Name: "read_file", Params: "a"},
		{Name: "read_file", Params: "b"},
		{Name: "read_file", Params: "c"},
	}})
	assert.Less(t, sig.Confidence, 0.7)
}

func TestVerbatimOutputDetected(t *testing.T) {
	d := outputSimilarityDetector{verbatim: 0.95, paraphrase: 0.85}
	text := "The answer is 42 and nothing else matters here."
	sig := d.Detect(Window{Outputs: []string{text, text}})
	assert.GreaterOrEqual(t, sig.Confidence, 0.9)
}

func TestDifferentOutputsNotFlagged(t *testing.T) {
	d := outputSimilarityDetector{verbatim: 0.95, paraphrase: 0.85}
	sig := d.Detect(Window{Outputs: []string{
		"Paris is the capital of France.",
		"Goroutines are lightweight threads managed by the Go runtime.",
	}})
	assert.Less(t, sig.Confidence, 0.7)
}

func TestErrorCycleDetected(t *testing.T) {
	d := errorCycleDetector{}
	sig := d.Detect(Window{Errors: []string{"timeout", "timeout", "timeout"}})
	assert.GreaterOrEqual(t, sig.Confidence, 0.9)

	sig = d.Detect(Window{Errors: []string{"missing import", "undefined var", "missing import"}})
	assert.GreaterOrEqual(t, sig.Confidence, 0.7)
	assert.Contains(t, sig.Pattern, "whack-a-mole")
}

func TestTokenDegenerationDetected(t *testing.T) {
	d := tokenPatternDetector{}
	sig := d.Detect(Window{Outputs: []string{"result: " + strings.Repeat("a", 60)}})
	assert.GreaterOrEqual(t, sig.Confidence, 0.9)
}

func TestRepeatedPhraseDetected(t *testing.T) {
	d := tokenPatternDetector{}
	phrase := "let me try that again "
	sig := d.Detect(Window{Outputs: []string{strings.Repeat(phrase, 4)}})
	assert.GreaterOrEqual(t, sig.Confidence, 0.85)
}

func TestAggregatorWarnThenResetThenEscalate(t *testing.T) {
	agg := NewAggregator(testConfig())
	window := Window{ToolCalls: []ToolCall{
		{Name: "read_file", Params: "a"},
		{Name: "write_file", Params: "b"},
		{Name: "read_file", Params: "a"},
		{Name: "write_file", Params: "b"},
	}}

	first := agg.Evaluate(window, false, 0)
	require.True(t, first.Triggered)
	assert.Equal(t, ActionWarn, first.Action)

	second := agg.Evaluate(window, true, 0)
	assert.Equal(t, ActionReset, second.Action)

	third := agg.Evaluate(window, true, 2)
	assert.Equal(t, ActionEscalate, third.Action)
}

func TestAggregatorQuietOnCleanWindow(t *testing.T) {
	agg := NewAggregator(testConfig())
	decision := agg.Evaluate(Window{
		Outputs: []string{"hello", "a completely different reply about sailing"},
	}, false, 0)
	assert.False(t, decision.Triggered)
	assert.Equal(t, ActionNone, decision.Action)
}

func TestRecoveryBlockLadder(t *testing.T) {
	soft := RecoveryBlock(1, "ping-pong between read_file and write_file", nil)
	assert.Contains(t, soft, "<loop-recovery>")
	assert.Contains(t, soft, "different approach")

	strong := RecoveryBlock(2, "ping-pong", []string{"read_file a", "write_file b"})
	assert.Contains(t, strong, "Do NOT")
	assert.Contains(t, strong, "read_file a")

	last := RecoveryBlock(3, "ping-pong", nil)
	assert.Contains(t, last, "ask the user")
}
