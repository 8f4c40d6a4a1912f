package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/azraeltruthsay/gaia-sub000/pkg/llms"
)

var (
	thinkTagPattern  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	openThinkPattern = regexp.MustCompile(`(?s)<think>.*$`)
	doubleSpace      = regexp.MustCompile(`  +`)
	cjkRunPattern    = regexp.MustCompile(`[\p{Han}\p{Hiragana}\p{Katakana}\p{Hangul}]+`)
)

// StripThinkTags removes reasoning blocks, including an unterminated
// trailing block some model variants emit.
func StripThinkTags(s string) string {
	s = thinkTagPattern.ReplaceAllString(s, "")
	s = openThinkPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// extractThinkContent pulls the reasoning text out of think tags for the
// last-resort recovery path.
func extractThinkContent(s string) string {
	matches := thinkTagPattern.FindAllString(s, -1)
	var parts []string
	for _, m := range matches {
		inner := strings.TrimSuffix(strings.TrimPrefix(m, "<think>"), "</think>")
		if trimmed := strings.TrimSpace(inner); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

// removeStrayCJK drops short CJK runs that leak from multilingual
// models. Runs longer than maxRun are kept as intentional content.
func removeStrayCJK(s string, maxRun int) string {
	return cjkRunPattern.ReplaceAllStringFunc(s, func(run string) string {
		if len([]rune(run)) <= maxRun {
			return ""
		}
		return run
	})
}

// collapseSpaces tidies whitespace damage left by the removals above.
func collapseSpaces(s string) string {
	return strings.TrimSpace(doubleSpace.ReplaceAllString(s, " "))
}

// postProcess runs the epistemic cleanup over a raw generation: think
// tags out, stray CJK out, whitespace collapsed. If stripping leaves
// nothing, a two-stage recovery runs: regenerate with an explicit
// directive at low temperature, then fall back to presenting the
// reasoning content itself.
func (e *Engine) postProcess(ctx context.Context, raw string, messages []llms.Message, provider llms.Provider) string {
	cleaned := StripThinkTags(raw)
	cleaned = removeStrayCJK(cleaned, e.cfg.Epistemic.MaxCJKRun)
	cleaned = collapseSpaces(cleaned)
	if cleaned != "" {
		return cleaned
	}

	if provider != nil {
		retry := append([]llms.Message(nil), messages...)
		retry = append(retry, llms.Message{
			Role:    "system",
			Content: "Answer directly. Do not use <think> tags or any internal reasoning markup.",
		})
		text, _, err := provider.ChatCompletion(ctx, retry, llms.Params{
			Temperature: e.cfg.Epistemic.RetryTemperature,
		})
		if err == nil {
			if recovered := collapseSpaces(removeStrayCJK(StripThinkTags(text), e.cfg.Epistemic.MaxCJKRun)); recovered != "" {
				return recovered
			}
		}
	}

	if reasoning := extractThinkContent(raw); reasoning != "" {
		return "Based on my analysis: " + collapseSpaces(reasoning)
	}
	return ""
}
