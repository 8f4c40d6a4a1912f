package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/azraeltruthsay/gaia-sub000/pkg/session"
)

// Fabrication signals. A message accumulating enough of them is redacted
// before the history reaches any prompt.
var (
	filePathPattern   = regexp.MustCompile(`(?:^|\s)(/[\w.-]+){2,}`)
	citationQuote     = regexp.MustCompile(`(?m)^>\s.+(?:\n>\s.+)*`)
	fabricatedDomains = regexp.MustCompile(`https?://(?:[\w-]+\.)?(?:example-archive\.org|docs-mirror\.net|knowledge-vault\.io)\S*`)
	correctionPattern = regexp.MustCompile(`(?i)\b(that'?s (?:not right|wrong|incorrect)|you (?:made that up|hallucinat)|no,? (?:that|it) (?:isn'?t|is not))\b`)
	acknowledgment    = regexp.MustCompile(`(?i)\b(you'?re right|i apologi[sz]e|my mistake|i was (?:wrong|incorrect))\b`)
)

const redactedNotice = "[message redacted: unverified citations]"

// reviewHistory rewrites recent history with rule-based filters:
// messages with violations at or above the threshold are fully
// redacted, a single violation gets an annotation, and
// correction/acknowledgment pairs collapse into one summary note.
func (e *Engine) reviewHistory(history []session.Message) []session.Message {
	cfg := e.cfg.HistoryReview
	if len(history) == 0 {
		return history
	}
	if max := cfg.MaxMessages; max > 0 && len(history) > max {
		history = history[len(history)-max:]
	}

	out := make([]session.Message, 0, len(history))
	for i := 0; i < len(history); i++ {
		msg := history[i]

		// Compress a user-correction followed by an assistant
		// acknowledgment into one summary note.
		if i+1 < len(history) &&
			msg.Role == "user" && correctionPattern.MatchString(msg.Content) &&
			history[i+1].Role == "assistant" && acknowledgment.MatchString(history[i+1].Content) {
			out = append(out, session.Message{
				Role:    "system",
				Content: "[note: the user corrected an earlier inaccurate claim and the assistant acknowledged it]",
			})
			i++
			continue
		}

		if msg.Role != "assistant" {
			out = append(out, msg)
			continue
		}

		violations := countFabricationSignals(msg.Content, history[:i])
		switch {
		case violations >= cfg.ViolationThreshold:
			msg.Content = redactedNotice
		case violations == 1:
			msg.Content = msg.Content + "\n[caution: contains unverified references]"
		}
		out = append(out, msg)
	}
	return out
}

// countFabricationSignals scores one assistant message. File paths only
// count when no prior tool result appears in the preceding context.
func countFabricationSignals(content string, preceding []session.Message) int {
	violations := 0

	if filePathPattern.MatchString(content) && !toolEvidencePresent(preceding) {
		violations++
	}
	if citationQuote.MatchString(content) {
		violations++
	}
	if fabricatedDomains.MatchString(content) {
		violations++
	}
	return violations
}

func toolEvidencePresent(preceding []session.Message) bool {
	for _, msg := range preceding {
		if msg.Role == "system" && strings.Contains(msg.Content, "tool result") {
			return true
		}
	}
	return false
}

// historySummary is a one-line description for the reflection log.
func historySummary(before, after []session.Message) string {
	redacted := 0
	for _, msg := range after {
		if msg.Content == redactedNotice {
			redacted++
		}
	}
	return fmt.Sprintf("reviewed %d messages, redacted %d", len(before), redacted)
}
