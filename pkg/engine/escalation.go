package engine

import (
	"strings"

	"github.com/azraeltruthsay/gaia-sub000/pkg/council"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

// Complexity signals that make a Lite-handled prompt worth a council
// note for Prime to read on wake.
var complexitySignals = []struct {
	category string
	keywords []string
}{
	{"emotional", []string{"i feel", "i'm worried", "i am worried", "anxious", "grieving", "depressed", "lonely"}},
	{"philosophical", []string{"meaning of", "consciousness", "free will", "what is the purpose", "do you think you", "are you alive"}},
	{"system_internal", []string{"your memory", "your architecture", "your training", "how do you work", "your checkpoints", "gpu handoff"}},
}

// complexityAssessment is recorded while Lite answers and consumed
// after the response.
type complexityAssessment struct {
	Flagged    bool
	Category   string
	Confidence float64
}

// recordComplexity scores the prompt and stashes the assessment on the
// packet sketchpad for the post-response step.
func (e *Engine) recordComplexity(p *packet.Packet) {
	assessment := e.assessComplexity(p.Content.OriginalPrompt)
	if !assessment.Flagged {
		return
	}
	p.Sketch("complexity", assessment.Category)
	p.Reflect("complexity", "flagged as "+assessment.Category, assessment.Confidence)
}

func (e *Engine) assessComplexity(prompt string) complexityAssessment {
	lower := strings.ToLower(prompt)
	for _, sig := range complexitySignals {
		for _, kw := range sig.keywords {
			if strings.Contains(lower, kw) {
				return complexityAssessment{Flagged: true, Category: sig.category, Confidence: 0.8}
			}
		}
	}
	if len(prompt) >= e.cfg.Council.EscalationPromptChars {
		return complexityAssessment{Flagged: true, Category: "long_form", Confidence: 0.6}
	}
	return complexityAssessment{}
}

// escalateIfFlagged writes a council note after a Lite-handled turn
// whose prompt carried a complexity flag. Prime consumes the note on
// its next wake.
func (e *Engine) escalateIfFlagged(p *packet.Packet, response string) {
	category, ok := p.Reasoning.Sketchpad["complexity"]
	if !ok {
		return
	}

	quickTake := response
	if len(quickTake) > 300 {
		quickTake = quickTake[:300]
	}
	note := council.Note{
		UserPrompt:       p.Content.OriginalPrompt,
		LiteQuickTake:    "[Lite] " + quickTake,
		EscalationReason: category,
		Confidence:       0.8,
	}
	if err := e.council.Write(note); err != nil {
		e.log.Warn("Council note write failed", "error", err)
		return
	}
	p.Reflect("escalation", "council note written ("+category+")", 0.8)
}
