package loopdetect

import (
	"fmt"
	"strings"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
)

// Action is what the aggregator asks the pipeline to do.
type Action string

const (
	ActionNone     Action = "none"
	ActionWarn     Action = "warn"
	ActionReset    Action = "reset"
	ActionEscalate Action = "escalate"
)

// Decision is the aggregate verdict for one evaluation.
type Decision struct {
	Triggered bool
	Action    Action
	Pattern   string
	Signals   []Signal
}

// Aggregator runs the detector set and applies the trigger rules: any
// single detector at or above the single threshold, two or more at the
// dual threshold, or a weighted combination above the weighted
// threshold.
type Aggregator struct {
	detectors []Detector
	cfg       *config.LoopDetectionConfig
}

func NewAggregator(cfg *config.LoopDetectionConfig) *Aggregator {
	return &Aggregator{
		cfg: cfg,
		detectors: []Detector{
			toolRepetitionDetector{},
			outputSimilarityDetector{
				verbatim:   cfg.VerbatimSimilarity,
				paraphrase: cfg.ParaphraseSimilarity,
			},
			stateOscillationDetector{},
			errorCycleDetector{},
			tokenPatternDetector{},
		},
	}
}

// Evaluate votes the detectors over the window. warnActive selects
// between warn (first trigger) and reset, and resetCount selects
// escalation at the third reset.
func (a *Aggregator) Evaluate(w Window, warnActive bool, resetCount int) Decision {
	if !config.BoolOr(a.cfg.Enabled, true) {
		return Decision{Action: ActionNone}
	}

	var signals []Signal
	var top Signal
	strong := 0
	weighted := 0.0
	totalWeight := 0.0

	for _, d := range a.detectors {
		sig := d.Detect(w)
		signals = append(signals, sig)
		weighted += sig.Confidence * d.Weight()
		totalWeight += d.Weight()
		if sig.Confidence >= a.cfg.DualThreshold {
			strong++
		}
		if sig.Confidence > top.Confidence {
			top = sig
		}
	}
	weighted /= totalWeight

	triggered := top.Confidence >= a.cfg.SingleThreshold ||
		strong >= 2 ||
		weighted >= a.cfg.WeightedThreshold

	if !triggered {
		return Decision{Action: ActionNone, Signals: signals}
	}

	action := ActionWarn
	if warnActive {
		action = ActionReset
		if resetCount+1 >= 3 {
			action = ActionEscalate
		}
	}
	return Decision{
		Triggered: true,
		Action:    action,
		Pattern:   top.Pattern,
		Signals:   signals,
	}
}

// RecoveryBlock builds the <loop-recovery> context injected after a
// reset. The constraint hardens with each reset.
func RecoveryBlock(resetCount int, pattern string, previousAttempts []string) string {
	var b strings.Builder
	b.WriteString("<loop-recovery>\n")
	fmt.Fprintf(&b, "A repetition loop was detected: %s.\n", pattern)

	if len(previousAttempts) > 0 {
		b.WriteString("Previous attempts that did not work:\n")
		for _, attempt := range previousAttempts {
			fmt.Fprintf(&b, "- %s\n", attempt)
		}
	}

	switch {
	case resetCount <= 1:
		b.WriteString("Try a different approach this time.\n")
	case resetCount == 2:
		b.WriteString("Do NOT repeat any of the previous attempts. ")
		b.WriteString("Do NOT call the same tool with the same arguments. ")
		b.WriteString("Choose a fundamentally different strategy or state what is blocking you.\n")
	default:
		b.WriteString("Automatic recovery has been exhausted. ")
		b.WriteString("Stop attempting the task and ask the user how to proceed.\n")
	}
	b.WriteString("</loop-recovery>")
	return b.String()
}
