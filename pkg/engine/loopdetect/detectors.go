// Package loopdetect watches a session's recent activity for repetition
// loops: tool ping-pong, paraphrased re-answers, error cycles, token
// degeneration. Five detectors vote and an aggregator decides between
// warn, reset, and user-intervention escalation.
package loopdetect

import (
	"fmt"
	"strings"
)

// ToolCall is one observed tool invocation, fingerprinted for comparison.
type ToolCall struct {
	Name   string
	Params string
	Result string
}

// Window is the recent activity a detector inspects.
type Window struct {
	ToolCalls []ToolCall
	Outputs   []string
	States    []string
	Errors    []string
}

// Signal is one detector's vote.
type Signal struct {
	Detector   string
	Confidence float64
	Pattern    string
}

type Detector interface {
	Name() string
	Weight() float64
	Detect(w Window) Signal
}

// toolRepetitionDetector flags exact repeats, A-B-A-B ping-pong, and
// repeated identical results.
type toolRepetitionDetector struct{}

func (toolRepetitionDetector) Name() string    { return "tool_repetition" }
func (toolRepetitionDetector) Weight() float64 { return 1.0 }

func (d toolRepetitionDetector) Detect(w Window) Signal {
	sig := Signal{Detector: d.Name()}
	calls := w.ToolCalls
	if len(calls) < 3 {
		return sig
	}

	key := func(c ToolCall) string { return c.Name + "\x00" + c.Params }

	// Exact repetition: same call three or more times in a row.
	run := 1
	for i := len(calls) - 1; i > 0; i-- {
		if key(calls[i]) != key(calls[i-1]) {
			break
		}
		run++
	}
	if run >= 3 {
		return Signal{
			Detector:   d.Name(),
			Confidence: 0.95,
			Pattern:    fmt.Sprintf("tool %s called %d times with identical params", calls[len(calls)-1].Name, run),
		}
	}

	// Ping-pong: last four calls alternate between two distinct calls.
	if len(calls) >= 4 {
		a, b := key(calls[len(calls)-4]), key(calls[len(calls)-3])
		if a != b &&
			key(calls[len(calls)-2]) == a &&
			key(calls[len(calls)-1]) == b {
			return Signal{
				Detector:   d.Name(),
				Confidence: 0.92,
				Pattern: fmt.Sprintf("ping-pong between %s and %s",
					calls[len(calls)-4].Name, calls[len(calls)-3].Name),
			}
		}
	}

	// Same result: three or more consecutive calls returning identical output.
	if len(calls) >= 3 {
		last := calls[len(calls)-1].Result
		same := 1
		for i := len(calls) - 2; i >= 0; i-- {
			if calls[i].Result != last || last == "" {
				break
			}
			same++
		}
		if same >= 3 {
			return Signal{
				Detector:   d.Name(),
				Confidence: 0.85,
				Pattern:    fmt.Sprintf("%d consecutive tool calls returned identical results", same),
			}
		}
	}
	return sig
}

// outputSimilarityDetector compares recent outputs with Jaccard token
// overlap, trigram shingles, and line-structure shape.
type outputSimilarityDetector struct {
	verbatim   float64
	paraphrase float64
}

func (outputSimilarityDetector) Name() string    { return "output_similarity" }
func (outputSimilarityDetector) Weight() float64 { return 1.0 }

func (d outputSimilarityDetector) Detect(w Window) Signal {
	sig := Signal{Detector: d.Name()}
	if len(w.Outputs) < 2 {
		return sig
	}

	paraphrasePairs := 0
	maxSim := 0.0
	for i := len(w.Outputs) - 1; i > 0 && i > len(w.Outputs)-4; i-- {
		sim := outputSimilarity(w.Outputs[i], w.Outputs[i-1])
		if sim > maxSim {
			maxSim = sim
		}
		if sim >= d.verbatim {
			return Signal{
				Detector:   d.Name(),
				Confidence: 0.95,
				Pattern:    "near-verbatim repeated output",
			}
		}
		if sim >= d.paraphrase {
			paraphrasePairs++
		}
	}
	if paraphrasePairs >= 2 {
		return Signal{
			Detector:   d.Name(),
			Confidence: 0.85,
			Pattern:    "paraphrased repetition across multiple outputs",
		}
	}
	if maxSim >= d.paraphrase {
		sig.Confidence = 0.6
		sig.Pattern = "single paraphrased repeat"
	}
	return sig
}

// outputSimilarity blends Jaccard word overlap, trigram overlap and a
// structural (line count) factor into one score.
func outputSimilarity(a, b string) float64 {
	if a == b && a != "" {
		return 1.0
	}
	jac := jaccard(tokenSet(a), tokenSet(b))
	tri := jaccard(shingleSet(a, 3), shingleSet(b, 3))
	structural := lineShapeSimilarity(a, b)
	return 0.45*jac + 0.45*tri + 0.1*structural
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}

func shingleSet(s string, n int) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool)
	for i := 0; i+n <= len(words); i++ {
		set[strings.Join(words[i:i+n], " ")] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func lineShapeSimilarity(a, b string) float64 {
	la := len(strings.Split(a, "\n"))
	lb := len(strings.Split(b, "\n"))
	if la == 0 || lb == 0 {
		return 0
	}
	if la > lb {
		la, lb = lb, la
	}
	return float64(la) / float64(lb)
}

// stateOscillationDetector flags A-B-A-B flips in recorded states.
type stateOscillationDetector struct{}

func (stateOscillationDetector) Name() string    { return "state_oscillation" }
func (stateOscillationDetector) Weight() float64 { return 0.8 }

func (d stateOscillationDetector) Detect(w Window) Signal {
	sig := Signal{Detector: d.Name()}
	states := w.States
	if len(states) < 4 {
		return sig
	}
	n := len(states)
	a, b := states[n-4], states[n-3]
	if a != b && states[n-2] == a && states[n-1] == b {
		return Signal{
			Detector:   d.Name(),
			Confidence: 0.9,
			Pattern:    fmt.Sprintf("state oscillation between %q and %q", a, b),
		}
	}
	return sig
}

// errorCycleDetector flags the same error recurring and whack-a-mole
// A→B→A error swaps.
type errorCycleDetector struct{}

func (errorCycleDetector) Name() string    { return "error_cycle" }
func (errorCycleDetector) Weight() float64 { return 0.9 }

func (d errorCycleDetector) Detect(w Window) Signal {
	sig := Signal{Detector: d.Name()}
	errs := w.Errors
	if len(errs) < 3 {
		return sig
	}
	n := len(errs)

	if errs[n-1] != "" && errs[n-1] == errs[n-2] && errs[n-2] == errs[n-3] {
		return Signal{
			Detector:   d.Name(),
			Confidence: 0.92,
			Pattern:    "same error three times in a row",
		}
	}
	if errs[n-3] != "" && errs[n-3] == errs[n-1] && errs[n-2] != errs[n-1] && errs[n-2] != "" {
		return Signal{
			Detector:   d.Name(),
			Confidence: 0.8,
			Pattern:    "error whack-a-mole: fixing one error reintroduces another",
		}
	}
	return sig
}

// tokenPatternDetector flags repeated phrases and character degeneration
// inside the newest output.
type tokenPatternDetector struct{}

func (tokenPatternDetector) Name() string    { return "token_pattern" }
func (tokenPatternDetector) Weight() float64 { return 0.7 }

func (d tokenPatternDetector) Detect(w Window) Signal {
	sig := Signal{Detector: d.Name()}
	if len(w.Outputs) == 0 {
		return sig
	}
	out := w.Outputs[len(w.Outputs)-1]

	if phrase, count := repeatedPhrase(out, 4, 3); count >= 3 {
		return Signal{
			Detector:   d.Name(),
			Confidence: 0.9,
			Pattern:    fmt.Sprintf("phrase %q repeated %d times", phrase, count),
		}
	}
	if degenerated(out) {
		return Signal{
			Detector:   d.Name(),
			Confidence: 0.95,
			Pattern:    "character degeneration in output",
		}
	}
	return sig
}

// repeatedPhrase finds the most repeated n-word phrase.
func repeatedPhrase(s string, n, minCount int) (string, int) {
	words := strings.Fields(strings.ToLower(s))
	counts := make(map[string]int)
	best, bestCount := "", 0
	for i := 0; i+n <= len(words); i++ {
		phrase := strings.Join(words[i:i+n], " ")
		counts[phrase]++
		if counts[phrase] > bestCount {
			best, bestCount = phrase, counts[phrase]
		}
	}
	if bestCount >= minCount {
		return best, bestCount
	}
	return "", 0
}

// degenerated reports a long single-character run dominating the tail.
func degenerated(s string) bool {
	if len(s) < 40 {
		return false
	}
	tail := s[len(s)-40:]
	run := 1
	maxRun := 1
	for i := 1; i < len(tail); i++ {
		if tail[i] == tail[i-1] && tail[i] != ' ' && tail[i] != '\n' {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 1
		}
	}
	return maxRun >= 20
}
