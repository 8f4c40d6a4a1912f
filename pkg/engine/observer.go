package engine

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/llms"
)

// Verdict is the observer's decision over a partial generation.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictCaution
	VerdictBlock
)

func (v Verdict) String() string {
	switch v {
	case VerdictCaution:
		return "CAUTION"
	case VerdictBlock:
		return "BLOCK"
	default:
		return "OK"
	}
}

// observer watches a generation stream and can block or flag it. It is
// rate limited: a minimum interval between checks and a hard cap per
// stream.
type observer struct {
	cfg       *config.CognitiveAuditConfig
	sources   map[string]bool
	provider  llms.Provider
	lastCheck time.Time
	checks    int
	cautions  []string
}

func newObserver(cfg *config.CognitiveAuditConfig, docs []RetrievedDocument, reviewer llms.Provider) *observer {
	o := &observer{cfg: cfg, sources: citedSources(docs)}
	if cfg.LLMReviewEnabled {
		o.provider = reviewer
	}
	return o
}

// citedFilePattern matches filename-looking citations in prose.
var citedFilePattern = regexp.MustCompile(`\b[\w./-]+\.(?:md|txt|go|py|json|yaml|pdf)\b`)

// check runs the composed review over the text generated so far. It
// returns VerdictOK without doing work when rate limits apply.
func (o *observer) check(ctx context.Context, partial string) Verdict {
	if !config.BoolOr(o.cfg.Enabled, true) {
		return VerdictOK
	}
	if o.checks >= o.cfg.MaxPerStream {
		return VerdictOK
	}
	if interval := time.Duration(o.cfg.MinIntervalSecs) * time.Second; time.Since(o.lastCheck) < interval && !o.lastCheck.IsZero() {
		return VerdictOK
	}
	o.lastCheck = time.Now()
	o.checks++

	if v := o.patternCheck(partial); v != VerdictOK {
		return v
	}
	if v := o.citationCheck(partial); v != VerdictOK {
		return v
	}
	if o.provider != nil {
		return o.llmCheck(ctx, partial)
	}
	return VerdictOK
}

// patternCheck catches degeneration and tight phrase loops. Confidence
// at or above the block threshold terminates the stream.
func (o *observer) patternCheck(partial string) Verdict {
	conf, pattern := degenerationScore(partial)
	if pattern == "" {
		return VerdictOK
	}
	if conf >= o.cfg.BlockThreshold {
		o.cautions = append(o.cautions, "blocked: "+pattern)
		return VerdictBlock
	}
	o.cautions = append(o.cautions, pattern)
	return VerdictCaution
}

// degenerationScore measures repeated-character runs and immediate
// phrase repetition in the tail of the stream.
func degenerationScore(s string) (float64, string) {
	if len(s) < 40 {
		return 0, ""
	}
	tail := s[len(s)-40:]
	run := 1
	for i := 1; i < len(tail); i++ {
		if tail[i] == tail[i-1] && tail[i] != ' ' && tail[i] != '\n' {
			run++
			if run >= 20 {
				return 0.95, "character degeneration"
			}
		} else {
			run = 1
		}
	}

	words := strings.Fields(s)
	if len(words) >= 12 {
		recent := words[len(words)-12:]
		phrase := strings.Join(recent[:4], " ")
		count := 0
		for i := 0; i+4 <= len(recent); i += 4 {
			if strings.Join(recent[i:i+4], " ") == phrase {
				count++
			}
		}
		if count >= 3 {
			return 0.9, "repeated phrase: " + phrase
		}
	}
	return 0, ""
}

// citationCheck flags filenames the response cites that were never
// retrieved this turn.
func (o *observer) citationCheck(partial string) Verdict {
	cited := citedFilePattern.FindAllString(partial, -1)
	if len(cited) == 0 {
		return VerdictOK
	}
	for _, name := range cited {
		if !o.sources[strings.ToLower(name)] {
			o.cautions = append(o.cautions, "uncited source: "+name)
			return VerdictCaution
		}
	}
	return VerdictOK
}

// llmCheck asks the reviewer model for a fast pass/fail over the
// partial text. Any failure degrades to OK; the observer never breaks
// a healthy stream on its own errors.
func (o *observer) llmCheck(ctx context.Context, partial string) Verdict {
	text, _, err := o.provider.ChatCompletion(ctx, []llms.Message{
		{Role: "system", Content: "You audit a partial response for fabricated facts or runaway repetition. Reply with exactly one word: OK, CAUTION, or BLOCK."},
		{Role: "user", Content: partial},
	}, llms.Params{Temperature: 0, MaxTokens: 4})
	if err != nil {
		return VerdictOK
	}
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "BLOCK":
		o.cautions = append(o.cautions, "reviewer blocked stream")
		return VerdictBlock
	case "CAUTION":
		o.cautions = append(o.cautions, "reviewer flagged stream")
		return VerdictCaution
	}
	return VerdictOK
}
