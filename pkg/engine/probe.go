package engine

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

// ProbeHit is one above-threshold match from a knowledge collection.
type ProbeHit struct {
	Phrase     string  `json:"phrase"`
	Collection string  `json:"collection"`
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content,omitempty"`
	Similarity float64 `json:"similarity"`
}

// ProbeResult is the aggregate the pipeline stores on the packet.
type ProbeResult struct {
	Phrases                 []string   `json:"phrases"`
	Hits                    []ProbeHit `json:"hits"`
	PrimaryCollection       string     `json:"primary_collection,omitempty"`
	SupplementalCollections []string   `json:"supplemental_collections,omitempty"`
}

var (
	capitalizedSeq = regexp.MustCompile(`\b[A-Z][\w']*(?:\s+[A-Z][\w']*)+\b`)
	quotedString   = regexp.MustCompile(`"([^"]{3,80})"|'([^']{3,80})'`)
	domainNotation = regexp.MustCompile(`\b[\w-]+(?:\.[\w-]+)+\b|\b[\w]+::[\w:]+\b|\b[A-Z]{2,}-\d+\b`)
	wordPattern    = regexp.MustCompile(`[A-Za-z][A-Za-z'-]{2,}`)
)

// stopwords plus the most common English words; anything outside this
// set is treated as rare.
var commonWords = buildCommonWords()

func buildCommonWords() map[string]bool {
	words := strings.Fields(`the a an and or but if then else for while of to in on at by with from
		as is are was were be been being have has had do does did will would could should may might
		can must not no yes this that these those it its they them their we our you your i me my he
		she his her who whom which what when where why how all any both each few more most other some
		such only own same so than too very just about into over under again once here there please
		tell give make know think see want use find get go come say said like time way day man thing
		work life hand part child eye woman place week case point fact group number world area need
		really also still even back well new good first last long great little old right big high
		small large next early young important public bad able best better sure things something
		anything nothing everything someone anyone everyone people question answer`)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// extractPhrases pulls candidate probe phrases from the prompt using
// pure heuristics: capitalized multi-word sequences, quoted strings,
// rare words, and domain-notation patterns.
func extractPhrases(prompt string, maxPhrases int) []string {
	seen := make(map[string]bool)
	var phrases []string
	add := func(p string) {
		p = strings.TrimSpace(p)
		if len(p) < 3 {
			return
		}
		key := strings.ToLower(p)
		if seen[key] {
			return
		}
		seen[key] = true
		phrases = append(phrases, p)
	}

	for _, m := range capitalizedSeq.FindAllString(prompt, -1) {
		add(m)
	}
	for _, m := range quotedString.FindAllStringSubmatch(prompt, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	for _, m := range domainNotation.FindAllString(prompt, -1) {
		add(m)
	}
	for _, m := range wordPattern.FindAllString(prompt, -1) {
		lower := strings.ToLower(m)
		if !commonWords[lower] {
			add(m)
		}
	}

	if len(phrases) > maxPhrases {
		phrases = phrases[:maxPhrases]
	}
	return phrases
}

// reflexCommands never reach the probe.
var reflexCommands = map[string]bool{"exit": true, "help": true, "status": true}

// probeSkip reports whether the probe should short-circuit for this
// prompt.
func (e *Engine) probeSkip(sessionID, prompt string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(prompt))
	if reflexCommands[trimmed] {
		return true
	}
	if len(strings.Fields(prompt)) < e.cfg.Probe.MinPromptWords {
		return true
	}
	if e.sessions.LastPrompt(sessionID) == prompt {
		return true
	}
	return false
}

// runProbe embeds the extracted phrases and searches every knowledge
// collection, grouping hits by collection. Cache hits skip the embedder.
// Failures are non-fatal and produce an empty result.
func (e *Engine) runProbe(ctx context.Context, p *packet.Packet) *ProbeResult {
	cfg := e.cfg.Probe
	prompt := p.Content.OriginalPrompt
	sessionID := p.Header.SessionID

	if e.probeSkip(sessionID, prompt) {
		return &ProbeResult{}
	}

	start := time.Now()
	phrases := extractPhrases(prompt, cfg.MaxPhrases)
	result := &ProbeResult{Phrases: phrases}

	for _, phrase := range phrases {
		if cached, ok := e.sessions.CachedProbe(sessionID, phrase, cfg.CacheMaxAgeTurns); ok {
			var hits []ProbeHit
			if err := json.Unmarshal([]byte(cached), &hits); err == nil {
				result.Hits = append(result.Hits, hits...)
				continue
			}
		}

		emb, err := e.embedder.Embed(ctx, phrase)
		if err != nil {
			e.log.Warn("Probe embedding failed", "phrase", phrase, "error", err)
			continue
		}

		var phraseHits []ProbeHit
		for collection := range e.cfg.Knowledge {
			hits, err := e.knowledge.Query(ctx, collection, emb, cfg.TopKPerPhrase)
			if err != nil {
				e.log.Warn("Probe query failed", "collection", collection, "error", err)
				continue
			}
			for _, hit := range hits {
				if hit.Similarity < cfg.SimilarityThreshold {
					continue
				}
				phraseHits = append(phraseHits, ProbeHit{
					Phrase:     phrase,
					Collection: collection,
					DocumentID: hit.ID,
					Content:    hit.Meta["content"],
					Similarity: hit.Similarity,
				})
			}
		}
		result.Hits = append(result.Hits, phraseHits...)
		if encoded, err := json.Marshal(phraseHits); err == nil {
			e.sessions.CacheProbe(sessionID, phrase, string(encoded))
		}
	}

	rankCollections(result)

	p.Metrics.ProbePhrases = len(phrases)
	p.Metrics.ProbeHits = len(result.Hits)
	p.Metrics.ProbeDuration = time.Since(start)
	return result
}

// rankCollections picks the primary collection by aggregate similarity.
func rankCollections(result *ProbeResult) {
	scores := make(map[string]float64)
	for _, hit := range result.Hits {
		scores[hit.Collection] += hit.Similarity
	}
	if len(scores) == 0 {
		return
	}

	type entry struct {
		name  string
		score float64
	}
	ranked := make([]entry, 0, len(scores))
	for name, score := range scores {
		ranked = append(ranked, entry{name, score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})

	result.PrimaryCollection = ranked[0].name
	for _, e := range ranked[1:] {
		result.SupplementalCollections = append(result.SupplementalCollections, e.name)
	}
}
