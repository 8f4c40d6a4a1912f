package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
)

// Explicit-save phrasings. Anything matching goes straight to the
// knowledge store; the auto path only offers.
var explicitSavePattern = regexp.MustCompile(`(?i)\b(remember (?:this|that)|save (?:this|that) (?:to|in) (?:your )?(?:memory|knowledge)|store (?:this|that)|add (?:this|that) to (?:your )?knowledge)\b`)

// Entity-ish tokens used by the auto-detect heuristic.
var entityToken = regexp.MustCompile(`\b[A-Z][\w-]+\b|\b\d{4}\b|\b[\w-]+\.[\w-]+\b`)

var codeLinePattern = regexp.MustCompile(`(?m)^\s*(?:def |func |class |import |#include)`)

const (
	autoDetectMinChars    = 280
	autoDetectMinEntities = 5
)

// detectIngestion inspects the utterance for knowledge worth keeping.
// Explicit saves are written and embedded immediately; the auto path
// only tags the packet with an offer hint.
func (e *Engine) detectIngestion(ctx context.Context, p *packet.Packet) {
	prompt := p.Content.OriginalPrompt

	switch {
	case explicitSavePattern.MatchString(prompt):
		e.ingestNow(ctx, p, prompt)
	case autoDetectWorthy(prompt) && p.Context.KnowledgeBaseName != "":
		p.AddField("knowledge_save_offer", "content looks worth keeping; offer to save it", packet.FieldSystemHint, "ingestion")
	}
}

// autoDetectWorthy is the heuristic for unsolicited long-form content:
// enough length and enough entity density.
func autoDetectWorthy(prompt string) bool {
	if len(prompt) < autoDetectMinChars {
		return false
	}
	return len(entityToken.FindAllString(prompt, autoDetectMinEntities)) >= autoDetectMinEntities
}

// ingestNow writes the content into the active collection unless a
// near-duplicate already exists.
func (e *Engine) ingestNow(ctx context.Context, p *packet.Packet, content string) {
	collection := p.Context.KnowledgeBaseName
	if collection == "" {
		collection = defaultPersona
	}

	snippet := content
	if max := e.cfg.Ingestion.SnippetChars; len(snippet) > max {
		snippet = snippet[:max]
	}
	emb, err := e.embedder.Embed(ctx, snippet)
	if err != nil {
		e.log.Warn("Ingestion embedding failed", "error", err)
		return
	}

	hits, err := e.knowledge.Query(ctx, collection, emb, 1)
	if err == nil {
		if top, ok := bestHit(hits); ok && top.Similarity >= e.cfg.Ingestion.DuplicateThreshold {
			p.AddField("knowledge_save_duplicate", top.ID, packet.FieldSystemHint, "ingestion")
			p.Reflect("ingestion", fmt.Sprintf("skipped near-duplicate of %s (sim %.2f)", top.ID, top.Similarity), top.Similarity)
			return
		}
	}

	id := uuid.NewString()
	meta := map[string]string{
		"content":     content,
		"category":    classifyIngestion(content),
		"session_id":  p.Header.SessionID,
		"ingested_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := e.knowledge.Add(ctx, collection, id, content, emb, meta); err != nil {
		e.log.Warn("Knowledge write failed", "collection", collection, "error", err)
		return
	}
	p.AddField("knowledge_saved", id, packet.FieldSystemHint, "ingestion")
	p.Reflect("ingestion", "saved to "+collection, 1)
}

// classifyIngestion buckets content by cheap lexical signals.
func classifyIngestion(content string) string {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "http://") || strings.Contains(lower, "https://"):
		return "reference"
	case codeLinePattern.MatchString(content):
		return "code"
	case strings.Count(content, "\n") > 8:
		return "document"
	default:
		return "fact"
	}
}
