package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
	"github.com/azraeltruthsay/gaia-sub000/pkg/vector"
)

// RetrievedDocument is one deduplicated context document attached to
// the packet for prompt assembly and citation verification.
type RetrievedDocument struct {
	ID         string  `json:"id"`
	Collection string  `json:"collection"`
	Source     string  `json:"source,omitempty"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

const maxRetrievedDocs = 6

// retrieveContext reuses probe hits when present and falls back to a
// direct query against the selected collection. Documents are
// deduplicated by source filename so chunked files appear once.
func (e *Engine) retrieveContext(ctx context.Context, p *packet.Packet, probe *ProbeResult) []RetrievedDocument {
	var docs []RetrievedDocument
	seen := make(map[string]bool)

	add := func(d RetrievedDocument) {
		key := d.Source
		if key == "" {
			key = d.Collection + "/" + d.ID
		}
		if seen[key] || len(docs) >= maxRetrievedDocs {
			return
		}
		seen[key] = true
		docs = append(docs, d)
	}

	if probe != nil {
		for _, hit := range probe.Hits {
			add(RetrievedDocument{
				ID:         hit.DocumentID,
				Collection: hit.Collection,
				Content:    hit.Content,
				Similarity: hit.Similarity,
			})
		}
	}

	if len(docs) == 0 {
		collection := p.Context.KnowledgeBaseName
		if collection == "" && probe != nil {
			collection = probe.PrimaryCollection
		}
		if collection != "" {
			docs = append(docs, e.queryCollection(ctx, collection, p.Content.OriginalPrompt, seen)...)
		}
	}

	if len(docs) > 0 {
		if encoded, err := json.Marshal(docs); err == nil {
			p.AddField("retrieved_documents", string(encoded), packet.FieldRetrieved, "knowledge_store")
		}
	}
	return docs
}

func (e *Engine) queryCollection(ctx context.Context, collection, prompt string, seen map[string]bool) []RetrievedDocument {
	emb, err := e.embedder.Embed(ctx, prompt)
	if err != nil {
		e.log.Warn("Retrieval embedding failed", "error", err)
		return nil
	}
	hits, err := e.knowledge.Query(ctx, collection, emb, maxRetrievedDocs)
	if err != nil {
		e.log.Warn("Retrieval query failed", "collection", collection, "error", err)
		return nil
	}

	var docs []RetrievedDocument
	for _, hit := range hits {
		if hit.Similarity < e.cfg.Probe.SimilarityThreshold {
			continue
		}
		source := hit.Meta["source"]
		key := source
		if key == "" {
			key = collection + "/" + hit.ID
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		docs = append(docs, RetrievedDocument{
			ID:         hit.ID,
			Collection: collection,
			Source:     source,
			Content:    hit.Meta["content"],
			Similarity: hit.Similarity,
		})
	}
	return docs
}

// retrievedFrom decodes the retrieved_documents field back off the
// packet for downstream consumers like the observer.
func retrievedFrom(p *packet.Packet) []RetrievedDocument {
	field, ok := p.Field("retrieved_documents")
	if !ok {
		return nil
	}
	var docs []RetrievedDocument
	if err := json.Unmarshal([]byte(field.Value), &docs); err != nil {
		return nil
	}
	return docs
}

// citedSources collects the source names a response may legitimately
// reference.
func citedSources(docs []RetrievedDocument) map[string]bool {
	set := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d.Source != "" {
			set[strings.ToLower(d.Source)] = true
		}
	}
	return set
}

// bestHit returns the top hit from a slice, if any.
func bestHit(hits []vector.Hit) (vector.Hit, bool) {
	if len(hits) == 0 {
		return vector.Hit{}, false
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h.Similarity > best.Similarity {
			best = h
		}
	}
	return best, true
}
