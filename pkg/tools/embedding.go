package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/azraeltruthsay/gaia-sub000/pkg/embedder"
	"github.com/azraeltruthsay/gaia-sub000/pkg/vector"
)

// EmbeddingQueryTool searches a knowledge collection by semantic
// similarity.
type EmbeddingQueryTool struct {
	embedder embedder.Embedder
	store    *vector.KnowledgeStore
}

type embeddingQueryArgs struct {
	Query      string  `json:"query" jsonschema:"required,description=Text to search for"`
	Collection string  `json:"collection,omitempty" jsonschema:"description=Knowledge collection to search (default core)"`
	TopK       int     `json:"top_k,omitempty" jsonschema:"description=Number of results (default 5)"`
	MinSim     float64 `json:"min_similarity,omitempty" jsonschema:"description=Drop results below this cosine similarity"`
}

func NewEmbeddingQueryTool(emb embedder.Embedder, store *vector.KnowledgeStore) *EmbeddingQueryTool {
	return &EmbeddingQueryTool{embedder: emb, store: store}
}

func (t *EmbeddingQueryTool) GetName() string { return "embedding_query" }

func (t *EmbeddingQueryTool) GetDescription() string {
	return "Search a knowledge collection by semantic similarity"
}

func (t *EmbeddingQueryTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		InputSchema: reflectSchema(&embeddingQueryArgs{}),
	}
}

func (t *EmbeddingQueryTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		err := fmt.Errorf("query parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}
	collection, _ := args["collection"].(string)
	if collection == "" {
		collection = "core"
	}
	topK := intArg(args, "top_k")
	if topK <= 0 {
		topK = 5
	}
	minSim, _ := args["min_similarity"].(float64)

	emb, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("embedding failed: %v", err), start), err
	}
	hits, err := t.store.Query(ctx, collection, emb, topK)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	kept := hits[:0]
	for _, hit := range hits {
		if hit.Similarity >= minSim {
			kept = append(kept, hit)
		}
	}
	encoded, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	return ToolResult{
		Success:       true,
		Content:       string(encoded),
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"collection": collection,
			"hits":       len(kept),
		},
	}, nil
}

// EmbedDocumentsTool ingests documents into a knowledge collection.
type EmbedDocumentsTool struct {
	embedder embedder.Embedder
	store    *vector.KnowledgeStore
}

type embedDocumentsArgs struct {
	Collection string   `json:"collection,omitempty" jsonschema:"description=Target collection (default core)"`
	Documents  []string `json:"documents" jsonschema:"required,description=Document texts to ingest"`
	Source     string   `json:"source,omitempty" jsonschema:"description=Origin label stored with each document"`
}

func NewEmbedDocumentsTool(emb embedder.Embedder, store *vector.KnowledgeStore) *EmbedDocumentsTool {
	return &EmbedDocumentsTool{embedder: emb, store: store}
}

func (t *EmbedDocumentsTool) GetName() string { return "embed_documents" }

func (t *EmbedDocumentsTool) GetDescription() string {
	return "Ingest documents into a knowledge collection"
}

func (t *EmbedDocumentsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		InputSchema: reflectSchema(&embedDocumentsArgs{}),
	}
}

func (t *EmbedDocumentsTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	rawDocs, ok := args["documents"].([]any)
	if !ok || len(rawDocs) == 0 {
		err := fmt.Errorf("documents parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}
	collection, _ := args["collection"].(string)
	if collection == "" {
		collection = "core"
	}
	source, _ := args["source"].(string)

	ingested := 0
	for _, raw := range rawDocs {
		doc, ok := raw.(string)
		if !ok || strings.TrimSpace(doc) == "" {
			continue
		}
		emb, err := t.embedder.Embed(ctx, doc)
		if err != nil {
			return errorResult(t.GetName(), fmt.Sprintf("embedding failed: %v", err), start), err
		}
		meta := map[string]string{"ingested_at": time.Now().UTC().Format(time.RFC3339)}
		if source != "" {
			meta["source"] = source
		}
		if err := t.store.Add(ctx, collection, uuid.NewString(), doc, emb, meta); err != nil {
			return errorResult(t.GetName(), err.Error(), start), err
		}
		ingested++
	}

	return ToolResult{
		Success:       true,
		Content:       fmt.Sprintf("Ingested %d documents into %s", ingested, collection),
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]any{
			"collection": collection,
			"ingested":   ingested,
		},
	}, nil
}
