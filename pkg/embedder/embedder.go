// Package embedder provides text embedding for the semantic probe, intent
// classification, RAG enrichment, and ingestion dedup. The embedding model
// itself runs out of process (the sentence-transformer entry of the model
// pool); this package is the client side.
package embedder

import (
	"context"
)

// Embedder produces vector embeddings from text.
type Embedder interface {
	// Embed converts text to a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts in one round trip.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the model name being used.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}
