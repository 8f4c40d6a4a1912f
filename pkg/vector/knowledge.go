package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// KnowledgeStore holds the named knowledge-base collections the semantic
// probe and RAG enrichment search against. Backed by chromem-go with file
// persistence; embeddings are produced externally, so the embedding func is
// an identity stub.
type KnowledgeStore struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func NewKnowledgeStore(persistPath string, compress bool) (*KnowledgeStore, error) {
	var db *chromem.DB
	var err error

	if persistPath != "" {
		if err := os.MkdirAll(persistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create knowledge store dir: %w", err)
		}
		db, err = chromem.NewPersistentDB(persistPath, compress)
		if err != nil {
			slog.Warn("Failed to load knowledge store, starting empty", "path", persistPath, "error", err)
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	return &KnowledgeStore{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (k *KnowledgeStore) collection(name string) (*chromem.Collection, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if c, ok := k.collections[name]; ok {
		return c, nil
	}
	c, err := k.db.GetOrCreateCollection(name, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embeddings must be provided externally")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %q: %w", name, err)
	}
	k.collections[name] = c
	return c, nil
}

// Collections lists the known collection names.
func (k *KnowledgeStore) Collections() []string {
	names := make([]string, 0)
	for name := range k.db.ListCollections() {
		names = append(names, name)
	}
	return names
}

// Add stores a document with its externally computed embedding.
func (k *KnowledgeStore) Add(ctx context.Context, collection, id, content string, embedding []float32, meta map[string]string) error {
	c, err := k.collection(collection)
	if err != nil {
		return err
	}
	return c.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Metadata:  meta,
	})
}

// Query searches one collection by embedding.
func (k *KnowledgeStore) Query(ctx context.Context, collection string, embedding []float32, topK int) ([]Hit, error) {
	c, err := k.collection(collection)
	if err != nil {
		return nil, err
	}
	if c.Count() == 0 {
		return nil, nil
	}
	if topK > c.Count() {
		topK = c.Count()
	}

	results, err := c.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query on collection %q failed: %w", collection, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		meta := map[string]string{"content": r.Content}
		for mk, mv := range r.Metadata {
			meta[mk] = mv
		}
		hits = append(hits, Hit{ID: r.ID, Similarity: float64(r.Similarity), Meta: meta})
	}
	return hits, nil
}
