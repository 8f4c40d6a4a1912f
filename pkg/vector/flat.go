// Package vector provides the two vector stores the platform needs: a flat
// cosine store persisted as one JSON file per session (the shared-volume
// session_vectors layout), and chromem-go collections for the knowledge
// bases.
package vector

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Entry is one stored vector with its metadata.
type Entry struct {
	ID     string            `json:"id"`
	Vector []float32         `json:"vector"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Hit is one query result.
type Hit struct {
	ID         string            `json:"id"`
	Similarity float64           `json:"similarity"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// FlatStore is a brute-force cosine index, acceptable at per-session scale.
// The whole index lives in one JSON file and is rewritten atomically on Add.
type FlatStore struct {
	mu      sync.RWMutex
	path    string
	entries []Entry
}

// Open loads the store at path, creating an empty one if the file does not
// exist.
func Open(path string) (*FlatStore, error) {
	s := &FlatStore{path: path}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	if err := json.Unmarshal(raw, &s.entries); err != nil {
		return nil, fmt.Errorf("corrupt vector store %s: %w", path, err)
	}
	return s, nil
}

// Add stores or replaces a vector and persists the store.
func (s *FlatStore) Add(id string, vec []float32, meta map[string]string) error {
	if id == "" {
		return fmt.Errorf("vector id cannot be empty")
	}
	if len(vec) == 0 {
		return fmt.Errorf("vector cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i] = Entry{ID: id, Vector: vec, Meta: meta}
			replaced = true
			break
		}
	}
	if !replaced {
		s.entries = append(s.entries, Entry{ID: id, Vector: vec, Meta: meta})
	}

	return s.persistLocked()
}

// Query returns the topK entries by cosine similarity, highest first.
func (s *FlatStore) Query(vec []float32, topK int) []Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]Hit, 0, len(s.entries))
	for _, e := range s.entries {
		sim := Cosine(vec, e.Vector)
		hits = append(hits, Hit{ID: e.ID, Similarity: sim, Meta: e.Meta})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })

	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Len returns the number of stored vectors.
func (s *FlatStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *FlatStore) persistLocked() error {
	raw, err := json.Marshal(s.entries)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Cosine computes cosine similarity; mismatched or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
