package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// StaticEmbedder is a deterministic hash-based embedder for tests and
// degraded-mode operation when the embedding server is unreachable. Similar
// token multisets land near each other; it is not a semantic model.
type StaticEmbedder struct {
	Dim int
}

func NewStaticEmbedder(dim int) *StaticEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &StaticEmbedder{Dim: dim}
}

func (s *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.Dim)
	token := make([]rune, 0, 16)
	flush := func() {
		if len(token) == 0 {
			return
		}
		h := fnv.New32a()
		h.Write([]byte(string(token)))
		vec[int(h.Sum32())%s.Dim]++
		token = token[:0]
	}
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			flush()
			continue
		}
		token = append(token, r)
	}
	flush()

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *StaticEmbedder) Model() string { return "static-fnv" }

func (s *StaticEmbedder) Close() error { return nil }
