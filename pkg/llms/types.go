// Package llms implements the model pool: the Lite and Prime backends, the
// cloud fallbacks, alias resolution, busy-state gating, and GPU
// release/reclaim. Backends are a closed variant set (local, vllm, hf,
// api, sentence-transformer) behind one Provider interface.
package llms

import (
	"context"
)

// Message is a chat message after sanitization.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// Params are per-request generation parameters. Zero values mean "use the
// backend's configured default"; Clamp enforces hard ranges.
type Params struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	// Prefill seeds the assistant turn so synthesis continues from it
	// instead of echoing tool output.
	Prefill string `json:"prefill,omitempty"`
}

// Usage reports tokens consumed by one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// StreamChunk is one unit of a streamed completion.
type StreamChunk struct {
	Text  string
	Done  bool
	Usage *Usage
	Err   error
}

// Provider is one backend of the pool.
type Provider interface {
	// Name returns the pool entry name.
	Name() string

	// EnsureLoaded lazily loads the model. Idempotent.
	EnsureLoaded(ctx context.Context) error

	// ChatCompletion performs a blocking completion.
	ChatCompletion(ctx context.Context, messages []Message, params Params) (string, Usage, error)

	// ChatCompletionStream streams tokens through a bounded channel. The
	// channel closes after a chunk with Done or Err set.
	ChatCompletionStream(ctx context.Context, messages []Message, params Params) (<-chan StreamChunk, error)

	// Shutdown releases backend resources.
	Shutdown() error
}
