package llms

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeProvider is an in-memory backend for tests and degraded-mode wiring.
// Responses are matched by substring against the last user message; Reply
// is the default.
type FakeProvider struct {
	ProviderName string
	Reply        string
	Replies      map[string]string
	LoadErr      error
	GenerateErr  error
	StreamChunks []string

	mu    sync.Mutex
	calls []string
}

func NewFakeProvider(name, reply string) *FakeProvider {
	return &FakeProvider{ProviderName: name, Reply: reply}
}

func (f *FakeProvider) Name() string { return f.ProviderName }

func (f *FakeProvider) EnsureLoaded(context.Context) error { return f.LoadErr }

func (f *FakeProvider) pick(messages []Message) string {
	var lastUser string
	for _, m := range messages {
		if m.Role == "user" {
			lastUser = m.Content
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, lastUser)
	f.mu.Unlock()

	for needle, reply := range f.Replies {
		if strings.Contains(lastUser, needle) {
			return reply
		}
	}
	return f.Reply
}

func (f *FakeProvider) ChatCompletion(ctx context.Context, messages []Message, params Params) (string, Usage, error) {
	if f.GenerateErr != nil {
		return "", Usage{}, f.GenerateErr
	}
	sanitized, err := SanitizeMessages(messages)
	if err != nil {
		return "", Usage{}, err
	}
	reply := f.pick(sanitized)
	return reply, Usage{PromptTokens: len(sanitized), CompletionTokens: len(strings.Fields(reply))}, nil
}

func (f *FakeProvider) ChatCompletionStream(ctx context.Context, messages []Message, params Params) (<-chan StreamChunk, error) {
	if f.GenerateErr != nil {
		return nil, f.GenerateErr
	}
	sanitized, err := SanitizeMessages(messages)
	if err != nil {
		return nil, err
	}

	chunks := f.StreamChunks
	if len(chunks) == 0 {
		chunks = []string{f.pick(sanitized)}
	} else {
		f.pick(sanitized)
	}

	out := make(chan StreamChunk, len(chunks)+1)
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- StreamChunk{Text: c}:
			case <-ctx.Done():
				out <- StreamChunk{Err: ctx.Err()}
				return
			}
		}
		out <- StreamChunk{Done: true, Usage: &Usage{CompletionTokens: len(chunks)}}
	}()
	return out, nil
}

// Calls returns the user prompts this fake has seen.
func (f *FakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeProvider) Shutdown() error { return nil }

var _ Provider = (*FakeProvider)(nil)

// NewFakePool builds a pool over fake providers for tests. aliases and
// fallbacks use the same semantics as the configured pool.
func NewFakePool(providers map[string]*FakeProvider, aliases map[string]string, fallbacks map[string][]string, gpuNames ...string) (*Pool, error) {
	p := &Pool{
		providers: newProviderRegistry(),
		aliases:   make(map[string]string),
		fallbacks: make(map[string][]string),
		busy:      make(map[string]bool),
		gpuNames:  make(map[string]bool),
		stashed:   make(map[string]Provider),
	}
	for name, fp := range providers {
		if err := p.providers.Register(name, fp); err != nil {
			return nil, err
		}
	}
	for role, name := range aliases {
		p.aliases[role] = name
	}
	for role, chain := range fallbacks {
		p.fallbacks[role] = append([]string(nil), chain...)
	}
	for _, name := range gpuNames {
		if _, ok := providers[name]; !ok {
			return nil, fmt.Errorf("gpu entry %q not among providers", name)
		}
		p.gpuNames[name] = true
	}
	return p, nil
}
