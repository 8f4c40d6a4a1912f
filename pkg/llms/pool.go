package llms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/registry"
)

// Pool maintains the name→backend map, the role alias map, and busy-state
// gating. Only the pool mutates aliases; callers resolve roles through it.
type Pool struct {
	providers *registry.BaseRegistry[Provider]

	mu        sync.Mutex
	aliases   map[string]string   // role -> entry name
	fallbacks map[string][]string // role -> ordered candidate names
	busy      map[string]bool
	gpuNames  map[string]bool // entries that hold VRAM

	// stash keeps demoted entries and the alias map for restore.
	stashed      map[string]Provider
	stashedAlias map[string]string
	gpuReleased  bool
	factory      func(name string, cfg *config.ModelConfig) (Provider, error)
}

// NewPool builds the pool from MODEL_CONFIGS. Providers are constructed
// eagerly but loaded lazily.
func NewPool(cfg *config.Config) (*Pool, error) {
	p := &Pool{
		providers: registry.NewBaseRegistry[Provider](),
		aliases:   make(map[string]string),
		fallbacks: make(map[string][]string),
		busy:      make(map[string]bool),
		gpuNames:  make(map[string]bool),
		stashed:   make(map[string]Provider),
		factory:   NewProvider,
	}

	for name, mc := range cfg.ModelConfigs {
		if mc.Type == "sentence-transformer" {
			// The embedder is owned by pkg/embedder; it has no chat surface.
			continue
		}
		provider, err := p.factory(name, mc)
		if err != nil {
			return nil, err
		}
		if err := p.providers.Register(name, provider); err != nil {
			return nil, err
		}
		if mc.GPU || mc.Type == "vllm" {
			p.gpuNames[name] = true
		}
	}

	for role, name := range cfg.Aliases {
		p.aliases[role] = name
	}
	for role, chain := range cfg.Fallbacks {
		p.fallbacks[role] = append([]string(nil), chain...)
	}
	return p, nil
}

// NewProvider is the tagged factory over the closed backend variant set.
func NewProvider(name string, mc *config.ModelConfig) (Provider, error) {
	switch mc.Type {
	case "local":
		return NewLocalProvider(name, mc.BaseURL, mc.Model, mc.Temperature, mc.MaxTokens)
	case "vllm", "hf", "api":
		return NewOpenAICompatProvider(OpenAICompatConfig{
			Name:        name,
			BackendType: mc.Type,
			BaseURL:     mc.BaseURL,
			Model:       mc.Model,
			APIKeyEnv:   mc.APIKeyEnv,
			Temperature: mc.Temperature,
			MaxTokens:   mc.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("model %q: unsupported backend type %q", name, mc.Type)
	}
}

// EnsureModelLoaded lazily loads a pool entry. Idempotent.
func (p *Pool) EnsureModelLoaded(ctx context.Context, name string) error {
	provider, ok := p.providers.Get(name)
	if !ok {
		return fmt.Errorf("model %q not in pool", name)
	}
	return provider.EnsureLoaded(ctx)
}

// resolveAlias follows the alias chain to a concrete entry name.
func (p *Pool) resolveAliasLocked(role string) string {
	name := role
	for i := 0; i < 8; i++ { // alias chains are short; 8 bounds a cycle
		next, ok := p.aliases[name]
		if !ok {
			return name
		}
		name = next
	}
	return name
}

// AcquireForRole resolves a role through the alias chain, falling through
// the configured chain on unavailability, and marks the chosen entry busy.
func (p *Pool) AcquireForRole(ctx context.Context, role string) (Provider, error) {
	p.mu.Lock()
	candidates := []string{p.resolveAliasLocked(role)}
	for _, name := range p.fallbacks[role] {
		resolved := p.resolveAliasLocked(name)
		if resolved != candidates[0] {
			candidates = append(candidates, resolved)
		}
	}
	p.mu.Unlock()

	var lastErr error
	for _, name := range candidates {
		provider, ok := p.providers.Get(name)
		if !ok {
			lastErr = fmt.Errorf("model %q not in pool", name)
			continue
		}
		if err := provider.EnsureLoaded(ctx); err != nil {
			slog.Warn("Model unavailable, falling through", "role", role, "model", name, "error", err)
			lastErr = err
			continue
		}
		p.mu.Lock()
		p.busy[name] = true
		p.mu.Unlock()
		return provider, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidates configured for role %q", role)
	}
	return nil, fmt.Errorf("no model available for role %q: %w", role, lastErr)
}

// Release marks an entry idle.
func (p *Pool) Release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, name)
}

// Busy reports whether an entry is currently serving a turn.
func (p *Pool) Busy(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy[name]
}

// ReleaseGPU demotes every VRAM-holding entry: shuts it down, stashes it
// for restore, and removes aliases pointing at it. Safe to call twice.
func (p *Pool) ReleaseGPU() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gpuReleased {
		return nil
	}

	p.stashedAlias = make(map[string]string, len(p.aliases))
	for role, name := range p.aliases {
		p.stashedAlias[role] = name
	}

	for name := range p.gpuNames {
		provider, ok := p.providers.Get(name)
		if !ok {
			continue
		}
		if err := provider.Shutdown(); err != nil {
			slog.Warn("GPU entry shutdown reported error", "model", name, "error", err)
		}
		p.stashed[name] = provider
		_ = p.providers.Remove(name)

		for role, target := range p.aliases {
			if target == name {
				delete(p.aliases, role)
			}
		}
		slog.Info("Demoted GPU model", "model", name)
	}

	p.gpuReleased = true
	return nil
}

// ReclaimGPU restores stashed entries and the prior alias map.
func (p *Pool) ReclaimGPU(ctx context.Context) error {
	p.mu.Lock()
	if !p.gpuReleased {
		p.mu.Unlock()
		return nil
	}
	stashed := p.stashed
	p.stashed = make(map[string]Provider)
	p.mu.Unlock()

	for name, provider := range stashed {
		if err := p.providers.Replace(name, provider); err != nil {
			return err
		}
		if err := provider.EnsureLoaded(ctx); err != nil {
			slog.Warn("Reclaimed GPU model not yet ready", "model", name, "error", err)
		}
		slog.Info("Restored GPU model", "model", name)
	}

	p.mu.Lock()
	if p.stashedAlias != nil {
		p.aliases = p.stashedAlias
		p.stashedAlias = nil
	}
	p.gpuReleased = false
	p.mu.Unlock()
	return nil
}

// GPUReleased reports the demotion state.
func (p *Pool) GPUReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gpuReleased
}

// GPUModelsLoaded lists the currently registered VRAM-holding entries.
func (p *Pool) GPUModelsLoaded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0)
	for name := range p.gpuNames {
		if _, ok := p.providers.Get(name); ok {
			names = append(names, name)
		}
	}
	return names
}

// Aliases returns a copy of the current alias map.
func (p *Pool) Aliases() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]string, len(p.aliases))
	for role, name := range p.aliases {
		out[role] = name
	}
	return out
}

// Resolve returns the concrete entry name a role currently maps to.
func (p *Pool) Resolve(role string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolveAliasLocked(role)
}

// Has reports whether a concrete entry is currently registered.
func (p *Pool) Has(name string) bool {
	_, ok := p.providers.Get(name)
	return ok
}

// Shutdown releases every backend, stashed entries included. Called
// once at process exit.
func (p *Pool) Shutdown() {
	for _, provider := range p.providers.List() {
		if err := provider.Shutdown(); err != nil {
			slog.Warn("Provider shutdown failed", "model", provider.Name(), "error", err)
		}
	}
	p.mu.Lock()
	stashed := p.stashed
	p.stashed = make(map[string]Provider)
	p.mu.Unlock()
	for _, provider := range stashed {
		if err := provider.Shutdown(); err != nil {
			slog.Warn("Provider shutdown failed", "model", provider.Name(), "error", err)
		}
	}
}
