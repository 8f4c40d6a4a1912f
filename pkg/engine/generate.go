package engine

import (
	"context"
	"strings"

	"github.com/azraeltruthsay/gaia-sub000/pkg/llms"
	"github.com/azraeltruthsay/gaia-sub000/pkg/metrics"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
	"github.com/azraeltruthsay/gaia-sub000/pkg/sleep"
)

// fallbackMessage closes the chain when every backend fails.
const fallbackMessage = "I encountered an issue handling that."

// selectRole picks the model role for this turn. Prime serves when
// awake; Lite covers sleep and records the escalation assessment.
func (e *Engine) selectRole(p *packet.Packet) string {
	if e.sleep.State() == sleep.StateAwake {
		return "prime"
	}
	e.recordComplexity(p)
	return "lite"
}

// generate streams the response under observer supervision. A BLOCK
// verdict terminates the stream and keeps whatever was produced; a
// stream failure falls back to a blocking completion on the same
// fallback chain; and an empty end state yields the fixed decline.
func (e *Engine) generate(ctx context.Context, p *packet.Packet, role string, messages []llms.Message) string {
	provider, err := e.pool.AcquireForRole(ctx, role)
	if err != nil {
		e.log.Error("No model available", "role", role, "error", err)
		return fallbackMessage
	}
	defer e.pool.Release(provider.Name())
	p.Metrics.Model = provider.Name()

	obs := newObserver(&e.cfg.Audit, retrievedFrom(p), e.reviewerFor(role))

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := provider.ChatCompletionStream(streamCtx, messages, llms.Params{})
	if err != nil {
		e.log.Warn("Stream start failed, using blocking completion", "model", provider.Name(), "error", err)
		return e.blockingGenerate(ctx, p, provider, messages)
	}

	var sb strings.Builder
	blocked := false
	for chunk := range stream {
		if chunk.Err != nil {
			e.log.Warn("Stream failed mid-generation", "model", provider.Name(), "error", chunk.Err)
			if sb.Len() == 0 {
				return e.blockingGenerate(ctx, p, provider, messages)
			}
			break
		}
		sb.WriteString(chunk.Text)
		if chunk.Done {
			if chunk.Usage != nil {
				p.Metrics.PromptTokens = chunk.Usage.PromptTokens
				p.Metrics.CompletionTokens = chunk.Usage.CompletionTokens
			}
			break
		}

		verdict := obs.check(streamCtx, sb.String())
		switch verdict {
		case VerdictBlock:
			cancel()
			blocked = true
		case VerdictCaution:
			// Annotation happens after the stream completes.
		}
		if verdict != VerdictOK {
			metrics.ObserverVerdicts.WithLabelValues(strings.ToLower(verdict.String())).Inc()
		}
		if blocked {
			break
		}
	}

	for _, caution := range obs.cautions {
		p.Reflect("observer", caution, 0)
	}
	raw := sb.String()
	if blocked {
		p.AddField("observer_blocked", strings.Join(obs.cautions, "; "), packet.FieldSystemHint, "observer")
	}
	return e.postProcess(ctx, raw, messages, provider)
}

// blockingGenerate is the non-streaming path used when streaming is
// unavailable or dies before producing anything.
func (e *Engine) blockingGenerate(ctx context.Context, p *packet.Packet, provider llms.Provider, messages []llms.Message) string {
	text, usage, err := provider.ChatCompletion(ctx, messages, llms.Params{})
	if err != nil {
		e.log.Error("Blocking completion failed", "model", provider.Name(), "error", err)
		return fallbackMessage
	}
	p.Metrics.PromptTokens = usage.PromptTokens
	p.Metrics.CompletionTokens = usage.CompletionTokens
	return e.postProcess(ctx, text, messages, provider)
}

// reviewerFor returns the cross-check model for the observer's LLM
// review: Lite audits Prime output and vice versa. Best effort.
func (e *Engine) reviewerFor(role string) llms.Provider {
	if !e.cfg.Audit.LLMReviewEnabled {
		return nil
	}
	other := "lite"
	if role == "lite" {
		other = "prime"
	}
	name := e.pool.Resolve(other)
	if !e.pool.Has(name) {
		return nil
	}
	provider, err := e.pool.AcquireForRole(context.Background(), other)
	if err != nil {
		return nil
	}
	e.pool.Release(provider.Name())
	return provider
}
