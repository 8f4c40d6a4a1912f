package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/azraeltruthsay/gaia-sub000/pkg/metrics"
)

// LocalProvider backs the always-on Lite entry: a llama.cpp server with a
// gguf model on CPU. It uses the native /completion endpoint and /health
// for load checks. Local servers do not report usage, so tokens are
// estimated with tiktoken.
type LocalProvider struct {
	name        string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client

	mu      sync.Mutex
	loaded  bool
	encoder *tiktoken.Tiktoken
}

func NewLocalProvider(name, baseURL, model string, temperature float64, maxTokens int) (*LocalProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("model %q: base_url is required", name)
	}
	// cl100k_base is a serviceable estimator across local gguf models.
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoder: %w", err)
	}
	return &LocalProvider{
		name:        name,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		client:      &http.Client{Timeout: 5 * time.Minute},
		encoder:     encoder,
	}, nil
}

func (p *LocalProvider) Name() string { return p.name }

func (p *LocalProvider) EnsureLoaded(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("model %q unreachable: %w", p.name, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model %q not ready: HTTP %d", p.name, resp.StatusCode)
	}
	p.loaded = true
	return nil
}

// flattenPrompt renders messages into the plain chat template llama.cpp's
// /completion endpoint expects.
func flattenPrompt(messages []Message, prefill string) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			b.WriteString("[SYSTEM] ")
		case "assistant":
			b.WriteString("[ASSISTANT] ")
		default:
			b.WriteString("[USER] ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("[ASSISTANT] ")
	b.WriteString(prefill)
	return b.String()
}

type localRequest struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	NPredict    int     `json:"n_predict,omitempty"`
	Stream      bool    `json:"stream,omitempty"`
}

type localResponse struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

func (p *LocalProvider) buildRequest(messages []Message, params Params, stream bool) (localRequest, error) {
	sanitized, err := SanitizeMessages(messages)
	if err != nil {
		return localRequest{}, err
	}
	params = params.Clamp()

	temperature := params.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}
	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	return localRequest{
		Prompt:      flattenPrompt(sanitized, params.Prefill),
		Temperature: temperature,
		TopP:        params.TopP,
		NPredict:    maxTokens,
		Stream:      stream,
	}, nil
}

func (p *LocalProvider) post(ctx context.Context, body localRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/completion", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.client.Do(req)
}

func (p *LocalProvider) estimateUsage(prompt, completion string) Usage {
	return Usage{
		PromptTokens:     len(p.encoder.Encode(prompt, nil, nil)),
		CompletionTokens: len(p.encoder.Encode(completion, nil, nil)),
	}
}

func (p *LocalProvider) ChatCompletion(ctx context.Context, messages []Message, params Params) (string, Usage, error) {
	body, err := p.buildRequest(messages, params, false)
	if err != nil {
		return "", Usage{}, err
	}

	start := time.Now()
	resp, err := p.post(ctx, body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("model %q request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", Usage{}, fmt.Errorf("model %q returned HTTP %d: %s", p.name, resp.StatusCode, snippet)
	}

	var parsed localResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", Usage{}, fmt.Errorf("model %q returned malformed response: %w", p.name, err)
	}

	usage := p.estimateUsage(body.Prompt, parsed.Content)
	p.logUsage(usage, time.Since(start))
	return parsed.Content, usage, nil
}

func (p *LocalProvider) ChatCompletionStream(ctx context.Context, messages []Message, params Params) (<-chan StreamChunk, error) {
	body, err := p.buildRequest(messages, params, true)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.post(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("model %q stream request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("model %q returned HTTP %d: %s", p.name, resp.StatusCode, snippet)
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var completion strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var event localResponse
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
				continue
			}
			if event.Content != "" {
				completion.WriteString(event.Content)
				select {
				case out <- StreamChunk{Text: event.Content}:
				case <-ctx.Done():
					out <- StreamChunk{Err: ctx.Err()}
					return
				}
			}
			if event.Stop {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: fmt.Errorf("model %q stream broken: %w", p.name, err)}
			return
		}
		usage := p.estimateUsage(body.Prompt, completion.String())
		p.logUsage(usage, time.Since(start))
		out <- StreamChunk{Done: true, Usage: &usage}
	}()
	return out, nil
}

func (p *LocalProvider) logUsage(usage Usage, duration time.Duration) {
	slog.Debug("LLM request complete",
		"model", p.name,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"duration", duration)
	metrics.TokensUsed.WithLabelValues(p.name, "prompt").Add(float64(usage.PromptTokens))
	metrics.TokensUsed.WithLabelValues(p.name, "completion").Add(float64(usage.CompletionTokens))
}

func (p *LocalProvider) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = false
	p.client.CloseIdleConnections()
	return nil
}
