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
	"os"
	"strings"
	"sync"
	"time"

	"github.com/azraeltruthsay/gaia-sub000/pkg/metrics"
)

// OpenAICompatProvider speaks the OpenAI chat-completions dialect. It backs
// the vllm, hf, and api pool entries; only the base URL, key handling, and
// load semantics differ between them.
type OpenAICompatProvider struct {
	name        string
	backendType string // vllm | hf | api
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
	client      *http.Client

	mu     sync.Mutex
	loaded bool
}

type OpenAICompatConfig struct {
	Name        string
	BackendType string
	BaseURL     string
	Model       string
	APIKeyEnv   string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func NewOpenAICompatProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("model %q: base_url is required", cfg.Name)
	}
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("model %q: environment variable %s is not set", cfg.Name, cfg.APIKeyEnv)
		}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &OpenAICompatProvider{
		name:        cfg.Name,
		backendType: cfg.BackendType,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		apiKey:      apiKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (p *OpenAICompatProvider) Name() string { return p.name }

// EnsureLoaded checks the backend is reachable. Serving backends (vllm, hf)
// expose /v1/models; cloud APIs are assumed loaded.
func (p *OpenAICompatProvider) EnsureLoaded(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	if p.backendType == "api" {
		p.loaded = true
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("model %q unreachable: %w", p.name, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model %q backend returned HTTP %d", p.name, resp.StatusCode)
	}
	p.loaded = true
	return nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAICompatProvider) buildRequest(messages []Message, params Params, stream bool) ([]Message, chatRequest, error) {
	sanitized, err := SanitizeMessages(messages)
	if err != nil {
		return nil, chatRequest{}, err
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
	if params.Prefill != "" {
		sanitized = append(sanitized, Message{Role: "assistant", Content: params.Prefill})
	}

	return sanitized, chatRequest{
		Model:       p.model,
		Messages:    sanitized,
		Temperature: temperature,
		TopP:        params.TopP,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}, nil
}

func (p *OpenAICompatProvider) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.client.Do(req)
}

func (p *OpenAICompatProvider) ChatCompletion(ctx context.Context, messages []Message, params Params) (string, Usage, error) {
	_, body, err := p.buildRequest(messages, params, false)
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

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", Usage{}, fmt.Errorf("model %q returned malformed response: %w", p.name, err)
	}
	if len(parsed.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("model %q returned no choices", p.name)
	}

	usage := Usage{PromptTokens: parsed.Usage.PromptTokens, CompletionTokens: parsed.Usage.CompletionTokens}
	p.logUsage(usage, time.Since(start))
	return parsed.Choices[0].Message.Content, usage, nil
}

func (p *OpenAICompatProvider) ChatCompletionStream(ctx context.Context, messages []Message, params Params) (<-chan StreamChunk, error) {
	_, body, err := p.buildRequest(messages, params, true)
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

		var usage Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}
			var event chatStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue // malformed keep-alive lines are ignored
			}
			if event.Usage != nil {
				usage.PromptTokens = event.Usage.PromptTokens
				usage.CompletionTokens = event.Usage.CompletionTokens
			}
			for _, choice := range event.Choices {
				if choice.Delta.Content != "" {
					select {
					case out <- StreamChunk{Text: choice.Delta.Content}:
					case <-ctx.Done():
						// The consumer may already be gone; never block.
						select {
						case out <- StreamChunk{Err: ctx.Err()}:
						default:
						}
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- StreamChunk{Err: fmt.Errorf("model %q stream broken: %w", p.name, err)}:
			case <-ctx.Done():
			}
			return
		}
		p.logUsage(usage, time.Since(start))
		select {
		case out <- StreamChunk{Done: true, Usage: &usage}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (p *OpenAICompatProvider) logUsage(usage Usage, duration time.Duration) {
	slog.Debug("LLM request complete",
		"model", p.name,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"duration", duration)
	metrics.TokensUsed.WithLabelValues(p.name, "prompt").Add(float64(usage.PromptTokens))
	metrics.TokensUsed.WithLabelValues(p.name, "completion").Add(float64(usage.CompletionTokens))
}

func (p *OpenAICompatProvider) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = false
	p.client.CloseIdleConnections()
	return nil
}
