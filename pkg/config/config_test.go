package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "MODEL_CONFIGS": {
    "gpu_prime": {"type": "vllm", "model": "prime-32b", "base_url": "http://generation:8000", "gpu": true},
    "lite": {"type": "local", "model": "lite-3b", "base_url": "http://localhost:8080"},
    "groq_fallback": {"type": "api", "model": "llama-70b", "base_url": "https://api.groq.com/openai", "api_key_env": "GROQ_API_KEY"},
    "embedder": {"type": "sentence-transformer", "model": "all-minilm", "base_url": "http://embedder:8081"}
  },
  "MODEL_ALIASES": {"prime": "gpu_prime"},
  "MODEL_FALLBACKS": {"prime": ["gpu_prime", "groq_fallback"]},
  "SEMANTIC_PROBE": {"similarity_threshold": 0.40, "max_phrases": 8},
  "WEB_RESEARCH": {"trusted_domains": ["gutenberg.org"], "search_per_hour": 20}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "constants.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoader_LoadFile(t *testing.T) {
	loader, err := NewLoader(LoaderOptions{Path: writeConfig(t, sampleConfig)})
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "vllm", cfg.ModelConfigs["gpu_prime"].Type)
	assert.True(t, cfg.ModelConfigs["gpu_prime"].GPU)
	assert.Equal(t, "gpu_prime", cfg.Aliases["prime"])
	assert.Equal(t, []string{"gpu_prime", "groq_fallback"}, cfg.Fallbacks["prime"])
	assert.Equal(t, 0.40, cfg.Probe.SimilarityThreshold)

	// Defaults fill unspecified sections.
	assert.Equal(t, 2, cfg.HistoryReview.ViolationThreshold)
	assert.Equal(t, 6, cfg.Audit.MaxPerStream)
	assert.Equal(t, 3, cfg.Session.MaxReinjections)
	assert.Equal(t, "/shared/sessions.json", cfg.Paths.SessionsFile)
	assert.Equal(t, 500*1024, cfg.WebResearch.FetchMaxBytes)
}

func TestLoader_EnvExpansion(t *testing.T) {
	t.Setenv("GAIA_GEN_URL", "http://gen:9000")
	content := `{
	  "MODEL_CONFIGS": {
	    "gpu_prime": {"type": "vllm", "model": "m", "base_url": "${GAIA_GEN_URL}"},
	    "lite": {"type": "local", "model": "m", "base_url": "${GAIA_LITE_URL:http://localhost:8080}"}
	  }
	}`
	loader, err := NewLoader(LoaderOptions{Path: writeConfig(t, content)})
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://gen:9000", cfg.ModelConfigs["gpu_prime"].BaseURL)
	assert.Equal(t, "http://localhost:8080", cfg.ModelConfigs["lite"].BaseURL)
}

func TestConfig_ValidateRejectsBadModels(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown backend type",
			mutate:  func(c *Config) { c.ModelConfigs["x"] = &ModelConfig{Type: "tpu", MaxTokens: 10, Temperature: 1} },
			wantErr: "unsupported type",
		},
		{
			name:    "max_tokens over cap",
			mutate:  func(c *Config) { c.ModelConfigs["x"] = &ModelConfig{Type: "api", MaxTokens: 99999, Temperature: 1} },
			wantErr: "max_tokens",
		},
		{
			name:    "fallback chain names unknown model",
			mutate:  func(c *Config) { c.Fallbacks = map[string][]string{"prime": {"ghost"}} },
			wantErr: "unknown model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{ModelConfigs: map[string]*ModelConfig{}}
			cfg.SetDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
