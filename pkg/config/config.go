// Package config loads the platform's single JSON constants file and makes
// its sections available to every service. Sections follow the shared
// conventions: upper-snake section names, lower-snake keys inside.
package config

import (
	"fmt"
	"time"
)

// Config is the root of the constants file.
type Config struct {
	ModelConfigs map[string]*ModelConfig   `koanf:"MODEL_CONFIGS"`
	Aliases      map[string]string         `koanf:"MODEL_ALIASES"`
	Fallbacks    map[string][]string       `koanf:"MODEL_FALLBACKS"`
	Knowledge    map[string]*KnowledgeBase `koanf:"KNOWLEDGE_BASES"`

	Probe         SemanticProbeConfig  `koanf:"SEMANTIC_PROBE"`
	HistoryReview HistoryReviewConfig  `koanf:"HISTORY_REVIEW"`
	EmbedIntent   EmbedIntentConfig    `koanf:"EMBED_INTENT"`
	Epistemic     EpistemicConfig      `koanf:"EPISTEMIC_GUARDRAILS"`
	Audit         CognitiveAuditConfig `koanf:"COGNITIVE_AUDIT"`
	LoopDetection LoopDetectionConfig  `koanf:"LOOP_DETECTION"`
	Council       CouncilConfig        `koanf:"COUNCIL"`
	WebResearch   WebResearchConfig    `koanf:"WEB_RESEARCH"`
	ToolRouting   ToolRoutingConfig    `koanf:"TOOL_ROUTING"`
	Ingestion     IngestionConfig      `koanf:"KNOWLEDGE_INGESTION"`
	SafeSidecar   []string             `koanf:"SAFE_SIDECAR_TOOLS"`

	Paths    PathsConfig    `koanf:"PATHS"`
	Services ServicesConfig `koanf:"SERVICES"`
	HA       HAConfig       `koanf:"HA"`
	Tools    ToolsConfig    `koanf:"TOOLS"`
	Session  SessionConfig  `koanf:"SESSION"`
}

// ModelConfig describes one entry of the model pool.
type ModelConfig struct {
	// Type is one of: local, vllm, hf, api, sentence-transformer.
	Type        string  `koanf:"type"`
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKeyEnv   string  `koanf:"api_key_env"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
	// GPU marks backends that hold VRAM and must be demoted on release.
	GPU bool `koanf:"gpu"`
}

type KnowledgeBase struct {
	Persona  string   `koanf:"persona"`
	Path     string   `koanf:"path"`
	Keywords []string `koanf:"keywords"`
}

type SemanticProbeConfig struct {
	Enabled             *bool   `koanf:"enabled"`
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
	MaxPhrases          int     `koanf:"max_phrases"`
	TopKPerPhrase       int     `koanf:"top_k_per_phrase"`
	CacheMaxAgeTurns    int     `koanf:"cache_max_age_turns"`
	MinPromptWords      int     `koanf:"min_prompt_words"`
}

type HistoryReviewConfig struct {
	Enabled            *bool `koanf:"enabled"`
	ViolationThreshold int   `koanf:"violation_threshold"`
	MaxMessages        int   `koanf:"max_messages"`
}

type EmbedIntentConfig struct {
	Enabled             *bool   `koanf:"enabled"`
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
	TopK                int     `koanf:"top_k"`
}

type EpistemicConfig struct {
	Enabled          *bool   `koanf:"enabled"`
	MaxCJKRun        int     `koanf:"max_cjk_run"`
	RetryTemperature float64 `koanf:"retry_temperature"`
}

type CognitiveAuditConfig struct {
	Enabled          *bool   `koanf:"enabled"`
	MinIntervalSecs  int     `koanf:"min_interval_secs"`
	MaxPerStream     int     `koanf:"max_per_stream"`
	LLMReviewEnabled bool    `koanf:"llm_review_enabled"`
	BlockThreshold   float64 `koanf:"block_threshold"`
}

type LoopDetectionConfig struct {
	Enabled              *bool   `koanf:"enabled"`
	SingleThreshold      float64 `koanf:"single_threshold"`
	DualThreshold        float64 `koanf:"dual_threshold"`
	WeightedThreshold    float64 `koanf:"weighted_threshold"`
	VerbatimSimilarity   float64 `koanf:"verbatim_similarity"`
	ParaphraseSimilarity float64 `koanf:"paraphrase_similarity"`
	WarnTTLTurns         int     `koanf:"warn_ttl_turns"`
}

type CouncilConfig struct {
	Enabled  *bool `koanf:"enabled"`
	TTLHours int   `koanf:"ttl_hours"`
	MaxNotes int   `koanf:"max_notes"`
	// EscalationPromptChars is the long-prompt signal cutoff.
	EscalationPromptChars int `koanf:"escalation_prompt_chars"`
}

type WebResearchConfig struct {
	SearchURL       string   `koanf:"search_url"`
	TrustedDomains  []string `koanf:"trusted_domains"`
	ReliableDomains []string `koanf:"reliable_domains"`
	BlockedDomains  []string `koanf:"blocked_domains"`
	SearchPerHour   int      `koanf:"search_per_hour"`
	FetchPerHour    int      `koanf:"fetch_per_hour"`
	FetchMaxBytes   int      `koanf:"fetch_max_bytes"`
	FetchTimeoutSec int      `koanf:"fetch_timeout_sec"`
}

// ToolRoutingConfig tunes the two-stage Lite-select / Prime-review
// routing protocol.
type ToolRoutingConfig struct {
	SelectorTemperature float64 `koanf:"selector_temperature"`
	ReviewTemperature   float64 `koanf:"review_temperature"`
	CompositeThreshold  float64 `koanf:"composite_threshold"`
}

type IngestionConfig struct {
	DuplicateThreshold float64 `koanf:"duplicate_threshold"`
	SnippetChars       int     `koanf:"snippet_chars"`
}

// PathsConfig fixes the shared-volume layout.
type PathsConfig struct {
	SharedRoot      string `koanf:"shared_root"`
	SessionsFile    string `koanf:"sessions_file"`
	SessionVectors  string `koanf:"session_vectors"`
	PrimeCheckpoint string `koanf:"prime_checkpoint"`
	LiteJournal     string `koanf:"lite_journal"`
	CouncilNotes    string `koanf:"council_notes"`
	CouncilArchive  string `koanf:"council_archive"`
	MaintenanceFlag string `koanf:"maintenance_flag"`
	LogDir          string `koanf:"log_dir"`
	KnowledgeStore  string `koanf:"knowledge_store"`
}

type ServicesConfig struct {
	Engine              string `koanf:"engine"`
	EngineFallback      string `koanf:"engine_fallback"`
	Gateway             string `koanf:"gateway"`
	Orchestrator        string `koanf:"orchestrator"`
	ToolServer          string `koanf:"tool_server"`
	Generation          string `koanf:"generation"`
	Training            string `koanf:"training"`
	Embedder            string `koanf:"embedder"`
	GenerationContainer string `koanf:"generation_container"`
}

type HAConfig struct {
	Enabled          *bool  `koanf:"enabled"`
	WatchIntervalSec int    `koanf:"watch_interval_sec"`
	SyncIntervalSec  int    `koanf:"sync_interval_sec"`
	CandidateRoot    string `koanf:"candidate_root"`
}

type ToolsConfig struct {
	FileRoots       []string                   `koanf:"file_roots"`
	ShellWhitelist  []string                   `koanf:"shell_whitelist"`
	ShellTimeoutSec int                        `koanf:"shell_timeout_sec"`
	RPCTimeoutSec   int                        `koanf:"rpc_timeout_sec"`
	SensitiveTools  []string                   `koanf:"sensitive_tools"`
	MCPServers      map[string]MCPServerConfig `koanf:"mcp_servers"`
}

// MCPServerConfig describes one external MCP tool server launched over
// stdio and merged into the sidecar catalog.
type MCPServerConfig struct {
	Command string            `koanf:"command"`
	Args    []string          `koanf:"args"`
	Env     map[string]string `koanf:"env"`
	Filter  []string          `koanf:"filter"`
}

type SessionConfig struct {
	WindowSize      int `koanf:"window_size"`
	MaxReinjections int `koanf:"max_reinjections"`
}

func boolPtr(b bool) *bool { return &b }

// BoolOr dereferences an optional bool with a default.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// SetDefaults fills every unset field with its documented default.
func (c *Config) SetDefaults() {
	if c.Probe.Enabled == nil {
		c.Probe.Enabled = boolPtr(true)
	}
	if c.Probe.SimilarityThreshold == 0 {
		c.Probe.SimilarityThreshold = 0.40
	}
	if c.Probe.MaxPhrases == 0 {
		c.Probe.MaxPhrases = 8
	}
	if c.Probe.TopKPerPhrase == 0 {
		c.Probe.TopKPerPhrase = 3
	}
	if c.Probe.CacheMaxAgeTurns == 0 {
		c.Probe.CacheMaxAgeTurns = 10
	}
	if c.Probe.MinPromptWords == 0 {
		c.Probe.MinPromptWords = 3
	}

	if c.HistoryReview.Enabled == nil {
		c.HistoryReview.Enabled = boolPtr(true)
	}
	if c.HistoryReview.ViolationThreshold == 0 {
		c.HistoryReview.ViolationThreshold = 2
	}
	if c.HistoryReview.MaxMessages == 0 {
		c.HistoryReview.MaxMessages = 20
	}

	if c.EmbedIntent.Enabled == nil {
		c.EmbedIntent.Enabled = boolPtr(true)
	}
	if c.EmbedIntent.ConfidenceThreshold == 0 {
		c.EmbedIntent.ConfidenceThreshold = 0.45
	}
	if c.EmbedIntent.TopK == 0 {
		c.EmbedIntent.TopK = 3
	}

	if c.Epistemic.Enabled == nil {
		c.Epistemic.Enabled = boolPtr(true)
	}
	if c.Epistemic.MaxCJKRun == 0 {
		c.Epistemic.MaxCJKRun = 10
	}
	if c.Epistemic.RetryTemperature == 0 {
		c.Epistemic.RetryTemperature = 0.2
	}

	if c.Audit.Enabled == nil {
		c.Audit.Enabled = boolPtr(true)
	}
	if c.Audit.MinIntervalSecs == 0 {
		c.Audit.MinIntervalSecs = 15
	}
	if c.Audit.MaxPerStream == 0 {
		c.Audit.MaxPerStream = 6
	}
	if c.Audit.BlockThreshold == 0 {
		c.Audit.BlockThreshold = 0.9
	}

	if c.LoopDetection.Enabled == nil {
		c.LoopDetection.Enabled = boolPtr(true)
	}
	if c.LoopDetection.SingleThreshold == 0 {
		c.LoopDetection.SingleThreshold = 0.9
	}
	if c.LoopDetection.DualThreshold == 0 {
		c.LoopDetection.DualThreshold = 0.7
	}
	if c.LoopDetection.WeightedThreshold == 0 {
		c.LoopDetection.WeightedThreshold = 0.6
	}
	if c.LoopDetection.VerbatimSimilarity == 0 {
		c.LoopDetection.VerbatimSimilarity = 0.95
	}
	if c.LoopDetection.ParaphraseSimilarity == 0 {
		c.LoopDetection.ParaphraseSimilarity = 0.85
	}
	if c.LoopDetection.WarnTTLTurns == 0 {
		c.LoopDetection.WarnTTLTurns = 20
	}

	if c.Council.Enabled == nil {
		c.Council.Enabled = boolPtr(true)
	}
	if c.Council.TTLHours == 0 {
		c.Council.TTLHours = 72
	}
	if c.Council.MaxNotes == 0 {
		c.Council.MaxNotes = 50
	}
	if c.Council.EscalationPromptChars == 0 {
		c.Council.EscalationPromptChars = 600
	}

	if c.WebResearch.SearchURL == "" {
		c.WebResearch.SearchURL = "http://searxng:8080/search"
	}
	if c.WebResearch.SearchPerHour == 0 {
		c.WebResearch.SearchPerHour = 20
	}
	if c.WebResearch.FetchPerHour == 0 {
		c.WebResearch.FetchPerHour = 50
	}
	if c.WebResearch.FetchMaxBytes == 0 {
		c.WebResearch.FetchMaxBytes = 500 * 1024
	}
	if c.WebResearch.FetchTimeoutSec == 0 {
		c.WebResearch.FetchTimeoutSec = 15
	}

	if c.ToolRouting.SelectorTemperature == 0 {
		c.ToolRouting.SelectorTemperature = 0.15
	}
	if c.ToolRouting.ReviewTemperature == 0 {
		c.ToolRouting.ReviewTemperature = 0.3
	}
	if c.ToolRouting.CompositeThreshold == 0 {
		c.ToolRouting.CompositeThreshold = 0.70
	}

	if c.Ingestion.DuplicateThreshold == 0 {
		c.Ingestion.DuplicateThreshold = 0.85
	}
	if c.Ingestion.SnippetChars == 0 {
		c.Ingestion.SnippetChars = 500
	}

	if len(c.SafeSidecar) == 0 {
		c.SafeSidecar = []string{"read_file", "embedding_query", "introspect_logs"}
	}

	if c.Paths.SharedRoot == "" {
		c.Paths.SharedRoot = "/shared"
	}
	if c.Paths.SessionsFile == "" {
		c.Paths.SessionsFile = c.Paths.SharedRoot + "/sessions.json"
	}
	if c.Paths.SessionVectors == "" {
		c.Paths.SessionVectors = c.Paths.SharedRoot + "/session_vectors"
	}
	if c.Paths.PrimeCheckpoint == "" {
		c.Paths.PrimeCheckpoint = c.Paths.SharedRoot + "/sleep_state/prime.md"
	}
	if c.Paths.LiteJournal == "" {
		c.Paths.LiteJournal = c.Paths.SharedRoot + "/lite_journal/Lite.md"
	}
	if c.Paths.CouncilNotes == "" {
		c.Paths.CouncilNotes = c.Paths.SharedRoot + "/council/notes"
	}
	if c.Paths.CouncilArchive == "" {
		c.Paths.CouncilArchive = c.Paths.SharedRoot + "/council/archive"
	}
	if c.Paths.MaintenanceFlag == "" {
		c.Paths.MaintenanceFlag = c.Paths.SharedRoot + "/ha_maintenance"
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = c.Paths.SharedRoot + "/logs"
	}
	if c.Paths.KnowledgeStore == "" {
		c.Paths.KnowledgeStore = c.Paths.SharedRoot + "/knowledge_store"
	}

	if c.HA.Enabled == nil {
		c.HA.Enabled = boolPtr(true)
	}
	if c.HA.WatchIntervalSec == 0 {
		c.HA.WatchIntervalSec = 30
	}
	if c.HA.SyncIntervalSec == 0 {
		c.HA.SyncIntervalSec = 30
	}

	if c.Tools.ShellTimeoutSec == 0 {
		c.Tools.ShellTimeoutSec = 30
	}
	if c.Tools.RPCTimeoutSec == 0 {
		c.Tools.RPCTimeoutSec = 30
	}
	if len(c.Tools.SensitiveTools) == 0 {
		c.Tools.SensitiveTools = []string{"write_file", "run_shell"}
	}

	if c.Session.WindowSize == 0 {
		c.Session.WindowSize = 40
	}
	if c.Session.MaxReinjections == 0 {
		c.Session.MaxReinjections = 3
	}

	for _, mc := range c.ModelConfigs {
		if mc.Temperature == 0 {
			mc.Temperature = 0.7
		}
		if mc.MaxTokens == 0 {
			mc.MaxTokens = 2048
		}
	}
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	for name, mc := range c.ModelConfigs {
		switch mc.Type {
		case "local", "vllm", "hf", "api", "sentence-transformer":
		default:
			return fmt.Errorf("model %q: unsupported type %q (supported: local, vllm, hf, api, sentence-transformer)", name, mc.Type)
		}
		if mc.MaxTokens < 1 || mc.MaxTokens > 32768 {
			return fmt.Errorf("model %q: max_tokens must be in [1, 32768]", name)
		}
		if mc.Temperature < 0 || mc.Temperature > 2 {
			return fmt.Errorf("model %q: temperature must be in [0, 2]", name)
		}
	}
	for role, chain := range c.Fallbacks {
		for _, name := range chain {
			if _, ok := c.ModelConfigs[name]; !ok {
				if _, ok := c.Aliases[name]; !ok {
					return fmt.Errorf("fallback chain for role %q references unknown model %q", role, name)
				}
			}
		}
	}
	if c.Probe.SimilarityThreshold < 0 || c.Probe.SimilarityThreshold > 1 {
		return fmt.Errorf("SEMANTIC_PROBE.similarity_threshold must be in [0, 1]")
	}
	if c.HistoryReview.ViolationThreshold < 1 {
		return fmt.Errorf("HISTORY_REVIEW.violation_threshold must be >= 1")
	}
	return nil
}

// RPCTimeout returns the tool-server RPC deadline.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.Tools.RPCTimeoutSec) * time.Second
}
