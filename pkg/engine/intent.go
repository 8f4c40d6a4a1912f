package engine

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/llms"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
	"github.com/azraeltruthsay/gaia-sub000/pkg/vector"
)

// exemplarBank holds labeled example utterances per intent for the
// embedding classifier.
var exemplarBank = map[packet.Intent][]string{
	packet.IntentChat: {
		"how are you today",
		"tell me a joke",
		"what do you think about this",
	},
	packet.IntentRecite: {
		"recite the first stanza of the poem",
		"quote the opening paragraph of the book",
		"give me the full text of the speech",
	},
	packet.IntentFileRead: {
		"read the config file and tell me what is in it",
		"show me the contents of that document",
		"open the notes file",
	},
	packet.IntentFileWrite: {
		"save this to a file",
		"write the summary into notes.md",
		"create a new file with this content",
	},
	packet.IntentShell: {
		"run the disk usage command",
		"execute ls in the workspace",
		"check how much memory is free",
	},
	packet.IntentSearch: {
		"search the web for recent news about this",
		"look up the latest release notes",
		"find information about that topic online",
	},
	packet.IntentKnowledgeSave: {
		"remember this for later",
		"save this fact to your knowledge base",
		"store what I just told you",
	},
	packet.IntentIntrospect: {
		"check your own logs for errors",
		"what happened in your last few turns",
		"inspect your recent activity",
	},
}

// readOnlyIntents never require a mutating tool.
var readOnlyIntents = map[packet.Intent]bool{
	packet.IntentChat:       true,
	packet.IntentRecite:     true,
	packet.IntentFileRead:   true,
	packet.IntentSearch:     true,
	packet.IntentIntrospect: true,
	packet.IntentReflection: true,
}

// intentKeywords is the last-resort heuristic table.
var intentKeywords = []struct {
	intent   packet.Intent
	keywords []string
}{
	{packet.IntentRecite, []string{"recite", "quote the", "full text"}},
	{packet.IntentFileWrite, []string{"write a file", "save to", "create a file", "write into"}},
	{packet.IntentFileRead, []string{"read the file", "show me the file", "open the file", "contents of"}},
	{packet.IntentShell, []string{"run the command", "execute", "shell"}},
	{packet.IntentSearch, []string{"search", "look up", "find online", "latest news"}},
	{packet.IntentKnowledgeSave, []string{"remember this", "save this fact", "store this"}},
	{packet.IntentIntrospect, []string{"your logs", "your last", "your recent activity"}},
}

// intentClassifier caches exemplar embeddings after the first use.
type intentClassifier struct {
	mu        sync.Mutex
	exemplars map[packet.Intent][][]float32
}

// detectIntent runs the preference ladder: embedding classifier, then
// Lite LLM classification, then keywords.
func (e *Engine) detectIntent(ctx context.Context, prompt string) (packet.Intent, bool) {
	if config.BoolOr(e.cfg.EmbedIntent.Enabled, true) {
		if intent, ok := e.classifyByEmbedding(ctx, prompt); ok {
			return intent, readOnlyIntents[intent]
		}
	}
	if intent, ok := e.classifyByLLM(ctx, prompt); ok {
		return intent, readOnlyIntents[intent]
	}
	intent := classifyByKeywords(prompt)
	return intent, readOnlyIntents[intent]
}

func (e *Engine) classifyByEmbedding(ctx context.Context, prompt string) (packet.Intent, bool) {
	emb, err := e.embedder.Embed(ctx, prompt)
	if err != nil {
		e.log.Debug("Intent embedder unavailable, falling back", "error", err)
		return "", false
	}

	banks, err := e.intents.embeddedExemplars(ctx, e)
	if err != nil {
		return "", false
	}

	topK := e.cfg.EmbedIntent.TopK
	bestIntent := packet.Intent("")
	bestScore := 0.0
	for intent, vectors := range banks {
		sims := make([]float64, 0, len(vectors))
		for _, v := range vectors {
			sims = append(sims, vector.Cosine(emb, v))
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
		k := topK
		if k > len(sims) {
			k = len(sims)
		}
		sum := 0.0
		for _, s := range sims[:k] {
			sum += s
		}
		score := sum / float64(k)
		if score > bestScore {
			bestScore, bestIntent = score, intent
		}
	}

	if bestScore >= e.cfg.EmbedIntent.ConfidenceThreshold {
		return bestIntent, true
	}
	return "", false
}

func (c *intentClassifier) embeddedExemplars(ctx context.Context, e *Engine) (map[packet.Intent][][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exemplars != nil {
		return c.exemplars, nil
	}
	banks := make(map[packet.Intent][][]float32, len(exemplarBank))
	for intent, examples := range exemplarBank {
		for _, example := range examples {
			emb, err := e.embedder.Embed(ctx, example)
			if err != nil {
				return nil, err
			}
			banks[intent] = append(banks[intent], emb)
		}
	}
	c.exemplars = banks
	return banks, nil
}

func (e *Engine) classifyByLLM(ctx context.Context, prompt string) (packet.Intent, bool) {
	provider, err := e.pool.AcquireForRole(ctx, "lite")
	if err != nil {
		return "", false
	}
	defer e.pool.Release(provider.Name())

	names := make([]string, 0, len(exemplarBank))
	for intent := range exemplarBank {
		names = append(names, string(intent))
	}
	sort.Strings(names)

	text, _, err := provider.ChatCompletion(ctx, []llms.Message{
		{Role: "system", Content: "Classify the user's intent. Respond with JSON only: {\"intent\": \"<one of: " + strings.Join(names, ", ") + ">\"}"},
		{Role: "user", Content: prompt},
	}, llms.Params{Temperature: 0.0, MaxTokens: 64})
	if err != nil {
		return "", false
	}

	var parsed struct {
		Intent string `json:"intent"`
	}
	if raw := extractJSONObject(text); raw != "" {
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			intent := packet.Intent(parsed.Intent)
			if _, known := exemplarBank[intent]; known {
				return intent, true
			}
		}
	}
	return "", false
}

func classifyByKeywords(prompt string) packet.Intent {
	lower := strings.ToLower(prompt)
	for _, row := range intentKeywords {
		for _, kw := range row.keywords {
			if strings.Contains(lower, kw) {
				return row.intent
			}
		}
	}
	return packet.IntentChat
}
