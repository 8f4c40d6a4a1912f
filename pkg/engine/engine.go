// Package engine implements the cognition pipeline: every user turn
// arrives as a cognition packet and walks the fixed step sequence from
// history review through generation to gateway delivery.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/azraeltruthsay/gaia-sub000/pkg/checkpoint"
	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/council"
	"github.com/azraeltruthsay/gaia-sub000/pkg/embedder"
	"github.com/azraeltruthsay/gaia-sub000/pkg/engine/loopdetect"
	"github.com/azraeltruthsay/gaia-sub000/pkg/httpclient"
	"github.com/azraeltruthsay/gaia-sub000/pkg/llms"
	"github.com/azraeltruthsay/gaia-sub000/pkg/metrics"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
	"github.com/azraeltruthsay/gaia-sub000/pkg/session"
	"github.com/azraeltruthsay/gaia-sub000/pkg/sleep"
	"github.com/azraeltruthsay/gaia-sub000/pkg/tools"
	"github.com/azraeltruthsay/gaia-sub000/pkg/utils"
	"github.com/azraeltruthsay/gaia-sub000/pkg/vector"
)

// queuedAck is returned immediately when a packet lands during sleep.
const queuedAck = "One moment, I'm waking up."

// Engine wires the pipeline's collaborators. Construct with New; the
// zero value is not usable.
type Engine struct {
	cfg         *config.Config
	log         *slog.Logger
	sessions    *session.Store
	embedder    embedder.Embedder
	knowledge   *vector.KnowledgeStore
	pool        *llms.Pool
	council     *council.Box
	checkpoints *checkpoint.Store
	sleep       *sleep.Manager
	tools       *tools.Client
	tokens      *utils.TokenCounter
	http        *httpclient.Client

	intents  *intentClassifier
	loops    *loopTracker
	detector *loopdetect.Aggregator

	// outputRouterURL is the gateway endpoint completed packets go to.
	outputRouterURL string

	catalog []tools.ToolInfo

	wakeMu      sync.Mutex
	wakeContext string

	platform platformStatus
}

// setWakeContext replaces the wake digest injected into prompts.
func (e *Engine) setWakeContext(digest string) {
	e.wakeMu.Lock()
	e.wakeContext = digest
	e.wakeMu.Unlock()
}

func (e *Engine) currentWakeContext() string {
	e.wakeMu.Lock()
	defer e.wakeMu.Unlock()
	return e.wakeContext
}

// Deps are the externally constructed collaborators.
type Deps struct {
	Config      *config.Config
	Logger      *slog.Logger
	Sessions    *session.Store
	Embedder    embedder.Embedder
	Knowledge   *vector.KnowledgeStore
	Pool        *llms.Pool
	Council     *council.Box
	Checkpoints *checkpoint.Store
	Tools       *tools.Client
	HTTP        *httpclient.Client
}

func New(deps Deps) (*Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("engine requires a config")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		cfg:             deps.Config,
		log:             log.With("component", "engine"),
		sessions:        deps.Sessions,
		embedder:        deps.Embedder,
		knowledge:       deps.Knowledge,
		pool:            deps.Pool,
		council:         deps.Council,
		checkpoints:     deps.Checkpoints,
		tools:           deps.Tools,
		http:            deps.HTTP,
		intents:         &intentClassifier{},
		loops:           newLoopTracker(),
		detector:        loopdetect.NewAggregator(&deps.Config.LoopDetection),
		outputRouterURL: deps.Config.Services.Gateway + "/output_router",
	}

	if tc, err := utils.NewTokenCounter("gpt-4"); err == nil {
		e.tokens = tc
	}

	e.sleep = sleep.NewManager(sleep.Hooks{
		WriteCheckpoints: e.writeCheckpoints,
		NotifyRelease:    e.notifyRelease,
		RequestReclaim:   e.requestReclaim,
		LoadWakeContext:  e.loadWakeContext,
		ProcessQueued: func(ctx context.Context, p *packet.Packet) {
			processed := e.ProcessPacket(ctx, p)
			e.deliver(ctx, processed)
		},
	})
	return e, nil
}

// Sleep exposes the lifecycle manager to the HTTP layer.
func (e *Engine) Sleep() *sleep.Manager { return e.sleep }

// Pool exposes the model pool to the HTTP layer.
func (e *Engine) Pool() *llms.Pool { return e.pool }

// Checkpoints exposes the checkpoint store for shutdown handling.
func (e *Engine) Checkpoints() *checkpoint.Store { return e.checkpoints }

// ApplyTunables hot-applies the threshold sections from a reloaded
// constants file. Structural sections (models, services, paths) need a
// restart.
func (e *Engine) ApplyTunables(next *config.Config) {
	e.cfg.Probe = next.Probe
	e.cfg.HistoryReview = next.HistoryReview
	e.cfg.EmbedIntent = next.EmbedIntent
	e.cfg.LoopDetection = next.LoopDetection
	e.cfg.ToolRouting = next.ToolRouting
	e.cfg.Ingestion = next.Ingestion
	e.cfg.Audit = next.Audit
	e.log.Info("Applied reloaded thresholds")
}

// ProcessPacket drives one turn through the pipeline. It always
// returns the same packet, completed or carrying the fallback text.
func (e *Engine) ProcessPacket(ctx context.Context, p *packet.Packet) *packet.Packet {
	start := time.Now()
	if err := p.Validate(); err != nil {
		p.Response.Candidate = fallbackMessage
		p.Reflect("ingress", "rejected: "+err.Error(), 0)
		return p
	}

	unlock := e.sessions.Lock(p.Header.SessionID)
	defer unlock()

	// Sleep gate. Queued packets replay after wake.
	if e.sleep.State() != sleep.StateAwake {
		if e.sleep.Enqueue(p) {
			go func() {
				if err := e.sleep.Wake(context.Background()); err != nil {
					e.log.Warn("Wake trigger failed", "error", err)
				}
			}()
			ack := packet.New(p.Header.SessionID, p.Content.OriginalPrompt, p.Header.Origin, p.Header.OutputRouting.Primary)
			ack.Header.PacketID = p.Header.PacketID
			ack.Response.Candidate = queuedAck
			return ack
		}
	}

	sessionID := p.Header.SessionID
	prompt := p.Content.OriginalPrompt

	history := e.sessions.History(sessionID)
	if config.BoolOr(e.cfg.HistoryReview.Enabled, true) {
		reviewed := e.reviewHistory(history)
		p.Reflect("history_review", historySummary(history, reviewed), 1)
		history = reviewed
	}

	var probe *ProbeResult
	if config.BoolOr(e.cfg.Probe.Enabled, true) {
		probe = e.runProbe(ctx, p)
		if len(probe.Hits) > 0 {
			p.AddField("semantic_probe_result", probeSummary(probe), packet.FieldProbe, "probe")
		}
	}

	p.Header.Persona = e.selectPersona(probe, prompt)
	if probe != nil && probe.PrimaryCollection != "" {
		p.Context.KnowledgeBaseName = probe.PrimaryCollection
	}

	intent, readOnly := e.detectIntent(ctx, prompt)
	p.Intent.DetectedIntent = intent
	p.Intent.ReadOnly = readOnly
	p.Reflect("intent", string(intent), 1)

	role := e.selectRole(p)
	e.snapshotWorldState(ctx, p)

	slim := e.slimEligible(p, probe, intent)
	p.Metrics.SlimPath = slim

	var response string
	if slim {
		response = e.generate(ctx, p, role, e.slimPrompt(p, history))
	} else {
		response = e.standardTurn(ctx, p, role, history, probe, intent)
	}

	if response == "" {
		response = fallbackMessage
	}

	cleaned, actions := parseSidecarActions(p, response)
	p.Response.SidecarActions = actions
	if len(actions) > 0 {
		e.runSidecarActions(ctx, p)
		if cleaned == "" {
			cleaned = e.sidecarAck(p)
		}
	}
	p.Response.Candidate = cleaned

	// Persist the user-facing exchange, never the raw stream.
	if err := e.sessions.Append(sessionID, "user", prompt); err != nil {
		e.log.Warn("Session persist failed", "session", sessionID, "error", err)
	}
	if err := e.sessions.Append(sessionID, "assistant", cleaned); err != nil {
		e.log.Warn("Session persist failed", "session", sessionID, "error", err)
	}
	e.sessions.SetLastPrompt(sessionID, prompt)

	if !slim {
		e.checkLoop(p, cleaned)
	}
	if role == "lite" {
		e.escalateIfFlagged(p, cleaned)
	}

	e.sessions.AdvanceTurn(sessionID, e.cfg.Probe.CacheMaxAgeTurns, e.cfg.LoopDetection.WarnTTLTurns)

	p.Metrics.TurnDuration = time.Since(start)
	path := "standard"
	if slim {
		path = "slim"
	}
	metrics.TurnDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if p.Metrics.Model != "" {
		metrics.TokensUsed.WithLabelValues(p.Metrics.Model, "prompt").Add(float64(p.Metrics.PromptTokens))
		metrics.TokensUsed.WithLabelValues(p.Metrics.Model, "completion").Add(float64(p.Metrics.CompletionTokens))
	}
	return p
}

// standardTurn runs the full step sequence for a non-trivial prompt.
func (e *Engine) standardTurn(ctx context.Context, p *packet.Packet, role string, history []session.Message, probe *ProbeResult, intent packet.Intent) string {
	if needsTool(intent) {
		catalog := e.toolCatalog(ctx)
		if len(catalog) > 0 {
			p.Context.AvailableTools = catalogNames(catalog)
			e.routeTool(ctx, p, catalog)
		}
	}

	if intent == packet.IntentRecite {
		e.fetchRecitationSource(ctx, p, probe)
	}

	docs := e.retrieveContext(ctx, p, probe)
	e.detectIngestion(ctx, p)

	messages := e.assemblePrompt(p, history, docs, probe)
	if hint := e.recoveryHint(p.Header.SessionID); hint != "" {
		messages = append([]llms.Message{{Role: "system", Content: hint}}, messages...)
	}
	if field, ok := p.Field("recitation_source"); ok {
		messages = append([]llms.Message{{Role: "system", Content: "Source text for the requested recitation:\n" + field.Value}}, messages...)
	}
	return e.generate(ctx, p, role, messages)
}

// slimEligible spots trivial inputs that can skip enrichment.
func (e *Engine) slimEligible(p *packet.Packet, probe *ProbeResult, intent packet.Intent) bool {
	if intent != packet.IntentChat {
		return false
	}
	if probe != nil && len(probe.Hits) > 0 {
		return false
	}
	return len(strings.Fields(p.Content.OriginalPrompt)) <= 6
}

// needsTool gates pre-generation routing by intent.
func needsTool(intent packet.Intent) bool {
	switch intent {
	case packet.IntentFileRead, packet.IntentFileWrite, packet.IntentShell,
		packet.IntentSearch, packet.IntentIntrospect:
		return true
	}
	return false
}

// sidecarAck covers the case where the response was nothing but an
// EXECUTE line routed to the approval queue.
func (e *Engine) sidecarAck(p *packet.Packet) string {
	if _, pending := p.Field("tool_approval_pending"); pending {
		return "That action needs approval before I can run it. I've queued it for review."
	}
	return "Done."
}

// toolCatalog caches the tool server's listing for the process
// lifetime. A failed listing disables routing for the turn only.
func (e *Engine) toolCatalog(ctx context.Context) []tools.ToolInfo {
	if e.catalog != nil {
		return e.catalog
	}
	if e.tools == nil {
		return nil
	}
	catalog, err := e.tools.ListTools(ctx)
	if err != nil {
		e.log.Warn("Tool catalog unavailable", "error", err)
		return nil
	}
	e.catalog = catalog
	return catalog
}

func catalogNames(catalog []tools.ToolInfo) []string {
	names := make([]string, 0, len(catalog))
	for _, info := range catalog {
		names = append(names, info.Name)
	}
	return names
}

// deliver posts a completed packet to the gateway's output router.
// Delivery is best effort; the synchronous HTTP response already
// carries the packet.
func (e *Engine) deliver(ctx context.Context, p *packet.Packet) {
	if e.http == nil || e.outputRouterURL == "" {
		return
	}
	resp, err := e.http.PostJSON(ctx, e.outputRouterURL, p)
	if err != nil {
		e.log.Warn("Output router delivery failed", "packet_id", p.Header.PacketID, "error", err)
		return
	}
	resp.Body.Close()
}

func probeSummary(probe *ProbeResult) string {
	return fmt.Sprintf("%d phrases, %d hits, primary=%s",
		len(probe.Phrases), len(probe.Hits), probe.PrimaryCollection)
}
