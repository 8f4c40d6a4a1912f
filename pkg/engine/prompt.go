package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/azraeltruthsay/gaia-sub000/pkg/llms"
	"github.com/azraeltruthsay/gaia-sub000/pkg/packet"
	"github.com/azraeltruthsay/gaia-sub000/pkg/session"
)

const (
	identityDirective = "You are GAIA, the cognition core of a multi-service assistant platform. " +
		"You answer on behalf of the whole system and you are honest about what you can and cannot see."

	safetyDirective = "Never fabricate file paths, citations, or URLs. If you did not read it " +
		"through a tool this turn, do not present it as fact."

	toolConvention = "To request a tool, emit a single line: EXECUTE: <tool_name> {\"param\": \"value\"}. " +
		"Emit at most one directive per response and only when the tools listed as available can satisfy it."

	epistemicDirective = "Answer directly without <think> tags or internal reasoning markup. " +
		"Say \"I don't know\" rather than guessing."

	// resultPrefill steers synthesis over echo after a tool ran.
	resultPrefill = "Based on the results,"
)

// promptBudgetTokens caps the assembled system context before history.
const promptBudgetTokens = 3500

// personaDirectives maps persona names to their voice layer.
var personaDirectives = map[string]string{
	"core":      "Speak plainly and stay concrete.",
	"archivist": "You are in archivist mode: precise, citation-first, and explicit about provenance.",
	"engineer":  "You are in engineer mode: favor exact commands, paths, and reproducible steps.",
}

// assemblePrompt builds the layered message list for generation.
// Layer order is fixed; empty layers are omitted.
func (e *Engine) assemblePrompt(p *packet.Packet, history []session.Message, docs []RetrievedDocument, probe *ProbeResult) []llms.Message {
	var layers []string

	layers = append(layers, identityDirective)
	if persona := personaDirectives[p.Header.Persona]; persona != "" {
		layers = append(layers, persona)
	}
	layers = append(layers, safetyDirective)

	// The convention is suppressed once a routed tool already ran this
	// turn so the model synthesizes instead of re-requesting.
	executed := p.ToolRouting != nil && p.ToolRouting.ExecutionStatus == packet.StatusExecuted
	if !executed && len(p.Context.AvailableTools) > 0 {
		layers = append(layers, toolConvention+"\nAvailable tools: "+strings.Join(p.Context.AvailableTools, ", "))
	}

	if ws := worldStateLayer(p); ws != "" {
		layers = append(layers, ws)
	}
	if dl := documentLayer(docs); dl != "" {
		layers = append(layers, dl)
	}
	if pl := probeLayer(probe); pl != "" {
		layers = append(layers, pl)
	}
	if cl := e.councilLayer(); cl != "" {
		layers = append(layers, cl)
	}
	if wc := e.currentWakeContext(); wc != "" {
		layers = append(layers, wc)
	}
	layers = append(layers, epistemicDirective)

	system := strings.Join(layers, "\n\n")
	if e.tokens != nil && e.tokens.Count(system) > promptBudgetTokens {
		system = e.slimSystem(p)
	}

	messages := []llms.Message{{Role: "system", Content: system}}
	for _, m := range history {
		messages = append(messages, llms.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llms.Message{Role: "user", Content: p.Content.OriginalPrompt})

	if executed && p.ToolRouting.ExecutionResult != nil && p.ToolRouting.ExecutionResult.Success {
		messages = append(messages,
			llms.Message{Role: "system", Content: "Tool " + p.ToolRouting.SelectedTool.Name + " result:\n" + p.ToolRouting.ExecutionResult.Output},
			llms.Message{Role: "assistant", Content: resultPrefill},
		)
	}
	return messages
}

// slimPrompt is the low-latency path for trivial inputs: identity,
// safety, prompt, nothing else.
func (e *Engine) slimPrompt(p *packet.Packet, history []session.Message) []llms.Message {
	messages := []llms.Message{{Role: "system", Content: e.slimSystem(p)}}
	// Keep only the immediate exchange for context.
	if n := len(history); n > 2 {
		history = history[n-2:]
	}
	for _, m := range history {
		messages = append(messages, llms.Message{Role: m.Role, Content: m.Content})
	}
	return append(messages, llms.Message{Role: "user", Content: p.Content.OriginalPrompt})
}

func (e *Engine) slimSystem(p *packet.Packet) string {
	layers := []string{identityDirective, safetyDirective, epistemicDirective}
	if persona := personaDirectives[p.Header.Persona]; persona != "" {
		layers = append(layers[:1], append([]string{persona}, layers[1:]...)...)
	}
	return strings.Join(layers, "\n\n")
}

func worldStateLayer(p *packet.Packet) string {
	if len(p.Context.WorldState) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Current system state:")
	for _, key := range sortedKeys(p.Context.WorldState) {
		fmt.Fprintf(&sb, "\n- %s: %s", key, p.Context.WorldState[key])
	}
	return sb.String()
}

func documentLayer(docs []RetrievedDocument) string {
	if len(docs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Reference documents retrieved for this request. Cite only these:")
	for _, d := range docs {
		name := d.Source
		if name == "" {
			name = d.ID
		}
		fmt.Fprintf(&sb, "\n--- %s (%s, sim %.2f) ---\n%s", name, d.Collection, d.Similarity, d.Content)
	}
	return sb.String()
}

func probeLayer(probe *ProbeResult) string {
	if probe == nil || probe.PrimaryCollection == "" {
		return ""
	}
	line := "The request relates to the " + probe.PrimaryCollection + " knowledge area"
	if len(probe.SupplementalCollections) > 0 {
		line += " (also: " + strings.Join(probe.SupplementalCollections, ", ") + ")"
	}
	return line + "."
}

func (e *Engine) councilLayer() string {
	notes, err := e.council.Pending()
	if err != nil || len(notes) == 0 {
		return ""
	}
	if max := e.cfg.Council.MaxNotes; len(notes) > max {
		notes = notes[len(notes)-max:]
	}
	var sb strings.Builder
	sb.WriteString("Notes from your lighter self, written while you were asleep:")
	for _, n := range notes {
		fmt.Fprintf(&sb, "\n- [%s] %s (reason: %s)", n.Timestamp.Format("2006-01-02 15:04"), n.LiteQuickTake, n.EscalationReason)
	}
	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
