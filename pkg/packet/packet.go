// Package packet defines the Cognition Packet, the canonical envelope
// exchanged between the gateway and the cognition engine. The packet is
// created once at ingress, enriched step by step inside the engine, and
// consumed by the gateway's output router on return.
package packet

import (
	"time"

	"github.com/google/uuid"
)

const Version = "2"

// Origin identifies who produced the packet.
type Origin string

const (
	OriginUser       Origin = "user"
	OriginSystem     Origin = "system"
	OriginAutonomous Origin = "autonomous"
)

// Intent is the closed set of detected intents.
type Intent string

const (
	IntentChat            Intent = "chat"
	IntentRecite          Intent = "recite"
	IntentFileRead        Intent = "file_read"
	IntentFileWrite       Intent = "file_write"
	IntentShell           Intent = "shell"
	IntentSearch          Intent = "search"
	IntentKnowledgeSave   Intent = "knowledge_save"
	IntentKnowledgeUpdate Intent = "knowledge_update"
	IntentIntrospect      Intent = "introspect"
	IntentReflection      Intent = "reflection"
	IntentOther           Intent = "other"
)

// DataFieldType tags the variant carried by a DataField.
type DataFieldType string

const (
	FieldText       DataFieldType = "text"
	FieldProbe      DataFieldType = "semantic_probe_result"
	FieldRetrieved  DataFieldType = "retrieved_documents"
	FieldToolResult DataFieldType = "tool_result"
	FieldSystemHint DataFieldType = "system_hint"
	FieldCouncil    DataFieldType = "council_note"
	FieldCheckpoint DataFieldType = "cognitive_checkpoint"
	FieldWorldState DataFieldType = "world_state"
)

// DataField is one entry of the packet's extensible content slot. Readers
// must tolerate unknown keys; back-references between fields are by key,
// never by pointer.
type DataField struct {
	Key    string        `json:"key"`
	Value  string        `json:"value"`
	Type   DataFieldType `json:"type"`
	Source string        `json:"source,omitempty"`
}

type OutputRouting struct {
	Primary string   `json:"primary"`
	FanOut  []string `json:"fan_out,omitempty"`
}

type Header struct {
	PacketID      string        `json:"packet_id"`
	SessionID     string        `json:"session_id"`
	Persona       string        `json:"persona,omitempty"`
	Origin        Origin        `json:"origin"`
	OutputRouting OutputRouting `json:"output_routing"`
	Version       string        `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
}

type Content struct {
	OriginalPrompt       string      `json:"original_prompt"`
	DataFields           []DataField `json:"data_fields,omitempty"`
	ChatHistoryReference string      `json:"chat_history_reference,omitempty"`
}

type IntentBlock struct {
	PrimaryGoal    string `json:"primary_goal,omitempty"`
	DetectedIntent Intent `json:"detected_intent,omitempty"`
	ReadOnly       bool   `json:"read_only"`
}

type ContextBlock struct {
	AvailableTools    []string          `json:"available_tools,omitempty"`
	KnowledgeBaseName string            `json:"knowledge_base_name,omitempty"`
	WorldState        map[string]string `json:"world_state_snapshot,omitempty"`
}

type ReflectionEntry struct {
	Step       string  `json:"step"`
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

type Reasoning struct {
	ReflectionLog []ReflectionEntry `json:"reflection_log,omitempty"`
	Sketchpad     map[string]string `json:"sketchpad,omitempty"`
}

type SelectedTool struct {
	Name                string         `json:"name"`
	Params              map[string]any `json:"params,omitempty"`
	SelectionReasoning  string         `json:"selection_reasoning,omitempty"`
	SelectionConfidence float64        `json:"selection_confidence"`
}

type ExecutionResult struct {
	Success  bool          `json:"success"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

type ToolRouting struct {
	NeedsTool        bool             `json:"needs_tool"`
	SelectedTool     *SelectedTool    `json:"selected_tool,omitempty"`
	AlternativeTools []string         `json:"alternative_tools,omitempty"`
	ReviewConfidence float64          `json:"review_confidence"`
	ReviewReasoning  string           `json:"review_reasoning,omitempty"`
	ExecutionStatus  ExecutionStatus  `json:"execution_status,omitempty"`
	ExecutionResult  *ExecutionResult `json:"execution_result,omitempty"`
	ReinjectionCount int              `json:"reinjection_count"`
	MaxReinjections  int              `json:"max_reinjections"`
}

// SidecarAction is a parsed post-generation EXECUTE directive.
type SidecarAction struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
	Raw    string         `json:"raw,omitempty"`
}

type Response struct {
	Candidate      string          `json:"candidate,omitempty"`
	SidecarActions []SidecarAction `json:"sidecar_actions,omitempty"`
}

type Metrics struct {
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	ProbePhrases     int           `json:"probe_phrases,omitempty"`
	ProbeHits        int           `json:"probe_hits,omitempty"`
	ProbeDuration    time.Duration `json:"probe_duration_ns,omitempty"`
	TurnDuration     time.Duration `json:"turn_duration_ns,omitempty"`
	Model            string        `json:"model,omitempty"`
	SlimPath         bool          `json:"slim_path,omitempty"`
}

type LoopState struct {
	ResetCount       int      `json:"reset_count"`
	WarnIssued       bool     `json:"warn_issued"`
	WarnAgeTurns     int      `json:"warn_age_turns"`
	PreviousAttempts []string `json:"previous_attempts,omitempty"`
}

// Packet is the unit of request/response between gateway and engine.
type Packet struct {
	Header      Header       `json:"header"`
	Content     Content      `json:"content"`
	Intent      IntentBlock  `json:"intent"`
	Context     ContextBlock `json:"context"`
	Reasoning   Reasoning    `json:"reasoning"`
	ToolRouting *ToolRouting `json:"tool_routing,omitempty"`
	Response    Response     `json:"response"`
	Metrics     Metrics      `json:"metrics"`
	LoopState   *LoopState   `json:"loop_state,omitempty"`
}

// New creates a packet for a user prompt. packet_id is set here and never
// mutated afterwards; original_prompt is immutable after creation.
func New(sessionID, prompt string, origin Origin, primaryDest string) *Packet {
	return &Packet{
		Header: Header{
			PacketID:      uuid.NewString(),
			SessionID:     sessionID,
			Origin:        origin,
			OutputRouting: OutputRouting{Primary: primaryDest},
			Version:       Version,
			CreatedAt:     time.Now().UTC(),
		},
		Content: Content{OriginalPrompt: prompt},
	}
}

// AddField appends a data field, preserving insertion order.
func (p *Packet) AddField(key, value string, typ DataFieldType, source string) {
	p.Content.DataFields = append(p.Content.DataFields, DataField{
		Key: key, Value: value, Type: typ, Source: source,
	})
}

// Field returns the first data field with the given key.
func (p *Packet) Field(key string) (DataField, bool) {
	for _, f := range p.Content.DataFields {
		if f.Key == key {
			return f, true
		}
	}
	return DataField{}, false
}

// Reflect appends an entry to the reflection log.
func (p *Packet) Reflect(step, summary string, confidence float64) {
	p.Reasoning.ReflectionLog = append(p.Reasoning.ReflectionLog, ReflectionEntry{
		Step: step, Summary: summary, Confidence: confidence,
	})
}

// Sketch stores intermediate text in a named sketchpad slot.
func (p *Packet) Sketch(slot, text string) {
	if p.Reasoning.Sketchpad == nil {
		p.Reasoning.Sketchpad = make(map[string]string)
	}
	p.Reasoning.Sketchpad[slot] = text
}

// EnsureToolRouting returns the tool-routing block, creating it on demand.
func (p *Packet) EnsureToolRouting(maxReinjections int) *ToolRouting {
	if p.ToolRouting == nil {
		p.ToolRouting = &ToolRouting{
			ExecutionStatus: StatusPending,
			MaxReinjections: maxReinjections,
		}
	}
	return p.ToolRouting
}

// Validate rejects malformed packets at engine ingress.
func (p *Packet) Validate() error {
	if p.Header.PacketID == "" {
		return ErrMissingPacketID
	}
	if p.Header.SessionID == "" {
		return ErrMissingSessionID
	}
	return nil
}
