package packet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SetsIdentity(t *testing.T) {
	p := New("discord_dm_alice", "hello there you", OriginUser, "discord")

	assert.NotEmpty(t, p.Header.PacketID)
	assert.Equal(t, "discord_dm_alice", p.Header.SessionID)
	assert.Equal(t, "hello there you", p.Content.OriginalPrompt)
	assert.Equal(t, Version, p.Header.Version)
	require.NoError(t, p.Validate())
}

func TestValidate_Malformed(t *testing.T) {
	p := &Packet{}
	assert.ErrorIs(t, p.Validate(), ErrMissingPacketID)

	p.Header.PacketID = "x"
	assert.ErrorIs(t, p.Validate(), ErrMissingSessionID)
}

func TestDataFields_PreserveInsertionOrder(t *testing.T) {
	p := New("s", "prompt words here", OriginUser, "web")
	p.AddField("semantic_probe_result", "{}", FieldProbe, "probe")
	p.AddField("retrieved_documents", "[]", FieldRetrieved, "rag")
	p.AddField("system_hint", "offer_save", FieldSystemHint, "ingest")

	keys := make([]string, 0, len(p.Content.DataFields))
	for _, f := range p.Content.DataFields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"semantic_probe_result", "retrieved_documents", "system_hint"}, keys)

	f, ok := p.Field("retrieved_documents")
	require.True(t, ok)
	assert.Equal(t, FieldRetrieved, f.Type)
}

func TestDataFields_UnknownKeysSurviveRoundTrip(t *testing.T) {
	raw := `{"header":{"packet_id":"p1","session_id":"s1","origin":"user","output_routing":{"primary":"web"},"version":"2"},
	  "content":{"original_prompt":"hi","data_fields":[{"key":"future_field","value":"v","type":"not_yet_defined"}]},
	  "intent":{},"context":{},"reasoning":{},"response":{},"metrics":{}}`

	var p Packet
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	require.NoError(t, p.Validate())

	f, ok := p.Field("future_field")
	require.True(t, ok)
	assert.Equal(t, DataFieldType("not_yet_defined"), f.Type)
}

func TestToolRouting_HappyPath(t *testing.T) {
	tr := &ToolRouting{ExecutionStatus: StatusPending, MaxReinjections: 3}

	require.NoError(t, tr.Transition(StatusAwaitingConfidence))
	require.NoError(t, tr.Transition(StatusApproved))
	require.NoError(t, tr.Transition(StatusExecuted))
	assert.True(t, tr.ExecutionStatus.IsTerminal())
}

func TestToolRouting_ExecutedIsSticky(t *testing.T) {
	tr := &ToolRouting{ExecutionStatus: StatusExecuted}
	assert.Error(t, tr.Transition(StatusPending))
	assert.Error(t, tr.Transition(StatusApproved))
	assert.Equal(t, StatusExecuted, tr.ExecutionStatus)
}

func TestToolRouting_InvalidJumps(t *testing.T) {
	tr := &ToolRouting{ExecutionStatus: StatusPending}
	assert.Error(t, tr.Transition(StatusExecuted), "PENDING cannot jump straight to EXECUTED")
	assert.Error(t, tr.Transition(StatusApproved), "PENDING cannot jump straight to APPROVED")
	require.NoError(t, tr.Transition(StatusSkipped))
}

func TestReinject_CapForcesSkipped(t *testing.T) {
	tr := &ToolRouting{ExecutionStatus: StatusPending, MaxReinjections: 3}

	for i := 0; i < 3; i++ {
		assert.True(t, tr.Reinject())
	}
	assert.False(t, tr.Reinject())
	assert.Equal(t, StatusSkipped, tr.ExecutionStatus)
	assert.Equal(t, 3, tr.ReinjectionCount)
}
