package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSignal(t *testing.T) {
	for _, typ := range []string{TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICECandidate, TypeMediaState} {
		assert.True(t, isSignal(typ), typ)
	}
	for _, typ := range []string{TypePing, TypeSessionState, TypeChatMessage, TypeShareState, "bogus", ""} {
		assert.False(t, isSignal(typ), typ)
	}
}

func TestValidateSignal(t *testing.T) {
	ok := Message{Type: TypeWebRTCOffer, Target: "p2", Data: json.RawMessage(`{}`)}
	assert.NoError(t, ok.validateSignal())

	noTarget := Message{Type: TypeWebRTCOffer, Data: json.RawMessage(`{}`)}
	assert.Error(t, noTarget.validateSignal())

	noData := Message{Type: TypeWebRTCOffer, Target: "p2"}
	assert.Error(t, noData.validateSignal())
}

func TestFrameShape(t *testing.T) {
	raw := frame(TypePong, "", "p1", map[string]int64{"timestamp": 42})
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, TypePong, msg.Type)
	assert.Equal(t, "p1", msg.From)
	assert.Empty(t, msg.Target)
	assert.JSONEq(t, `{"timestamp":42}`, string(msg.Data))

	// nil data stays absent, not "null"
	raw = frame(TypeSessionState, "", "", nil)
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &envelope))
	_, present := envelope["data"]
	assert.False(t, present)
}

func TestErrorFrame(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal(errorFrame("boom"), &msg))
	assert.Equal(t, TypeError, msg.Type)
	assert.JSONEq(t, `{"message":"boom"}`, string(msg.Data))
}
