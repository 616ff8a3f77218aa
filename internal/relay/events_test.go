package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/chatrelay/internal/chat"
)

func TestDecodeInboundMessage(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"message","content":"hello"}`))
	require.NoError(t, err)

	msg, ok := ev.(MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Content)
}

func TestDecodeInboundClearHistory(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"clear_history"}`))
	require.NoError(t, err)

	_, ok := ev.(ClearHistoryEvent)
	assert.True(t, ok)
}

func TestDecodeInboundUnknownType(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"self_destruct"}`))

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Contains(t, protoErr.Reason, "self_destruct")
}

func TestDecodeInboundMalformedJSON(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":`))

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestOutboundEventShapes(t *testing.T) {
	data, err := json.Marshal(WelcomeEvent("llama3:8b", "Llama3"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"welcome","model":"llama3:8b","modelDisplayName":"Llama3"}`, string(data))

	data, err = json.Marshal(StreamEvent(" there"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"stream","content":" there"}`, string(data))

	data, err = json.Marshal(StreamEndEvent())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"stream_end"}`, string(data))

	data, err = json.Marshal(HistoryLoadedEvent([]chat.Message{{Role: chat.RoleUser, Content: "hi"}}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"history_loaded","messages":[{"role":"user","content":"hi"}]}`, string(data))
}
