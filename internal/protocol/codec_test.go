package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInitialize(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"initialize","chatId":"abc"}`))
	require.NoError(t, err)

	init, ok := ev.(*Initialize)
	require.True(t, ok)
	require.NotNil(t, init.ChatID)
	assert.Equal(t, "abc", *init.ChatID)
}

func TestDecodeInitializeNullChatID(t *testing.T) {
	for _, frame := range []string{
		`{"type":"initialize"}`,
		`{"type":"initialize","chatId":null}`,
	} {
		ev, err := Decode([]byte(frame))
		require.NoError(t, err, frame)

		init, ok := ev.(*Initialize)
		require.True(t, ok, frame)
		assert.Nil(t, init.ChatID, frame)
	}
}

func TestDecodeInitializeEmptyChatID(t *testing.T) {
	_, err := Decode([]byte(`{"type":"initialize","chatId":"  "}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestDecodeNewChat(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"new_chat","message":"hi","model":"openai/gpt-4o"}`))
	require.NoError(t, err)

	nc, ok := ev.(*NewChat)
	require.True(t, ok)
	assert.Equal(t, "hi", nc.Message)
	require.NotNil(t, nc.Model)
	assert.Equal(t, "openai/gpt-4o", *nc.Model)
}

func TestDecodeNewChatMissingMessage(t *testing.T) {
	_, err := Decode([]byte(`{"type":"new_chat"}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Detail, "message")
}

func TestDecodeSend(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"send","chatId":"abc","message":"hello"}`))
	require.NoError(t, err)

	send, ok := ev.(*Send)
	require.True(t, ok)
	assert.Equal(t, "abc", send.ChatID)
	assert.Equal(t, "hello", send.Message)
	assert.Nil(t, send.Model)
}

func TestDecodeSendMissingFields(t *testing.T) {
	cases := map[string]string{
		"no chatId":  `{"type":"send","message":"hello"}`,
		"no message": `{"type":"send","chatId":"abc"}`,
		"blank":      `{"type":"send","chatId":" ","message":"x"}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			var de *DecodeError
			require.ErrorAs(t, err, &de)
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{}`,
		`{"type":"reply","text":"hi"}`,
		`{"type":"shutdown"}`,
	} {
		_, err := Decode([]byte(frame))
		var de *DecodeError
		require.ErrorAs(t, err, &de, frame)
	}
}

func TestEncodeStampsTypeAndTimestamp(t *testing.T) {
	data, err := Encode(&Reply{Text: "hi"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "reply", raw["type"])
	assert.NotEmpty(t, raw["ts"])
	assert.Equal(t, "hi", raw["text"])
	assert.Equal(t, false, raw["done"])
}

func TestEncodeInitializeAckNullChatID(t *testing.T) {
	data, err := Encode(&InitializeAck{})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	// null must be present, not omitted, so clients can distinguish
	// "no chat bound" from a truncated frame
	v, present := raw["chatId"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestEncodeRejectsClientEvents(t *testing.T) {
	_, err := Encode(&Send{ChatID: "abc", Message: "x"})
	require.Error(t, err)
}
