package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasTitle(t *testing.T) {
	c := &Chat{}
	assert.False(t, c.HasTitle())

	empty := ""
	c.Title = &empty
	assert.False(t, c.HasTitle())

	title := "Tides"
	c.Title = &title
	assert.True(t, c.HasTitle())
}

func TestTruncateHistory(t *testing.T) {
	c := &Chat{}
	for i := 0; i < 5; i++ {
		c.Append(ChatEntry{Role: RoleUser, Content: string(rune('a' + i))})
	}

	c.TruncateHistory(3)
	require.Len(t, c.History, 3)
	assert.Equal(t, "c", c.History[0].Content)
	assert.Equal(t, "e", c.History[2].Content)

	// no-op cases
	c.TruncateHistory(10)
	assert.Len(t, c.History, 3)
	c.TruncateHistory(0)
	assert.Len(t, c.History, 3)
}

func TestFirstEntry(t *testing.T) {
	c := &Chat{History: []ChatEntry{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "q2"},
	}}

	user := c.FirstEntry(RoleUser)
	require.NotNil(t, user)
	assert.Equal(t, "q1", user.Content)

	assistant := c.FirstEntry(RoleAssistant)
	require.NotNil(t, assistant)
	assert.Equal(t, "a1", assistant.Content)

	assert.Nil(t, (&Chat{}).FirstEntry(RoleUser))
}

func TestChatJSONFieldNames(t *testing.T) {
	result := "done"
	chat := &Chat{
		ID:       "c1",
		UserID:   "u1",
		History:  []ChatEntry{{Role: RoleUser, Content: "hi", Seq: 3}},
		CurQuery: &AgentQuery{Prompt: "hi", Model: "m", Result: &result},
		LastSeq:  3,
		Ts:       time.Now().UTC(),
	}

	data, err := json.Marshal(chat)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "userId")
	assert.Contains(t, raw, "curQuery")
	assert.Contains(t, raw, "lastSeq")
	assert.Contains(t, raw, "updatedAt")
}

func TestToClientChatStripsSequenceNumbers(t *testing.T) {
	chat := &Chat{
		ID:     "c1",
		UserID: "u1",
		History: []ChatEntry{
			{Role: RoleUser, Content: "hi", Seq: 1},
			{Role: RoleAssistant, Content: "hello", Seq: 2},
		},
	}

	client := ToClientChat(chat)
	require.Len(t, client.History, 2)
	assert.Equal(t, "hi", client.History[0].Content)

	data, err := json.Marshal(client)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"seq"`)
}
