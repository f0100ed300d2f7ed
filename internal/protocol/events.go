// Package protocol defines the WebSocket wire events and their JSON codec.
// Every frame is a JSON object whose "type" field selects the payload shape.
package protocol

import (
	"time"

	"github.com/xfrllc/frank/pkg/types"
)

// Client-to-server event types.
const (
	TypeInitialize = "initialize"
	TypeNewChat    = "new_chat"
	TypeSend       = "send"
)

// Server-to-client event types.
const (
	TypeInitializeAck = "initialize_ack"
	TypeNewChatAck    = "new_chat_ack"
	TypeReply         = "reply"
	TypeError         = "error"
	TypeChatTitle     = "chat_title"
)

// Error codes carried by error events.
const (
	CodeValidationError = "validation_error"
	CodeNoChat          = "no_chat"
	CodeBusy            = "busy"
	CodeAccessDenied    = "access_denied"
	CodeAgentError      = "agent_error"
	CodeStoreError      = "store_error"
)

// Initialize binds the connection to a chat. A nil ChatID asks for a fresh
// session and the model catalog.
type Initialize struct {
	Type   string  `json:"type"`
	ChatID *string `json:"chatId,omitempty"`
}

// InitializeAck confirms session setup. ChatID is null when no existing chat
// was bound.
type InitializeAck struct {
	Type   string            `json:"type"`
	ChatID *string           `json:"chatId"`
	Models []types.ChatModel `json:"models"`
	Ts     time.Time         `json:"ts"`
}

// NewChat creates a chat seeded with an initial message. The chat is
// persisted pending; generation happens when the client initializes on it.
type NewChat struct {
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Model   *string `json:"model,omitempty"`
}

// NewChatAck returns the id of the freshly created chat.
type NewChatAck struct {
	Type   string    `json:"type"`
	ChatID string    `json:"chatId"`
	Ts     time.Time `json:"ts"`
}

// Send submits a user message to the bound chat.
type Send struct {
	Type    string  `json:"type"`
	ChatID  string  `json:"chatId"`
	Message string  `json:"message"`
	Model   *string `json:"model,omitempty"`
}

// Reply carries one generation fragment. The final frame of a turn has
// Done set and empty Text.
type Reply struct {
	Type string    `json:"type"`
	Text string    `json:"text"`
	Done bool      `json:"done"`
	Ts   time.Time `json:"ts"`
}

// ErrorEvent reports a recoverable protocol or backend failure.
type ErrorEvent struct {
	Type   string    `json:"type"`
	Code   string    `json:"code"`
	Detail string    `json:"detail,omitempty"`
	Ts     time.Time `json:"ts"`
}

// ChatTitle announces a generated title for a chat.
type ChatTitle struct {
	Type   string    `json:"type"`
	ChatID string    `json:"chatId"`
	Title  string    `json:"title"`
	Ts     time.Time `json:"ts"`
}
