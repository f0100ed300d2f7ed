package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DecodeError describes a frame that could not be parsed or validated. It
// carries the detail string sent back to the client on an error event.
type DecodeError struct {
	Detail string
}

func (e *DecodeError) Error() string {
	return "protocol: " + e.Detail
}

func decodeErrf(format string, args ...any) *DecodeError {
	return &DecodeError{Detail: fmt.Sprintf(format, args...)}
}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses a client frame into one of Initialize, NewChat, or Send.
// Unknown types, malformed JSON, and missing required fields return a
// *DecodeError.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, decodeErrf("malformed frame: %v", err)
	}

	switch env.Type {
	case TypeInitialize:
		var ev Initialize
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, decodeErrf("malformed initialize: %v", err)
		}
		if ev.ChatID != nil && strings.TrimSpace(*ev.ChatID) == "" {
			return nil, decodeErrf("initialize: chatId must be null or non-empty")
		}
		return &ev, nil

	case TypeNewChat:
		var ev NewChat
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, decodeErrf("malformed new_chat: %v", err)
		}
		if strings.TrimSpace(ev.Message) == "" {
			return nil, decodeErrf("new_chat: message is required")
		}
		return &ev, nil

	case TypeSend:
		var ev Send
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, decodeErrf("malformed send: %v", err)
		}
		if strings.TrimSpace(ev.ChatID) == "" {
			return nil, decodeErrf("send: chatId is required")
		}
		if strings.TrimSpace(ev.Message) == "" {
			return nil, decodeErrf("send: message is required")
		}
		return &ev, nil

	case "":
		return nil, decodeErrf("missing type field")

	default:
		return nil, decodeErrf("unknown event type %q", env.Type)
	}
}

// Encode marshals a server event, stamping its type and timestamp.
func Encode(ev any) ([]byte, error) {
	now := time.Now().UTC()
	switch e := ev.(type) {
	case *InitializeAck:
		e.Type = TypeInitializeAck
		e.Ts = now
	case *NewChatAck:
		e.Type = TypeNewChatAck
		e.Ts = now
	case *Reply:
		e.Type = TypeReply
		e.Ts = now
	case *ErrorEvent:
		e.Type = TypeError
		e.Ts = now
	case *ChatTitle:
		e.Type = TypeChatTitle
		e.Ts = now
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", ev)
	}
	return json.Marshal(ev)
}
