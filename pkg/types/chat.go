// Package types provides the core data types for the Frank server.
package types

import "time"

// Roles for conversation entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat represents one persisted conversation between a user and the system.
type Chat struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	Title     *string     `json:"title"`
	Model     string      `json:"model,omitempty"`
	History   []ChatEntry `json:"history"`
	Pending   bool        `json:"pending"`
	CurQuery  *AgentQuery `json:"curQuery"`
	LastSeq   int64       `json:"lastSeq"`
	Ts        time.Time   `json:"ts"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// ChatEntry is a single conversation turn half: one user or assistant message.
// Seq is the durable per-chat sequence number; zero means the entry has not
// been written to the durable store yet.
type ChatEntry struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Ts      time.Time `json:"ts"`
	Seq     int64     `json:"seq,omitempty"`
}

// AgentQuery is the in-flight (or most recently completed) generation request
// for a chat. Result stays nil until the stream finishes.
type AgentQuery struct {
	Prompt string    `json:"prompt"`
	Model  string    `json:"model"`
	Result *string   `json:"result"`
	Ts     time.Time `json:"ts"`
}

// ChatModel describes one selectable model in the catalog.
type ChatModel struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	IsDefault bool   `json:"isDefault"`
}

// HasTitle reports whether the chat already carries a non-empty title.
func (c *Chat) HasTitle() bool {
	return c.Title != nil && *c.Title != ""
}

// Append adds entries to the chat history.
func (c *Chat) Append(entries ...ChatEntry) {
	c.History = append(c.History, entries...)
}

// TruncateHistory drops the oldest entries so that at most max remain.
func (c *Chat) TruncateHistory(max int) {
	if max <= 0 || len(c.History) <= max {
		return
	}
	c.History = c.History[len(c.History)-max:]
}

// FirstEntry returns the first history entry with the given role, or nil.
func (c *Chat) FirstEntry(role string) *ChatEntry {
	for i := range c.History {
		if c.History[i].Role == role {
			return &c.History[i]
		}
	}
	return nil
}

// ClientChat is the shape served to HTTP clients: the full chat with history
// reduced to the minimal entry fields.
type ClientChat struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	Title     *string       `json:"title"`
	Model     string        `json:"model,omitempty"`
	History   []ClientEntry `json:"history"`
	Pending   bool          `json:"pending"`
	CurQuery  *AgentQuery   `json:"curQuery"`
	Ts        time.Time     `json:"ts"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ClientEntry is the minimal client-facing conversation entry.
type ClientEntry struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Ts      time.Time `json:"ts"`
}

// ToClientChat converts a Chat to its client-facing representation.
func ToClientChat(c *Chat) *ClientChat {
	history := make([]ClientEntry, 0, len(c.History))
	for _, e := range c.History {
		history = append(history, ClientEntry{Role: e.Role, Content: e.Content, Ts: e.Ts})
	}
	return &ClientChat{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		Model:     c.Model,
		History:   history,
		Pending:   c.Pending,
		CurQuery:  c.CurQuery,
		Ts:        c.Ts,
		UpdatedAt: c.UpdatedAt,
	}
}
