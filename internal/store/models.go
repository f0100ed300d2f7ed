package store

import "time"

// ChatRow is the durable representation of a chat's header. Conversation
// entries live in chat_message rows so that delta sync can append the
// unwritten tail without rewriting history.
type ChatRow struct {
	ID        string  `gorm:"primaryKey;size:36"`
	UserID    string  `gorm:"size:36;not null;index"`
	Title     *string `gorm:"type:text"`
	Model     string  `gorm:"size:128"`
	Pending   bool    `gorm:"default:false"`
	Query     string  `gorm:"type:text"` // serialized AgentQuery, empty when none
	LastSeq   int64   `gorm:"not null;default:0"`
	Ts        time.Time
	UpdatedAt time.Time
}

// TableName keeps the original table name.
func (ChatRow) TableName() string { return "chat" }

// ChatMessageRow is one conversation entry, sequenced per chat.
type ChatMessageRow struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	ChatID  string `gorm:"size:36;not null;index:idx_chat_seq,unique"`
	Seq     int64  `gorm:"not null;index:idx_chat_seq,unique"`
	Role    string `gorm:"size:16;not null"`
	Content string `gorm:"type:text;not null"`
	Ts      time.Time
}

func (ChatMessageRow) TableName() string { return "chat_message" }

// UserRow is a registered user.
type UserRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	CreatedAt time.Time
}

func (UserRow) TableName() string { return "users" }

// AuthTokenRow is a bearer credential mapping to a user.
type AuthTokenRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"size:36;not null;index"`
	Token     string `gorm:"size:64;uniqueIndex;not null"`
	ExpiresAt *time.Time
	CreatedAt time.Time
}

func (AuthTokenRow) TableName() string { return "auth_tokens" }

// AllModels returns every GORM model for migration.
func AllModels() []any {
	return []any{
		&UserRow{},
		&AuthTokenRow{},
		&ChatRow{},
		&ChatMessageRow{},
	}
}
