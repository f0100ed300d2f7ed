// Package store provides two-tier chat persistence: a TTL-bounded Redis
// cache in front of a durable relational store. Loads fall back from cache
// to the database and repopulate the cache; saves write the database first
// and refresh the cache best-effort.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xfrllc/frank/internal/logging"
	"github.com/xfrllc/frank/pkg/types"
)

// ErrNotFound indicates no chat exists for the given id.
var ErrNotFound = errors.New("not found")

// Store is the two-tier chat store.
type Store struct {
	cache      Cache
	db         *gorm.DB
	ttl        time.Duration
	maxHistory int
}

// New creates a Store. maxHistory bounds how many conversation entries are
// loaded back from the durable tier.
func New(cache Cache, db *gorm.DB, ttl time.Duration, maxHistory int) *Store {
	return &Store{cache: cache, db: db, ttl: ttl, maxHistory: maxHistory}
}

// chatKey builds the cache key for a chat.
func chatKey(id string) string {
	return "chat:" + id
}

// Load fetches a chat by id: cache first, durable store on miss or cache
// error. A durable hit repopulates the cache best-effort.
func (s *Store) Load(ctx context.Context, id string) (*types.Chat, error) {
	if data, err := s.cache.Get(ctx, chatKey(id)); err == nil {
		var chat types.Chat
		if err := json.Unmarshal([]byte(data), &chat); err == nil {
			return &chat, nil
		}
		logging.Warn().Str("chatId", id).Msg("discarding undecodable cache entry")
	} else if !errors.Is(err, ErrCacheMiss) {
		logging.Warn().Err(err).Str("chatId", id).Msg("cache read failed, falling back to db")
	}

	chat, err := s.loadDurable(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.writeCache(ctx, chat); err != nil {
		logging.Warn().Err(err).Str("chatId", id).Msg("cache repopulate failed")
	}

	return chat, nil
}

// loadDurable reads the chat header and its most recent entries from the
// relational store.
func (s *Store) loadDurable(ctx context.Context, id string) (*types.Chat, error) {
	var row ChatRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load chat %s: %w", id, err)
	}

	var msgRows []ChatMessageRow
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", id).
		Order("seq DESC").
		Limit(s.maxHistory).
		Find(&msgRows).Error
	if err != nil {
		return nil, fmt.Errorf("store: load messages for %s: %w", id, err)
	}

	history := make([]types.ChatEntry, len(msgRows))
	for i, m := range msgRows {
		// rows come back newest-first
		history[len(msgRows)-1-i] = types.ChatEntry{
			Role:    m.Role,
			Content: m.Content,
			Ts:      m.Ts,
			Seq:     m.Seq,
		}
	}

	chat := &types.Chat{
		ID:        row.ID,
		UserID:    row.UserID,
		Title:     row.Title,
		Model:     row.Model,
		History:   history,
		Pending:   row.Pending,
		LastSeq:   row.LastSeq,
		Ts:        row.Ts,
		UpdatedAt: row.UpdatedAt,
	}

	if row.Query != "" {
		var q types.AgentQuery
		if err := json.Unmarshal([]byte(row.Query), &q); err == nil {
			chat.CurQuery = &q
		}
	}

	return chat, nil
}

// Save persists the chat. A chat without an id is assigned one. The header
// is upserted and only the history tail not yet durably recorded is written,
// one sequenced row per entry, all in one transaction. After the durable
// write the cache entry is refreshed; a cache failure at that point is
// logged, not returned.
func (s *Store) Save(ctx context.Context, chat *types.Chat) (string, error) {
	now := time.Now().UTC()
	chat.UpdatedAt = now
	if chat.ID == "" {
		chat.ID = uuid.NewString()
		chat.Ts = now
	}
	if chat.Ts.IsZero() {
		chat.Ts = now
	}

	// Seq assignments are collected here and applied to chat.History only
	// after the transaction commits. A rolled-back attempt must leave the
	// tail marked unwritten (Seq==0) so a retried save re-attempts it.
	type seqAssignment struct {
		idx int
		seq int64
	}
	var assigned []seqAssignment
	var lastSeq int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assigned = assigned[:0]

		query := ""
		if chat.CurQuery != nil {
			data, err := json.Marshal(chat.CurQuery)
			if err != nil {
				return fmt.Errorf("marshal query: %w", err)
			}
			query = string(data)
		}

		row := ChatRow{
			ID:        chat.ID,
			UserID:    chat.UserID,
			Title:     chat.Title,
			Model:     chat.Model,
			Pending:   chat.Pending,
			Query:     query,
			LastSeq:   chat.LastSeq,
			Ts:        chat.Ts,
			UpdatedAt: chat.UpdatedAt,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert chat: %w", err)
		}

		// The delta is everything beyond the highest durably-recorded
		// sequence number, so a retried save re-attempts only the
		// unwritten tail.
		var dbMax int64
		err := tx.Model(&ChatMessageRow{}).
			Where("chat_id = ?", chat.ID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&dbMax).Error
		if err != nil {
			return fmt.Errorf("max seq: %w", err)
		}

		seq := dbMax
		for i := range chat.History {
			if chat.History[i].Seq != 0 {
				continue
			}
			seq++
			msg := ChatMessageRow{
				ChatID:  chat.ID,
				Seq:     seq,
				Role:    chat.History[i].Role,
				Content: chat.History[i].Content,
				Ts:      chat.History[i].Ts,
			}
			if err := tx.Create(&msg).Error; err != nil {
				return fmt.Errorf("insert message seq %d: %w", seq, err)
			}
			assigned = append(assigned, seqAssignment{idx: i, seq: seq})
		}

		lastSeq = seq
		if err := tx.Model(&ChatRow{}).Where("id = ?", chat.ID).
			Update("last_seq", seq).Error; err != nil {
			return fmt.Errorf("update last_seq: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store: save chat %s: %w", chat.ID, err)
	}

	for _, a := range assigned {
		chat.History[a.idx].Seq = a.seq
	}
	chat.LastSeq = lastSeq

	if err := s.writeCache(ctx, chat); err != nil {
		logging.Warn().Err(err).Str("chatId", chat.ID).Msg("cache refresh after save failed")
	}

	return chat.ID, nil
}

// Exists reports whether a chat exists in either tier.
func (s *Store) Exists(ctx context.Context, id string) bool {
	if ok, err := s.cache.Exists(ctx, chatKey(id)); err == nil && ok {
		return true
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&ChatRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false
	}
	return count > 0
}

// Title returns the chat's durable title, nil when none is set.
func (s *Store) Title(ctx context.Context, id string) (*string, error) {
	var row ChatRow
	err := s.db.WithContext(ctx).Select("title").First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load title for %s: %w", id, err)
	}
	return row.Title, nil
}

// UpdateTitle sets the chat title in the durable store and refreshes the
// cached copy if one is present.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	err := s.db.WithContext(ctx).Model(&ChatRow{}).Where("id = ?", id).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("store: update title for %s: %w", id, err)
	}

	data, err := s.cache.Get(ctx, chatKey(id))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			logging.Warn().Err(err).Str("chatId", id).Msg("cache read during title update failed")
		}
		return nil
	}

	var chat types.Chat
	if err := json.Unmarshal([]byte(data), &chat); err != nil {
		return nil
	}
	chat.Title = &title
	if err := s.writeCache(ctx, &chat); err != nil {
		logging.Warn().Err(err).Str("chatId", id).Msg("cache refresh during title update failed")
	}
	return nil
}

func (s *Store) writeCache(ctx context.Context, chat *types.Chat) error {
	data, err := json.Marshal(chat)
	if err != nil {
		return err
	}
	return s.cache.SetEx(ctx, chatKey(chat.ID), string(data), s.ttl)
}
