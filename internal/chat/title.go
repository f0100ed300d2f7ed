// Package chat holds chat-level side tasks that run outside the connection
// event loop. Title generation is fire-and-forget: it must never fail a
// user-visible turn.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xfrllc/frank/internal/event"
	"github.com/xfrllc/frank/internal/logging"
	"github.com/xfrllc/frank/pkg/types"
)

const titleSystemPrompt = `You are a helpful assistant that writes short chat titles.
Given the opening exchange of a conversation, reply with a concise title of
at most six words. Reply with the title only: no quotes, no punctuation at
the end, no explanation.`

const (
	maxTitleLength = 80
	titleTimeout   = 30 * time.Second
)

// Completer produces a single non-streamed completion. Satisfied by
// agent.Agent.
type Completer interface {
	Complete(ctx context.Context, modelID, system, user string) (string, error)
}

// TitleStore is the persistence surface the title task needs.
type TitleStore interface {
	// Title returns the chat's current durable title, nil when unset.
	Title(ctx context.Context, chatID string) (*string, error)
	UpdateTitle(ctx context.Context, chatID, title string) error
}

// TitleService generates titles for untitled chats from their opening
// exchange and announces results on the event bus.
type TitleService struct {
	store     TitleStore
	completer Completer
	bus       *event.Bus
	model     string
}

// NewTitleService creates a title service using the given model for
// completions.
func NewTitleService(store TitleStore, completer Completer, bus *event.Bus, model string) *TitleService {
	return &TitleService{store: store, completer: completer, bus: bus, model: model}
}

// Dispatch runs title generation in the background. Panics and errors are
// logged and absorbed; the caller's turn is never affected.
func (s *TitleService) Dispatch(chat *types.Chat) {
	snapshot := *chat
	snapshot.History = append([]types.ChatEntry(nil), chat.History...)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error().Interface("panic", r).Str("chatId", snapshot.ID).
					Msg("title generation panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		if err := s.Generate(ctx, &snapshot); err != nil {
			logging.Warn().Err(err).Str("chatId", snapshot.ID).Msg("title generation failed")
		}
	}()
}

// Generate produces and persists a title for the chat. Chats that already
// have a title or have no user message yet are skipped.
func (s *TitleService) Generate(ctx context.Context, chat *types.Chat) error {
	if chat.HasTitle() {
		return nil
	}

	// The caller's snapshot can be stale: a concurrent or earlier task may
	// have titled the chat already. The durable tier is authoritative.
	if existing, err := s.store.Title(ctx, chat.ID); err == nil && existing != nil && *existing != "" {
		return nil
	}

	userEntry := chat.FirstEntry(types.RoleUser)
	if userEntry == nil {
		return nil
	}

	prompt := "User: " + userEntry.Content
	if assistant := chat.FirstEntry(types.RoleAssistant); assistant != nil {
		prompt += "\nAssistant: " + assistant.Content
	}

	var title string
	op := func() error {
		out, err := s.completer.Complete(ctx, s.model, titleSystemPrompt, prompt)
		if err != nil {
			return err
		}
		title = cleanTitle(out)
		if title == "" {
			return backoff.Permanent(fmt.Errorf("empty title from model"))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("title completion: %w", err)
	}

	if err := s.store.UpdateTitle(ctx, chat.ID, title); err != nil {
		return err
	}

	s.bus.Publish(event.Event{
		Type: event.TitleUpdated,
		Data: event.TitleUpdatedData{ChatID: chat.ID, Title: title},
	})

	logging.Debug().Str("chatId", chat.ID).Str("title", title).Msg("chat title generated")
	return nil
}

// cleanTitle normalizes model output into a displayable title: first line
// only, surrounding quotes stripped, length capped.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)
	if len(title) > maxTitleLength {
		title = strings.TrimSpace(title[:maxTitleLength])
	}
	return title
}
