// Package ws implements the WebSocket chat endpoint: the per-connection
// session state machine and the handler that feeds it.
package ws

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/xfrllc/frank/internal/agent"
	"github.com/xfrllc/frank/internal/event"
	"github.com/xfrllc/frank/internal/protocol"
	"github.com/xfrllc/frank/internal/store"
	"github.com/xfrllc/frank/pkg/types"
)

// ErrDenied signals that the session tried to bind a chat it does not own.
// The handler terminates the connection on it.
var ErrDenied = errors.New("access denied")

// State is the session lifecycle position.
type State int

const (
	// StateUninitialized is the state before the first initialize or
	// new_chat event. Only those two events are accepted.
	StateUninitialized State = iota
	// StateReady accepts any client event.
	StateReady
	// StateGenerating is the in-turn state; new work is rejected as busy.
	StateGenerating
	// StateDenied is terminal after an ownership violation.
	StateDenied
)

// TextStream delivers generation fragments. Recv returns io.EOF at the end
// of the stream, after which Result holds the full text.
type TextStream interface {
	Recv() (string, error)
	Result() string
	Close()
}

// Generator starts generation streams. Satisfied by agent.Agent via
// agentGenerator.
type Generator interface {
	Stream(ctx context.Context, prompt string, history []types.ChatEntry, modelID string) (TextStream, error)
}

// ChatStore is the persistence surface the machine needs.
type ChatStore interface {
	Load(ctx context.Context, id string) (*types.Chat, error)
	Save(ctx context.Context, chat *types.Chat) (string, error)
}

// TitleDispatcher kicks off background title generation.
type TitleDispatcher interface {
	Dispatch(chat *types.Chat)
}

type agentGenerator struct {
	agent *agent.Agent
}

func (g agentGenerator) Stream(ctx context.Context, prompt string, history []types.ChatEntry, modelID string) (TextStream, error) {
	return g.agent.Stream(ctx, prompt, history, modelID)
}

// Machine is the per-connection session state machine. It is driven by a
// single goroutine (the connection read loop) and is not safe for concurrent
// use, except ChatID which title forwarding reads from another goroutine.
type Machine struct {
	userID     string
	store      ChatStore
	gen        Generator
	catalog    *agent.Catalog
	titles     TitleDispatcher
	bus        *event.Bus
	out        Sender
	maxHistory int
	log        zerolog.Logger

	state State
	chat  *types.Chat

	boundID    atomic.Value
	notedTitle atomic.Value
}

// NewMachine creates a session machine for an authenticated connection.
func NewMachine(userID string, st ChatStore, gen Generator, catalog *agent.Catalog, titles TitleDispatcher, bus *event.Bus, out Sender, maxHistory int, log zerolog.Logger) *Machine {
	return &Machine{
		userID:     userID,
		store:      st,
		gen:        gen,
		catalog:    catalog,
		titles:     titles,
		bus:        bus,
		out:        out,
		maxHistory: maxHistory,
		log:        log,
		state:      StateUninitialized,
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// ChatID returns the bound chat id, or empty when no chat is bound. Safe to
// call from other goroutines.
func (m *Machine) ChatID() string {
	if id, ok := m.boundID.Load().(string); ok {
		return id
	}
	return ""
}

// NoteTitle records a title generated for the bound chat. Called from the
// bus subscriber's goroutine; the next turn folds it into the session so the
// side-task is not dispatched again and a later save cannot clear the title.
func (m *Machine) NoteTitle(chatID, title string) {
	if chatID != "" && title != "" && chatID == m.ChatID() {
		m.notedTitle.Store(title)
	}
}

func (m *Machine) publish(ev event.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

func (m *Machine) sendError(code, detail string) {
	if err := m.out.Send(&protocol.ErrorEvent{Code: code, Detail: detail}); err != nil {
		m.log.Warn().Err(err).Msg("failed to send error event")
	}
}

// HandleInitialize binds the session to a chat (or to none) and acks with
// the model catalog. An unknown chat id acks with a null chatId rather than
// erroring, so stale client state self-heals. Binding a chat the user does
// not own is terminal.
func (m *Machine) HandleInitialize(ctx context.Context, ev *protocol.Initialize) error {
	if m.state == StateDenied {
		return ErrDenied
	}
	if m.state == StateGenerating {
		m.sendError(protocol.CodeBusy, "generation in progress")
		return nil
	}

	var chat *types.Chat
	if ev.ChatID != nil {
		loaded, err := m.store.Load(ctx, *ev.ChatID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// fall through with no chat bound
		case err != nil:
			m.sendError(protocol.CodeStoreError, "failed to load chat")
			return nil
		case loaded.UserID != m.userID:
			m.sendError(protocol.CodeAccessDenied, "chat belongs to another user")
			m.state = StateDenied
			return ErrDenied
		default:
			chat = loaded
		}
	}

	m.chat = chat
	m.state = StateReady
	m.notedTitle.Store("")
	if chat != nil {
		m.boundID.Store(chat.ID)
	} else {
		m.boundID.Store("")
	}

	ack := &protocol.InitializeAck{Models: m.catalog.Models()}
	if chat != nil {
		ack.ChatID = &chat.ID
	}
	if err := m.out.Send(ack); err != nil {
		return err
	}

	// A chat left pending with an unanswered query was interrupted
	// mid-turn; pick the turn back up on this connection.
	if chat != nil && chat.Pending && chat.CurQuery != nil && chat.CurQuery.Result == nil {
		m.runTurn(ctx, chat.CurQuery.Prompt, chat.CurQuery.Model)
	}

	return nil
}

// HandleNewChat creates a chat seeded with the first message and acks its
// id. The chat is persisted pending; the turn runs when the client
// initializes on the new id, so a page navigation between ack and
// initialize loses nothing.
func (m *Machine) HandleNewChat(ctx context.Context, ev *protocol.NewChat) error {
	if m.state == StateDenied {
		return ErrDenied
	}
	if m.state == StateGenerating {
		m.sendError(protocol.CodeBusy, "generation in progress")
		return nil
	}

	modelID, err := m.catalog.Resolve(deref(ev.Model), "")
	if err != nil {
		m.sendError(protocol.CodeAgentError, err.Error())
		return nil
	}

	now := time.Now().UTC()
	chat := &types.Chat{
		UserID:  m.userID,
		Model:   modelID,
		Pending: true,
		CurQuery: &types.AgentQuery{
			Prompt: ev.Message,
			Model:  modelID,
			Ts:     now,
		},
		Ts: now,
	}

	id, err := m.store.Save(ctx, chat)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to persist new chat")
		m.sendError(protocol.CodeStoreError, "failed to create chat")
		return nil
	}

	m.publish(event.Event{
		Type: event.ChatCreated,
		Data: event.ChatData{ChatID: id, UserID: m.userID},
	})

	return m.out.Send(&protocol.NewChatAck{ChatID: id})
}

// HandleSend runs one generation turn on the bound chat.
func (m *Machine) HandleSend(ctx context.Context, ev *protocol.Send) error {
	if m.state == StateDenied {
		return ErrDenied
	}
	if m.state == StateGenerating {
		m.sendError(protocol.CodeBusy, "generation in progress")
		return nil
	}
	if m.state != StateReady || m.chat == nil {
		m.sendError(protocol.CodeNoChat, "no chat bound to this session")
		return nil
	}
	if ev.ChatID != m.chat.ID {
		m.sendError(protocol.CodeNoChat, "chatId does not match the bound chat")
		return nil
	}

	modelID, err := m.catalog.Resolve(deref(ev.Model), m.chat.Model)
	if err != nil {
		m.sendError(protocol.CodeAgentError, err.Error())
		return nil
	}

	m.runTurn(ctx, ev.Message, modelID)
	return nil
}

// runTurn executes one generation turn: persist the pending query, stream
// fragments to the client, then record the completed exchange. A failure
// after the pending save leaves the chat resumable by a later initialize.
func (m *Machine) runTurn(ctx context.Context, prompt, modelID string) {
	chat := m.chat
	m.state = StateGenerating
	defer func() {
		if m.state == StateGenerating {
			m.state = StateReady
		}
	}()

	// Fold in a title the side-task produced since the last turn, so this
	// turn's save keeps it and the guard below sees it.
	if noted, ok := m.notedTitle.Load().(string); ok && noted != "" && !chat.HasTitle() {
		chat.Title = &noted
	}

	queryTs := time.Now().UTC()
	if chat.CurQuery != nil && chat.CurQuery.Result == nil && chat.CurQuery.Prompt == prompt {
		queryTs = chat.CurQuery.Ts
	} else {
		chat.CurQuery = &types.AgentQuery{Prompt: prompt, Model: modelID, Ts: queryTs}
	}
	chat.Model = modelID
	chat.Pending = true

	if _, err := m.store.Save(ctx, chat); err != nil {
		m.log.Error().Err(err).Str("chatId", chat.ID).Msg("failed to persist pending turn")
		m.sendError(protocol.CodeStoreError, "failed to persist turn")
		return
	}

	stream, err := m.gen.Stream(ctx, prompt, chat.History, modelID)
	if err != nil {
		m.log.Warn().Err(err).Str("chatId", chat.ID).Str("model", modelID).
			Msg("generation failed to start")
		m.sendError(protocol.CodeAgentError, "generation failed")
		return
	}
	defer stream.Close()

	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			m.log.Warn().Err(err).Str("chatId", chat.ID).Msg("generation stream failed")
			m.sendError(protocol.CodeAgentError, "generation failed")
			return
		}
		if err := m.out.Send(&protocol.Reply{Text: fragment}); err != nil {
			m.log.Warn().Err(err).Str("chatId", chat.ID).Msg("client write failed mid-stream")
			return
		}
	}

	// The done frame goes out before persistence so the client sees the
	// turn complete even if the save below fails.
	if err := m.out.Send(&protocol.Reply{Done: true}); err != nil {
		m.log.Warn().Err(err).Str("chatId", chat.ID).Msg("client write failed on done frame")
		return
	}

	result := stream.Result()
	now := time.Now().UTC()
	chat.Append(
		types.ChatEntry{Role: types.RoleUser, Content: prompt, Ts: queryTs},
		types.ChatEntry{Role: types.RoleAssistant, Content: result, Ts: now},
	)
	chat.TruncateHistory(m.maxHistory)
	chat.CurQuery.Result = &result
	chat.Pending = false

	if _, err := m.store.Save(ctx, chat); err != nil {
		m.log.Error().Err(err).Str("chatId", chat.ID).Msg("failed to persist completed turn")
		m.sendError(protocol.CodeStoreError, "failed to persist turn")
		return
	}

	m.publish(event.Event{
		Type: event.ChatUpdated,
		Data: event.ChatData{ChatID: chat.ID, UserID: chat.UserID},
	})

	if m.titles != nil && !chat.HasTitle() {
		m.titles.Dispatch(chat)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
