// Package agent wraps the OpenRouter generation backend behind a streaming
// adapter. Model clients are pooled in an explicit, injected Agent owned by
// process-wide state; there is no implicit first-call memoization.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/xfrllc/frank/pkg/types"
)

const systemPrompt = `Your name is Frank. You are a frank assistant, but you are not mean.
Do not announce yourself as Frank unless asked. Do not reveal your underlying
models, just say you are powered by Frank, but only if asked directly.

No compliments, apologies, or generally being a neurotic sycophant. If the
user is on the wrong course with something, say so briefly and nicely, then
continue to be helpful. Above all else, tell it straight.`

// Config holds backend endpoint configuration.
type Config struct {
	APIKey  string
	BaseURL string
	// MaxTokens caps each completion. Zero means the backend default.
	MaxTokens int
}

// Agent is the generation backend adapter. It is stateless per call; the
// only cross-call state is the pooled per-model client, which is a
// connection-reuse detail.
type Agent struct {
	cfg     Config
	catalog *Catalog

	mu   sync.Mutex
	pool map[string]model.ToolCallingChatModel
}

// New creates the backend adapter.
func New(cfg Config, catalog *Catalog) *Agent {
	return &Agent{
		cfg:     cfg,
		catalog: catalog,
		pool:    make(map[string]model.ToolCallingChatModel),
	}
}

// Catalog returns the model catalog.
func (a *Agent) Catalog() *Catalog {
	return a.catalog
}

// chatModel returns the pooled client for a model id, creating it on first use.
func (a *Agent) chatModel(ctx context.Context, modelID string) (model.ToolCallingChatModel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if m, ok := a.pool[modelID]; ok {
		return m, nil
	}

	cfg := &openai.ChatModelConfig{
		APIKey:  a.cfg.APIKey,
		Model:   modelID,
		BaseURL: a.cfg.BaseURL,
	}
	if a.cfg.MaxTokens > 0 {
		cfg.MaxTokens = &a.cfg.MaxTokens
	}

	m, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create model client for %s: %w", modelID, err)
	}

	a.pool[modelID] = m
	return m, nil
}

// Stream starts a generation for prompt against the given history and model.
// Fragments are pulled from the returned stream; the caller must Close it.
// An unknown model id fails before any backend call.
func (a *Agent) Stream(ctx context.Context, prompt string, history []types.ChatEntry, modelID string) (*Stream, error) {
	if !a.catalog.Contains(modelID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	cm, err := a.chatModel(ctx, modelID)
	if err != nil {
		return nil, err
	}

	msgs := buildMessages(prompt, history)
	reader, err := cm.Stream(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("start stream: %w", err)
	}

	return newStream(reader), nil
}

// Complete runs a single non-streaming completion. Used by side-tasks such
// as title generation.
func (a *Agent) Complete(ctx context.Context, modelID, system, user string) (string, error) {
	if !a.catalog.Contains(modelID) {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	cm, err := a.chatModel(ctx, modelID)
	if err != nil {
		return "", err
	}

	msgs := []*schema.Message{
		{Role: schema.System, Content: system},
		{Role: schema.User, Content: user},
	}

	out, err := cm.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return out.Content, nil
}

// buildMessages converts the system prompt, conversation history, and the
// new user prompt into backend messages.
func buildMessages(prompt string, history []types.ChatEntry) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, &schema.Message{Role: schema.System, Content: systemPrompt})

	for _, e := range history {
		role := schema.Assistant
		if e.Role == types.RoleUser {
			role = schema.User
		}
		msgs = append(msgs, &schema.Message{Role: role, Content: e.Content})
	}

	msgs = append(msgs, &schema.Message{Role: schema.User, Content: prompt})
	return msgs
}
