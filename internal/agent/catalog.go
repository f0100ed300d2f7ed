package agent

import (
	"fmt"

	"github.com/xfrllc/frank/pkg/types"
)

// ErrUnknownModel is returned when a requested model is not in the catalog.
// It maps to the configuration error surfaced to clients as agent_error.
var ErrUnknownModel = fmt.Errorf("unknown model")

// Catalog is the fixed set of selectable OpenRouter models.
type Catalog struct {
	models []types.ChatModel
	def    types.ChatModel
}

// NewCatalog builds the default model catalog. If defaultModel is non-empty
// and present in the catalog, it becomes the default instead of the built-in
// flagged one.
func NewCatalog(defaultModel string) *Catalog {
	models := []types.ChatModel{
		{ID: "google/gemini-2.5-flash", Label: "Gemini 2.5 Flash"},
		{ID: "openai/gpt-5", Label: "GPT-5"},
		{ID: "openai/gpt-5-mini", Label: "GPT-5 Mini"},
		{ID: "openai/gpt-5-nano", Label: "GPT-5 Nano"},
		{ID: "openai/gpt-4o", Label: "GPT-4o"},
		{ID: "anthropic/claude-sonnet-4", Label: "Claude Sonnet 4"},
		{ID: "x-ai/grok-4", Label: "Grok 4"},
		{ID: "meta-llama/llama-4-scout-17b-16e-instruct", Label: "Llama 4 Scout", IsDefault: true},
		{ID: "meta-llama/llama-3.1-8b-instruct:free", Label: "Llama 3.1 8B (free)"},
	}

	c := &Catalog{models: models}

	for i := range models {
		if models[i].ID == defaultModel {
			c.def = models[i]
		}
	}
	if c.def.ID == "" {
		for i := range models {
			if models[i].IsDefault {
				c.def = models[i]
				break
			}
		}
	}
	if c.def.ID == "" {
		c.def = models[0]
	}

	return c
}

// Models returns all catalog entries with IsDefault reflecting the
// effective default.
func (c *Catalog) Models() []types.ChatModel {
	out := make([]types.ChatModel, len(c.models))
	for i, m := range c.models {
		m.IsDefault = m.ID == c.def.ID
		out[i] = m
	}
	return out
}

// Default returns the default model.
func (c *Catalog) Default() types.ChatModel {
	return c.def
}

// Contains reports whether the catalog includes the given model id.
func (c *Catalog) Contains(id string) bool {
	for _, m := range c.models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Resolve picks the effective model for a turn: an explicit request wins,
// then the chat's stored model, then the process default. An explicit or
// stored model not present in the catalog fails fast with ErrUnknownModel
// so no backend call is wasted.
func (c *Catalog) Resolve(explicit, stored string) (string, error) {
	switch {
	case explicit != "":
		if !c.Contains(explicit) {
			return "", fmt.Errorf("%w: %s", ErrUnknownModel, explicit)
		}
		return explicit, nil
	case stored != "":
		if !c.Contains(stored) {
			return "", fmt.Errorf("%w: %s", ErrUnknownModel, stored)
		}
		return stored, nil
	default:
		return c.def.ID, nil
	}
}
