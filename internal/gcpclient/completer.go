package gcpclient

import (
	"context"
	"errors"
	"log/slog"
)

// generator is the two-string-prompt shape both GenAIAdapter and
// BYOLLMClient expose.
type generator interface {
	GenerateContent(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// PromptCompleter adapts a two-argument (systemPrompt, userPrompt) generator
// to the single-argument Complete(ctx, prompt) shape internal/agent and
// internal/memory consume, with an optional fallback generator tried when
// the primary errors. Vertex AI is the primary; OpenRouter/BYOLLM is the
// fallback (see cmd/server for the wiring).
type PromptCompleter struct {
	primary  generator
	fallback generator
	log      *slog.Logger
}

func NewPromptCompleter(primary, fallback generator, log *slog.Logger) *PromptCompleter {
	if log == nil {
		log = slog.Default()
	}
	return &PromptCompleter{primary: primary, fallback: fallback, log: log}
}

// Complete sends prompt as the user turn with no system prompt. Callers that
// need a system/user split should format both into prompt themselves; the
// agent and memory packages only ever need a single combined prompt.
func (c *PromptCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if c.primary == nil && c.fallback == nil {
		return "", errors.New("gcpclient.PromptCompleter: no generator configured")
	}

	if c.primary != nil {
		text, err := c.primary.GenerateContent(ctx, "", prompt)
		if err == nil {
			return text, nil
		}
		c.log.Warn("primary LLM generation failed, trying fallback", "error", err)
		if c.fallback == nil {
			return "", err
		}
	}

	return c.fallback.GenerateContent(ctx, "", prompt)
}
