// Package assistant talks to the coding assistant on behalf of chat
// sessions, either by running the claude CLI or through the Anthropic API.
package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/ccbridge/ccbridge/internal/config"
)

// Turn is one prompt and its reply.
type Turn struct {
	Prompt string    `json:"prompt"`
	Reply  string    `json:"reply"`
	At     time.Time `json:"at"`
}

// Conversation is the persisted state of one chat session.
type Conversation struct {
	Backend string `json:"backend"`
	// ResumeID continues the conversation on the CLI backend (claude --resume).
	ResumeID  string    `json:"resume_id,omitempty"`
	Turns     []Turn    `json:"turns"`
	CostUSD   float64   `json:"cost_usd,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Request asks the assistant one question within a conversation.
type Request struct {
	SessionID    string
	Prompt       string
	Conversation Conversation
}

// Reply is the assistant's answer.
type Reply struct {
	Text     string
	ResumeID string
	CostUSD  float64
	Duration time.Duration
}

// Backend answers prompts. onUpdate, when non-nil, receives progress text
// while the answer is produced.
type Backend interface {
	Name() string
	Ask(ctx context.Context, req Request, onUpdate func(string)) (Reply, error)
}

// NewBackend builds the backend selected by cfg.Backend ("cli" or "api").
func NewBackend(cfg config.AssistantConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "cli":
		return NewCLIBackend(CLIOptions{
			Path:      cfg.CLIPath,
			WorkDir:   cfg.WorkDir,
			ExtraArgs: cfg.ExtraArgs,
			Timeout:   cfg.Timeout,
		}), nil
	case "api":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("assistant backend %q needs an API key (assistant.api_key or ANTHROPIC_API_KEY)", cfg.Backend)
		}
		return NewAPIBackend(APIOptions{
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			HistoryTurns: cfg.HistoryTurns,
			SystemPrompt: cfg.SystemPrompt,
		}), nil
	default:
		return nil, fmt.Errorf("unknown assistant backend %q (want cli or api)", cfg.Backend)
	}
}
