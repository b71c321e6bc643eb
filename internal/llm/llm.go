// Package llm defines the completion contract the engine consumes and
// provides Anthropic and OpenAI backed implementations. The engine uses
// completions for two things: ordinary chat replies and strict-JSON
// classification/analysis calls.
package llm

import (
	"context"

	"github.com/rinlabs/rin/pkg/models"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    models.Role
	Content string
}

// Options tune a single completion call. Zero values fall back to the
// provider defaults.
type Options struct {
	// Model overrides the provider's default model.
	Model string

	// System is the system prompt, kept separate from the turn list.
	System string

	// MaxTokens caps the reply length.
	MaxTokens int

	// Temperature sets sampling temperature. Classification calls use 0.
	Temperature float64
}

// Provider produces completions. Implementations must not reorder
// concurrent calls and must honor ctx cancellation.
type Provider interface {
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}
