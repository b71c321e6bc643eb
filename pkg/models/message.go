package models

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// InteractionType classifies how a message entered the conversation.
type InteractionType string

const (
	// InteractionChat is an ordinary chat exchange.
	InteractionChat InteractionType = "chat"

	// InteractionToolFlow is a message inside a tool operation flow.
	InteractionToolFlow InteractionType = "tool_flow"

	// InteractionScheduled is output produced by the schedule executor.
	InteractionScheduled InteractionType = "scheduled"
)

// Message is one entry of a session's append-only conversation log.
type Message struct {
	// ID is the unique message identifier.
	ID string `json:"id"`

	// SessionID is the owning session.
	SessionID string `json:"session_id"`

	// Role is the message author.
	Role Role `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Timestamp is the UTC creation time.
	Timestamp time.Time `json:"timestamp"`

	// InteractionType classifies the message.
	InteractionType InteractionType `json:"interaction_type"`

	// Metadata holds interaction context such as tool type, step, and
	// operation status for tool-flow messages.
	Metadata map[string]any `json:"metadata,omitempty"`
}
