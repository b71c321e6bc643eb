package models

import "time"

// AgentState is the session-level routing state.
type AgentState string

const (
	// AgentStateNormalChat routes messages to the ordinary chat path.
	AgentStateNormalChat AgentState = "normal_chat"

	// AgentStateToolOperation routes messages to the tool orchestrator.
	AgentStateToolOperation AgentState = "tool_operation"
)

// Session identifies a conversational thread. A session owns an append-only
// message log and at most one active tool operation at any moment.
type Session struct {
	// ID is the unique session identifier.
	ID string `json:"id"`

	// AgentState is the current routing state.
	AgentState AgentState `json:"agent_state"`

	// ActiveToolType is the tool bound while in tool_operation state.
	ActiveToolType string `json:"active_tool_type,omitempty"`

	// Metadata holds arbitrary session metadata.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the session was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
