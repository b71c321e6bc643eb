package models

import "time"

// ItemContent is the payload of a tool item.
type ItemContent struct {
	// RawContent is the text summary shown during approval.
	RawContent string `json:"raw_content"`

	// Payload is the tool-specific content, opaque to the core.
	Payload map[string]any `json:"payload,omitempty"`
}

// ToolItem is one artifact produced by an operation, e.g. one tweet draft
// or one swap quote.
type ToolItem struct {
	// ID is the unique item identifier.
	ID string `json:"id"`

	// OperationID is the owning operation.
	OperationID string `json:"operation_id"`

	// SessionID is the owning session.
	SessionID string `json:"session_id"`

	// ContentType matches the owning operation's content type.
	ContentType string `json:"content_type"`

	// ScheduleID references the schedule the item belongs to, if any.
	ScheduleID string `json:"schedule_id,omitempty"`

	// State is the item lifecycle state. Items and their operation need
	// not share the same state at every instant.
	State OperationState `json:"state"`

	// Status is the item approval/execution status.
	Status OperationStatus `json:"status"`

	// Content is the item payload.
	Content ItemContent `json:"content"`

	// ScheduledTime is when the executor should realize the item.
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`

	// ExecutedTime is when execution succeeded.
	ExecutedTime *time.Time `json:"executed_time,omitempty"`

	// PostedTime is when the external side effect was confirmed.
	PostedTime *time.Time `json:"posted_time,omitempty"`

	// ClaimedAt is when the executor claimed the item.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// RetryCount is the number of failed execution attempts.
	RetryCount int `json:"retry_count"`

	// LastError describes the most recent execution failure.
	LastError string `json:"last_error,omitempty"`

	// APIResponse holds the tool response from successful execution.
	APIResponse map[string]any `json:"api_response,omitempty"`

	// CreatedAt is when the item was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the item was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal returns true once the item status is terminal. Terminal items
// are immutable except for last_error on replay-safe re-reporting.
func (i *ToolItem) IsTerminal() bool {
	return i.Status.IsTerminal()
}
