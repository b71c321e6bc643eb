// Package models defines the shared data types for the Rin tool-operation
// lifecycle engine: sessions, messages, tool operations, tool items, and
// schedules. Components exchange stable string ids rather than object
// handles; the persistence store is the single source of truth.
package models

import "time"

// OperationState is the lifecycle state shared by operations and items.
type OperationState string

const (
	// StateInactive is the initial state before collection begins.
	StateInactive OperationState = "inactive"

	// StateCollecting indicates the tool body is generating items.
	StateCollecting OperationState = "collecting"

	// StateApproving indicates items await user approval.
	StateApproving OperationState = "approving"

	// StateExecuting indicates approved work is being carried out.
	StateExecuting OperationState = "executing"

	// StateCompleted is the terminal success state.
	StateCompleted OperationState = "completed"

	// StateCancelled is the terminal state for user cancellation.
	StateCancelled OperationState = "cancelled"

	// StateError is the terminal failure state.
	StateError OperationState = "error"
)

// IsTerminal returns true for completed, cancelled, and error.
func (s OperationState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateError:
		return true
	default:
		return false
	}
}

// OperationStatus is the approval/execution status carried alongside state.
type OperationStatus string

const (
	// StatusPending indicates no approval decision has been made yet.
	StatusPending OperationStatus = "pending"

	// StatusApproved indicates the user approved the work.
	StatusApproved OperationStatus = "approved"

	// StatusRejected indicates the user rejected or cancelled the work.
	StatusRejected OperationStatus = "rejected"

	// StatusScheduled indicates an item is queued on an active schedule.
	StatusScheduled OperationStatus = "scheduled"

	// StatusClaimed marks an item reserved by the executor. Claims older
	// than the configured claim timeout are reclaimed to scheduled.
	StatusClaimed OperationStatus = "executing-claimed"

	// StatusExecuted indicates the work was carried out successfully.
	StatusExecuted OperationStatus = "executed"

	// StatusFailed indicates the work failed permanently.
	StatusFailed OperationStatus = "failed"
)

// IsTerminal returns true for executed, rejected, and failed.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// StateHistoryEntry records one operation state transition.
type StateHistoryEntry struct {
	// State is the state entered by the transition.
	State OperationState `json:"state"`

	// Step is the human-readable substep active at the transition.
	Step string `json:"step"`

	// Timestamp is the UTC time of the transition.
	Timestamp time.Time `json:"timestamp"`
}

// OperationInput is the input envelope captured when an operation starts.
type OperationInput struct {
	// Command is the original user command text.
	Command string `json:"command"`

	// Params holds the tool-parsed parameters of the command.
	Params map[string]any `json:"params,omitempty"`

	// ScheduleID references the schedule planned for this operation.
	ScheduleID string `json:"schedule_id,omitempty"`
}

// OperationOutput is the rolling output envelope of an operation.
type OperationOutput struct {
	// PendingItemIDs lists items with no approval decision yet.
	PendingItemIDs []string `json:"pending_item_ids,omitempty"`

	// ApprovedItemIDs lists items the user approved.
	ApprovedItemIDs []string `json:"approved_item_ids,omitempty"`

	// RejectedItemIDs lists items the user rejected.
	RejectedItemIDs []string `json:"rejected_item_ids,omitempty"`

	// APIResponse holds the final tool response for synchronous flows.
	APIResponse map[string]any `json:"api_response,omitempty"`

	// Status is the operation's aggregate status.
	Status OperationStatus `json:"status,omitempty"`
}

// RetryPolicy is the data-driven backoff policy the executor consults when
// an item execution fails.
type RetryPolicy struct {
	// MaxRetries is the number of retry attempts before permanent failure.
	MaxRetries int `json:"max_retries"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `json:"base_delay"`

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `json:"max_delay"`
}

// Delay returns the backoff delay for the given retry count, doubling from
// BaseDelay and capped at MaxDelay.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// OperationMetadata holds bookkeeping attached to an operation.
type OperationMetadata struct {
	// History is the append-only state transition log.
	History []StateHistoryEntry `json:"history,omitempty"`

	// RequiresApproval mirrors the registry row for this tool.
	RequiresApproval bool `json:"requires_approval"`

	// RequiresScheduling mirrors the registry row for this tool.
	RequiresScheduling bool `json:"requires_scheduling"`

	// EndReason explains why the operation reached a terminal state.
	EndReason string `json:"end_reason,omitempty"`

	// RegenerationRounds counts completed approving→collecting cycles.
	RegenerationRounds int `json:"regeneration_rounds,omitempty"`

	// MalformedReplies counts consecutive unparseable classifier replies.
	MalformedReplies int `json:"malformed_replies,omitempty"`

	// Retry overrides the global retry policy for this operation.
	Retry *RetryPolicy `json:"retry,omitempty"`

	// Extra holds arbitrary tool-specific metadata.
	Extra map[string]any `json:"extra,omitempty"`
}

// ToolOperation is one user intent being fulfilled by one tool invocation,
// possibly spanning multiple turns.
type ToolOperation struct {
	// ID is the unique operation identifier.
	ID string `json:"id"`

	// SessionID is the owning conversation session.
	SessionID string `json:"session_id"`

	// ToolType names the registered tool driving this operation.
	ToolType string `json:"tool_type"`

	// ContentType names the kind of artifact the tool produces.
	ContentType string `json:"content_type"`

	// State is the current lifecycle state.
	State OperationState `json:"state"`

	// Step is a human-readable substep for telemetry.
	Step string `json:"step"`

	// Input is the input envelope.
	Input OperationInput `json:"input"`

	// Output is the rolling output envelope.
	Output OperationOutput `json:"output"`

	// Metadata is operation bookkeeping.
	Metadata OperationMetadata `json:"metadata"`

	// CreatedAt is when the operation was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the operation was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
