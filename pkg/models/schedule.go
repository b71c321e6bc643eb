package models

import "time"

// ScheduleState is the lifecycle state of a schedule.
type ScheduleState string

const (
	// ScheduleStatePending indicates the schedule is initialized but not
	// yet activated.
	ScheduleStatePending ScheduleState = "pending"

	// ScheduleStateActive indicates the executor is realizing items.
	ScheduleStateActive ScheduleState = "active"

	// ScheduleStatePaused indicates execution is suspended.
	ScheduleStatePaused ScheduleState = "paused"

	// ScheduleStateCompleted indicates all items reached a terminal status.
	ScheduleStateCompleted ScheduleState = "completed"

	// ScheduleStateCancelled indicates the schedule was cancelled.
	ScheduleStateCancelled ScheduleState = "cancelled"

	// ScheduleStateError indicates the schedule failed.
	ScheduleStateError ScheduleState = "error"
)

// IsTerminal returns true for completed, cancelled, and error.
func (s ScheduleState) IsTerminal() bool {
	switch s {
	case ScheduleStateCompleted, ScheduleStateCancelled, ScheduleStateError:
		return true
	default:
		return false
	}
}

// ScheduleType selects how item execution times are derived.
type ScheduleType string

const (
	// ScheduleOneTime executes a single item at start_time.
	ScheduleOneTime ScheduleType = "one_time"

	// ScheduleMultiple spaces items evenly from start_time by interval.
	ScheduleMultiple ScheduleType = "multiple"

	// ScheduleRecurring derives times from a cron expression.
	ScheduleRecurring ScheduleType = "recurring"

	// ScheduleMonitoring fires on a tool-interpreted condition rather
	// than a wall-clock time, with an expiration deadline.
	ScheduleMonitoring ScheduleType = "monitoring"
)

// MonitorParams configures a monitoring schedule.
type MonitorParams struct {
	// CheckInterval is how often the condition is evaluated.
	CheckInterval time.Duration `json:"check_interval"`

	// Expiration is the deadline after which pending items fail.
	Expiration time.Time `json:"expiration_timestamp"`

	// Condition is the tool-interpreted predicate descriptor.
	Condition map[string]any `json:"condition,omitempty"`
}

// Schedule is the plan that maps a set of approved items to execution
// times or to a firing condition.
type Schedule struct {
	// ID is the unique schedule identifier.
	ID string `json:"id"`

	// OperationID is the owning operation.
	OperationID string `json:"operation_id"`

	// SessionID is the owning session.
	SessionID string `json:"session_id"`

	// ContentType matches the owning operation's content type.
	ContentType string `json:"content_type"`

	// State is the schedule lifecycle state.
	State ScheduleState `json:"state"`

	// Type selects the timing strategy.
	Type ScheduleType `json:"type"`

	// StartTime anchors one_time and multiple schedules.
	StartTime *time.Time `json:"start_time,omitempty"`

	// Interval spaces items of a multiple schedule.
	Interval time.Duration `json:"interval,omitempty"`

	// TotalItems is the planned item count for a multiple schedule.
	TotalItems int `json:"total_items,omitempty"`

	// CronSpec drives a recurring schedule.
	CronSpec string `json:"cron_spec,omitempty"`

	// Monitor configures a monitoring schedule.
	Monitor *MonitorParams `json:"monitor,omitempty"`

	// PendingItemIDs, ApprovedItemIDs, and RejectedItemIDs are the item
	// rosters. They are pairwise disjoint and together cover every item
	// the schedule owns.
	PendingItemIDs  []string `json:"pending_items,omitempty"`
	ApprovedItemIDs []string `json:"approved_items,omitempty"`
	RejectedItemIDs []string `json:"rejected_items,omitempty"`

	// CreatedAt is when the schedule was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the schedule was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
