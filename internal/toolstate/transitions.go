// Package toolstate owns the operation-level state machine: it creates,
// updates, and ends tool operations and their items, and enforces the
// legal transition table.
package toolstate

import (
	"errors"

	"github.com/rinlabs/rin/pkg/models"
)

var (
	// ErrIllegalTransition is returned for transitions outside the table.
	// The operation is left unchanged.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrConflictingOperation is returned when a session already has a
	// non-terminal operation.
	ErrConflictingOperation = errors.New("conflicting operation")
)

// transitions is the legal operation transition table. approving →
// collecting is the regeneration loop.
var transitions = map[models.OperationState][]models.OperationState{
	models.StateInactive:   {models.StateCollecting},
	models.StateCollecting: {models.StateApproving, models.StateError, models.StateCancelled},
	models.StateApproving:  {models.StateExecuting, models.StateCollecting, models.StateError, models.StateCancelled},
	models.StateExecuting:  {models.StateCompleted, models.StateCancelled, models.StateError},
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to models.OperationState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StepForState maps a state to its telemetry substep name.
func StepForState(state models.OperationState) string {
	switch state {
	case models.StateInactive:
		return "analyzing"
	case models.StateCollecting:
		return "generating"
	case models.StateApproving:
		return "awaiting_approval"
	case models.StateExecuting:
		return "executing"
	case models.StateCompleted:
		return "completed"
	case models.StateCancelled:
		return "cancelled"
	case models.StateError:
		return "error"
	default:
		return string(state)
	}
}

// FinalState maps an end status to the terminal operation state. The
// second return is false for statuses with no defined terminal mapping;
// those end in error.
func FinalState(status models.OperationStatus) (models.OperationState, bool) {
	switch status {
	case models.StatusApproved, models.StatusExecuted:
		return models.StateCompleted, true
	case models.StatusRejected:
		return models.StateCancelled, true
	case models.StatusFailed:
		return models.StateError, true
	default:
		return models.StateError, false
	}
}

// AggregateStatus derives an operation status from its items: any item in
// a non-terminal work state is pending; uniform terminal outcomes map to
// executed, rejected, or failed; mixed outcomes stay pending until the
// closing pass resolves them.
func AggregateStatus(items []*models.ToolItem) models.OperationStatus {
	if len(items) == 0 {
		return models.StatusPending
	}
	completed, cancelled, failed := 0, 0, 0
	for _, item := range items {
		switch item.State {
		case models.StateCompleted:
			completed++
		case models.StateCancelled:
			cancelled++
		case models.StateError:
			failed++
		default:
			return models.StatusPending
		}
	}
	switch {
	case completed == len(items):
		return models.StatusExecuted
	case cancelled == len(items):
		return models.StatusRejected
	case failed == len(items):
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}

// ClosingStatus resolves the final status once every item is terminal,
// including mixed outcomes: any executed item counts the run as executed,
// otherwise any error fails it, otherwise it was rejected.
func ClosingStatus(items []*models.ToolItem) models.OperationStatus {
	if status := AggregateStatus(items); status != models.StatusPending {
		return status
	}
	executed, failed := false, false
	for _, item := range items {
		switch item.State {
		case models.StateCompleted:
			executed = true
		case models.StateError:
			failed = true
		}
	}
	if executed {
		return models.StatusExecuted
	}
	if failed {
		return models.StatusFailed
	}
	return models.StatusRejected
}

// syncStateForStatus maps an operation status to the item state it
// propagates during sync.
func syncStateForStatus(status models.OperationStatus) (models.OperationState, bool) {
	switch status {
	case models.StatusApproved, models.StatusScheduled:
		return models.StateExecuting, true
	case models.StatusExecuted:
		return models.StateCompleted, true
	case models.StatusRejected:
		return models.StateCancelled, true
	case models.StatusFailed:
		return models.StateError, true
	default:
		return "", false
	}
}
