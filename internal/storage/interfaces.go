// Package storage defines the persistence contract for the lifecycle
// engine and provides in-memory and SQLite implementations. All state
// transitions coordinate through guarded (expected-state) updates here.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rinlabs/rin/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on duplicate primary keys.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when a guarded update finds the record in
	// an unexpected state.
	ErrConflict = errors.New("state conflict")

	// ErrUnavailable wraps driver failures; callers must not advance
	// state when they see it.
	ErrUnavailable = errors.New("storage unavailable")
)

// ItemFilter narrows item queries. Zero fields match everything.
type ItemFilter struct {
	OperationID string
	ScheduleID  string
	State       models.OperationState
	Status      models.OperationStatus
}

// SessionStore persists sessions and their message logs.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error

	AppendMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns the session log ordered by timestamp.
	// limit <= 0 returns everything.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// OperationStore persists tool operations.
type OperationStore interface {
	CreateOperation(ctx context.Context, op *models.ToolOperation) error
	GetOperation(ctx context.Context, id string) (*models.ToolOperation, error)
	// GetActiveOperation returns the session's single non-terminal
	// operation, or ErrNotFound.
	GetActiveOperation(ctx context.Context, sessionID string) (*models.ToolOperation, error)
	UpdateOperation(ctx context.Context, op *models.ToolOperation) error
	// UpdateOperationGuarded writes op only if the stored state equals
	// expect, otherwise ErrConflict.
	UpdateOperationGuarded(ctx context.Context, op *models.ToolOperation, expect models.OperationState) error
}

// ItemStore persists tool items.
type ItemStore interface {
	InsertItems(ctx context.Context, items []*models.ToolItem) error
	GetItem(ctx context.Context, id string) (*models.ToolItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]*models.ToolItem, error)
	UpdateItem(ctx context.Context, item *models.ToolItem) error
	// UpdateItemsState sets state and status on every listed item.
	UpdateItemsState(ctx context.Context, ids []string, state models.OperationState, status models.OperationStatus) error

	// ListDueItems returns items with status scheduled, scheduled_time
	// at or before now, and an active owning schedule, ordered by
	// scheduled_time then item id.
	ListDueItems(ctx context.Context, now time.Time) ([]*models.ToolItem, error)
	// ClaimItem reserves a due item for execution by flipping its status
	// from scheduled to claimed. Returns false if another worker won.
	ClaimItem(ctx context.Context, id string, now time.Time) (bool, error)
	// ReclaimStaleClaims returns claims older than cutoff to scheduled
	// and reports how many were reclaimed.
	ReclaimStaleClaims(ctx context.Context, cutoff time.Time) (int, error)
}

// ScheduleStore persists schedules.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, schedule *models.Schedule) error
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *models.Schedule) error
	ListActiveMonitors(ctx context.Context) ([]*models.Schedule, error)
	// PurgeSchedules deletes a session's schedules and their items and
	// reports how many schedules were removed.
	PurgeSchedules(ctx context.Context, sessionID string) (int, error)
}

// Store is the full persistence contract.
type Store interface {
	SessionStore
	OperationStore
	ItemStore
	ScheduleStore

	Close() error
}
