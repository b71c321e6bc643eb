package toolstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/pkg/models"
)

// Manager owns operation lifecycle writes. All transitions flow through it
// so the history log and the transition table stay authoritative.
type Manager struct {
	store  storage.Store
	logger *slog.Logger
}

// NewManager creates a Manager over the given store.
func NewManager(store storage.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "toolstate")
	}
	return &Manager{store: store, logger: logger}
}

// StartOperation creates a new operation for the session in collecting
// state. It fails with ErrConflictingOperation if the session already has
// a non-terminal operation.
func (m *Manager) StartOperation(ctx context.Context, sessionID string, def OperationSpec) (*models.ToolOperation, error) {
	existing, err := m.store.GetActiveOperation(ctx, sessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check active operation: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("session %s already runs %s operation %s: %w",
			sessionID, existing.ToolType, existing.ID, ErrConflictingOperation)
	}

	now := time.Now().UTC()
	op := &models.ToolOperation{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ToolType:    def.ToolType,
		ContentType: def.ContentType,
		State:       models.StateCollecting,
		Step:        StepForState(models.StateCollecting),
		Input:       def.Input,
		Output:      models.OperationOutput{Status: models.StatusPending},
		Metadata: models.OperationMetadata{
			History: []models.StateHistoryEntry{
				{State: models.StateInactive, Step: StepForState(models.StateInactive), Timestamp: now},
				{State: models.StateCollecting, Step: StepForState(models.StateCollecting), Timestamp: now},
			},
			RequiresApproval:   def.RequiresApproval,
			RequiresScheduling: def.RequiresScheduling,
			Retry:              def.Retry,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("create operation: %w", err)
	}
	m.logger.Info("operation started", "operation_id", op.ID, "session_id", sessionID, "tool_type", def.ToolType)
	return op, nil
}

// OperationSpec describes a new operation.
type OperationSpec struct {
	ToolType           string
	ContentType        string
	Input              models.OperationInput
	RequiresApproval   bool
	RequiresScheduling bool
	Retry              *models.RetryPolicy
}

// Update describes an operation update. Zero fields are left unchanged.
type Update struct {
	// State requests a transition; it must be legal from the current
	// state.
	State models.OperationState

	// Step overrides the derived step name.
	Step string

	// Output fields are merged into the output envelope; nil slices and
	// maps keep the stored value.
	PendingItemIDs  []string
	ApprovedItemIDs []string
	RejectedItemIDs []string
	APIResponse     map[string]any
	Status          models.OperationStatus

	// ScheduleID is recorded in the input envelope once planned.
	ScheduleID string

	// Metadata is merged into the metadata extra map.
	Metadata map[string]any

	// RegenerationRounds and MalformedReplies set the approval-loop
	// counters when non-nil.
	RegenerationRounds *int
	MalformedReplies   *int
}

// UpdateOperation applies update, validating any requested transition. It
// returns the refreshed operation. Illegal transitions leave the stored
// operation untouched and return ErrIllegalTransition.
func (m *Manager) UpdateOperation(ctx context.Context, operationID string, update Update) (*models.ToolOperation, error) {
	op, err := m.store.GetOperation(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	expect := op.State

	if update.State != "" && update.State != op.State {
		if !CanTransition(op.State, update.State) {
			m.logger.Warn("illegal transition refused",
				"operation_id", operationID, "from", op.State, "to", update.State)
			return nil, fmt.Errorf("%s → %s: %w", op.State, update.State, ErrIllegalTransition)
		}
		op.State = update.State
		op.Step = StepForState(update.State)
		op.Metadata.History = append(op.Metadata.History, models.StateHistoryEntry{
			State:     update.State,
			Step:      op.Step,
			Timestamp: time.Now().UTC(),
		})
	}
	if update.Step != "" {
		op.Step = update.Step
	}
	if update.PendingItemIDs != nil {
		op.Output.PendingItemIDs = update.PendingItemIDs
	}
	if update.ApprovedItemIDs != nil {
		op.Output.ApprovedItemIDs = update.ApprovedItemIDs
	}
	if update.RejectedItemIDs != nil {
		op.Output.RejectedItemIDs = update.RejectedItemIDs
	}
	if update.APIResponse != nil {
		if op.Output.APIResponse == nil {
			op.Output.APIResponse = map[string]any{}
		}
		for k, v := range update.APIResponse {
			op.Output.APIResponse[k] = v
		}
	}
	if update.Status != "" {
		op.Output.Status = update.Status
	}
	if update.ScheduleID != "" {
		op.Input.ScheduleID = update.ScheduleID
	}
	if update.Metadata != nil {
		if op.Metadata.Extra == nil {
			op.Metadata.Extra = map[string]any{}
		}
		for k, v := range update.Metadata {
			op.Metadata.Extra[k] = v
		}
	}
	if update.RegenerationRounds != nil {
		op.Metadata.RegenerationRounds = *update.RegenerationRounds
	}
	if update.MalformedReplies != nil {
		op.Metadata.MalformedReplies = *update.MalformedReplies
	}
	op.UpdatedAt = time.Now().UTC()

	if err := m.store.UpdateOperationGuarded(ctx, op, expect); err != nil {
		return nil, fmt.Errorf("update operation: %w", err)
	}
	return op, nil
}

// EndOperation moves the operation to the terminal state mapped from
// status, records the end reason, and stores the final api response.
// Statuses with no terminal mapping end in error with a warning.
func (m *Manager) EndOperation(ctx context.Context, operationID string, status models.OperationStatus, reason string, apiResponse map[string]any) (*models.ToolOperation, error) {
	final, ok := FinalState(status)
	if !ok {
		m.logger.Warn("no terminal mapping for status, ending in error",
			"operation_id", operationID, "status", status)
	}
	op, err := m.store.GetOperation(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	if op.State.IsTerminal() {
		return op, nil
	}
	expect := op.State
	if !CanTransition(op.State, final) {
		m.logger.Warn("illegal end transition refused",
			"operation_id", operationID, "from", op.State, "to", final)
		return nil, fmt.Errorf("%s → %s: %w", op.State, final, ErrIllegalTransition)
	}

	now := time.Now().UTC()
	op.State = final
	op.Step = StepForState(final)
	op.Output.Status = status
	if apiResponse != nil {
		op.Output.APIResponse = apiResponse
	}
	op.Metadata.EndReason = reason
	op.Metadata.History = append(op.Metadata.History, models.StateHistoryEntry{
		State:     final,
		Step:      op.Step,
		Timestamp: now,
	})
	op.UpdatedAt = now

	if err := m.store.UpdateOperationGuarded(ctx, op, expect); err != nil {
		return nil, fmt.Errorf("end operation: %w", err)
	}
	m.logger.Info("operation ended",
		"operation_id", operationID, "state", final, "status", status, "reason", reason)
	return op, nil
}

// CreateItems inserts freshly generated items in collecting/pending and
// adds them to the operation's pending roster.
func (m *Manager) CreateItems(ctx context.Context, op *models.ToolOperation, contents []models.ItemContent, scheduleID string) ([]*models.ToolItem, error) {
	now := time.Now().UTC()
	items := make([]*models.ToolItem, 0, len(contents))
	ids := make([]string, 0, len(contents))
	for i, content := range contents {
		item := &models.ToolItem{
			ID:          uuid.NewString(),
			OperationID: op.ID,
			SessionID:   op.SessionID,
			ContentType: op.ContentType,
			ScheduleID:  scheduleID,
			State:       models.StateCollecting,
			Status:      models.StatusPending,
			Content:     content,
			CreatedAt:   now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt:   now,
		}
		items = append(items, item)
		ids = append(ids, item.ID)
	}
	if err := m.store.InsertItems(ctx, items); err != nil {
		return nil, fmt.Errorf("insert items: %w", err)
	}
	pending := append(append([]string(nil), op.Output.PendingItemIDs...), ids...)
	if _, err := m.UpdateOperation(ctx, op.ID, Update{PendingItemIDs: pending}); err != nil {
		return nil, err
	}
	return items, nil
}

// ListOperationItems returns the operation's items in creation order.
func (m *Manager) ListOperationItems(ctx context.Context, operationID string, filter storage.ItemFilter) ([]*models.ToolItem, error) {
	filter.OperationID = operationID
	items, err := m.store.ListItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// UpdateItems sets state and status on the listed items. Terminal items
// are skipped; they are immutable.
func (m *Manager) UpdateItems(ctx context.Context, ids []string, state models.OperationState, status models.OperationStatus) error {
	mutable := make([]string, 0, len(ids))
	for _, id := range ids {
		item, err := m.store.GetItem(ctx, id)
		if err != nil {
			return fmt.Errorf("get item: %w", err)
		}
		if item.IsTerminal() {
			m.logger.Warn("skipping terminal item", "item_id", id, "status", item.Status)
			continue
		}
		mutable = append(mutable, id)
	}
	if len(mutable) == 0 {
		return nil
	}
	if err := m.store.UpdateItemsState(ctx, mutable, state, status); err != nil {
		return fmt.Errorf("update items: %w", err)
	}
	return nil
}

// CompleteItem marks one item executed now and stores the api response on
// the item. Terminal items are left untouched.
func (m *Manager) CompleteItem(ctx context.Context, itemID string, apiResponse map[string]any) error {
	item, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("get item: %w", err)
	}
	if item.IsTerminal() {
		m.logger.Warn("skipping terminal item", "item_id", itemID, "status", item.Status)
		return nil
	}
	now := time.Now().UTC()
	item.State = models.StateCompleted
	item.Status = models.StatusExecuted
	item.ExecutedTime = &now
	item.PostedTime = &now
	item.APIResponse = apiResponse
	item.LastError = ""
	item.UpdatedAt = now
	if err := m.store.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	return nil
}

// SyncItemsToOperationStatus propagates an operation-level status change to
// the item state that corresponds to it.
func (m *Manager) SyncItemsToOperationStatus(ctx context.Context, operationID string, status models.OperationStatus) error {
	state, ok := syncStateForStatus(status)
	if !ok {
		return nil
	}
	items, err := m.ListOperationItems(ctx, operationID, storage.ItemFilter{})
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsTerminal() {
			continue
		}
		ids = append(ids, item.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	return m.UpdateItems(ctx, ids, state, status)
}

// GetOperation returns the operation by id.
func (m *Manager) GetOperation(ctx context.Context, operationID string) (*models.ToolOperation, error) {
	return m.store.GetOperation(ctx, operationID)
}

// ActiveOperation returns the session's non-terminal operation, or nil.
func (m *Manager) ActiveOperation(ctx context.Context, sessionID string) (*models.ToolOperation, error) {
	op, err := m.store.GetActiveOperation(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active operation: %w", err)
	}
	return op, nil
}
