package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rinlabs/rin/pkg/models"
)

func newTestOperation(sessionID string) *models.ToolOperation {
	now := time.Now().UTC()
	return &models.ToolOperation{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ToolType:    "twitter",
		ContentType: "tweet",
		State:       models.StateCollecting,
		Step:        "generating",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newTestItem(op *models.ToolOperation, scheduleID string, offset time.Duration) *models.ToolItem {
	now := time.Now().UTC().Add(offset)
	return &models.ToolItem{
		ID:          uuid.NewString(),
		OperationID: op.ID,
		SessionID:   op.SessionID,
		ContentType: op.ContentType,
		ScheduleID:  scheduleID,
		State:       models.StateCollecting,
		Status:      models.StatusPending,
		Content:     models.ItemContent{RawContent: "draft"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemorySessionLifecycle(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	session := &models.Session{
		ID:         "sess-1",
		AgentState: models.AgentStateNormalChat,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := store.CreateSession(ctx, session); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate CreateSession() error = %v, want ErrAlreadyExists", err)
	}

	session.AgentState = models.AgentStateToolOperation
	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.AgentState != models.AgentStateToolOperation {
		t.Fatalf("GetSession() agent state = %q", got.AgentState)
	}
}

func TestMemoryMessagesOrderedWithLimit(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		msg := &models.Message{
			ID:              uuid.NewString(),
			SessionID:       "sess-1",
			Role:            models.RoleUser,
			Content:         string(rune('a' + i)),
			Timestamp:       base.Add(time.Duration(i) * time.Second),
			InteractionType: models.InteractionChat,
		}
		if err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	msgs, err := store.ListMessages(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("ListMessages() len = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "b" || msgs[1].Content != "c" {
		t.Fatalf("ListMessages() returned %q, %q; want latest two in order", msgs[0].Content, msgs[1].Content)
	}
}

func TestMemoryActiveOperationExcludesTerminal(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	done := newTestOperation("sess-1")
	done.State = models.StateCompleted
	if err := store.CreateOperation(ctx, done); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if _, err := store.GetActiveOperation(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetActiveOperation() with only terminal op = %v, want ErrNotFound", err)
	}

	active := newTestOperation("sess-1")
	if err := store.CreateOperation(ctx, active); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	got, err := store.GetActiveOperation(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetActiveOperation() error = %v", err)
	}
	if got.ID != active.ID {
		t.Fatalf("GetActiveOperation() id = %s, want %s", got.ID, active.ID)
	}
}

func TestMemoryGuardedUpdateConflicts(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	op := newTestOperation("sess-1")
	if err := store.CreateOperation(ctx, op); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}

	op.State = models.StateApproving
	if err := store.UpdateOperationGuarded(ctx, op, models.StateCollecting); err != nil {
		t.Fatalf("UpdateOperationGuarded() error = %v", err)
	}

	op.State = models.StateExecuting
	err := store.UpdateOperationGuarded(ctx, op, models.StateCollecting)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("UpdateOperationGuarded() stale guard error = %v, want ErrConflict", err)
	}
	current, err := store.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetOperation() error = %v", err)
	}
	if current.State != models.StateApproving {
		t.Fatalf("state after failed guard = %s, want approving", current.State)
	}
}

func TestMemoryClaimIsExclusive(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	op := newTestOperation("sess-1")
	if err := store.CreateOperation(ctx, op); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	item := newTestItem(op, "", 0)
	item.Status = models.StatusScheduled
	if err := store.InsertItems(ctx, []*models.ToolItem{item}); err != nil {
		t.Fatalf("InsertItems() error = %v", err)
	}

	now := time.Now().UTC()
	ok, err := store.ClaimItem(ctx, item.ID, now)
	if err != nil || !ok {
		t.Fatalf("ClaimItem() = %v, %v; want true, nil", ok, err)
	}
	ok, err = store.ClaimItem(ctx, item.ID, now)
	if err != nil || ok {
		t.Fatalf("second ClaimItem() = %v, %v; want false, nil", ok, err)
	}
}

func TestMemoryReclaimStaleClaims(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	op := newTestOperation("sess-1")
	if err := store.CreateOperation(ctx, op); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	item := newTestItem(op, "", 0)
	item.Status = models.StatusScheduled
	if err := store.InsertItems(ctx, []*models.ToolItem{item}); err != nil {
		t.Fatalf("InsertItems() error = %v", err)
	}

	claimedAt := time.Now().UTC().Add(-2 * time.Minute)
	if ok, err := store.ClaimItem(ctx, item.ID, claimedAt); err != nil || !ok {
		t.Fatalf("ClaimItem() = %v, %v", ok, err)
	}

	reclaimed, err := store.ReclaimStaleClaims(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleClaims() error = %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("ReclaimStaleClaims() = %d, want 1", reclaimed)
	}
	got, err := store.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if got.Status != models.StatusScheduled || got.ClaimedAt != nil {
		t.Fatalf("reclaimed item status = %s claimed_at = %v", got.Status, got.ClaimedAt)
	}
}

func TestMemoryDueItemsRequireActiveSchedule(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	op := newTestOperation("sess-1")
	if err := store.CreateOperation(ctx, op); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}

	now := time.Now().UTC()
	schedule := &models.Schedule{
		ID:          uuid.NewString(),
		OperationID: op.ID,
		SessionID:   op.SessionID,
		ContentType: op.ContentType,
		State:       models.ScheduleStatePending,
		Type:        models.ScheduleMultiple,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.CreateSchedule(ctx, schedule); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)
	first := newTestItem(op, schedule.ID, 0)
	first.Status = models.StatusScheduled
	first.ScheduledTime = &earlier
	second := newTestItem(op, schedule.ID, time.Second)
	second.Status = models.StatusScheduled
	second.ScheduledTime = &later
	if err := store.InsertItems(ctx, []*models.ToolItem{second, first}); err != nil {
		t.Fatalf("InsertItems() error = %v", err)
	}

	due, err := store.ListDueItems(ctx, now)
	if err != nil {
		t.Fatalf("ListDueItems() error = %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("ListDueItems() with pending schedule = %d items, want 0", len(due))
	}

	schedule.State = models.ScheduleStateActive
	if err := store.UpdateSchedule(ctx, schedule); err != nil {
		t.Fatalf("UpdateSchedule() error = %v", err)
	}
	due, err = store.ListDueItems(ctx, now)
	if err != nil {
		t.Fatalf("ListDueItems() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != first.ID {
		t.Fatalf("ListDueItems() = %d items, want only the past-due item", len(due))
	}
}

func TestMemoryPurgeSchedules(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	op := newTestOperation("sess-1")
	if err := store.CreateOperation(ctx, op); err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	schedule := &models.Schedule{
		ID:          uuid.NewString(),
		OperationID: op.ID,
		SessionID:   op.SessionID,
		ContentType: op.ContentType,
		State:       models.ScheduleStateActive,
		Type:        models.ScheduleOneTime,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := store.CreateSchedule(ctx, schedule); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}
	item := newTestItem(op, schedule.ID, 0)
	if err := store.InsertItems(ctx, []*models.ToolItem{item}); err != nil {
		t.Fatalf("InsertItems() error = %v", err)
	}

	purged, err := store.PurgeSchedules(ctx, op.SessionID)
	if err != nil {
		t.Fatalf("PurgeSchedules() error = %v", err)
	}
	if purged != 1 {
		t.Fatalf("PurgeSchedules() = %d, want 1", purged)
	}
	if _, err := store.GetItem(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetItem() after purge = %v, want ErrNotFound", err)
	}
}
