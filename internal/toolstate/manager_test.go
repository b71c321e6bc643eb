package toolstate

import (
	"context"
	"errors"
	"testing"

	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/pkg/models"
)

func newManager(t *testing.T) (*Manager, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	return NewManager(store, nil), store
}

func startOp(t *testing.T, m *Manager) *models.ToolOperation {
	t.Helper()
	op, err := m.StartOperation(context.Background(), "sess-1", OperationSpec{
		ToolType:           "twitter",
		ContentType:        "tweet",
		Input:              models.OperationInput{Command: "schedule 2 tweets"},
		RequiresApproval:   true,
		RequiresScheduling: true,
	})
	if err != nil {
		t.Fatalf("StartOperation() error = %v", err)
	}
	return op
}

func TestTransitionTable(t *testing.T) {
	legal := []struct{ from, to models.OperationState }{
		{models.StateInactive, models.StateCollecting},
		{models.StateCollecting, models.StateApproving},
		{models.StateCollecting, models.StateError},
		{models.StateCollecting, models.StateCancelled},
		{models.StateApproving, models.StateExecuting},
		{models.StateApproving, models.StateCollecting},
		{models.StateApproving, models.StateError},
		{models.StateApproving, models.StateCancelled},
		{models.StateExecuting, models.StateCompleted},
		{models.StateExecuting, models.StateCancelled},
		{models.StateExecuting, models.StateError},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}
	illegal := []struct{ from, to models.OperationState }{
		{models.StateInactive, models.StateApproving},
		{models.StateCollecting, models.StateExecuting},
		{models.StateCollecting, models.StateCompleted},
		{models.StateExecuting, models.StateApproving},
		{models.StateCompleted, models.StateCollecting},
		{models.StateCancelled, models.StateExecuting},
		{models.StateError, models.StateCollecting},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestStartOperationConflicts(t *testing.T) {
	m, _ := newManager(t)
	startOp(t, m)
	_, err := m.StartOperation(context.Background(), "sess-1", OperationSpec{ToolType: "intents", ContentType: "swap"})
	if !errors.Is(err, ErrConflictingOperation) {
		t.Fatalf("second StartOperation() error = %v, want ErrConflictingOperation", err)
	}
}

func TestStartOperationAfterTerminal(t *testing.T) {
	m, _ := newManager(t)
	op := startOp(t, m)
	if _, err := m.EndOperation(context.Background(), op.ID, models.StatusRejected, "user_cancel", nil); err != nil {
		t.Fatalf("EndOperation() error = %v", err)
	}
	if _, err := m.StartOperation(context.Background(), "sess-1", OperationSpec{ToolType: "intents", ContentType: "swap"}); err != nil {
		t.Fatalf("StartOperation() after terminal error = %v", err)
	}
}

func TestIllegalTransitionLeavesStateUnchanged(t *testing.T) {
	m, _ := newManager(t)
	op := startOp(t, m)
	_, err := m.UpdateOperation(context.Background(), op.ID, Update{State: models.StateCompleted})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("UpdateOperation() error = %v, want ErrIllegalTransition", err)
	}
	got, err := m.GetOperation(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("GetOperation() error = %v", err)
	}
	if got.State != models.StateCollecting {
		t.Fatalf("state after refused transition = %s, want collecting", got.State)
	}
	if len(got.Metadata.History) != 2 {
		t.Fatalf("history grew on refused transition: %d entries", len(got.Metadata.History))
	}
}

func TestRegenerationLoopHistory(t *testing.T) {
	m, _ := newManager(t)
	op := startOp(t, m)
	ctx := context.Background()
	for _, state := range []models.OperationState{
		models.StateApproving, models.StateCollecting, models.StateApproving, models.StateExecuting,
	} {
		if _, err := m.UpdateOperation(ctx, op.ID, Update{State: state}); err != nil {
			t.Fatalf("UpdateOperation(%s) error = %v", state, err)
		}
	}

	got, err := m.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetOperation() error = %v", err)
	}
	history := got.Metadata.History
	for i := 1; i < len(history); i++ {
		if !CanTransition(history[i-1].State, history[i].State) {
			t.Errorf("history entry %d: %s → %s not in transition table", i, history[i-1].State, history[i].State)
		}
	}
	if history[len(history)-1].Step != "executing" {
		t.Fatalf("final step = %q, want executing", history[len(history)-1].Step)
	}
}

func TestEndOperationStatusMapping(t *testing.T) {
	tests := []struct {
		status models.OperationStatus
		want   models.OperationState
	}{
		{models.StatusRejected, models.StateCancelled},
		{models.StatusFailed, models.StateError},
	}
	for _, tc := range tests {
		m, _ := newManager(t)
		op := startOp(t, m)
		got, err := m.EndOperation(context.Background(), op.ID, tc.status, "test", nil)
		if err != nil {
			t.Fatalf("EndOperation(%s) error = %v", tc.status, err)
		}
		if got.State != tc.want {
			t.Errorf("EndOperation(%s) state = %s, want %s", tc.status, got.State, tc.want)
		}
		if got.Metadata.EndReason != "test" {
			t.Errorf("EndOperation(%s) end reason = %q", tc.status, got.Metadata.EndReason)
		}
	}
}

func TestEndOperationApprovedFromExecuting(t *testing.T) {
	m, _ := newManager(t)
	op := startOp(t, m)
	ctx := context.Background()
	for _, state := range []models.OperationState{models.StateApproving, models.StateExecuting} {
		if _, err := m.UpdateOperation(ctx, op.ID, Update{State: state}); err != nil {
			t.Fatalf("UpdateOperation(%s) error = %v", state, err)
		}
	}
	got, err := m.EndOperation(ctx, op.ID, models.StatusExecuted, "all_executed", nil)
	if err != nil {
		t.Fatalf("EndOperation() error = %v", err)
	}
	if got.State != models.StateCompleted || got.Output.Status != models.StatusExecuted {
		t.Fatalf("EndOperation() = %s/%s, want completed/executed", got.State, got.Output.Status)
	}
}

func TestEndOperationIdempotentOnTerminal(t *testing.T) {
	m, _ := newManager(t)
	op := startOp(t, m)
	ctx := context.Background()
	if _, err := m.EndOperation(ctx, op.ID, models.StatusRejected, "user_cancel", nil); err != nil {
		t.Fatalf("EndOperation() error = %v", err)
	}
	got, err := m.EndOperation(ctx, op.ID, models.StatusFailed, "late", nil)
	if err != nil {
		t.Fatalf("repeat EndOperation() error = %v", err)
	}
	if got.State != models.StateCancelled {
		t.Fatalf("repeat EndOperation() changed state to %s", got.State)
	}
}

func TestAggregateStatus(t *testing.T) {
	item := func(state models.OperationState) *models.ToolItem {
		return &models.ToolItem{State: state}
	}
	tests := []struct {
		name  string
		items []*models.ToolItem
		want  models.OperationStatus
	}{
		{"no items", nil, models.StatusPending},
		{"work in flight", []*models.ToolItem{item(models.StateCompleted), item(models.StateExecuting)}, models.StatusPending},
		{"all completed", []*models.ToolItem{item(models.StateCompleted), item(models.StateCompleted)}, models.StatusExecuted},
		{"all cancelled", []*models.ToolItem{item(models.StateCancelled)}, models.StatusRejected},
		{"all error", []*models.ToolItem{item(models.StateError), item(models.StateError)}, models.StatusFailed},
		{"mixed terminal", []*models.ToolItem{item(models.StateCompleted), item(models.StateCancelled)}, models.StatusPending},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := AggregateStatus(tc.items); got != tc.want {
				t.Fatalf("AggregateStatus() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestClosingStatusMixedOutcomes(t *testing.T) {
	item := func(state models.OperationState) *models.ToolItem {
		return &models.ToolItem{State: state}
	}
	tests := []struct {
		name  string
		items []*models.ToolItem
		want  models.OperationStatus
	}{
		{"executed wins", []*models.ToolItem{item(models.StateCompleted), item(models.StateError)}, models.StatusExecuted},
		{"error over rejection", []*models.ToolItem{item(models.StateError), item(models.StateCancelled)}, models.StatusFailed},
		{"all rejected", []*models.ToolItem{item(models.StateCancelled), item(models.StateCancelled)}, models.StatusRejected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClosingStatus(tc.items); got != tc.want {
				t.Fatalf("ClosingStatus() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSyncItemsToOperationStatus(t *testing.T) {
	m, store := newManager(t)
	op := startOp(t, m)
	ctx := context.Background()
	items, err := m.CreateItems(ctx, op, []models.ItemContent{
		{RawContent: "one"}, {RawContent: "two"},
	}, "")
	if err != nil {
		t.Fatalf("CreateItems() error = %v", err)
	}

	// A terminal item must not be touched by sync.
	terminal := items[1]
	terminal.State = models.StateCancelled
	terminal.Status = models.StatusRejected
	if err := store.UpdateItem(ctx, terminal); err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}

	if err := m.SyncItemsToOperationStatus(ctx, op.ID, models.StatusApproved); err != nil {
		t.Fatalf("SyncItemsToOperationStatus() error = %v", err)
	}

	first, err := store.GetItem(ctx, items[0].ID)
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if first.State != models.StateExecuting || first.Status != models.StatusApproved {
		t.Fatalf("synced item = %s/%s, want executing/approved", first.State, first.Status)
	}
	second, err := store.GetItem(ctx, items[1].ID)
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if second.State != models.StateCancelled || second.Status != models.StatusRejected {
		t.Fatalf("terminal item mutated to %s/%s", second.State, second.Status)
	}
}

func TestCreateItemsMaintainsPendingRoster(t *testing.T) {
	m, _ := newManager(t)
	op := startOp(t, m)
	ctx := context.Background()
	items, err := m.CreateItems(ctx, op, []models.ItemContent{{RawContent: "a"}, {RawContent: "b"}}, "")
	if err != nil {
		t.Fatalf("CreateItems() error = %v", err)
	}
	got, err := m.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetOperation() error = %v", err)
	}
	if len(got.Output.PendingItemIDs) != 2 {
		t.Fatalf("pending roster = %d ids, want 2", len(got.Output.PendingItemIDs))
	}
	for i, id := range got.Output.PendingItemIDs {
		if id != items[i].ID {
			t.Fatalf("roster[%d] = %s, want %s", i, id, items[i].ID)
		}
	}
}
