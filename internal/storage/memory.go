package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rinlabs/rin/pkg/models"
)

// Memory is an in-memory Store. It is the reference implementation for
// tests and single-process deployments without durability requirements.
type Memory struct {
	mu         sync.RWMutex
	sessions   map[string]*models.Session
	messages   map[string][]*models.Message
	operations map[string]*models.ToolOperation
	items      map[string]*models.ToolItem
	schedules  map[string]*models.Schedule
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:   make(map[string]*models.Session),
		messages:   make(map[string][]*models.Message),
		operations: make(map[string]*models.ToolOperation),
		items:      make(map[string]*models.ToolItem),
		schedules:  make(map[string]*models.Schedule),
	}
}

func (s *Memory) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return ErrAlreadyExists
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *Memory) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *Memory) UpdateSession(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *Memory) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return fmt.Errorf("message session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], cloneMessage(msg))
	return nil
}

func (s *Memory) ListMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.messages[sessionID]
	out := make([]*models.Message, 0, len(log))
	for _, msg := range log {
		out = append(out, cloneMessage(msg))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Memory) CreateOperation(ctx context.Context, op *models.ToolOperation) error {
	if op == nil || op.ID == "" {
		return fmt.Errorf("operation is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.operations[op.ID]; exists {
		return ErrAlreadyExists
	}
	s.operations[op.ID] = cloneOperation(op)
	return nil
}

func (s *Memory) GetOperation(ctx context.Context, id string) (*models.ToolOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOperation(op), nil
}

func (s *Memory) GetActiveOperation(ctx context.Context, sessionID string) (*models.ToolOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, op := range s.operations {
		if op.SessionID == sessionID && !op.State.IsTerminal() {
			return cloneOperation(op), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) UpdateOperation(ctx context.Context, op *models.ToolOperation) error {
	if op == nil || op.ID == "" {
		return fmt.Errorf("operation is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operations[op.ID]; !ok {
		return ErrNotFound
	}
	s.operations[op.ID] = cloneOperation(op)
	return nil
}

func (s *Memory) UpdateOperationGuarded(ctx context.Context, op *models.ToolOperation, expect models.OperationState) error {
	if op == nil || op.ID == "" {
		return fmt.Errorf("operation is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.operations[op.ID]
	if !ok {
		return ErrNotFound
	}
	if current.State != expect {
		return fmt.Errorf("operation %s is %s, expected %s: %w", op.ID, current.State, expect, ErrConflict)
	}
	s.operations[op.ID] = cloneOperation(op)
	return nil
}

func (s *Memory) InsertItems(ctx context.Context, items []*models.ToolItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if item == nil || item.ID == "" {
			return fmt.Errorf("item id is required")
		}
		if _, exists := s.items[item.ID]; exists {
			return ErrAlreadyExists
		}
	}
	for _, item := range items {
		s.items[item.ID] = cloneItem(item)
	}
	return nil
}

func (s *Memory) GetItem(ctx context.Context, id string) (*models.ToolItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *Memory) ListItems(ctx context.Context, filter ItemFilter) ([]*models.ToolItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ToolItem, 0)
	for _, item := range s.items {
		if !matchItem(item, filter) {
			continue
		}
		out = append(out, cloneItem(item))
	}
	sortItems(out)
	return out, nil
}

func matchItem(item *models.ToolItem, filter ItemFilter) bool {
	if filter.OperationID != "" && item.OperationID != filter.OperationID {
		return false
	}
	if filter.ScheduleID != "" && item.ScheduleID != filter.ScheduleID {
		return false
	}
	if filter.State != "" && item.State != filter.State {
		return false
	}
	if filter.Status != "" && item.Status != filter.Status {
		return false
	}
	return true
}

// sortItems orders by creation time then id, the deterministic order used
// for approval indexing and schedule time assignment.
func sortItems(items []*models.ToolItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func (s *Memory) UpdateItem(ctx context.Context, item *models.ToolItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("item is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return ErrNotFound
	}
	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *Memory) UpdateItemsState(ctx context.Context, ids []string, state models.OperationState, status models.OperationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		item, ok := s.items[id]
		if !ok {
			return fmt.Errorf("item %s: %w", id, ErrNotFound)
		}
		item.State = state
		item.Status = status
		item.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Memory) ListDueItems(ctx context.Context, now time.Time) ([]*models.ToolItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ToolItem, 0)
	for _, item := range s.items {
		if item.Status != models.StatusScheduled || item.ScheduledTime == nil || item.ScheduledTime.After(now) {
			continue
		}
		schedule, ok := s.schedules[item.ScheduleID]
		if !ok || schedule.State != models.ScheduleStateActive {
			continue
		}
		out = append(out, cloneItem(item))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScheduledTime.Equal(*out[j].ScheduledTime) {
			return out[i].ScheduledTime.Before(*out[j].ScheduledTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Memory) ClaimItem(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false, ErrNotFound
	}
	if item.Status != models.StatusScheduled {
		return false, nil
	}
	claimed := now.UTC()
	item.Status = models.StatusClaimed
	item.ClaimedAt = &claimed
	item.UpdatedAt = claimed
	return true, nil
}

func (s *Memory) ReclaimStaleClaims(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reclaimed := 0
	for _, item := range s.items {
		if item.Status != models.StatusClaimed {
			continue
		}
		if item.ClaimedAt == nil || item.ClaimedAt.After(cutoff) {
			continue
		}
		item.Status = models.StatusScheduled
		item.ClaimedAt = nil
		item.UpdatedAt = time.Now().UTC()
		reclaimed++
	}
	return reclaimed, nil
}

func (s *Memory) CreateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if schedule == nil || schedule.ID == "" {
		return fmt.Errorf("schedule is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[schedule.ID]; exists {
		return ErrAlreadyExists
	}
	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

func (s *Memory) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, ok := s.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSchedule(schedule), nil
}

func (s *Memory) UpdateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if schedule == nil || schedule.ID == "" {
		return fmt.Errorf("schedule is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[schedule.ID]; !ok {
		return ErrNotFound
	}
	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

func (s *Memory) ListActiveMonitors(ctx context.Context) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Schedule, 0)
	for _, schedule := range s.schedules {
		if schedule.Type == models.ScheduleMonitoring && schedule.State == models.ScheduleStateActive {
			out = append(out, cloneSchedule(schedule))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) PurgeSchedules(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, schedule := range s.schedules {
		if schedule.SessionID != sessionID {
			continue
		}
		for itemID, item := range s.items {
			if item.ScheduleID == id {
				delete(s.items, itemID)
			}
		}
		delete(s.schedules, id)
		purged++
	}
	return purged, nil
}

func (s *Memory) Close() error { return nil }

func cloneSession(in *models.Session) *models.Session {
	out := *in
	out.Metadata = cloneMap(in.Metadata)
	return &out
}

func cloneMessage(in *models.Message) *models.Message {
	out := *in
	out.Metadata = cloneMap(in.Metadata)
	return &out
}

func cloneOperation(in *models.ToolOperation) *models.ToolOperation {
	out := *in
	out.Input.Params = cloneMap(in.Input.Params)
	out.Output.PendingItemIDs = append([]string(nil), in.Output.PendingItemIDs...)
	out.Output.ApprovedItemIDs = append([]string(nil), in.Output.ApprovedItemIDs...)
	out.Output.RejectedItemIDs = append([]string(nil), in.Output.RejectedItemIDs...)
	out.Output.APIResponse = cloneMap(in.Output.APIResponse)
	out.Metadata.History = append([]models.StateHistoryEntry(nil), in.Metadata.History...)
	out.Metadata.Extra = cloneMap(in.Metadata.Extra)
	if in.Metadata.Retry != nil {
		retry := *in.Metadata.Retry
		out.Metadata.Retry = &retry
	}
	return &out
}

func cloneItem(in *models.ToolItem) *models.ToolItem {
	out := *in
	out.Content.Payload = cloneMap(in.Content.Payload)
	out.APIResponse = cloneMap(in.APIResponse)
	out.ScheduledTime = cloneTime(in.ScheduledTime)
	out.ExecutedTime = cloneTime(in.ExecutedTime)
	out.PostedTime = cloneTime(in.PostedTime)
	out.ClaimedAt = cloneTime(in.ClaimedAt)
	return &out
}

func cloneSchedule(in *models.Schedule) *models.Schedule {
	out := *in
	out.StartTime = cloneTime(in.StartTime)
	if in.Monitor != nil {
		monitor := *in.Monitor
		monitor.Condition = cloneMap(in.Monitor.Condition)
		out.Monitor = &monitor
	}
	out.PendingItemIDs = append([]string(nil), in.PendingItemIDs...)
	out.ApprovedItemIDs = append([]string(nil), in.ApprovedItemIDs...)
	out.RejectedItemIDs = append([]string(nil), in.RejectedItemIDs...)
	return &out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneTime(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	t := *in
	return &t
}
