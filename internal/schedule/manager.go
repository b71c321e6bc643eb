// Package schedule plans and realizes time- and condition-based execution
// of approved items: the Manager validates schedule plans, assigns item
// times, and records execution outcomes; the Executor is the background
// worker that claims due items and sweeps monitors.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rinlabs/rin/internal/backoff"
	"github.com/rinlabs/rin/internal/registry"
	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/internal/toolstate"
	"github.com/rinlabs/rin/pkg/models"
)

// ErrExpired marks a monitor whose deadline passed before the condition
// fired.
var ErrExpired = errors.New("schedule expired")

// cronParser accepts standard 5-field specs with an optional seconds
// field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Info is the schedule plan a tool derives from the user command.
type Info struct {
	Type       models.ScheduleType
	StartTime  *time.Time
	Interval   time.Duration
	TotalItems int
	CronSpec   string
	Monitor    *models.MonitorParams
}

// Validate checks the plan's required fields per schedule type.
func (i Info) Validate() error {
	switch i.Type {
	case models.ScheduleOneTime:
		if i.StartTime == nil {
			return fmt.Errorf("one_time schedule requires start_time")
		}
	case models.ScheduleMultiple:
		if i.StartTime == nil {
			return fmt.Errorf("multiple schedule requires start_time")
		}
		if i.Interval <= 0 {
			return fmt.Errorf("multiple schedule requires a positive interval")
		}
		if i.TotalItems <= 0 {
			return fmt.Errorf("multiple schedule requires total_items")
		}
	case models.ScheduleRecurring:
		if i.CronSpec == "" {
			return fmt.Errorf("recurring schedule requires a cron spec")
		}
		if _, err := cronParser.Parse(i.CronSpec); err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", i.CronSpec, err)
		}
	case models.ScheduleMonitoring:
		if i.Monitor == nil {
			return fmt.Errorf("monitoring schedule requires monitor params")
		}
		if i.Monitor.CheckInterval <= 0 {
			return fmt.Errorf("monitoring schedule requires a positive check_interval")
		}
		if i.Monitor.Expiration.IsZero() {
			return fmt.Errorf("monitoring schedule requires expiration_timestamp")
		}
		if len(i.Monitor.Condition) == 0 {
			return fmt.Errorf("monitoring schedule requires a condition")
		}
	default:
		return fmt.Errorf("unknown schedule type %q", i.Type)
	}
	return nil
}

// Config tunes retry handling for failed executions.
type Config struct {
	// MaxRetries caps execution retries per item.
	MaxRetries int

	// Backoff is the default retry policy; operation metadata overrides
	// it.
	Backoff backoff.Policy
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, Backoff: backoff.DefaultPolicy()}
}

// Manager plans and tracks schedules.
type Manager struct {
	store  storage.Store
	state  *toolstate.Manager
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a schedule manager.
func NewManager(store storage.Store, state *toolstate.Manager, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default().With("component", "schedule")
	}
	return &Manager{store: store, state: state, cfg: cfg, logger: logger}
}

// InitializeSchedule validates info, creates a pending schedule, and links
// it to the operation. Returns the schedule id.
func (m *Manager) InitializeSchedule(ctx context.Context, operationID, sessionID, contentType string, info Info) (string, error) {
	if err := info.Validate(); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	schedule := &models.Schedule{
		ID:          uuid.NewString(),
		OperationID: operationID,
		SessionID:   sessionID,
		ContentType: contentType,
		State:       models.ScheduleStatePending,
		Type:        info.Type,
		StartTime:   info.StartTime,
		Interval:    info.Interval,
		TotalItems:  info.TotalItems,
		CronSpec:    info.CronSpec,
		Monitor:     info.Monitor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateSchedule(ctx, schedule); err != nil {
		return "", fmt.Errorf("create schedule: %w", err)
	}
	if _, err := m.state.UpdateOperation(ctx, operationID, toolstate.Update{ScheduleID: schedule.ID}); err != nil {
		return "", err
	}
	m.logger.Info("schedule initialized",
		"schedule_id", schedule.ID, "operation_id", operationID, "type", info.Type)
	return schedule.ID, nil
}

// ActivateSchedule moves an initialized schedule to active: it verifies
// the operation is executing with all items approved, assigns scheduled
// times, and marks the items scheduled. On precondition failure it reverts
// and returns false.
func (m *Manager) ActivateSchedule(ctx context.Context, operationID, scheduleID string) (bool, error) {
	op, err := m.store.GetOperation(ctx, operationID)
	if err != nil {
		return false, fmt.Errorf("get operation: %w", err)
	}
	if op.State != models.StateExecuting {
		m.logger.Warn("activation refused: operation not executing",
			"operation_id", operationID, "state", op.State)
		return false, nil
	}
	schedule, err := m.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return false, fmt.Errorf("get schedule: %w", err)
	}
	items, err := m.store.ListItems(ctx, storage.ItemFilter{OperationID: operationID})
	if err != nil {
		return false, fmt.Errorf("list items: %w", err)
	}
	var approved []*models.ToolItem
	for _, item := range items {
		if item.IsTerminal() {
			continue
		}
		if item.State != models.StateExecuting || item.Status != models.StatusApproved {
			m.logger.Warn("activation refused: item not approved",
				"schedule_id", scheduleID, "item_id", item.ID, "state", item.State, "status", item.Status)
			return false, nil
		}
		approved = append(approved, item)
	}
	if len(approved) == 0 {
		m.logger.Warn("activation refused: no approved items", "schedule_id", scheduleID)
		return false, nil
	}

	times, err := m.assignTimes(schedule, approved)
	if err != nil {
		return false, err
	}
	var done []*models.ToolItem
	for i, item := range approved {
		scheduledAt := times[i]
		item.ScheduleID = scheduleID
		item.Status = models.StatusScheduled
		item.ScheduledTime = &scheduledAt
		item.UpdatedAt = time.Now().UTC()
		if err := m.store.UpdateItem(ctx, item); err != nil {
			m.revertActivation(ctx, done)
			return false, fmt.Errorf("schedule item: %w", err)
		}
		done = append(done, item)
	}

	schedule.State = models.ScheduleStateActive
	schedule.ApprovedItemIDs = ids(approved)
	schedule.PendingItemIDs = nil
	schedule.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateSchedule(ctx, schedule); err != nil {
		m.revertActivation(ctx, done)
		return false, fmt.Errorf("activate schedule: %w", err)
	}
	if _, err := m.state.UpdateOperation(ctx, operationID, toolstate.Update{Status: models.StatusScheduled}); err != nil {
		return false, err
	}
	m.logger.Info("schedule activated",
		"schedule_id", scheduleID, "operation_id", operationID, "items", len(approved))
	return true, nil
}

// assignTimes computes each approved item's scheduled time. Items that
// already carry a time from an earlier activation keep it; only unassigned
// items are spaced, continuing the index sequence.
func (m *Manager) assignTimes(schedule *models.Schedule, items []*models.ToolItem) ([]time.Time, error) {
	times := make([]time.Time, len(items))
	assigned := 0
	for _, item := range items {
		if item.ScheduledTime != nil {
			assigned++
		}
	}
	switch schedule.Type {
	case models.ScheduleMonitoring:
		for i := range items {
			times[i] = schedule.Monitor.Expiration.UTC()
		}
	case models.ScheduleRecurring:
		cronSchedule, err := cronParser.Parse(schedule.CronSpec)
		if err != nil {
			return nil, fmt.Errorf("invalid cron spec %q: %w", schedule.CronSpec, err)
		}
		at := time.Now().UTC()
		if schedule.StartTime != nil {
			at = schedule.StartTime.UTC()
		}
		next := at
		for i, item := range items {
			if item.ScheduledTime != nil {
				times[i] = item.ScheduledTime.UTC()
				continue
			}
			next = cronSchedule.Next(next)
			times[i] = next
		}
	default:
		start := time.Now().UTC()
		if schedule.StartTime != nil {
			start = schedule.StartTime.UTC()
		}
		slot := assigned
		for i, item := range items {
			if item.ScheduledTime != nil {
				times[i] = item.ScheduledTime.UTC()
				continue
			}
			times[i] = start.Add(time.Duration(slot) * schedule.Interval)
			slot++
		}
	}
	return times, nil
}

func (m *Manager) revertActivation(ctx context.Context, items []*models.ToolItem) {
	for _, item := range items {
		item.Status = models.StatusApproved
		item.ScheduledTime = nil
		item.UpdatedAt = time.Now().UTC()
		if err := m.store.UpdateItem(ctx, item); err != nil {
			m.logger.Error("revert activation failed", "item_id", item.ID, "error", err)
		}
	}
}

// RecordExecution reports one execution attempt for an item. Successful
// attempts complete the item; failures retry with exponential backoff up
// to the retry cap, then fail permanently. Re-reporting a terminal item
// only refreshes last_error.
func (m *Manager) RecordExecution(ctx context.Context, itemID string, result *registry.ExecutionResult) error {
	item, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("get item: %w", err)
	}
	if item.IsTerminal() {
		if result != nil && result.Error != "" && result.Error != item.LastError {
			item.LastError = result.Error
			item.UpdatedAt = time.Now().UTC()
			return m.store.UpdateItem(ctx, item)
		}
		return nil
	}

	now := time.Now().UTC()
	if result != nil && result.Success {
		item.State = models.StateCompleted
		item.Status = models.StatusExecuted
		item.ExecutedTime = &now
		item.PostedTime = &now
		item.APIResponse = result.APIResponse
		item.LastError = ""
		item.ClaimedAt = nil
		item.UpdatedAt = now
		if err := m.store.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("record execution: %w", err)
		}
		m.logger.Info("item executed", "item_id", itemID, "schedule_id", item.ScheduleID)
		return m.finalizeIfDone(ctx, item)
	}

	execErr := "execution failed"
	permanent := false
	if result != nil {
		if result.Error != "" {
			execErr = result.Error
		}
		permanent = result.Permanent
	}
	item.RetryCount++
	item.LastError = execErr
	item.ClaimedAt = nil

	if !permanent && item.RetryCount <= m.cfg.MaxRetries {
		policy := m.retryPolicy(ctx, item)
		delay := policy.Delay(item.RetryCount)
		retryAt := now.Add(delay)
		item.Status = models.StatusScheduled
		item.ScheduledTime = &retryAt
		item.UpdatedAt = now
		if err := m.store.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		m.logger.Warn("item execution failed, retrying",
			"item_id", itemID, "retry_count", item.RetryCount, "delay", delay, "error", execErr)
		return nil
	}

	item.State = models.StateError
	item.Status = models.StatusFailed
	item.UpdatedAt = now
	if err := m.store.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	m.logger.Error("item failed permanently",
		"item_id", itemID, "retry_count", item.RetryCount, "error", execErr)
	return m.finalizeIfDone(ctx, item)
}

// retryPolicy returns the operation's retry policy, falling back to the
// manager config.
func (m *Manager) retryPolicy(ctx context.Context, item *models.ToolItem) backoff.Policy {
	op, err := m.store.GetOperation(ctx, item.OperationID)
	if err != nil {
		return m.cfg.Backoff
	}
	return backoff.FromRetryPolicy(op.Metadata.Retry, m.cfg.Backoff)
}

// ExpireMonitor fails every still-open item of an expired monitoring
// schedule and closes the schedule and operation.
func (m *Manager) ExpireMonitor(ctx context.Context, schedule *models.Schedule) error {
	items, err := m.store.ListItems(ctx, storage.ItemFilter{ScheduleID: schedule.ID})
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	now := time.Now().UTC()
	var last *models.ToolItem
	for _, item := range items {
		if item.IsTerminal() {
			continue
		}
		item.State = models.StateError
		item.Status = models.StatusFailed
		item.LastError = "expired"
		item.ClaimedAt = nil
		item.UpdatedAt = now
		if err := m.store.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("expire item: %w", err)
		}
		last = item
	}
	m.logger.Warn("monitor expired", "schedule_id", schedule.ID, "operation_id", schedule.OperationID)
	if last == nil {
		// Nothing was open; still make sure the schedule closes.
		if len(items) > 0 {
			return m.finalizeIfDone(ctx, items[0])
		}
		return nil
	}
	return m.finalizeIfDone(ctx, last)
}

// finalizeIfDone closes the schedule once all its items are terminal, and
// ends the operation once all the operation's items are terminal.
func (m *Manager) finalizeIfDone(ctx context.Context, item *models.ToolItem) error {
	if item.ScheduleID != "" {
		scheduleItems, err := m.store.ListItems(ctx, storage.ItemFilter{ScheduleID: item.ScheduleID})
		if err != nil {
			return fmt.Errorf("list schedule items: %w", err)
		}
		if allTerminal(scheduleItems) {
			schedule, err := m.store.GetSchedule(ctx, item.ScheduleID)
			if err != nil {
				return fmt.Errorf("get schedule: %w", err)
			}
			if !schedule.State.IsTerminal() {
				schedule.State = models.ScheduleStateCompleted
				schedule.UpdatedAt = time.Now().UTC()
				if err := m.store.UpdateSchedule(ctx, schedule); err != nil {
					return fmt.Errorf("complete schedule: %w", err)
				}
				m.logger.Info("schedule completed", "schedule_id", schedule.ID)
			}
		}
	}

	opItems, err := m.store.ListItems(ctx, storage.ItemFilter{OperationID: item.OperationID})
	if err != nil {
		return fmt.Errorf("list operation items: %w", err)
	}
	if !allTerminal(opItems) {
		return nil
	}
	status := toolstate.ClosingStatus(opItems)
	if _, err := m.state.EndOperation(ctx, item.OperationID, status, "schedule_completed", nil); err != nil {
		return err
	}
	return nil
}

func allTerminal(items []*models.ToolItem) bool {
	for _, item := range items {
		if !item.IsTerminal() {
			return false
		}
	}
	return len(items) > 0
}

func ids(items []*models.ToolItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
