package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rinlabs/rin/internal/backoff"
	"github.com/rinlabs/rin/internal/registry"
	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/pkg/models"
)

// reportRetryPolicy governs the short retry on outcome reporting. A lost
// report strands the item in executing-claimed until the reclaim sweep.
var reportRetryPolicy = backoff.Policy{Base: 100 * time.Millisecond, Max: time.Second, Factor: 2}

const reportRetryAttempts = 3

// ExecutorConfig tunes the background worker.
type ExecutorConfig struct {
	// TickInterval is the due-item sweep cadence.
	TickInterval time.Duration

	// ClaimTimeout is how long a claim may sit before it is reclaimed.
	ClaimTimeout time.Duration

	// ToolCallTimeout bounds each outbound tool execution.
	ToolCallTimeout time.Duration
}

// DefaultExecutorConfig returns the engine defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		TickInterval:    time.Second,
		ClaimTimeout:    60 * time.Second,
		ToolCallTimeout: 30 * time.Second,
	}
}

// Executor is the single long-lived background worker. Each tick it sweeps
// due items, sweeps active monitors, and reclaims stale claims. Execution
// is at-least-once: tool bodies must be idempotent keyed by item id.
type Executor struct {
	store    storage.Store
	manager  *Manager
	registry *registry.Registry
	cfg      ExecutorConfig
	metrics  *Metrics
	logger   *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastCheck map[string]time.Time
}

// NewExecutor creates the worker. metrics may be nil.
func NewExecutor(store storage.Store, manager *Manager, reg *registry.Registry, cfg ExecutorConfig, metrics *Metrics, logger *slog.Logger) *Executor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultExecutorConfig().TickInterval
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = DefaultExecutorConfig().ClaimTimeout
	}
	if cfg.ToolCallTimeout <= 0 {
		cfg.ToolCallTimeout = DefaultExecutorConfig().ToolCallTimeout
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default().With("component", "executor")
	}
	return &Executor{
		store:     store,
		manager:   manager,
		registry:  reg,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		lastCheck: make(map[string]time.Time),
	}
}

// Start launches the worker loop. It is a no-op if already running.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go e.run(runCtx)
	e.logger.Info("executor started", "tick", e.cfg.TickInterval)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (e *Executor) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	e.logger.Info("executor stopped")
}

func (e *Executor) run(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.RunOnce(ctx, now.UTC())
		}
	}
}

// RunOnce performs a single sweep at the given instant. Exported so tests
// can drive the executor deterministically.
func (e *Executor) RunOnce(ctx context.Context, now time.Time) {
	if reclaimed, err := e.store.ReclaimStaleClaims(ctx, now.Add(-e.cfg.ClaimTimeout)); err != nil {
		e.logger.Error("reclaim sweep failed", "error", err)
	} else if reclaimed > 0 {
		e.metrics.ClaimsReclaimed.Add(float64(reclaimed))
		e.logger.Warn("reclaimed stale claims", "count", reclaimed)
	}
	// Monitors sweep first: an expired monitor's items carry the
	// expiration as their scheduled time and must fail, not execute.
	e.sweepMonitors(ctx, now)
	e.sweepDue(ctx, now)
}

// sweepDue claims and executes every due item, in scheduled_time then
// item-id order. One claim per item per tick.
func (e *Executor) sweepDue(ctx context.Context, now time.Time) {
	due, err := e.store.ListDueItems(ctx, now)
	if err != nil {
		e.logger.Error("due sweep failed", "error", err)
		return
	}
	for _, item := range due {
		if ctx.Err() != nil {
			return
		}
		claimed, err := e.store.ClaimItem(ctx, item.ID, now)
		if err != nil {
			e.logger.Error("claim failed", "item_id", item.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		e.executeItem(ctx, item)
	}
}

// executeItem dispatches one claimed item to its owning tool and reports
// the outcome.
func (e *Executor) executeItem(ctx context.Context, item *models.ToolItem) {
	op, err := e.store.GetOperation(ctx, item.OperationID)
	if err != nil {
		e.logger.Error("operation lookup failed", "item_id", item.ID, "error", err)
		e.report(ctx, item.ID, &registry.ExecutionResult{Error: fmt.Sprintf("operation lookup: %v", err)})
		return
	}
	entry, err := e.registry.Get(op.ToolType)
	if err != nil {
		e.report(ctx, item.ID, &registry.ExecutionResult{Error: err.Error(), Permanent: true})
		return
	}
	exec := entry.Executor()
	if exec == nil {
		e.report(ctx, item.ID, &registry.ExecutionResult{
			Error:     fmt.Sprintf("tool %s cannot execute scheduled items", op.ToolType),
			Permanent: true,
		})
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolCallTimeout)
	result, err := exec.ExecuteScheduled(callCtx, item)
	cancel()
	if err != nil {
		result = &registry.ExecutionResult{Error: err.Error()}
	}
	e.report(ctx, item.ID, result)
}

func (e *Executor) report(ctx context.Context, itemID string, result *registry.ExecutionResult) {
	if result != nil && result.Success {
		e.metrics.ItemsExecuted.Inc()
	} else {
		e.metrics.ItemsFailed.Inc()
	}
	err := backoff.Retry(ctx, reportRetryPolicy, reportRetryAttempts, func() error {
		return e.manager.RecordExecution(ctx, itemID, result)
	})
	if err != nil {
		e.logger.Error("record execution failed", "item_id", itemID, "error", err)
	}
}

// sweepMonitors expires overdue monitoring schedules and evaluates firing
// conditions on the remainder, honoring each monitor's check interval.
func (e *Executor) sweepMonitors(ctx context.Context, now time.Time) {
	monitors, err := e.store.ListActiveMonitors(ctx)
	if err != nil {
		e.logger.Error("monitor sweep failed", "error", err)
		return
	}
	active := make(map[string]bool, len(monitors))
	for _, schedule := range monitors {
		active[schedule.ID] = true
	}
	e.pruneChecks(active)
	for _, schedule := range monitors {
		if ctx.Err() != nil {
			return
		}
		if schedule.Monitor == nil {
			continue
		}
		if !now.Before(schedule.Monitor.Expiration) {
			e.metrics.MonitorsExpired.Inc()
			if err := e.manager.ExpireMonitor(ctx, schedule); err != nil {
				e.logger.Error("expire monitor failed", "schedule_id", schedule.ID, "error", err)
			}
			continue
		}
		if !e.dueForCheck(schedule.ID, schedule.Monitor.CheckInterval, now) {
			continue
		}
		e.checkMonitor(ctx, schedule, now)
	}
}

func (e *Executor) dueForCheck(scheduleID string, interval time.Duration, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastCheck[scheduleID]
	if ok && now.Sub(last) < interval {
		return false
	}
	e.lastCheck[scheduleID] = now
	return true
}

// pruneChecks drops last-check entries for schedules no longer in the
// active monitor set, so fired and expired monitors do not accumulate
// bookkeeping for the life of the process.
func (e *Executor) pruneChecks(active map[string]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.lastCheck {
		if !active[id] {
			delete(e.lastCheck, id)
		}
	}
}

// checkMonitor evaluates the schedule's condition and, on fire, executes
// the first still-pending item.
func (e *Executor) checkMonitor(ctx context.Context, schedule *models.Schedule, now time.Time) {
	op, err := e.store.GetOperation(ctx, schedule.OperationID)
	if err != nil {
		e.logger.Error("operation lookup failed", "schedule_id", schedule.ID, "error", err)
		return
	}
	entry, err := e.registry.Get(op.ToolType)
	if err != nil {
		e.logger.Error("monitor tool missing", "schedule_id", schedule.ID, "error", err)
		return
	}
	checker := entry.Checker()
	if checker == nil {
		e.logger.Error("tool cannot check conditions", "schedule_id", schedule.ID, "tool_type", op.ToolType)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolCallTimeout)
	fire, err := checker.CheckCondition(callCtx, schedule)
	cancel()
	if err != nil {
		e.logger.Warn("condition check failed", "schedule_id", schedule.ID, "error", err)
		return
	}
	if !fire {
		return
	}
	e.metrics.MonitorsFired.Inc()
	e.logger.Info("monitor fired", "schedule_id", schedule.ID)

	pending, err := e.store.ListItems(ctx, storage.ItemFilter{
		ScheduleID: schedule.ID,
		Status:     models.StatusScheduled,
	})
	if err != nil {
		e.logger.Error("list monitor items failed", "schedule_id", schedule.ID, "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	item := pending[0]
	claimed, err := e.store.ClaimItem(ctx, item.ID, now)
	if err != nil || !claimed {
		return
	}
	e.executeItem(ctx, item)
}
