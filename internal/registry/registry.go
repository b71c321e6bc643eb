// Package registry holds the immutable tool table: static metadata per
// tool type plus the capability interfaces tool bodies implement. The
// orchestrator and the schedule executor dispatch through it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rinlabs/rin/pkg/models"
)

// ErrUnknownTool is returned on a registry miss.
var ErrUnknownTool = errors.New("unknown tool")

// Result is the standard reply envelope a tool returns per turn.
type Result struct {
	// Status is the flow status, one of the Status* constants.
	Status string `json:"status"`

	// State is the operation state after this turn.
	State models.OperationState `json:"state"`

	// Response is the text shown to the user.
	Response string `json:"response"`

	// Data holds structured results (items, schedule info, api responses).
	Data map[string]any `json:"data,omitempty"`
}

// Flow statuses carried in Result.Status.
const (
	StatusOngoing          = "ongoing"
	StatusAwaitingApproval = "awaiting_approval"
	StatusCompleted        = "completed"
	StatusCancelled        = "cancelled"
	StatusError            = "error"
	StatusExit             = "exit"
)

// ExecutionResult reports one scheduled item execution.
type ExecutionResult struct {
	// Success indicates the side effect was carried out.
	Success bool `json:"success"`

	// APIResponse is the external service response on success.
	APIResponse map[string]any `json:"api_response,omitempty"`

	// Error describes the failure.
	Error string `json:"error,omitempty"`

	// Permanent marks failures that must not be retried.
	Permanent bool `json:"permanent,omitempty"`
}

// Runner starts or continues a tool operation for a user message.
type Runner interface {
	Run(ctx context.Context, sessionID, message string) (*Result, error)
}

// ContentGenerator produces count new items for an operation, used by the
// regeneration loop.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, op *models.ToolOperation, count int) ([]*models.ToolItem, error)
}

// ScheduledExecutor realizes one scheduled item. Implementations must be
// idempotent keyed by item id; the executor guarantees at-least-once.
type ScheduledExecutor interface {
	ExecuteScheduled(ctx context.Context, item *models.ToolItem) (*ExecutionResult, error)
}

// ConditionChecker evaluates a monitoring schedule's firing condition.
type ConditionChecker interface {
	CheckCondition(ctx context.Context, schedule *models.Schedule) (bool, error)
}

// Definition is one registry row.
type Definition struct {
	// ToolType is the registry key.
	ToolType string

	// ContentType names the artifact kind the tool produces.
	ContentType string

	// RequiresApproval gates items behind the approval protocol.
	RequiresApproval bool

	// RequiresScheduling routes approved items through a schedule.
	RequiresScheduling bool

	// RequiredCollaborators names the dependencies the tool needs
	// injected at construction.
	RequiredCollaborators []string
}

// Entry pairs a definition with its constructed tool instance.
type Entry struct {
	Definition Definition
	Tool       Runner
}

// Registry is the tool table. Registration happens at wiring time; lookups
// are concurrent.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a tool. Re-registering a tool type is an error.
func (r *Registry) Register(def Definition, tool Runner) error {
	if def.ToolType == "" {
		return fmt.Errorf("tool type is required")
	}
	if tool == nil {
		return fmt.Errorf("tool %s: instance is required", def.ToolType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.ToolType]; exists {
		return fmt.Errorf("tool %s already registered", def.ToolType)
	}
	r.entries[def.ToolType] = Entry{Definition: def, Tool: tool}
	return nil
}

// Get returns the entry for toolType or ErrUnknownTool.
func (r *Registry) Get(toolType string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[toolType]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownTool, toolType)
	}
	return entry, nil
}

// List returns all registered tool types, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for toolType := range r.entries {
		types = append(types, toolType)
	}
	sort.Strings(types)
	return types
}

// Executor returns the tool's scheduled-execution capability, or nil if
// the tool does not support it.
func (e Entry) Executor() ScheduledExecutor {
	if exec, ok := e.Tool.(ScheduledExecutor); ok {
		return exec
	}
	return nil
}

// Checker returns the tool's condition-check capability, or nil.
func (e Entry) Checker() ConditionChecker {
	if checker, ok := e.Tool.(ConditionChecker); ok {
		return checker
	}
	return nil
}

// Generator returns the tool's content-generation capability, or nil.
func (e Entry) Generator() ContentGenerator {
	if gen, ok := e.Tool.(ContentGenerator); ok {
		return gen
	}
	return nil
}
