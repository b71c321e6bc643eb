// Package orchestrator dispatches tool-operation turns to the registered
// tool bodies and normalizes their failures into result envelopes so the
// conversation never dies on a tool error.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rinlabs/rin/internal/registry"
	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/internal/toolstate"
	"github.com/rinlabs/rin/pkg/models"
)

// Orchestrator routes one tool turn to its tool body.
type Orchestrator struct {
	registry *registry.Registry
	state    *toolstate.Manager
	logger   *slog.Logger
}

// New creates an orchestrator over the registry.
func New(reg *registry.Registry, state *toolstate.Manager, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default().With("component", "orchestrator")
	}
	return &Orchestrator{registry: reg, state: state, logger: logger}
}

// HandleToolOperation runs one turn of toolType for the session. Tool
// failures abort the active operation and come back as an error envelope
// rather than an error, so the caller can drop back to normal chat.
func (o *Orchestrator) HandleToolOperation(ctx context.Context, sessionID, toolType, message string) (*registry.Result, error) {
	entry, err := o.registry.Get(toolType)
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", toolType, err)
	}

	result, err := entry.Tool.Run(ctx, sessionID, message)
	if err != nil {
		o.logger.Error("tool turn failed",
			"session_id", sessionID, "tool_type", toolType, "error", err)
		if abortErr := o.abortActive(ctx, sessionID, err.Error()); abortErr != nil {
			o.logger.Error("abort after tool failure failed",
				"session_id", sessionID, "error", abortErr)
		}
		return &registry.Result{
			Status:   registry.StatusError,
			State:    models.StateError,
			Response: "Something went wrong with that operation, so I stopped it.",
		}, nil
	}
	if result == nil {
		return nil, fmt.Errorf("tool %s returned no result", toolType)
	}
	return result, nil
}

// abortActive fails the session's active operation and its open items
// after an unrecoverable tool error.
func (o *Orchestrator) abortActive(ctx context.Context, sessionID, reason string) error {
	op, err := o.state.ActiveOperation(ctx, sessionID)
	if err != nil || op == nil {
		return err
	}
	items, err := o.state.ListOperationItems(ctx, op.ID, storage.ItemFilter{})
	if err != nil {
		return err
	}
	var open []string
	for _, item := range items {
		if !item.IsTerminal() {
			open = append(open, item.ID)
		}
	}
	if len(open) > 0 {
		if err := o.state.UpdateItems(ctx, open, models.StateError, models.StatusFailed); err != nil {
			return err
		}
	}
	_, err = o.state.EndOperation(ctx, op.ID, models.StatusFailed, reason, nil)
	return err
}
