package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rinlabs/rin/internal/registry"
	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/internal/toolstate"
	"github.com/rinlabs/rin/pkg/models"
)

// Config tunes the approval protocol.
type Config struct {
	// MaxRegenerationRounds bounds approving → collecting cycles per
	// operation. Exceeding it forces a cancel.
	MaxRegenerationRounds int
}

// DefaultConfig returns the default protocol bounds.
func DefaultConfig() Config {
	return Config{MaxRegenerationRounds: 3}
}

// Outcome is the result of one approval-protocol step.
type Outcome struct {
	// Action is the applied action.
	Action Action

	// Operation is the refreshed operation after the step.
	Operation *models.ToolOperation

	// Items are the items relevant to the step: the presented set for
	// await states, the newly generated set after regeneration.
	Items []*models.ToolItem

	// Response is the text to show the user.
	Response string
}

// Manager drives the approving state for operations.
type Manager struct {
	state      *toolstate.Manager
	classifier *Classifier
	cfg        Config
	logger     *slog.Logger
}

// NewManager creates an approval manager.
func NewManager(state *toolstate.Manager, classifier *Classifier, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxRegenerationRounds <= 0 {
		cfg.MaxRegenerationRounds = DefaultConfig().MaxRegenerationRounds
	}
	if logger == nil {
		logger = slog.Default().With("component", "approval")
	}
	return &Manager{state: state, classifier: classifier, cfg: cfg, logger: logger}
}

// PresentItems moves the operation's undecided items into the approving
// state and returns the numbered presentation. The operation must be in
// collecting; it transitions to approving.
func (m *Manager) PresentItems(ctx context.Context, operationID string) (*Outcome, error) {
	op, err := m.state.GetOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	items, err := m.state.ListOperationItems(ctx, operationID, storage.ItemFilter{
		State:  models.StateCollecting,
		Status: models.StatusPending,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("operation %s has no items to present", operationID)
	}
	ids := itemIDs(items)
	if err := m.state.UpdateItems(ctx, ids, models.StateApproving, models.StatusPending); err != nil {
		return nil, err
	}
	if op.State == models.StateCollecting {
		op, err = m.state.UpdateOperation(ctx, operationID, toolstate.Update{State: models.StateApproving})
		if err != nil {
			return nil, err
		}
	}
	for _, item := range items {
		item.State = models.StateApproving
	}
	return &Outcome{
		Action:    ActionAwaitInput,
		Operation: op,
		Items:     items,
		Response:  presentList(items),
	}, nil
}

// ProcessReply classifies one user reply for an approving operation and
// applies the resulting action. generator supplies replacement items for
// the regeneration loop; it may be nil for tools without that capability.
func (m *Manager) ProcessReply(ctx context.Context, operationID, reply string, generator registry.ContentGenerator) (*Outcome, error) {
	op, err := m.state.GetOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if op.State != models.StateApproving {
		return nil, fmt.Errorf("operation %s is %s, not approving", operationID, op.State)
	}
	items, err := m.state.ListOperationItems(ctx, operationID, storage.ItemFilter{
		State:  models.StateApproving,
		Status: models.StatusPending,
	})
	if err != nil {
		return nil, err
	}

	cls, err := m.classifier.Classify(ctx, items, reply)
	if errors.Is(err, ErrMalformedClassification) {
		return m.handleMalformed(ctx, op, items)
	}
	if err != nil {
		return nil, err
	}
	if op.Metadata.MalformedReplies > 0 {
		zero := 0
		if op, err = m.state.UpdateOperation(ctx, operationID, toolstate.Update{MalformedReplies: &zero}); err != nil {
			return nil, err
		}
	}

	m.logger.Info("approval reply classified",
		"operation_id", operationID, "action", cls.Action, "items", len(items))

	switch cls.Action {
	case ActionFullApproval:
		return m.applyFullApproval(ctx, op, items)
	case ActionPartialApproval:
		if err := validatePartition(cls.ApprovedIndices, cls.RegenerateIndices, len(items)); err != nil {
			return &Outcome{
				Action:    ActionAwaitInput,
				Operation: op,
				Items:     items,
				Response: fmt.Sprintf("I couldn't map that to the %d items (%v). Please say which numbers to approve and which to redo.",
					len(items), err),
			}, nil
		}
		return m.applyPartialApproval(ctx, op, items, cls.ApprovedIndices, cls.RegenerateIndices, generator)
	case ActionRegenerateAll:
		all := make([]int, len(items))
		for i := range items {
			all[i] = i + 1
		}
		return m.applyPartialApproval(ctx, op, items, nil, all, generator)
	case ActionCancel:
		return m.applyCancel(ctx, op, "user_cancel")
	case ActionAwaitInput:
		response := cls.Rationale
		if response == "" {
			response = fmt.Sprintf("Please approve or reject the %d items, e.g. \"approve all\", \"approve 1, redo 2\", or \"cancel\".", len(items))
		}
		return &Outcome{Action: ActionAwaitInput, Operation: op, Items: items, Response: response}, nil
	case ActionError:
		return m.applyError(ctx, op, cls.Rationale)
	default:
		return m.handleMalformed(ctx, op, items)
	}
}

func (m *Manager) handleMalformed(ctx context.Context, op *models.ToolOperation, items []*models.ToolItem) (*Outcome, error) {
	count := op.Metadata.MalformedReplies + 1
	if count >= 2 {
		m.logger.Warn("repeated malformed classification, aborting", "operation_id", op.ID)
		return m.applyError(ctx, op, "classification_malformed")
	}
	op, err := m.state.UpdateOperation(ctx, op.ID, toolstate.Update{MalformedReplies: &count})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Action:    ActionAwaitInput,
		Operation: op,
		Items:     items,
		Response:  "I didn't catch that. Please say which items to approve, which to redo, or \"cancel\".",
	}, nil
}

func (m *Manager) applyFullApproval(ctx context.Context, op *models.ToolOperation, items []*models.ToolItem) (*Outcome, error) {
	ids := itemIDs(items)
	if err := m.state.UpdateItems(ctx, ids, models.StateExecuting, models.StatusApproved); err != nil {
		return nil, err
	}
	approved := append(append([]string(nil), op.Output.ApprovedItemIDs...), ids...)
	op, err := m.state.UpdateOperation(ctx, op.ID, toolstate.Update{
		State:           models.StateExecuting,
		ApprovedItemIDs: approved,
		PendingItemIDs:  []string{},
		Status:          models.StatusApproved,
	})
	if err != nil {
		return nil, err
	}
	approvedItems, err := m.state.ListOperationItems(ctx, op.ID, storage.ItemFilter{Status: models.StatusApproved})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Action:    ActionFullApproval,
		Operation: op,
		Items:     approvedItems,
		Response:  fmt.Sprintf("All %d items approved.", len(approvedItems)),
	}, nil
}

func (m *Manager) applyPartialApproval(ctx context.Context, op *models.ToolOperation, items []*models.ToolItem, approvedIdx, regenerateIdx []int, generator registry.ContentGenerator) (*Outcome, error) {
	rounds := op.Metadata.RegenerationRounds + 1
	if rounds > m.cfg.MaxRegenerationRounds {
		m.logger.Warn("regeneration limit reached, cancelling",
			"operation_id", op.ID, "rounds", rounds, "max", m.cfg.MaxRegenerationRounds)
		return m.applyCancel(ctx, op, "regeneration_limit")
	}
	if generator == nil {
		return m.applyError(ctx, op, "tool cannot regenerate content")
	}

	approvedIDs := idsForIndices(items, approvedIdx)
	regenerateIDs := idsForIndices(items, regenerateIdx)

	if len(approvedIDs) > 0 {
		if err := m.state.UpdateItems(ctx, approvedIDs, models.StateExecuting, models.StatusApproved); err != nil {
			return nil, err
		}
	}
	if err := m.state.UpdateItems(ctx, regenerateIDs, models.StateCompleted, models.StatusRejected); err != nil {
		return nil, err
	}

	op, err := m.state.UpdateOperation(ctx, op.ID, toolstate.Update{
		State:              models.StateCollecting,
		ApprovedItemIDs:    appendIDs(op.Output.ApprovedItemIDs, approvedIDs),
		RejectedItemIDs:    appendIDs(op.Output.RejectedItemIDs, regenerateIDs),
		PendingItemIDs:     []string{},
		RegenerationRounds: &rounds,
	})
	if err != nil {
		return nil, err
	}

	newItems, err := generator.GenerateContent(ctx, op, len(regenerateIDs))
	if err != nil {
		return nil, fmt.Errorf("regenerate content: %w", err)
	}
	op, err = m.state.UpdateOperation(ctx, op.ID, toolstate.Update{State: models.StateApproving})
	if err != nil {
		return nil, err
	}
	if err := m.state.UpdateItems(ctx, itemIDs(newItems), models.StateApproving, models.StatusPending); err != nil {
		return nil, err
	}
	for _, item := range newItems {
		item.State = models.StateApproving
	}
	return &Outcome{
		Action:    ActionPartialApproval,
		Operation: op,
		Items:     newItems,
		Response:  "Here are the regenerated items:\n" + presentList(newItems),
	}, nil
}

func (m *Manager) applyCancel(ctx context.Context, op *models.ToolOperation, reason string) (*Outcome, error) {
	if err := m.cancelRemainingItems(ctx, op.ID); err != nil {
		return nil, err
	}
	op, err := m.state.EndOperation(ctx, op.ID, models.StatusRejected, reason, nil)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Action:    ActionCancel,
		Operation: op,
		Response:  "Operation cancelled.",
	}, nil
}

func (m *Manager) applyError(ctx context.Context, op *models.ToolOperation, reason string) (*Outcome, error) {
	items, err := m.state.ListOperationItems(ctx, op.ID, storage.ItemFilter{})
	if err != nil {
		return nil, err
	}
	var open []string
	for _, item := range items {
		if !item.IsTerminal() {
			open = append(open, item.ID)
		}
	}
	if len(open) > 0 {
		if err := m.state.UpdateItems(ctx, open, models.StateError, models.StatusFailed); err != nil {
			return nil, err
		}
	}
	op, err = m.state.EndOperation(ctx, op.ID, models.StatusFailed, reason, nil)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Action:    ActionError,
		Operation: op,
		Response:  "Something went wrong with this operation, so I stopped it.",
	}, nil
}

func (m *Manager) cancelRemainingItems(ctx context.Context, operationID string) error {
	items, err := m.state.ListOperationItems(ctx, operationID, storage.ItemFilter{})
	if err != nil {
		return err
	}
	var open []string
	for _, item := range items {
		if !item.IsTerminal() {
			open = append(open, item.ID)
		}
	}
	if len(open) == 0 {
		return nil
	}
	return m.state.UpdateItems(ctx, open, models.StateCancelled, models.StatusRejected)
}

func presentList(items []*models.ToolItem) string {
	var sb strings.Builder
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, item.Content.RawContent)
	}
	sb.WriteString("\nReply with e.g. \"approve all\", \"approve 1, redo 2\", or \"cancel\".")
	return sb.String()
}

func itemIDs(items []*models.ToolItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

// idsForIndices maps 1-based presentation indices to item ids.
func idsForIndices(items []*models.ToolItem, indices []int) []string {
	ids := make([]string, 0, len(indices))
	for _, idx := range indices {
		if idx >= 1 && idx <= len(items) {
			ids = append(ids, items[idx-1].ID)
		}
	}
	return ids
}

func appendIDs(existing, added []string) []string {
	return append(append([]string(nil), existing...), added...)
}
