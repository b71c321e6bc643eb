package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rinlabs/rin/internal/approval"
	"github.com/rinlabs/rin/internal/llm"
	"github.com/rinlabs/rin/internal/registry"
	"github.com/rinlabs/rin/internal/schedule"
	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/internal/toolstate"
	"github.com/rinlabs/rin/pkg/models"
)

// Tool type and operation kinds for the intents tool.
const (
	ToolTypeIntents = "intents"

	IntentDeposit    = "deposit"
	IntentWithdraw   = "withdraw"
	IntentSwap       = "swap"
	IntentLimitOrder = "limit_order"
)

// Defaults for limit-order monitoring.
const (
	defaultOrderExpiration    = 24 * time.Hour
	defaultOrderCheckInterval = 60 * time.Second
)

// IntentsDefinition is the registry row for the intents tool.
// RequiresScheduling declares the capability; only limit_order operations
// actually plan a schedule, while deposit, withdraw, and swap execute
// synchronously on approval (the per-operation flag lives on the
// operation itself).
func IntentsDefinition() registry.Definition {
	return registry.Definition{
		ToolType:              ToolTypeIntents,
		ContentType:           "intent",
		RequiresApproval:      true,
		RequiresScheduling:    true,
		RequiredCollaborators: []string{"llm", "near_client", "price_client"},
	}
}

// intentsCommand is the typed result of analyzing a token-operation
// request.
type intentsCommand struct {
	OperationType        string  `json:"operation_type"`
	TokenSymbol          string  `json:"token_symbol,omitempty"`
	Amount               float64 `json:"amount,omitempty"`
	DestinationAddress   string  `json:"destination_address,omitempty"`
	DestinationChain     string  `json:"destination_chain,omitempty"`
	FromToken            string  `json:"from_token,omitempty"`
	FromAmount           float64 `json:"from_amount,omitempty"`
	ToToken              string  `json:"to_token,omitempty"`
	MinPrice             float64 `json:"min_price,omitempty"`
	ExpirationHours      float64 `json:"expiration_hours,omitempty"`
	CheckIntervalSeconds int     `json:"check_interval_seconds,omitempty"`
}

const intentsAnalysisPrompt = `You analyze a user's token-operation request. Respond with strict JSON only, no prose and no markdown fences:
{"operation_type": "deposit" | "withdraw" | "swap" | "limit_order",
 "token_symbol": "token for deposit/withdraw",
 "amount": <amount for deposit/withdraw>,
 "destination_address": "withdraw destination, empty for the user's own",
 "destination_chain": "withdraw chain, default near",
 "from_token": "token to swap from",
 "from_amount": <amount to swap>,
 "to_token": "token to swap to",
 "min_price": <limit orders: minimum to_token per from_token; "$3.00 / NEAR" means 3.0>,
 "expiration_hours": <limit orders: hours until the order expires, default 24>,
 "check_interval_seconds": <limit orders: price check spacing, default 60>}
Include only the fields relevant to the operation type.`

// Intents is the NEAR token-operations tool: deposit, withdraw, and swap
// run synchronously after approval; limit orders become monitoring
// schedules that fire when the quoted price reaches min_price.
type Intents struct {
	state     *toolstate.Manager
	approvals *approval.Manager
	schedules *schedule.Manager
	provider  llm.Provider
	near      NearClient
	price     PriceClient
	model     string
	logger    *slog.Logger
}

// NewIntents wires the intents tool.
func NewIntents(state *toolstate.Manager, approvals *approval.Manager, schedules *schedule.Manager, provider llm.Provider, near NearClient, price PriceClient, model string, logger *slog.Logger) *Intents {
	if logger == nil {
		logger = slog.Default().With("component", "intents_tool")
	}
	return &Intents{
		state:     state,
		approvals: approvals,
		schedules: schedules,
		provider:  provider,
		near:      near,
		price:     price,
		model:     model,
		logger:    logger,
	}
}

// Run handles one conversational turn of the token-operation flow.
func (t *Intents) Run(ctx context.Context, sessionID, message string) (*registry.Result, error) {
	op, err := t.state.ActiveOperation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return t.begin(ctx, sessionID, message)
	}
	switch op.State {
	case models.StateApproving:
		return t.handleApproval(ctx, op, message)
	case models.StateCollecting:
		outcome, err := t.approvals.PresentItems(ctx, op.ID)
		if err != nil {
			return nil, err
		}
		return awaitResult(outcome), nil
	case models.StateExecuting:
		// The executor owns the operation now; release the session so the
		// user can chat while the order waits for its price.
		return &registry.Result{
			Status:   registry.StatusExit,
			State:    op.State,
			Response: "Your limit order is active. I'll execute it when the price condition is met.",
			Data:     map[string]any{"operation_id": op.ID},
		}, nil
	default:
		return nil, fmt.Errorf("operation %s in unexpected state %s", op.ID, op.State)
	}
}

func (t *Intents) begin(ctx context.Context, sessionID, message string) (*registry.Result, error) {
	cmd, err := t.analyzeCommand(ctx, message)
	if err != nil {
		return nil, err
	}

	op, err := t.state.StartOperation(ctx, sessionID, toolstate.OperationSpec{
		ToolType:           ToolTypeIntents,
		ContentType:        cmd.OperationType,
		Input:              models.OperationInput{Command: message},
		RequiresApproval:   true,
		RequiresScheduling: cmd.OperationType == IntentLimitOrder,
	})
	if err != nil {
		return nil, err
	}
	if _, err := t.state.UpdateOperation(ctx, op.ID, toolstate.Update{
		Metadata: map[string]any{"operation_type": cmd.OperationType},
	}); err != nil {
		return nil, err
	}

	scheduleID := ""
	if cmd.OperationType == IntentLimitOrder {
		scheduleID, err = t.schedules.InitializeSchedule(ctx, op.ID, sessionID, cmd.OperationType, schedule.Info{
			Type: models.ScheduleMonitoring,
			Monitor: &models.MonitorParams{
				CheckInterval: time.Duration(cmd.CheckIntervalSeconds) * time.Second,
				Expiration:    time.Now().UTC().Add(time.Duration(cmd.ExpirationHours * float64(time.Hour))),
				Condition: map[string]any{
					"min_price":   cmd.MinPrice,
					"from_token":  cmd.FromToken,
					"from_amount": cmd.FromAmount,
					"to_token":    cmd.ToToken,
				},
			},
		})
		if err != nil {
			return nil, err
		}
	}

	description, payload, err := t.describe(ctx, cmd)
	if err != nil {
		return nil, err
	}
	op, err = t.state.GetOperation(ctx, op.ID)
	if err != nil {
		return nil, err
	}
	if _, err := t.state.CreateItems(ctx, op, []models.ItemContent{
		{RawContent: description, Payload: payload},
	}, scheduleID); err != nil {
		return nil, err
	}

	outcome, err := t.approvals.PresentItems(ctx, op.ID)
	if err != nil {
		return nil, err
	}
	t.logger.Info("intent presented", "operation_id", op.ID, "operation_type", cmd.OperationType)
	result := awaitResult(outcome)
	result.Response = fmt.Sprintf("Please confirm this %s:\n%s", cmd.OperationType, outcome.Response)
	return result, nil
}

func (t *Intents) handleApproval(ctx context.Context, op *models.ToolOperation, message string) (*registry.Result, error) {
	outcome, err := t.approvals.ProcessReply(ctx, op.ID, message, nil)
	if err != nil {
		return nil, err
	}
	switch outcome.Action {
	case approval.ActionFullApproval:
		if op.Input.ScheduleID != "" {
			return t.activateOrder(ctx, outcome.Operation)
		}
		return t.executeSync(ctx, outcome.Operation)
	case approval.ActionPartialApproval, approval.ActionAwaitInput:
		return awaitResult(outcome), nil
	case approval.ActionCancel:
		return &registry.Result{
			Status:   registry.StatusCancelled,
			State:    outcome.Operation.State,
			Response: outcome.Response,
		}, nil
	default:
		return &registry.Result{
			Status:   registry.StatusError,
			State:    outcome.Operation.State,
			Response: outcome.Response,
		}, nil
	}
}

// activateOrder arms the monitoring schedule for an approved limit order.
func (t *Intents) activateOrder(ctx context.Context, op *models.ToolOperation) (*registry.Result, error) {
	ok, err := t.schedules.ActivateSchedule(ctx, op.ID, op.Input.ScheduleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("schedule %s could not be activated", op.Input.ScheduleID)
	}
	return &registry.Result{
		Status:   registry.StatusExit,
		State:    models.StateExecuting,
		Response: "Limit order placed. I'll watch the price and execute when your target is reached.",
		Data: map[string]any{
			"operation_id": op.ID,
			"schedule_id":  op.Input.ScheduleID,
		},
	}, nil
}

// executeSync carries out an approved deposit, withdraw, or swap
// immediately and closes the operation with the API result.
func (t *Intents) executeSync(ctx context.Context, op *models.ToolOperation) (*registry.Result, error) {
	items, err := t.state.ListOperationItems(ctx, op.ID, storage.ItemFilter{Status: models.StatusApproved})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("operation %s has no approved item to execute", op.ID)
	}
	item := items[0]

	resp, execErr := t.perform(ctx, op.ContentType, item)
	if execErr != nil {
		t.logger.Error("intent execution failed",
			"operation_id", op.ID, "operation_type", op.ContentType, "error", execErr)
		if err := t.state.UpdateItems(ctx, []string{item.ID}, models.StateError, models.StatusFailed); err != nil {
			return nil, err
		}
		op, err = t.state.EndOperation(ctx, op.ID, models.StatusFailed, execErr.Error(), nil)
		if err != nil {
			return nil, err
		}
		return &registry.Result{
			Status:   registry.StatusError,
			State:    op.State,
			Response: fmt.Sprintf("The %s failed: %v", op.ContentType, execErr),
		}, nil
	}

	if err := t.state.CompleteItem(ctx, item.ID, resp); err != nil {
		return nil, err
	}
	op, err = t.state.EndOperation(ctx, op.ID, models.StatusExecuted, "executed", resp)
	if err != nil {
		return nil, err
	}
	t.logger.Info("intent executed", "operation_id", op.ID, "operation_type", op.ContentType)
	return &registry.Result{
		Status:   registry.StatusCompleted,
		State:    op.State,
		Response: fmt.Sprintf("Done. The %s completed successfully.", op.ContentType),
		Data:     map[string]any{"operation_id": op.ID, "api_response": resp},
	}, nil
}

func (t *Intents) perform(ctx context.Context, operationType string, item *models.ToolItem) (map[string]any, error) {
	payload := item.Content.Payload
	switch operationType {
	case IntentDeposit:
		amount, _ := conditionFloat(payload, "amount")
		return t.near.Deposit(ctx, metadataString(payload, "token_symbol"), amount)
	case IntentWithdraw:
		amount, _ := conditionFloat(payload, "amount")
		return t.near.Withdraw(ctx,
			metadataString(payload, "token_symbol"), amount,
			metadataString(payload, "destination_address"), metadataString(payload, "destination_chain"))
	case IntentSwap:
		amount, _ := conditionFloat(payload, "from_amount")
		return t.near.Swap(ctx, item.ID, metadataString(payload, "from_token"), amount, metadataString(payload, "to_token"))
	default:
		return nil, fmt.Errorf("operation type %q cannot execute synchronously", operationType)
	}
}

// ExecuteScheduled performs the swap of a fired limit order. The client is
// idempotent keyed by item id.
func (t *Intents) ExecuteScheduled(ctx context.Context, item *models.ToolItem) (*registry.ExecutionResult, error) {
	payload := item.Content.Payload
	amount, ok := conditionFloat(payload, "from_amount")
	if !ok || amount <= 0 {
		return &registry.ExecutionResult{Error: "limit order item has no from_amount", Permanent: true}, nil
	}
	resp, err := t.near.Swap(ctx, item.ID, metadataString(payload, "from_token"), amount, metadataString(payload, "to_token"))
	if err != nil {
		return &registry.ExecutionResult{Error: err.Error()}, nil
	}
	return &registry.ExecutionResult{Success: true, APIResponse: resp}, nil
}

// CheckCondition quotes the pair and fires when the price reaches the
// order's min_price.
func (t *Intents) CheckCondition(ctx context.Context, sched *models.Schedule) (bool, error) {
	if sched.Monitor == nil {
		return false, fmt.Errorf("schedule %s has no monitor params", sched.ID)
	}
	minPrice, ok := conditionFloat(sched.Monitor.Condition, "min_price")
	if !ok {
		return false, fmt.Errorf("schedule %s has no min_price condition", sched.ID)
	}
	from := metadataString(sched.Monitor.Condition, "from_token")
	to := metadataString(sched.Monitor.Condition, "to_token")
	quote, err := t.price.Price(ctx, from, to)
	if err != nil {
		return false, fmt.Errorf("quote %s/%s: %w", from, to, err)
	}
	t.logger.Debug("limit order price check",
		"schedule_id", sched.ID, "quote", quote, "min_price", minPrice)
	return quote >= minPrice, nil
}

func (t *Intents) analyzeCommand(ctx context.Context, message string) (*intentsCommand, error) {
	raw, err := t.provider.Complete(ctx, []llm.Message{
		{Role: models.RoleUser, Content: message},
	}, llm.Options{Model: t.model, System: intentsAnalysisPrompt, Temperature: 0})
	if err != nil {
		return nil, fmt.Errorf("analyze intents command: %w", err)
	}
	var cmd intentsCommand
	if err := decodeJSONReply(raw, &cmd); err != nil {
		return nil, err
	}
	if err := validateIntents(&cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func validateIntents(cmd *intentsCommand) error {
	switch cmd.OperationType {
	case IntentDeposit, IntentWithdraw:
		if cmd.TokenSymbol == "" || cmd.Amount <= 0 {
			return fmt.Errorf("%s requires token_symbol and a positive amount", cmd.OperationType)
		}
		if cmd.OperationType == IntentWithdraw && cmd.DestinationChain == "" {
			cmd.DestinationChain = "near"
		}
	case IntentSwap:
		if cmd.FromToken == "" || cmd.ToToken == "" || cmd.FromAmount <= 0 {
			return fmt.Errorf("swap requires from_token, to_token, and a positive from_amount")
		}
	case IntentLimitOrder:
		if cmd.FromToken == "" || cmd.ToToken == "" || cmd.FromAmount <= 0 {
			return fmt.Errorf("limit_order requires from_token, to_token, and a positive from_amount")
		}
		if cmd.MinPrice <= 0 {
			return fmt.Errorf("limit_order requires a positive min_price")
		}
		if cmd.ExpirationHours <= 0 {
			cmd.ExpirationHours = defaultOrderExpiration.Hours()
		}
		if cmd.CheckIntervalSeconds <= 0 {
			cmd.CheckIntervalSeconds = int(defaultOrderCheckInterval.Seconds())
		}
	default:
		return fmt.Errorf("unknown operation type %q", cmd.OperationType)
	}
	return nil
}

// describe builds the human confirmation text and the execution payload
// for one analyzed command.
func (t *Intents) describe(ctx context.Context, cmd *intentsCommand) (string, map[string]any, error) {
	switch cmd.OperationType {
	case IntentDeposit:
		return fmt.Sprintf("Deposit %v %s into the intents contract.", cmd.Amount, cmd.TokenSymbol),
			map[string]any{"token_symbol": cmd.TokenSymbol, "amount": cmd.Amount}, nil
	case IntentWithdraw:
		destination := cmd.DestinationAddress
		if destination == "" {
			destination = "your address"
		}
		return fmt.Sprintf("Withdraw %v %s to %s on %s.", cmd.Amount, cmd.TokenSymbol, destination, cmd.DestinationChain),
			map[string]any{
				"token_symbol":        cmd.TokenSymbol,
				"amount":              cmd.Amount,
				"destination_address": cmd.DestinationAddress,
				"destination_chain":   cmd.DestinationChain,
			}, nil
	case IntentSwap:
		quote, err := t.price.Price(ctx, cmd.FromToken, cmd.ToToken)
		if err != nil {
			return "", nil, fmt.Errorf("quote %s/%s: %w", cmd.FromToken, cmd.ToToken, err)
		}
		return fmt.Sprintf("Swap %v %s for approximately %.4f %s at the current price of %.4f %s per %s.",
				cmd.FromAmount, cmd.FromToken, cmd.FromAmount*quote, cmd.ToToken, quote, cmd.ToToken, cmd.FromToken),
			map[string]any{
				"from_token":  cmd.FromToken,
				"from_amount": cmd.FromAmount,
				"to_token":    cmd.ToToken,
				"quote":       quote,
			}, nil
	case IntentLimitOrder:
		return fmt.Sprintf("Limit order: swap %v %s to %s once the price reaches %.4f %s per %s (checked every %ds, expires in %.0fh).",
				cmd.FromAmount, cmd.FromToken, cmd.ToToken, cmd.MinPrice, cmd.ToToken, cmd.FromToken,
				cmd.CheckIntervalSeconds, cmd.ExpirationHours),
			map[string]any{
				"from_token":  cmd.FromToken,
				"from_amount": cmd.FromAmount,
				"to_token":    cmd.ToToken,
				"min_price":   cmd.MinPrice,
			}, nil
	default:
		return "", nil, fmt.Errorf("unknown operation type %q", cmd.OperationType)
	}
}
