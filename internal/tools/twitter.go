package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rinlabs/rin/internal/approval"
	"github.com/rinlabs/rin/internal/llm"
	"github.com/rinlabs/rin/internal/registry"
	"github.com/rinlabs/rin/internal/schedule"
	"github.com/rinlabs/rin/internal/toolstate"
	"github.com/rinlabs/rin/internal/trigger"
	"github.com/rinlabs/rin/pkg/models"
)

// Tool and content type names for the twitter tool.
const (
	ToolTypeTwitter  = "twitter"
	ContentTypeTweet = "tweet"
)

// TwitterDefinition is the registry row for the twitter tool.
func TwitterDefinition() registry.Definition {
	return registry.Definition{
		ToolType:              ToolTypeTwitter,
		ContentType:           ContentTypeTweet,
		RequiresApproval:      true,
		RequiresScheduling:    true,
		RequiredCollaborators: []string{"llm", "twitter_client"},
	}
}

// twitterCommand is the typed result of analyzing a twitter request.
type twitterCommand struct {
	Topic           string `json:"topic"`
	ItemCount       int    `json:"item_count"`
	ScheduleType    string `json:"schedule_type"`
	StartTime       string `json:"start_time,omitempty"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
}

const twitterAnalysisPrompt = `You analyze a user's twitter request. Respond with strict JSON only, no prose and no markdown fences:
{"topic": "what the tweets are about",
 "item_count": <number of tweets, default 1>,
 "schedule_type": "one_time" or "multiple",
 "start_time": "RFC3339 timestamp, empty for as soon as possible",
 "interval_seconds": <spacing between tweets for multiple, default 60>}
Use "multiple" only when the user asks for more than one tweet.`

const twitterDraftPrompt = `You ghostwrite tweets. Respond with strict JSON only, no prose and no markdown fences:
{"tweets": ["tweet text", ...]}
Each tweet must be at most 280 characters. Produce exactly the requested number of tweets.`

// Twitter is the scheduled-tweets tool: it drafts tweets with the LLM,
// gates them behind approval, and posts them through the injected client
// on schedule.
type Twitter struct {
	state     *toolstate.Manager
	approvals *approval.Manager
	schedules *schedule.Manager
	provider  llm.Provider
	client    TwitterClient
	model     string
	logger    *slog.Logger
}

// NewTwitter wires the twitter tool.
func NewTwitter(state *toolstate.Manager, approvals *approval.Manager, schedules *schedule.Manager, provider llm.Provider, client TwitterClient, model string, logger *slog.Logger) *Twitter {
	if logger == nil {
		logger = slog.Default().With("component", "twitter_tool")
	}
	return &Twitter{
		state:     state,
		approvals: approvals,
		schedules: schedules,
		provider:  provider,
		client:    client,
		model:     model,
		logger:    logger,
	}
}

// Run handles one conversational turn of the tweet flow.
func (t *Twitter) Run(ctx context.Context, sessionID, message string) (*registry.Result, error) {
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
		// next message is plain chat instead of a new tweet command.
		return &registry.Result{
			Status:   registry.StatusExit,
			State:    op.State,
			Response: "Your tweets are scheduled and will be posted automatically.",
			Data:     map[string]any{"operation_id": op.ID},
		}, nil
	default:
		return nil, fmt.Errorf("operation %s in unexpected state %s", op.ID, op.State)
	}
}

func (t *Twitter) begin(ctx context.Context, sessionID, message string) (*registry.Result, error) {
	cmd, err := t.analyzeCommand(ctx, message)
	if err != nil {
		return nil, err
	}

	op, err := t.state.StartOperation(ctx, sessionID, toolstate.OperationSpec{
		ToolType:           ToolTypeTwitter,
		ContentType:        ContentTypeTweet,
		Input:              models.OperationInput{Command: message},
		RequiresApproval:   true,
		RequiresScheduling: true,
	})
	if err != nil {
		return nil, err
	}
	if _, err := t.state.UpdateOperation(ctx, op.ID, toolstate.Update{
		Metadata: map[string]any{
			"topic":         cmd.Topic,
			"item_count":    cmd.ItemCount,
			"schedule_type": cmd.ScheduleType,
		},
	}); err != nil {
		return nil, err
	}

	info, err := scheduleInfoFor(cmd)
	if err != nil {
		return nil, err
	}
	scheduleID, err := t.schedules.InitializeSchedule(ctx, op.ID, sessionID, ContentTypeTweet, info)
	if err != nil {
		return nil, err
	}

	op, err = t.state.GetOperation(ctx, op.ID)
	if err != nil {
		return nil, err
	}
	if _, err := t.generate(ctx, op, cmd.Topic, cmd.ItemCount, scheduleID); err != nil {
		return nil, err
	}

	outcome, err := t.approvals.PresentItems(ctx, op.ID)
	if err != nil {
		return nil, err
	}
	t.logger.Info("tweet drafts presented",
		"operation_id", op.ID, "count", len(outcome.Items), "schedule_type", cmd.ScheduleType)
	result := awaitResult(outcome)
	result.Response = fmt.Sprintf("Here are %d tweet drafts:\n%s", len(outcome.Items), outcome.Response)
	return result, nil
}

func (t *Twitter) handleApproval(ctx context.Context, op *models.ToolOperation, message string) (*registry.Result, error) {
	outcome, err := t.approvals.ProcessReply(ctx, op.ID, message, t)
	if err != nil {
		return nil, err
	}
	switch outcome.Action {
	case approval.ActionFullApproval:
		return t.activate(ctx, outcome.Operation)
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

// activate hands the approved items to the schedule and ends the
// conversational flow; the executor takes over from here.
func (t *Twitter) activate(ctx context.Context, op *models.ToolOperation) (*registry.Result, error) {
	if op.Input.ScheduleID == "" {
		return nil, fmt.Errorf("operation %s has no schedule", op.ID)
	}
	ok, err := t.schedules.ActivateSchedule(ctx, op.ID, op.Input.ScheduleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("schedule %s could not be activated", op.Input.ScheduleID)
	}
	count := len(op.Output.ApprovedItemIDs)
	return &registry.Result{
		Status:   registry.StatusExit,
		State:    models.StateExecuting,
		Response: fmt.Sprintf("%d tweets approved and scheduled. I'll post them automatically.", count),
		Data: map[string]any{
			"operation_id": op.ID,
			"schedule_id":  op.Input.ScheduleID,
			"items":        count,
		},
	}, nil
}

func (t *Twitter) analyzeCommand(ctx context.Context, message string) (*twitterCommand, error) {
	raw, err := t.provider.Complete(ctx, []llm.Message{
		{Role: models.RoleUser, Content: message},
	}, llm.Options{Model: t.model, System: twitterAnalysisPrompt, Temperature: 0})
	if err != nil {
		return nil, fmt.Errorf("analyze twitter command: %w", err)
	}
	var cmd twitterCommand
	if err := decodeJSONReply(raw, &cmd); err != nil {
		return nil, err
	}
	if cmd.Topic == "" {
		cmd.Topic = message
	}
	if cmd.ItemCount <= 0 {
		cmd.ItemCount = 1
	}
	if cmd.ScheduleType == "" {
		if trigger.OperationKind(message) == trigger.KindScheduleTweets {
			cmd.ScheduleType = string(models.ScheduleMultiple)
		} else {
			cmd.ScheduleType = string(models.ScheduleOneTime)
		}
	}
	if cmd.IntervalSeconds <= 0 {
		cmd.IntervalSeconds = 60
	}
	return &cmd, nil
}

// generate drafts count tweets and records them as pending items.
func (t *Twitter) generate(ctx context.Context, op *models.ToolOperation, topic string, count int, scheduleID string) ([]*models.ToolItem, error) {
	raw, err := t.provider.Complete(ctx, []llm.Message{
		{Role: models.RoleUser, Content: fmt.Sprintf("Write %d tweets about: %s", count, topic)},
	}, llm.Options{Model: t.model, System: twitterDraftPrompt})
	if err != nil {
		return nil, fmt.Errorf("draft tweets: %w", err)
	}
	var drafts struct {
		Tweets []string `json:"tweets"`
	}
	if err := decodeJSONReply(raw, &drafts); err != nil {
		return nil, err
	}
	// Regeneration replaces an exact set of rejected items, so a short
	// batch cannot be accepted; surplus drafts are just trimmed.
	if len(drafts.Tweets) < count {
		return nil, fmt.Errorf("draft tweets: model returned %d of %d requested", len(drafts.Tweets), count)
	}
	drafts.Tweets = drafts.Tweets[:count]
	contents := make([]models.ItemContent, len(drafts.Tweets))
	for i, text := range drafts.Tweets {
		contents[i] = models.ItemContent{
			RawContent: strings.TrimSpace(text),
			Payload:    map[string]any{"topic": topic},
		}
	}
	return t.state.CreateItems(ctx, op, contents, scheduleID)
}

// GenerateContent produces replacement drafts for the regeneration loop.
func (t *Twitter) GenerateContent(ctx context.Context, op *models.ToolOperation, count int) ([]*models.ToolItem, error) {
	topic := metadataString(op.Metadata.Extra, "topic")
	if topic == "" {
		topic = op.Input.Command
	}
	return t.generate(ctx, op, topic, count, op.Input.ScheduleID)
}

// ExecuteScheduled posts one approved tweet. The client is idempotent
// keyed by item id, so re-execution after a reclaimed claim is safe.
func (t *Twitter) ExecuteScheduled(ctx context.Context, item *models.ToolItem) (*registry.ExecutionResult, error) {
	resp, err := t.client.PostTweet(ctx, item.ID, item.Content.RawContent)
	if err != nil {
		return &registry.ExecutionResult{Error: err.Error()}, nil
	}
	return &registry.ExecutionResult{Success: true, APIResponse: resp}, nil
}

// scheduleInfoFor maps an analyzed command to a schedule plan.
func scheduleInfoFor(cmd *twitterCommand) (schedule.Info, error) {
	start := time.Now().UTC()
	if cmd.StartTime != "" {
		parsed, err := time.Parse(time.RFC3339, cmd.StartTime)
		if err != nil {
			return schedule.Info{}, fmt.Errorf("parse start_time %q: %w", cmd.StartTime, err)
		}
		start = parsed.UTC()
	}
	if cmd.ScheduleType == string(models.ScheduleMultiple) {
		return schedule.Info{
			Type:       models.ScheduleMultiple,
			StartTime:  &start,
			Interval:   time.Duration(cmd.IntervalSeconds) * time.Second,
			TotalItems: cmd.ItemCount,
		}, nil
	}
	return schedule.Info{Type: models.ScheduleOneTime, StartTime: &start}, nil
}

// awaitResult wraps an approval outcome that keeps the flow open.
func awaitResult(outcome *approval.Outcome) *registry.Result {
	return &registry.Result{
		Status:   registry.StatusAwaitingApproval,
		State:    outcome.Operation.State,
		Response: outcome.Response,
		Data:     map[string]any{"operation_id": outcome.Operation.ID},
	}
}
