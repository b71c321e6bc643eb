package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rinlabs/rin/internal/approval"
	"github.com/rinlabs/rin/internal/llm"
	"github.com/rinlabs/rin/internal/registry"
	"github.com/rinlabs/rin/internal/schedule"
	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/internal/toolstate"
	"github.com/rinlabs/rin/pkg/models"
)

// scriptedProvider replays canned LLM replies in order.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return "", errors.New("no scripted reply left")
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return reply, nil
}

func (p *scriptedProvider) push(replies ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, replies...)
}

// fakeTwitterClient records posts and fails on demand.
type fakeTwitterClient struct {
	mu    sync.Mutex
	posts map[string]string
	err   error
}

func newFakeTwitterClient() *fakeTwitterClient {
	return &fakeTwitterClient{posts: make(map[string]string)}
}

func (c *fakeTwitterClient) PostTweet(ctx context.Context, itemID, text string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.posts[itemID] = text
	return map[string]any{"tweet_id": "tw-" + itemID}, nil
}

type twitterFixture struct {
	store    *storage.Memory
	state    *toolstate.Manager
	provider *scriptedProvider
	client   *fakeTwitterClient
	tool     *Twitter
}

func newTwitterFixture(t *testing.T) *twitterFixture {
	t.Helper()
	store := storage.NewMemory()
	state := toolstate.NewManager(store, nil)
	provider := &scriptedProvider{}
	classifier := approval.NewClassifier(provider, "test-model")
	approvals := approval.NewManager(state, classifier, approval.DefaultConfig(), nil)
	schedules := schedule.NewManager(store, state, schedule.DefaultConfig(), nil)
	client := newFakeTwitterClient()
	return &twitterFixture{
		store:    store,
		state:    state,
		provider: provider,
		client:   client,
		tool:     NewTwitter(state, approvals, schedules, provider, client, "test-model", nil),
	}
}

const twoTweetAnalysis = `{"topic": "go generics", "item_count": 2, "schedule_type": "multiple", "interval_seconds": 30}`
const twoTweetDrafts = `{"tweets": ["Generics cut the boilerplate.", "Type parameters, finally."]}`

func (f *twitterFixture) startTwoTweetFlow(t *testing.T) *models.ToolOperation {
	t.Helper()
	f.provider.push(twoTweetAnalysis, twoTweetDrafts)
	result, err := f.tool.Run(context.Background(), "sess-1", "schedule 2 tweets about go generics 30 seconds apart")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != registry.StatusAwaitingApproval {
		t.Fatalf("Run() status = %s, want awaiting_approval", result.Status)
	}
	op, err := f.state.ActiveOperation(context.Background(), "sess-1")
	if err != nil || op == nil {
		t.Fatalf("ActiveOperation() = %v, %v", op, err)
	}
	return op
}

func TestTwitterBeginPresentsDrafts(t *testing.T) {
	f := newTwitterFixture(t)
	op := f.startTwoTweetFlow(t)

	if op.State != models.StateApproving {
		t.Fatalf("operation state = %s, want approving", op.State)
	}
	items, err := f.state.ListOperationItems(context.Background(), op.ID, storage.ItemFilter{})
	if err != nil {
		t.Fatalf("ListOperationItems() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	for _, item := range items {
		if item.State != models.StateApproving || item.Status != models.StatusPending {
			t.Fatalf("item = %s/%s, want approving/pending", item.State, item.Status)
		}
		if item.ScheduleID == "" {
			t.Fatal("item missing schedule id")
		}
	}
}

func TestTwitterFullApprovalSchedulesItems(t *testing.T) {
	f := newTwitterFixture(t)
	op := f.startTwoTweetFlow(t)
	ctx := context.Background()

	f.provider.push(`{"action": "full_approval"}`)
	result, err := f.tool.Run(ctx, "sess-1", "approve all")
	if err != nil {
		t.Fatalf("Run(approve) error = %v", err)
	}
	if result.Status != registry.StatusExit {
		t.Fatalf("status = %s, want exit", result.Status)
	}

	items, _ := f.state.ListOperationItems(ctx, op.ID, storage.ItemFilter{})
	var last *time.Time
	for _, item := range items {
		if item.Status != models.StatusScheduled {
			t.Fatalf("item status = %s, want scheduled", item.Status)
		}
		if item.ScheduledTime == nil {
			t.Fatal("item missing scheduled_time")
		}
		if last != nil {
			if got := item.ScheduledTime.Sub(*last); got != 30*time.Second {
				t.Fatalf("spacing = %s, want 30s", got)
			}
		}
		last = item.ScheduledTime
	}

	gotOp, _ := f.state.GetOperation(ctx, op.ID)
	if gotOp.State != models.StateExecuting || gotOp.Output.Status != models.StatusScheduled {
		t.Fatalf("operation = %s/%s, want executing/scheduled", gotOp.State, gotOp.Output.Status)
	}
	sched, err := f.store.GetSchedule(ctx, gotOp.Input.ScheduleID)
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if sched.State != models.ScheduleStateActive || sched.Type != models.ScheduleMultiple {
		t.Fatalf("schedule = %s/%s, want active/multiple", sched.State, sched.Type)
	}
}

func TestTwitterMessageDuringExecutionExitsFlow(t *testing.T) {
	f := newTwitterFixture(t)
	f.startTwoTweetFlow(t)
	ctx := context.Background()

	f.provider.push(`{"action": "full_approval"}`)
	if _, err := f.tool.Run(ctx, "sess-1", "approve all"); err != nil {
		t.Fatalf("Run(approve) error = %v", err)
	}

	// The executor owns the operation now; a follow-up message must not
	// be parsed as a new tweet command, and the flow reports exit so the
	// session returns to chat.
	result, err := f.tool.Run(ctx, "sess-1", "how's the weather?")
	if err != nil {
		t.Fatalf("Run(mid-execution) error = %v", err)
	}
	if result.Status != registry.StatusExit {
		t.Fatalf("status = %s, want exit while the schedule runs", result.Status)
	}
}

func TestTwitterGenerateRejectsShortDraftBatch(t *testing.T) {
	f := newTwitterFixture(t)
	f.provider.push(
		`{"topic": "go generics", "item_count": 3, "schedule_type": "multiple", "interval_seconds": 30}`,
		`{"tweets": ["only one draft"]}`,
	)
	if _, err := f.tool.Run(context.Background(), "sess-1", "schedule 3 tweets about go generics"); err == nil {
		t.Fatal("Run() error = nil, want error when the model drafts too few tweets")
	}
}

func TestTwitterRegenerationRound(t *testing.T) {
	f := newTwitterFixture(t)
	op := f.startTwoTweetFlow(t)
	ctx := context.Background()

	f.provider.push(
		`{"action": "partial_approval", "approved_indices": [1], "regenerate_indices": [2]}`,
		`{"tweets": ["A sharper second take."]}`,
	)
	result, err := f.tool.Run(ctx, "sess-1", "keep the first, redo the second")
	if err != nil {
		t.Fatalf("Run(partial) error = %v", err)
	}
	if result.Status != registry.StatusAwaitingApproval {
		t.Fatalf("status = %s, want awaiting_approval", result.Status)
	}

	items, _ := f.state.ListOperationItems(ctx, op.ID, storage.ItemFilter{})
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3 after regeneration", len(items))
	}
	counts := map[models.OperationStatus]int{}
	for _, item := range items {
		counts[item.Status]++
	}
	if counts[models.StatusApproved] != 1 || counts[models.StatusRejected] != 1 || counts[models.StatusPending] != 1 {
		t.Fatalf("status counts = %v", counts)
	}

	// Approving the regenerated draft schedules both kept items.
	f.provider.push(`{"action": "full_approval"}`)
	result, err = f.tool.Run(ctx, "sess-1", "looks good")
	if err != nil {
		t.Fatalf("Run(approve) error = %v", err)
	}
	if result.Status != registry.StatusExit {
		t.Fatalf("status = %s, want exit", result.Status)
	}
	items, _ = f.state.ListOperationItems(ctx, op.ID, storage.ItemFilter{Status: models.StatusScheduled})
	if len(items) != 2 {
		t.Fatalf("scheduled items = %d, want 2", len(items))
	}
}

func TestTwitterCancelMidApproval(t *testing.T) {
	f := newTwitterFixture(t)
	op := f.startTwoTweetFlow(t)
	ctx := context.Background()

	f.provider.push(`{"action": "cancel"}`)
	result, err := f.tool.Run(ctx, "sess-1", "never mind, cancel it")
	if err != nil {
		t.Fatalf("Run(cancel) error = %v", err)
	}
	if result.Status != registry.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", result.Status)
	}
	gotOp, _ := f.state.GetOperation(ctx, op.ID)
	if gotOp.State != models.StateCancelled || gotOp.Metadata.EndReason != "user_cancel" {
		t.Fatalf("operation = %s reason %q, want cancelled/user_cancel", gotOp.State, gotOp.Metadata.EndReason)
	}
}

func TestTwitterExecuteScheduledPostsTweet(t *testing.T) {
	f := newTwitterFixture(t)
	item := &models.ToolItem{
		ID:      "item-1",
		Content: models.ItemContent{RawContent: "hello world"},
	}
	result, err := f.tool.ExecuteScheduled(context.Background(), item)
	if err != nil {
		t.Fatalf("ExecuteScheduled() error = %v", err)
	}
	if !result.Success || result.APIResponse["tweet_id"] != "tw-item-1" {
		t.Fatalf("result = %+v", result)
	}
	if f.client.posts["item-1"] != "hello world" {
		t.Fatalf("posted text = %q", f.client.posts["item-1"])
	}
}

func TestTwitterExecuteScheduledReportsClientError(t *testing.T) {
	f := newTwitterFixture(t)
	f.client.err = fmt.Errorf("twitter is down")
	result, err := f.tool.ExecuteScheduled(context.Background(), &models.ToolItem{ID: "item-1"})
	if err != nil {
		t.Fatalf("ExecuteScheduled() error = %v", err)
	}
	if result.Success || result.Error != "twitter is down" {
		t.Fatalf("result = %+v, want transient failure", result)
	}
}

func TestTwitterAnalysisDefaults(t *testing.T) {
	f := newTwitterFixture(t)
	f.provider.push(`{"topic": ""}`)
	cmd, err := f.tool.analyzeCommand(context.Background(), "schedule some tweets about rust")
	if err != nil {
		t.Fatalf("analyzeCommand() error = %v", err)
	}
	if cmd.Topic != "schedule some tweets about rust" {
		t.Fatalf("topic fallback = %q", cmd.Topic)
	}
	if cmd.ItemCount != 1 || cmd.IntervalSeconds != 60 {
		t.Fatalf("defaults = count %d interval %d", cmd.ItemCount, cmd.IntervalSeconds)
	}
	if cmd.ScheduleType != string(models.ScheduleMultiple) {
		t.Fatalf("schedule type = %q, want multiple from the trigger wording", cmd.ScheduleType)
	}
}

func TestTwitterAnalysisRejectsBadJSON(t *testing.T) {
	f := newTwitterFixture(t)
	f.provider.push("sorry, I can't do JSON today")
	if _, err := f.tool.analyzeCommand(context.Background(), "tweet something"); err == nil {
		t.Fatal("analyzeCommand() error = nil, want parse error")
	}
}
