package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rinlabs/rin/internal/agentstate"
	"github.com/rinlabs/rin/internal/approval"
	"github.com/rinlabs/rin/internal/llm"
	"github.com/rinlabs/rin/internal/orchestrator"
	"github.com/rinlabs/rin/internal/registry"
	"github.com/rinlabs/rin/internal/schedule"
	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/internal/tools"
	"github.com/rinlabs/rin/internal/toolstate"
	"github.com/rinlabs/rin/pkg/models"
)

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

type recordingTwitterClient struct {
	mu    sync.Mutex
	posts map[string]string
}

func (c *recordingTwitterClient) PostTweet(ctx context.Context, itemID, text string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts[itemID] = text
	return map[string]any{"tweet_id": "tw-" + itemID}, nil
}

type agentFixture struct {
	store    *storage.Memory
	state    *toolstate.Manager
	provider *scriptedProvider
	client   *recordingTwitterClient
	executor *schedule.Executor
	agent    *Agent
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()
	store := storage.NewMemory()
	state := toolstate.NewManager(store, nil)
	provider := &scriptedProvider{}
	classifier := approval.NewClassifier(provider, "test-model")
	approvals := approval.NewManager(state, classifier, approval.DefaultConfig(), nil)
	schedules := schedule.NewManager(store, state, schedule.DefaultConfig(), nil)
	client := &recordingTwitterClient{posts: make(map[string]string)}

	reg := registry.New()
	tw := tools.NewTwitter(state, approvals, schedules, provider, client, "test-model", nil)
	if err := reg.Register(tools.TwitterDefinition(), tw); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	orch := orchestrator.New(reg, state, nil)
	sessions := agentstate.NewManager(store, orch, nil)
	executor := schedule.NewExecutor(store, schedules, reg, schedule.DefaultExecutorConfig(), nil, nil)

	return &agentFixture{
		store:    store,
		state:    state,
		provider: provider,
		client:   client,
		executor: executor,
		agent:    New(store, sessions, provider, executor, "test-model", nil),
	}
}

func TestStartNewSessionLogsWelcome(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()

	sessionID, welcome, err := f.agent.StartNewSession(ctx, "")
	if err != nil {
		t.Fatalf("StartNewSession() error = %v", err)
	}
	if sessionID == "" || welcome == "" {
		t.Fatalf("StartNewSession() = %q, %q", sessionID, welcome)
	}
	history, err := f.agent.GetHistory(ctx, sessionID, 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Role != models.RoleAssistant || history[0].Content != welcome {
		t.Fatalf("history = %+v, want the welcome message", history)
	}
}

func TestNormalChatTurn(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	sessionID, _, err := f.agent.StartNewSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("StartNewSession() error = %v", err)
	}

	f.provider.push("Doing great, thanks for asking!")
	reply, err := f.agent.GetResponse(ctx, Request{SessionID: sessionID, Message: "how are you?"})
	if err != nil {
		t.Fatalf("GetResponse() error = %v", err)
	}
	if reply != "Doing great, thanks for asking!" {
		t.Fatalf("reply = %q", reply)
	}

	history, _ := f.agent.GetHistory(ctx, sessionID, 0)
	if len(history) != 3 {
		t.Fatalf("history length = %d, want welcome + user + assistant", len(history))
	}
	last := history[len(history)-1]
	if last.InteractionType != models.InteractionChat || last.Role != models.RoleAssistant {
		t.Fatalf("last message = %+v", last)
	}
}

func TestScheduledTweetsEndToEnd(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	sessionID, _, err := f.agent.StartNewSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("StartNewSession() error = %v", err)
	}

	// Turn 1: the request triggers the twitter tool, which analyzes the
	// command, drafts two tweets, and asks for approval.
	f.provider.push(
		`{"topic": "go testing", "item_count": 2, "schedule_type": "multiple", "interval_seconds": 30}`,
		`{"tweets": ["Table tests pull their weight.", "Fakes beat mocks."]}`,
	)
	reply, err := f.agent.GetResponse(ctx, Request{
		SessionID: sessionID,
		Message:   "schedule 2 tweets about go testing, 30 seconds apart",
	})
	if err != nil {
		t.Fatalf("GetResponse(request) error = %v", err)
	}
	if !strings.Contains(reply, "Table tests pull their weight.") {
		t.Fatalf("reply does not present the drafts: %q", reply)
	}

	// Turn 2: approval schedules both tweets and ends the chat flow.
	f.provider.push(`{"action": "full_approval"}`)
	reply, err = f.agent.GetResponse(ctx, Request{SessionID: sessionID, Message: "approve all"})
	if err != nil {
		t.Fatalf("GetResponse(approve) error = %v", err)
	}
	if !strings.Contains(reply, "scheduled") {
		t.Fatalf("approval reply = %q", reply)
	}

	session, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if session.AgentState != models.AgentStateNormalChat {
		t.Fatalf("agent state = %s, want normal_chat after scheduling", session.AgentState)
	}

	// The executor posts both tweets once they come due.
	f.executor.RunOnce(ctx, time.Now().UTC().Add(2*time.Minute))
	if len(f.client.posts) != 2 {
		t.Fatalf("posted tweets = %d, want 2", len(f.client.posts))
	}
	op, err := f.state.ActiveOperation(ctx, sessionID)
	if err != nil {
		t.Fatalf("ActiveOperation() error = %v", err)
	}
	if op != nil {
		t.Fatalf("operation still active after execution: %+v", op)
	}

	// Tool-flow messages carry their interaction metadata.
	history, _ := f.agent.GetHistory(ctx, sessionID, 0)
	var toolFlow int
	for _, msg := range history {
		if msg.InteractionType == models.InteractionToolFlow {
			toolFlow++
			if msg.Metadata["tool_type"] != "twitter" {
				t.Fatalf("tool-flow metadata = %+v", msg.Metadata)
			}
		}
	}
	if toolFlow != 2 {
		t.Fatalf("tool-flow messages = %d, want 2", toolFlow)
	}
}

func TestGetHistoryLimit(t *testing.T) {
	f := newAgentFixture(t)
	ctx := context.Background()
	sessionID, _, err := f.agent.StartNewSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("StartNewSession() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		f.provider.push("ok")
		if _, err := f.agent.GetResponse(ctx, Request{SessionID: sessionID, Message: "say ok"}); err != nil {
			t.Fatalf("GetResponse() error = %v", err)
		}
	}
	history, err := f.agent.GetHistory(ctx, sessionID, 2)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d messages, want 2", len(history))
	}
	if history[0].Timestamp.After(history[1].Timestamp) {
		t.Fatal("history not in timestamp order")
	}
}

func TestCleanupStopsExecutorAndClosesStore(t *testing.T) {
	f := newAgentFixture(t)
	f.agent.Start(context.Background())
	if err := f.agent.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
}

func TestGetResponseValidatesInput(t *testing.T) {
	f := newAgentFixture(t)
	if _, err := f.agent.GetResponse(context.Background(), Request{SessionID: "", Message: "hi"}); err == nil {
		t.Fatal("GetResponse() error = nil, want error for missing session")
	}
	if _, err := f.agent.GetResponse(context.Background(), Request{SessionID: "s", Message: ""}); err == nil {
		t.Fatal("GetResponse() error = nil, want error for empty message")
	}
}
