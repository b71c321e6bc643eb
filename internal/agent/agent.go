// Package agent is the external surface of the runtime: it owns the
// message log, routes turns through the agent state manager, answers
// normal chat with the LLM, and runs the background schedule executor.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rinlabs/rin/internal/agentstate"
	"github.com/rinlabs/rin/internal/llm"
	"github.com/rinlabs/rin/internal/schedule"
	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/pkg/models"
)

const welcomeMessage = "Hi, I'm Rin. I can chat, draft and schedule tweets, and handle NEAR token operations. What can I do for you?"

const chatSystemPrompt = `You are Rin, a friendly and concise conversational assistant. Answer naturally; do not mention tools or internal state.`

// historyWindow is how many recent messages feed the chat completion.
const historyWindow = 20

// Request is one inbound message.
type Request struct {
	SessionID string
	Message   string

	// Role defaults to user.
	Role models.Role

	// InteractionType defaults to chat.
	InteractionType models.InteractionType
}

// Agent is the runtime facade.
type Agent struct {
	store    storage.Store
	sessions *agentstate.Manager
	provider llm.Provider
	executor *schedule.Executor
	model    string
	logger   *slog.Logger
}

// New creates the agent facade. executor may be nil for setups without
// background execution.
func New(store storage.Store, sessions *agentstate.Manager, provider llm.Provider, executor *schedule.Executor, model string, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default().With("component", "agent")
	}
	return &Agent{
		store:    store,
		sessions: sessions,
		provider: provider,
		executor: executor,
		model:    model,
		logger:   logger,
	}
}

// Start launches the background executor.
func (a *Agent) Start(ctx context.Context) {
	if a.executor != nil {
		a.executor.Start(ctx)
	}
}

// StartNewSession creates a session and logs the welcome message. An empty
// sessionID gets a generated id. Returns the session id and the welcome
// text.
func (a *Agent) StartNewSession(ctx context.Context, sessionID string) (string, string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if _, err := a.sessions.Session(ctx, sessionID); err != nil {
		return "", "", err
	}
	if err := a.appendMessage(ctx, sessionID, models.RoleAssistant, welcomeMessage, models.InteractionChat, nil); err != nil {
		return "", "", err
	}
	a.logger.Info("session started", "session_id", sessionID)
	return sessionID, welcomeMessage, nil
}

// GetResponse handles one inbound message and returns the reply text.
func (a *Agent) GetResponse(ctx context.Context, req Request) (string, error) {
	if req.SessionID == "" || req.Message == "" {
		return "", fmt.Errorf("session id and message are required")
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if req.InteractionType == "" {
		req.InteractionType = models.InteractionChat
	}
	if err := a.appendMessage(ctx, req.SessionID, req.Role, req.Message, req.InteractionType, nil); err != nil {
		return "", err
	}

	routed, err := a.sessions.HandleMessage(ctx, req.SessionID, req.Message)
	if err != nil {
		return "", err
	}

	if routed.Status == agentstate.StatusNormalChat {
		reply, err := a.chat(ctx, req.SessionID)
		if err != nil {
			return "", err
		}
		if err := a.appendMessage(ctx, req.SessionID, models.RoleAssistant, reply, models.InteractionChat, nil); err != nil {
			return "", err
		}
		return reply, nil
	}

	reply := routed.Response
	if reply == "" {
		reply = "Working on it."
	}
	meta := map[string]any{
		"tool_type": routed.ToolType,
		"status":    routed.Status,
		"state":     string(routed.State),
	}
	if err := a.appendMessage(ctx, req.SessionID, models.RoleAssistant, reply, models.InteractionToolFlow, meta); err != nil {
		return "", err
	}
	return reply, nil
}

// GetHistory returns the session's most recent messages in timestamp
// order. limit <= 0 returns everything.
func (a *Agent) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	return a.store.ListMessages(ctx, sessionID, limit)
}

// Cleanup stops the executor and closes the store.
func (a *Agent) Cleanup() error {
	if a.executor != nil {
		a.executor.Stop()
	}
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	a.logger.Info("agent shut down")
	return nil
}

// chat produces a conversational reply from the recent history.
func (a *Agent) chat(ctx context.Context, sessionID string) (string, error) {
	history, err := a.store.ListMessages(ctx, sessionID, historyWindow)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	messages := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser, models.RoleAssistant:
			messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
		}
	}
	reply, err := a.provider.Complete(ctx, messages, llm.Options{
		Model:  a.model,
		System: chatSystemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return reply, nil
}

func (a *Agent) appendMessage(ctx context.Context, sessionID string, role models.Role, content string, interaction models.InteractionType, metadata map[string]any) error {
	msg := &models.Message{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		Role:            role,
		Content:         content,
		Timestamp:       time.Now().UTC(),
		InteractionType: interaction,
		Metadata:        metadata,
	}
	if err := a.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}
