// Package agentstate routes each user message by the session's agent
// state: NORMAL_CHAT messages are probed for tool triggers, TOOL_OPERATION
// messages continue the active operation. Transitions back to NORMAL_CHAT
// happen only when the operation reports a terminal flow status.
package agentstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rinlabs/rin/internal/registry"
	"github.com/rinlabs/rin/internal/storage"
	"github.com/rinlabs/rin/internal/trigger"
	"github.com/rinlabs/rin/pkg/models"
)

// Handler runs one tool-operation turn. Implemented by the orchestrator.
type Handler interface {
	HandleToolOperation(ctx context.Context, sessionID, toolType, message string) (*registry.Result, error)
}

// Response is the routed outcome of one message.
type Response struct {
	// State is the session's agent state after the turn.
	State models.AgentState

	// Status is the flow status: a registry.Status* value for tool turns,
	// "normal_chat" otherwise.
	Status string

	// ToolType is set while a tool operation is active.
	ToolType string

	// Response is the text to show the user. Empty for normal chat, where
	// the caller produces the conversational reply.
	Response string

	// Data carries structured results from the tool turn.
	Data map[string]any
}

// StatusNormalChat marks turns with no tool involvement.
const StatusNormalChat = "normal_chat"

// Manager owns per-session agent state.
type Manager struct {
	store   storage.SessionStore
	handler Handler
	locker  *Locker
	logger  *slog.Logger
}

// NewManager creates an agent state manager.
func NewManager(store storage.SessionStore, handler Handler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "agentstate")
	}
	return &Manager{
		store:   store,
		handler: handler,
		locker:  NewLocker(),
		logger:  logger,
	}
}

// Session returns the session, creating it in NORMAL_CHAT on first use.
func (m *Manager) Session(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get session: %w", err)
	}
	now := time.Now().UTC()
	session = &models.Session{
		ID:         sessionID,
		AgentState: models.AgentStateNormalChat,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return m.store.GetSession(ctx, sessionID)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// HandleMessage routes one message. Turns within a session are serialized.
func (m *Manager) HandleMessage(ctx context.Context, sessionID, message string) (*Response, error) {
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}
	release := m.locker.Lock(sessionID)
	defer release()

	session, err := m.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.AgentState {
	case models.AgentStateToolOperation:
		return m.continueOperation(ctx, session, message)
	default:
		return m.startOrChat(ctx, session, message)
	}
}

func (m *Manager) startOrChat(ctx context.Context, session *models.Session, message string) (*Response, error) {
	toolType, ok := trigger.Detect(message)
	if !ok {
		return &Response{State: models.AgentStateNormalChat, Status: StatusNormalChat}, nil
	}

	if err := m.transition(ctx, session, models.AgentStateToolOperation, toolType); err != nil {
		return nil, err
	}
	m.logger.Info("tool operation started", "session_id", session.ID, "tool_type", toolType)

	result, err := m.handler.HandleToolOperation(ctx, session.ID, toolType, message)
	if err != nil {
		// The operation never got off the ground; drop back to chat.
		if terr := m.transition(ctx, session, models.AgentStateNormalChat, ""); terr != nil {
			m.logger.Error("state revert failed", "session_id", session.ID, "error", terr)
		}
		return nil, err
	}
	return m.finishTurn(ctx, session, toolType, result)
}

func (m *Manager) continueOperation(ctx context.Context, session *models.Session, message string) (*Response, error) {
	toolType := session.ActiveToolType
	result, err := m.handler.HandleToolOperation(ctx, session.ID, toolType, message)
	if err != nil {
		return nil, err
	}
	return m.finishTurn(ctx, session, toolType, result)
}

// finishTurn applies the flow status to the agent state: completed,
// cancelled, exit, and error all return the session to NORMAL_CHAT.
func (m *Manager) finishTurn(ctx context.Context, session *models.Session, toolType string, result *registry.Result) (*Response, error) {
	switch result.Status {
	case registry.StatusCompleted, registry.StatusCancelled, registry.StatusExit, registry.StatusError:
		if err := m.transition(ctx, session, models.AgentStateNormalChat, ""); err != nil {
			return nil, err
		}
		m.logger.Info("tool operation finished",
			"session_id", session.ID, "tool_type", toolType, "status", result.Status)
	}
	return &Response{
		State:    session.AgentState,
		Status:   result.Status,
		ToolType: toolType,
		Response: result.Response,
		Data:     result.Data,
	}, nil
}

func (m *Manager) transition(ctx context.Context, session *models.Session, state models.AgentState, toolType string) error {
	session.AgentState = state
	session.ActiveToolType = toolType
	session.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}
