// Package chat coordinates one user turn end to end: resolve the
// conversation, persist the user's message, run the agent with tools in
// scope, then persist the assistant's reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/server/internal/agentloop"
	"taskflow/server/internal/chatstore"
)

var ErrConversationNotFound = errors.New("conversation not found")

// AgentRunner is the model/tool loop the orchestrator delegates to.
type AgentRunner interface {
	Run(ctx context.Context, req agentloop.RunRequest) (*agentloop.RunResult, error)
}

type Options struct {
	// HistoryLimit bounds how many prior messages are replayed to the agent.
	HistoryLimit int
}

type Orchestrator struct {
	conversations *chatstore.Store
	runner        AgentRunner
	historyLimit  int
	logger        *slog.Logger
}

var nowFunc = time.Now

func NewOrchestrator(conversations *chatstore.Store, runner AgentRunner, logger *slog.Logger, options Options) (*Orchestrator, error) {
	if conversations == nil {
		return nil, errors.New("conversation store is required")
	}
	if runner == nil {
		return nil, errors.New("agent runner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if options.HistoryLimit <= 0 {
		options.HistoryLimit = 50
	}
	return &Orchestrator{
		conversations: conversations,
		runner:        runner,
		historyLimit:  options.HistoryLimit,
		logger:        logger,
	}, nil
}

// Result is the outcome of one handled turn.
type Result struct {
	ConversationID int64
	UserMessage    chatstore.Message
	Reply          chatstore.Message
}

// HandleMessage runs one turn. A nil conversationID starts a new
// conversation. The user message is persisted before the agent runs, so a
// failed run leaves the user's text durable with no assistant reply; the
// client may retry into the same conversation.
func (o *Orchestrator) HandleMessage(ctx context.Context, ownerID uuid.UUID, conversationID *int64, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("message text is required")
	}

	var conv chatstore.Conversation
	if conversationID == nil {
		created, err := o.conversations.CreateConversation(ownerID)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		conv = created
	} else {
		existing, ok, err := o.conversations.GetConversation(*conversationID, ownerID)
		if err != nil {
			return nil, fmt.Errorf("resolve conversation %d: %w", *conversationID, err)
		}
		if !ok {
			return nil, ErrConversationNotFound
		}
		conv = existing
	}

	// history is captured before the new message lands so the agent sees
	// prior turns in History and the current text as UserMessage
	history, err := o.conversations.HistoryForAgent(conv.ID, o.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history for conversation %d: %w", conv.ID, err)
	}

	userMsg, ok, err := o.conversations.AppendMessage(conv.ID, ownerID, chatstore.RoleUser, text, nil)
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	if !ok {
		return nil, ErrConversationNotFound
	}

	runHistory := make([]agentloop.HistoryMessage, 0, len(history))
	for _, msg := range history {
		runHistory = append(runHistory, agentloop.HistoryMessage{Role: msg.Role, Content: msg.Content})
	}

	runResult, err := o.runner.Run(agentloop.WithOwner(ctx, ownerID), agentloop.RunRequest{
		Instructions: systemInstructions(nowFunc()),
		History:      runHistory,
		UserMessage:  text,
	})
	if err != nil {
		o.logger.Error("agent run failed",
			"conversation_id", conv.ID,
			"error", err,
		)
		return nil, fmt.Errorf("agent run for conversation %d: %w", conv.ID, err)
	}

	toolCalls := make([]chatstore.ToolCall, 0, len(runResult.Invocations))
	for _, inv := range runResult.Invocations {
		toolCalls = append(toolCalls, chatstore.ToolCall{
			Tool:   inv.Tool,
			Input:  inv.Input,
			Output: inv.Output,
		})
	}
	reply, ok, err := o.conversations.AppendMessage(conv.ID, ownerID, chatstore.RoleAssistant, runResult.FinalText, toolCalls)
	if err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}
	if !ok {
		return nil, ErrConversationNotFound
	}

	o.logger.Info("chat turn completed",
		"conversation_id", conv.ID,
		"tool_calls", len(toolCalls),
	)
	return &Result{
		ConversationID: conv.ID,
		UserMessage:    userMsg,
		Reply:          reply,
	}, nil
}
