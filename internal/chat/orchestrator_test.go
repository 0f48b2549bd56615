package chat

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"taskflow/server/internal/agentloop"
	"taskflow/server/internal/chatstore"
	"taskflow/server/internal/db"
)

type fakeRunner struct {
	result  *agentloop.RunResult
	err     error
	lastReq agentloop.RunRequest
	calls   int
}

func (f *fakeRunner) Run(_ context.Context, req agentloop.RunRequest) (*agentloop.RunResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestOrchestrator(t *testing.T, runner AgentRunner) (*Orchestrator, *chatstore.Store) {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store, err := chatstore.NewStore(gdb)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	orch, err := NewOrchestrator(store, runner, slog.New(slog.DiscardHandler), Options{HistoryLimit: 10})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch, store
}

func TestHandleMessage_NewConversation(t *testing.T) {
	runner := &fakeRunner{result: &agentloop.RunResult{
		FinalText: "Added milk.",
		Invocations: []agentloop.ToolInvocation{{
			Tool:   "add_task",
			Input:  map[string]any{"title": "milk"},
			Output: map[string]any{"success": true},
		}},
	}}
	orch, store := newTestOrchestrator(t, runner)
	owner := uuid.New()

	result, err := orch.HandleMessage(context.Background(), owner, nil, "add milk")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.ConversationID == 0 {
		t.Fatal("expected a conversation to be created")
	}
	if result.Reply.Content != "Added milk." {
		t.Fatalf("reply = %q", result.Reply.Content)
	}
	if len(result.Reply.ToolCalls) != 1 || result.Reply.ToolCalls[0].Tool != "add_task" {
		t.Fatalf("tool calls = %+v", result.Reply.ToolCalls)
	}

	messages, total, _, err := store.GetMessages(result.ConversationID, owner, 10, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d", total)
	}
	if messages[0].Role != chatstore.RoleUser || messages[1].Role != chatstore.RoleAssistant {
		t.Fatalf("roles = %s, %s", messages[0].Role, messages[1].Role)
	}

	if runner.lastReq.UserMessage != "add milk" {
		t.Fatalf("user message = %q", runner.lastReq.UserMessage)
	}
	if len(runner.lastReq.History) != 0 {
		t.Fatalf("history = %d items", len(runner.lastReq.History))
	}
	if !strings.Contains(runner.lastReq.Instructions, "Today's date is") {
		t.Fatal("instructions missing current date")
	}
}

func TestHandleMessage_ExistingConversationHistory(t *testing.T) {
	runner := &fakeRunner{result: &agentloop.RunResult{FinalText: "first"}}
	orch, _ := newTestOrchestrator(t, runner)
	owner := uuid.New()

	first, err := orch.HandleMessage(context.Background(), owner, nil, "hello")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}

	runner.result = &agentloop.RunResult{FinalText: "second"}
	second, err := orch.HandleMessage(context.Background(), owner, &first.ConversationID, "again")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Fatalf("conversation changed: %d -> %d", first.ConversationID, second.ConversationID)
	}

	// the agent sees the prior user+assistant turn, not the new message
	if len(runner.lastReq.History) != 2 {
		t.Fatalf("history = %d items", len(runner.lastReq.History))
	}
	if runner.lastReq.History[0].Content != "hello" || runner.lastReq.History[1].Content != "first" {
		t.Fatalf("history = %+v", runner.lastReq.History)
	}
	if runner.lastReq.UserMessage != "again" {
		t.Fatalf("user message = %q", runner.lastReq.UserMessage)
	}
}

func TestHandleMessage_UnknownConversation(t *testing.T) {
	runner := &fakeRunner{result: &agentloop.RunResult{FinalText: "x"}}
	orch, store := newTestOrchestrator(t, runner)
	owner := uuid.New()

	missing := int64(777)
	if _, err := orch.HandleMessage(context.Background(), owner, &missing, "hi"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v", err)
	}

	// someone else's conversation is treated the same as a missing one
	other, err := store.CreateConversation(uuid.New())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := orch.HandleMessage(context.Background(), owner, &other.ID, "hi"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v", err)
	}
	if runner.calls != 0 {
		t.Fatalf("runner ran %d times", runner.calls)
	}
}

func TestHandleMessage_AgentFailureKeepsUserMessage(t *testing.T) {
	runner := &fakeRunner{err: errors.New("model unavailable")}
	orch, store := newTestOrchestrator(t, runner)
	owner := uuid.New()

	conv, err := store.CreateConversation(owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := orch.HandleMessage(context.Background(), owner, &conv.ID, "do things"); err == nil {
		t.Fatal("expected agent failure to surface")
	}

	messages, total, _, err := store.GetMessages(conv.ID, owner, 10, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if total != 1 || messages[0].Role != chatstore.RoleUser {
		t.Fatalf("expected only the durable user message, got total=%d", total)
	}
}

func TestHandleMessage_BlankText(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeRunner{result: &agentloop.RunResult{FinalText: "x"}})
	if _, err := orch.HandleMessage(context.Background(), uuid.New(), nil, "   "); err == nil {
		t.Fatal("expected error for blank message")
	}
}
