package chatstore

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"taskflow/server/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store, err := NewStore(gdb)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

// advanceClock makes nowFunc return a strictly increasing instant per call
// so ordering assertions never depend on sub-millisecond timing.
func advanceClock(t *testing.T) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	calls := 0
	nowFunc = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	t.Cleanup(func() { nowFunc = time.Now })
}

func TestAppendMessage_BumpsConversation(t *testing.T) {
	advanceClock(t)
	store := newTestStore(t)
	owner := uuid.New()

	conv, err := store.CreateConversation(owner)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	msg, ok, err := store.AppendMessage(conv.ID, owner, RoleUser, "hello", nil)
	if err != nil || !ok {
		t.Fatalf("append: ok=%v err=%v", ok, err)
	}
	if msg.ID == 0 {
		t.Fatal("expected message id to be assigned")
	}

	after, ok, err := store.GetConversation(conv.ID, owner)
	if err != nil || !ok {
		t.Fatalf("get conversation: ok=%v err=%v", ok, err)
	}
	if !after.UpdatedAt.After(conv.UpdatedAt) {
		t.Fatalf("expected updated_at to advance: before=%v after=%v", conv.UpdatedAt, after.UpdatedAt)
	}
}

func TestAppendMessage_Validation(t *testing.T) {
	store := newTestStore(t)
	owner := uuid.New()
	conv, err := store.CreateConversation(owner)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if _, _, err := store.AppendMessage(conv.ID, owner, RoleUser, "", nil); err == nil {
		t.Fatal("expected error for empty content")
	}
	if _, _, err := store.AppendMessage(conv.ID, owner, Role("system"), "x", nil); err == nil {
		t.Fatal("expected error for unknown role")
	}
	calls := []ToolCall{{Tool: "add_task", Input: map[string]any{"title": "x"}}}
	if _, _, err := store.AppendMessage(conv.ID, owner, RoleUser, "x", calls); err == nil {
		t.Fatal("expected error for tool calls on a user message")
	}

	if _, ok, err := store.AppendMessage(9999, owner, RoleUser, "x", nil); err != nil || ok {
		t.Fatalf("missing conversation: ok=%v err=%v", ok, err)
	}
}

func TestAppendMessage_OwnershipIsolation(t *testing.T) {
	store := newTestStore(t)
	alice, bob := uuid.New(), uuid.New()
	conv, err := store.CreateConversation(alice)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if _, ok, err := store.AppendMessage(conv.ID, bob, RoleUser, "hi", nil); err != nil || ok {
		t.Fatalf("cross-owner append: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.GetConversation(conv.ID, bob); err != nil || ok {
		t.Fatalf("cross-owner get: ok=%v err=%v", ok, err)
	}
	if deleted, err := store.DeleteConversation(conv.ID, bob); err != nil || deleted {
		t.Fatalf("cross-owner delete: deleted=%v err=%v", deleted, err)
	}
}

func TestGetMessages_Pagination(t *testing.T) {
	advanceClock(t)
	store := newTestStore(t)
	owner := uuid.New()
	conv, err := store.CreateConversation(owner)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	contents := []string{"one", "two", "three", "four", "five"}
	for _, c := range contents {
		if _, ok, err := store.AppendMessage(conv.ID, owner, RoleUser, c, nil); err != nil || !ok {
			t.Fatalf("append %q: ok=%v err=%v", c, ok, err)
		}
	}

	page, total, hasMore, err := store.GetMessages(conv.ID, owner, 2, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if total != 5 || !hasMore || len(page) != 2 {
		t.Fatalf("page 1: total=%d hasMore=%v len=%d", total, hasMore, len(page))
	}
	if page[0].Content != "one" || page[1].Content != "two" {
		t.Fatalf("expected append order, got %q, %q", page[0].Content, page[1].Content)
	}

	page, _, hasMore, err = store.GetMessages(conv.ID, owner, 2, 4)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(page) != 1 || hasMore {
		t.Fatalf("last page: len=%d hasMore=%v", len(page), hasMore)
	}
	if page[0].Content != "five" {
		t.Fatalf("last page content = %q", page[0].Content)
	}

	// an oversized limit is capped rather than rejected
	page, _, _, err = store.GetMessages(conv.ID, owner, MaxPageSize+50, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(page) != 5 {
		t.Fatalf("capped page len = %d", len(page))
	}
}

func TestHistoryForAgent_RoleContentOnly(t *testing.T) {
	advanceClock(t)
	store := newTestStore(t)
	owner := uuid.New()
	conv, err := store.CreateConversation(owner)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	calls := []ToolCall{{Tool: "add_task", Input: map[string]any{"title": "milk"}, Output: "ok"}}
	if _, ok, err := store.AppendMessage(conv.ID, owner, RoleUser, "add milk", nil); err != nil || !ok {
		t.Fatalf("append user: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.AppendMessage(conv.ID, owner, RoleAssistant, "Added milk.", calls); err != nil || !ok {
		t.Fatalf("append assistant: ok=%v err=%v", ok, err)
	}

	history, err := store.HistoryForAgent(conv.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []HistoryMessage{
		{Role: "user", Content: "add milk"},
		{Role: "assistant", Content: "Added milk."},
	}
	if len(history) != len(want) {
		t.Fatalf("history len = %d", len(history))
	}
	for i := range want {
		if history[i] != want[i] {
			t.Fatalf("history[%d] = %+v, want %+v", i, history[i], want[i])
		}
	}
}

func TestToolCalls_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	owner := uuid.New()
	conv, err := store.CreateConversation(owner)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	calls := []ToolCall{{
		Tool:   "complete_task",
		Input:  map[string]any{"task_id": "abc"},
		Output: map[string]any{"success": true},
	}}
	if _, ok, err := store.AppendMessage(conv.ID, owner, RoleAssistant, "Done.", calls); err != nil || !ok {
		t.Fatalf("append: ok=%v err=%v", ok, err)
	}
	page, _, _, err := store.GetMessages(conv.ID, owner, 10, 0)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(page) != 1 || len(page[0].ToolCalls) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page[0].ToolCalls[0].Tool != "complete_task" {
		t.Fatalf("tool = %q", page[0].ToolCalls[0].Tool)
	}
}

func TestListConversations_Summaries(t *testing.T) {
	advanceClock(t)
	store := newTestStore(t)
	owner := uuid.New()

	first, err := store.CreateConversation(owner)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	second, err := store.CreateConversation(owner)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, ok, err := store.AppendMessage(first.ID, owner, RoleUser, "ping first", nil); err != nil || !ok {
		t.Fatalf("append: ok=%v err=%v", ok, err)
	}

	summaries, total, err := store.ListConversations(owner, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(summaries) != 2 {
		t.Fatalf("total=%d len=%d", total, len(summaries))
	}
	// first got the last activity, so it sorts ahead of second
	if summaries[0].ID != first.ID || summaries[1].ID != second.ID {
		t.Fatalf("order = [%d, %d], want [%d, %d]", summaries[0].ID, summaries[1].ID, first.ID, second.ID)
	}
	if summaries[0].MessageCount != 1 || summaries[0].LastMessagePreview != "ping first" {
		t.Fatalf("summary = %+v", summaries[0])
	}
	if summaries[1].MessageCount != 0 || summaries[1].LastMessagePreview != "" {
		t.Fatalf("empty summary = %+v", summaries[1])
	}
}

func TestListConversations_PreviewTruncatesOnRuneBoundary(t *testing.T) {
	store := newTestStore(t)
	owner := uuid.New()
	conv, err := store.CreateConversation(owner)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	long := strings.Repeat("ü", 150)
	if _, _, err := store.AppendMessage(conv.ID, owner, RoleUser, long, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	summaries, _, err := store.ListConversations(owner, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	preview := summaries[0].LastMessagePreview
	if !utf8.ValidString(preview) {
		t.Fatalf("preview is not valid UTF-8: %q", preview)
	}
	if got := utf8.RuneCountInString(preview); got != 100 {
		t.Fatalf("preview length = %d characters, want 100", got)
	}
}

func TestDeleteConversation_Cascades(t *testing.T) {
	store := newTestStore(t)
	owner := uuid.New()
	conv, err := store.CreateConversation(owner)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	for range 3 {
		if _, ok, err := store.AppendMessage(conv.ID, owner, RoleUser, "x", nil); err != nil || !ok {
			t.Fatalf("append: ok=%v err=%v", ok, err)
		}
	}

	deleted, err := store.DeleteConversation(conv.ID, owner)
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	if _, ok, err := store.GetConversation(conv.ID, owner); err != nil || ok {
		t.Fatalf("get after delete: ok=%v err=%v", ok, err)
	}
	if _, _, _, err := store.GetMessages(conv.ID, owner, 10, 0); err != nil {
		t.Fatalf("get messages after delete: %v", err)
	}

	// repeat delete is a no-op, not an error
	deleted, err = store.DeleteConversation(conv.ID, owner)
	if err != nil || deleted {
		t.Fatalf("second delete: deleted=%v err=%v", deleted, err)
	}
}
