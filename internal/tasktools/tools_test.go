package tasktools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"taskflow/server/internal/agentloop"
	"taskflow/server/internal/db"
	"taskflow/server/internal/taskstore"
)

func newTestRegistry(t *testing.T) (*agentloop.ToolRegistry, *taskstore.Store) {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store, err := taskstore.NewStore(gdb)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	reg := agentloop.NewToolRegistry()
	if err := Register(reg, store, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("register tools: %v", err)
	}
	return reg, store
}

func execute(t *testing.T, reg *agentloop.ToolRegistry, ctx context.Context, tool, args string) map[string]any {
	t.Helper()
	out, err := reg.Execute(ctx, tool, json.RawMessage(args))
	if err != nil {
		t.Fatalf("%s: %v", tool, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("%s output is not JSON: %v (%s)", tool, err, out)
	}
	return decoded
}

func mustSucceed(t *testing.T, env map[string]any) map[string]any {
	t.Helper()
	if env["success"] != true {
		t.Fatalf("expected success envelope, got %v", env)
	}
	data, _ := env["data"].(map[string]any)
	return data
}

func mustFail(t *testing.T, env map[string]any, code string) {
	t.Helper()
	if env["success"] != false {
		t.Fatalf("expected failure envelope, got %v", env)
	}
	errObj, _ := env["error"].(map[string]any)
	if errObj["code"] != code {
		t.Fatalf("error code = %v, want %s", errObj["code"], code)
	}
}

func TestAddListCompleteFlow(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := agentloop.WithOwner(context.Background(), uuid.New())

	added := mustSucceed(t, execute(t, reg, ctx, "add_task", `{"title":"buy milk","description":"two litres"}`))
	fullID, _ := added["task_id"].(string)
	if _, err := uuid.Parse(fullID); err != nil {
		t.Fatalf("task_id %q is not a uuid", fullID)
	}
	if added["status"] != "created" || added["title"] != "buy milk" {
		t.Fatalf("add_task data = %v", added)
	}

	listed := mustSucceed(t, execute(t, reg, ctx, "list_tasks", `{}`))
	entries, _ := listed["tasks"].([]any)
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	entry, _ := entries[0].(map[string]any)
	if entry["full_id"] != fullID {
		t.Fatalf("full_id = %v", entry["full_id"])
	}
	if entry["id"] != fullID[:shortIDLength] {
		t.Fatalf("short id = %v", entry["id"])
	}
	if entry["status"] != "pending" {
		t.Fatalf("status = %v", entry["status"])
	}

	completed := mustSucceed(t, execute(t, reg, ctx, "complete_task", fmt.Sprintf(`{"task_id":%q}`, fullID)))
	if completed["status"] != "completed" || completed["task_id"] != fullID || completed["title"] != "buy milk" {
		t.Fatalf("complete_task data = %v", completed)
	}

	// a second toggle reverts to pending and clears completed_at
	reverted := mustSucceed(t, execute(t, reg, ctx, "complete_task", fmt.Sprintf(`{"task_id":%q}`, fullID)))
	if reverted["status"] != "pending" {
		t.Fatalf("status after second toggle = %v", reverted["status"])
	}
	relisted := mustSucceed(t, execute(t, reg, ctx, "list_tasks", `{}`))
	entries, _ = relisted["tasks"].([]any)
	entry, _ = entries[0].(map[string]any)
	if _, has := entry["completed_at"]; has {
		t.Fatal("completed_at should be cleared after reverting")
	}
}

func TestListTasks_Filters(t *testing.T) {
	reg, store := newTestRegistry(t)
	owner := uuid.New()
	ctx := agentloop.WithOwner(context.Background(), owner)

	open, err := store.Create(owner, "open", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done, err := store.Create(owner, "done", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := store.ToggleCompletion(owner, done.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	pending := mustSucceed(t, execute(t, reg, ctx, "list_tasks", `{"filter":"pending"}`))
	entries, _ := pending["tasks"].([]any)
	if len(entries) != 1 {
		t.Fatalf("pending entries = %d", len(entries))
	}
	entry, _ := entries[0].(map[string]any)
	if entry["full_id"] != open.ID.String() {
		t.Fatalf("pending entry = %v", entry["full_id"])
	}

	mustFail(t, execute(t, reg, ctx, "list_tasks", `{"filter":"active"}`), CodeValidationError)
}

func TestUpdateTask_PreservesOmittedFields(t *testing.T) {
	reg, store := newTestRegistry(t)
	owner := uuid.New()
	ctx := agentloop.WithOwner(context.Background(), owner)

	created, err := store.Create(owner, "original", "keep me")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated := mustSucceed(t, execute(t, reg, ctx, "update_task",
		fmt.Sprintf(`{"task_id":%q,"title":"renamed"}`, created.ID)))
	if updated["status"] != "updated" || updated["title"] != "renamed" || updated["task_id"] != created.ID.String() {
		t.Fatalf("update_task data = %v", updated)
	}
	stored, ok, err := store.Get(owner, created.ID)
	if err != nil || !ok {
		t.Fatalf("get after update: ok=%v err=%v", ok, err)
	}
	if stored.Description != "keep me" {
		t.Fatalf("description = %q", stored.Description)
	}

	// title is required; omitting it is a validation failure
	mustFail(t, execute(t, reg, ctx, "update_task", fmt.Sprintf(`{"task_id":%q}`, created.ID)), CodeValidationError)
	mustFail(t, execute(t, reg, ctx, "update_task",
		fmt.Sprintf(`{"task_id":%q,"description":"only this"}`, created.ID)), CodeValidationError)
	tooLong := strings.Repeat("x", 101)
	mustFail(t, execute(t, reg, ctx, "update_task",
		fmt.Sprintf(`{"task_id":%q,"title":%q}`, created.ID, tooLong)), CodeValidationError)
}

func TestDeleteTask_NamesTheTask(t *testing.T) {
	reg, store := newTestRegistry(t)
	owner := uuid.New()
	ctx := agentloop.WithOwner(context.Background(), owner)

	created, err := store.Create(owner, "doomed", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env := execute(t, reg, ctx, "delete_task", fmt.Sprintf(`{"task_id":%q}`, created.ID))
	data := mustSucceed(t, env)
	if data["status"] != "deleted" || data["title"] != "doomed" || data["task_id"] != created.ID.String() {
		t.Fatalf("delete_task data = %v", data)
	}
	msg, _ := env["message"].(string)
	if !strings.Contains(msg, "doomed") {
		t.Fatalf("message = %q", msg)
	}

	mustFail(t, execute(t, reg, ctx, "delete_task", fmt.Sprintf(`{"task_id":%q}`, created.ID)), CodeNotFound)
}

func TestOwnershipAndScope(t *testing.T) {
	reg, store := newTestRegistry(t)
	alice := uuid.New()
	created, err := store.Create(alice, "private", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// a different owner sees NOT_FOUND, identical to a missing id
	bobCtx := agentloop.WithOwner(context.Background(), uuid.New())
	mustFail(t, execute(t, reg, bobCtx, "complete_task", fmt.Sprintf(`{"task_id":%q}`, created.ID)), CodeNotFound)
	mustFail(t, execute(t, reg, bobCtx, "complete_task", fmt.Sprintf(`{"task_id":%q}`, uuid.New())), CodeNotFound)

	// without an owner in scope every tool refuses
	noOwner := context.Background()
	mustFail(t, execute(t, reg, noOwner, "list_tasks", `{}`), CodeUnauthorized)
	mustFail(t, execute(t, reg, noOwner, "add_task", `{"title":"x"}`), CodeUnauthorized)
}

func TestValidationFailures(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := agentloop.WithOwner(context.Background(), uuid.New())

	mustFail(t, execute(t, reg, ctx, "add_task", `{"title":"   "}`), CodeValidationError)
	mustFail(t, execute(t, reg, ctx, "add_task", `[1,2]`), CodeValidationError)
	mustFail(t, execute(t, reg, ctx, "complete_task", `{"task_id":"not-a-uuid"}`), CodeValidationError)
}
