package tasktools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskflow/server/internal/agentloop"
	"taskflow/server/internal/taskstore"
	"taskflow/server/internal/validate"
)

// shortIDLength is how much of the task id the agent sees as the display id.
// The full id still travels alongside so tools can be called back precisely.
const shortIDLength = 8

// Register wires every task tool into the registry.
func Register(reg *agentloop.ToolRegistry, tasks *taskstore.Store, logger *slog.Logger) error {
	if tasks == nil {
		return errors.New("task store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	tools := []agentloop.Tool{
		&addTaskTool{tasks: tasks, logger: logger},
		&listTasksTool{tasks: tasks, logger: logger},
		&completeTaskTool{tasks: tasks, logger: logger},
		&updateTaskTool{tasks: tasks, logger: logger},
		&deleteTaskTool{tasks: tasks, logger: logger},
	}
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func ownerFromContext(ctx context.Context) (uuid.UUID, string) {
	owner, ok := agentloop.OwnerFromContext(ctx)
	if !ok {
		return uuid.Nil, failureEnvelope(CodeUnauthorized, "no authenticated user in scope", nil)
	}
	return owner, ""
}

func parseTaskID(raw string) (uuid.UUID, string) {
	id, ferr := validate.TaskID(raw)
	if ferr != nil {
		return uuid.Nil, failureEnvelope(CodeValidationError, ferr.Message, map[string]any{"field": ferr.Field})
	}
	return id, ""
}

func decodeInput(input json.RawMessage, dst any) string {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, dst); err != nil {
		return failureEnvelope(CodeValidationError, "arguments must be a JSON object", nil)
	}
	return ""
}

func internalFailure(logger *slog.Logger, tool string, err error) string {
	logger.Error("tool execution failed", "tool", tool, "error", err)
	return failureEnvelope(CodeInternalError, "operation failed, try again", nil)
}

// actionData is the flat payload every mutating tool returns: the full task
// id, an action status word, and the task's title.
func actionData(taskID uuid.UUID, status, title string) map[string]any {
	return map[string]any{
		"task_id": taskID.String(),
		"status":  status,
		"title":   title,
	}
}

func notFoundFailure(taskID uuid.UUID) string {
	return failureEnvelope(CodeNotFound, fmt.Sprintf("task %s not found", taskID), nil)
}

type addTaskTool struct {
	tasks  *taskstore.Store
	logger *slog.Logger
}

func (t *addTaskTool) Name() string { return "add_task" }

func (t *addTaskTool) Spec() agentloop.ResponseToolSpec {
	return agentloop.ResponseToolSpec{
		Type:        "function",
		Name:        "add_task",
		Description: "Create a new task for the current user. Title is required (1-100 characters); description is optional (up to 500 characters).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":       map[string]any{"type": "string", "description": "Short task title"},
				"description": map[string]any{"type": "string", "description": "Optional longer details"},
			},
			"required": []string{"title"},
		},
	}
}

func (t *addTaskTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	owner, fail := ownerFromContext(ctx)
	if fail != "" {
		return fail, nil
	}
	var args struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if fail := decodeInput(input, &args); fail != "" {
		return fail, nil
	}
	task, err := t.tasks.Create(owner, args.Title, args.Description)
	if err != nil {
		var ferr *validate.FieldError
		if errors.As(err, &ferr) {
			return failureEnvelope(CodeValidationError, ferr.Message, map[string]any{"field": ferr.Field}), nil
		}
		return internalFailure(t.logger, t.Name(), err), nil
	}
	return successEnvelope(
		actionData(task.ID, "created", task.Title),
		fmt.Sprintf("Created task %q", task.Title),
	), nil
}

type listTasksTool struct {
	tasks  *taskstore.Store
	logger *slog.Logger
}

func (t *listTasksTool) Name() string { return "list_tasks" }

func (t *listTasksTool) Spec() agentloop.ResponseToolSpec {
	return agentloop.ResponseToolSpec{
		Type:        "function",
		Name:        "list_tasks",
		Description: "List the current user's tasks. Each entry has a short display id and a full_id; use full_id when calling other tools.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filter": map[string]any{
					"type":        "string",
					"enum":        []string{"all", "pending", "completed"},
					"description": "Which tasks to include; defaults to all",
				},
			},
		},
	}
}

func (t *listTasksTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	owner, fail := ownerFromContext(ctx)
	if fail != "" {
		return fail, nil
	}
	var args struct {
		Filter string `json:"filter"`
	}
	if fail := decodeInput(input, &args); fail != "" {
		return fail, nil
	}
	filter, ferr := validate.ToolFilter(args.Filter)
	if ferr != nil {
		return failureEnvelope(CodeValidationError, ferr.Message, map[string]any{"field": ferr.Field}), nil
	}
	tasks, err := t.tasks.List(owner, storeFilter(filter))
	if err != nil {
		return internalFailure(t.logger, t.Name(), err), nil
	}
	entries := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		full := task.ID.String()
		entry := map[string]any{
			"id":          full[:shortIDLength],
			"full_id":     full,
			"title":       task.Title,
			"description": task.Description,
			"status":      string(task.Status),
			"created_at":  task.CreatedAt.Format(time.RFC3339),
		}
		if task.CompletedAt != nil {
			entry["completed_at"] = task.CompletedAt.Format(time.RFC3339)
		}
		entries = append(entries, entry)
	}
	return successEnvelope(map[string]any{
		"tasks":  entries,
		"count":  len(entries),
		"filter": filter,
	}, ""), nil
}

// storeFilter maps the tool vocabulary (pending) onto the listing
// vocabulary (active).
func storeFilter(toolFilter string) taskstore.StatusFilter {
	switch toolFilter {
	case "pending":
		return taskstore.FilterActive
	case "completed":
		return taskstore.FilterCompleted
	default:
		return taskstore.FilterAll
	}
}

type completeTaskTool struct {
	tasks  *taskstore.Store
	logger *slog.Logger
}

func (t *completeTaskTool) Name() string { return "complete_task" }

func (t *completeTaskTool) Spec() agentloop.ResponseToolSpec {
	return agentloop.ResponseToolSpec{
		Type:        "function",
		Name:        "complete_task",
		Description: "Toggle a task's completion: a pending task becomes completed, a completed task returns to pending.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{"type": "string", "description": "The task's full_id"},
			},
			"required": []string{"task_id"},
		},
	}
}

func (t *completeTaskTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	owner, fail := ownerFromContext(ctx)
	if fail != "" {
		return fail, nil
	}
	var args struct {
		TaskID string `json:"task_id"`
	}
	if fail := decodeInput(input, &args); fail != "" {
		return fail, nil
	}
	taskID, fail := parseTaskID(args.TaskID)
	if fail != "" {
		return fail, nil
	}
	task, ok, err := t.tasks.ToggleCompletion(owner, taskID)
	if err != nil {
		return internalFailure(t.logger, t.Name(), err), nil
	}
	if !ok {
		return notFoundFailure(taskID), nil
	}
	return successEnvelope(
		actionData(task.ID, string(task.Status), task.Title),
		fmt.Sprintf("Task %q is now %s", task.Title, task.Status),
	), nil
}

type updateTaskTool struct {
	tasks  *taskstore.Store
	logger *slog.Logger
}

func (t *updateTaskTool) Name() string { return "update_task" }

func (t *updateTaskTool) Spec() agentloop.ResponseToolSpec {
	return agentloop.ResponseToolSpec{
		Type:        "function",
		Name:        "update_task",
		Description: "Change a task's title and optionally its description. An omitted description keeps its current value.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id":     map[string]any{"type": "string", "description": "The task's full_id"},
				"title":       map[string]any{"type": "string", "description": "New title (required)"},
				"description": map[string]any{"type": "string", "description": "New description"},
			},
			"required": []string{"task_id", "title"},
		},
	}
}

func (t *updateTaskTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	owner, fail := ownerFromContext(ctx)
	if fail != "" {
		return fail, nil
	}
	var args struct {
		TaskID      string  `json:"task_id"`
		Title       string  `json:"title"`
		Description *string `json:"description"`
	}
	if fail := decodeInput(input, &args); fail != "" {
		return fail, nil
	}
	title, ferr := validate.Title(args.Title)
	if ferr != nil {
		return failureEnvelope(CodeValidationError, ferr.Message, map[string]any{"field": ferr.Field}), nil
	}
	taskID, fail := parseTaskID(args.TaskID)
	if fail != "" {
		return fail, nil
	}
	current, ok, err := t.tasks.Get(owner, taskID)
	if err != nil {
		return internalFailure(t.logger, t.Name(), err), nil
	}
	if !ok {
		return notFoundFailure(taskID), nil
	}
	description := current.Description
	if args.Description != nil {
		description = *args.Description
	}
	task, ok, err := t.tasks.UpdateText(owner, taskID, title, description)
	if err != nil {
		var ferr *validate.FieldError
		if errors.As(err, &ferr) {
			return failureEnvelope(CodeValidationError, ferr.Message, map[string]any{"field": ferr.Field}), nil
		}
		return internalFailure(t.logger, t.Name(), err), nil
	}
	if !ok {
		return notFoundFailure(taskID), nil
	}
	return successEnvelope(
		actionData(task.ID, "updated", task.Title),
		fmt.Sprintf("Updated task %q", task.Title),
	), nil
}

type deleteTaskTool struct {
	tasks  *taskstore.Store
	logger *slog.Logger
}

func (t *deleteTaskTool) Name() string { return "delete_task" }

func (t *deleteTaskTool) Spec() agentloop.ResponseToolSpec {
	return agentloop.ResponseToolSpec{
		Type:        "function",
		Name:        "delete_task",
		Description: "Permanently delete a task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{"type": "string", "description": "The task's full_id"},
			},
			"required": []string{"task_id"},
		},
	}
}

func (t *deleteTaskTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	owner, fail := ownerFromContext(ctx)
	if fail != "" {
		return fail, nil
	}
	var args struct {
		TaskID string `json:"task_id"`
	}
	if fail := decodeInput(input, &args); fail != "" {
		return fail, nil
	}
	taskID, fail := parseTaskID(args.TaskID)
	if fail != "" {
		return fail, nil
	}
	// read the title first so the confirmation can name the task
	current, ok, err := t.tasks.Get(owner, taskID)
	if err != nil {
		return internalFailure(t.logger, t.Name(), err), nil
	}
	if !ok {
		return notFoundFailure(taskID), nil
	}
	deleted, err := t.tasks.Delete(owner, taskID)
	if err != nil {
		return internalFailure(t.logger, t.Name(), err), nil
	}
	if !deleted {
		return notFoundFailure(taskID), nil
	}
	return successEnvelope(
		actionData(taskID, "deleted", current.Title),
		fmt.Sprintf("Deleted task %q", current.Title),
	), nil
}
