package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/server/internal/taskstore"
	"taskflow/server/internal/validate"
)

func (s *Server) registerTaskRoutes() {
	s.mux.HandleFunc("/api/tasks", s.handleTasksCollection)
	s.mux.HandleFunc("/api/tasks/", s.handleTaskItem)
}

func (s *Server) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r, owner)
	case http.MethodGet:
		s.handleListTasks(w, r, owner)
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (s *Server) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	taskID, ferr := validate.TaskID(parts[0])
	if ferr != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", ferr.Message)
		return
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodPut:
		s.handleUpdateTask(w, r, owner, taskID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleDeleteTask(w, owner, taskID)
	case len(parts) == 2 && parts[1] == "toggle" && r.Method == http.MethodPost:
		s.handleToggleTask(w, owner, taskID)
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, owner uuid.UUID) {
	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "request body must be a JSON object")
		return
	}
	task, err := s.deps.Tasks.Create(owner, body.Title, body.Description)
	if err != nil {
		var ferr *validate.FieldError
		if errors.As(err, &ferr) {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", ferr.Message)
			return
		}
		s.logger.Error("create task failed", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "create task failed")
		return
	}
	s.publishEvent("task.created", owner, map[string]any{"task": taskJSON(task)})
	respondCreated(w, taskJSON(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, owner uuid.UUID) {
	filter, ferr := validate.APIFilter(r.URL.Query().Get("filter"))
	if ferr != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", ferr.Message)
		return
	}
	tasks, err := s.deps.Tasks.List(owner, taskstore.StatusFilter(filter))
	if err != nil {
		s.logger.Error("list tasks failed", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "list tasks failed")
		return
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskJSON(task))
	}
	respondOK(w, map[string]any{"tasks": out, "count": len(out)})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request, owner, taskID uuid.UUID) {
	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "request body must be a JSON object")
		return
	}
	task, found, err := s.deps.Tasks.UpdateText(owner, taskID, body.Title, body.Description)
	if err != nil {
		var ferr *validate.FieldError
		if errors.As(err, &ferr) {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", ferr.Message)
			return
		}
		s.logger.Error("update task failed", "task_id", taskID, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "update task failed")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
		return
	}
	s.publishEvent("task.updated", owner, map[string]any{"task": taskJSON(task)})
	respondOK(w, taskJSON(task))
}

func (s *Server) handleToggleTask(w http.ResponseWriter, owner, taskID uuid.UUID) {
	task, found, err := s.deps.Tasks.ToggleCompletion(owner, taskID)
	if err != nil {
		s.logger.Error("toggle task failed", "task_id", taskID, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "toggle task failed")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
		return
	}
	s.publishEvent("task.toggled", owner, map[string]any{"task": taskJSON(task)})
	respondOK(w, taskJSON(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, owner, taskID uuid.UUID) {
	deleted, err := s.deps.Tasks.Delete(owner, taskID)
	if err != nil {
		s.logger.Error("delete task failed", "task_id", taskID, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "delete task failed")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
		return
	}
	s.publishEvent("task.deleted", owner, map[string]any{"task_id": taskID.String()})
	respondOK(w, map[string]any{"deleted": true, "task_id": taskID.String()})
}

func taskJSON(task taskstore.Task) map[string]any {
	out := map[string]any{
		"id":          task.ID.String(),
		"title":       task.Title,
		"description": task.Description,
		"status":      string(task.Status),
		"created_at":  task.CreatedAt.Format(time.RFC3339),
	}
	if task.CompletedAt != nil {
		out["completed_at"] = task.CompletedAt.Format(time.RFC3339)
	}
	if task.UpdatedAt != nil {
		out["updated_at"] = task.UpdatedAt.Format(time.RFC3339)
	}
	return out
}
