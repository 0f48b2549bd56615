// Package validate holds the pure field validators shared by the HTTP layer
// and the agent tool dispatch. Validators never touch storage and report
// expected bad input as values, not panics.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Length limits count characters, not bytes.
const (
	TitleMaxLength       = 100
	DescriptionMaxLength = 500
)

// FieldError names the offending field alongside a human-readable message.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	if e == nil {
		return "validation failed"
	}
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func fieldError(field, message string) *FieldError {
	return &FieldError{Field: field, Message: message}
}

// Title trims and validates a task title. The trimmed value is returned so
// callers persist exactly what was validated.
func Title(raw string) (string, *FieldError) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", fieldError("title", "Title must be at least 1 character")
	}
	if utf8.RuneCountInString(title) > TitleMaxLength {
		return "", fieldError("title", fmt.Sprintf("Title must not exceed %d characters", TitleMaxLength))
	}
	return title, nil
}

// Description trims and validates a task description. Empty is valid; the
// field is optional.
func Description(raw string) (string, *FieldError) {
	description := strings.TrimSpace(raw)
	if utf8.RuneCountInString(description) > DescriptionMaxLength {
		return "", fieldError("description", fmt.Sprintf("Description must not exceed %d characters", DescriptionMaxLength))
	}
	return description, nil
}

// TaskID parses a task id in UUID form.
func TaskID(raw string) (uuid.UUID, *FieldError) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return uuid.Nil, fieldError("task_id", "Task ID is required")
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fieldError("task_id", "Task ID must be a valid UUID")
	}
	return id, nil
}

// ToolFilter normalizes the agent-facing filter vocabulary. The tool layer
// speaks {all, pending, completed}; the HTTP layer speaks {all, active,
// completed} via APIFilter. The two vocabularies are mapped to store filters
// at their respective boundaries, never unified here.
func ToolFilter(raw string) (string, *FieldError) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "all", nil
	}
	switch normalized {
	case "all", "pending", "completed":
		return normalized, nil
	}
	return "", fieldError("filter", "Filter must be one of: all, pending, completed")
}

// APIFilter normalizes the HTTP-facing filter vocabulary.
func APIFilter(raw string) (string, *FieldError) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "all", nil
	}
	switch normalized {
	case "all", "active", "completed":
		return normalized, nil
	}
	return "", fieldError("filter", "Filter must be one of: all, active, completed")
}
