// Package tasktools exposes task operations as function tools for the agent
// loop. Every tool returns a structured envelope string; the agent reads
// failures out of the payload instead of seeing transport errors.
package tasktools

import "encoding/json"

const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeConflict        = "CONFLICT"
)

type envelopeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type envelope struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
}

func successEnvelope(data map[string]any, message string) string {
	return marshalEnvelope(envelope{Success: true, Data: data, Message: message})
}

func failureEnvelope(code, message string, details map[string]any) string {
	return marshalEnvelope(envelope{Success: false, Error: &envelopeError{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func marshalEnvelope(env envelope) string {
	raw, err := json.Marshal(env)
	if err != nil {
		return `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"encoding failed"}}`
	}
	return string(raw)
}
