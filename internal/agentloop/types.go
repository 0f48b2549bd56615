package agentloop

import (
	"context"
	"encoding/json"
)

// ResponseToolSpec is the function tool description sent to the Responses
// API. Parameters is a JSON Schema object.
type ResponseToolSpec struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Tool executes a single named operation on behalf of the agent. Execute
// returns the string handed back as the function_call_output; domain-level
// failures belong inside that payload, the error return is for failures the
// loop itself must surface.
type Tool interface {
	Name() string
	Spec() ResponseToolSpec
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// HistoryMessage is one prior conversation turn replayed to the model.
type HistoryMessage struct {
	Role    string
	Content string
}

// ToolInvocation records one executed tool call so the caller can persist
// it alongside the assistant's reply.
type ToolInvocation struct {
	Tool   string
	Input  map[string]any
	Output any
}

// RunResult is the outcome of a completed agent run.
type RunResult struct {
	FinalText   string
	Invocations []ToolInvocation
}
