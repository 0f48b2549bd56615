package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type ResponsesAPI interface {
	CreateResponse(ctx context.Context, req CreateResponseRequest) (*CreateResponseResult, error)
}

type RunnerOptions struct {
	MaxIterations int
}

// Runner drives the model/tool loop until the model produces a final text
// answer. Every request re-sends the full conversation so far (history
// messages, emitted function_call items, their function_call_output items)
// instead of relying on server-side response persistence, which proxies and
// some providers do not honour.
type Runner struct {
	client  ResponsesAPI
	tools   *ToolRegistry
	options RunnerOptions
}

func NewRunner(client ResponsesAPI, tools *ToolRegistry, options RunnerOptions) *Runner {
	if options.MaxIterations <= 0 {
		options.MaxIterations = 8
	}
	return &Runner{client: client, tools: tools, options: options}
}

type RunRequest struct {
	Instructions string
	History      []HistoryMessage
	UserMessage  string
}

func (r *Runner) Run(ctx context.Context, runReq RunRequest) (*RunResult, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("runner client is required")
	}
	userMessage := strings.TrimSpace(runReq.UserMessage)
	if userMessage == "" {
		return nil, errors.New("user message is required")
	}

	inputItems := make([]map[string]any, 0, len(runReq.History)+8)
	for _, msg := range runReq.History {
		inputItems = append(inputItems, buildMessageInputItem(msg.Role, msg.Content))
	}
	inputItems = append(inputItems, buildMessageInputItem("user", userMessage))

	result := &RunResult{}
	storeDisabled := false
	for i := 0; i < r.options.MaxIterations; i++ {
		req := CreateResponseRequest{
			Instructions: runReq.Instructions,
			Input:        cloneInputItems(inputItems),
			Store:        &storeDisabled,
		}
		if r.tools != nil {
			req.Tools = r.tools.Specs()
		}
		res, err := r.client.CreateResponse(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("responses request failed iteration=%d: %w", i+1, err)
		}
		if res.HasFinalText() {
			result.FinalText = res.FinalText
			return result, nil
		}
		if len(res.ToolCalls) == 0 {
			return nil, fmt.Errorf(
				"responses api returned no output_text and no tool_calls iteration=%d response_id=%q",
				i+1,
				strings.TrimSpace(res.ID),
			)
		}
		for _, call := range res.ToolCalls {
			callID := strings.TrimSpace(call.CallID)
			if callID == "" {
				return nil, fmt.Errorf(
					"responses tool call missing call_id iteration=%d tool=%s response_id=%q",
					i+1,
					strings.TrimSpace(call.Name),
					strings.TrimSpace(res.ID),
				)
			}
			out := r.executeTool(ctx, call)
			result.Invocations = append(result.Invocations, ToolInvocation{
				Tool:   strings.TrimSpace(call.Name),
				Input:  rawJSONToMap(call.Arguments),
				Output: stringToMaybeJSONAny(out),
			})
			inputItems = append(inputItems, buildReplayFunctionCallInputItem(call))
			inputItems = append(inputItems, map[string]any{
				"type":    "function_call_output",
				"call_id": callID,
				"output":  out,
			})
		}
	}
	return nil, fmt.Errorf("responses loop exceeded max iterations: %d", r.options.MaxIterations)
}

// executeTool never fails the loop: an execution error becomes an error
// payload in the function output so the model can react to it.
func (r *Runner) executeTool(ctx context.Context, call ToolCall) string {
	if r.tools == nil {
		return `{"error":"tool registry unavailable"}`
	}
	out, err := r.tools.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return out
}

func rawJSONToMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return out
}

func stringToMaybeJSONAny(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	var out any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return text
	}
	return out
}

func cloneInputItems(in []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	out = append(out, in...)
	return out
}

func buildMessageInputItem(role, text string) map[string]any {
	contentType := "input_text"
	if strings.TrimSpace(role) == "assistant" {
		contentType = "output_text"
	}
	return map[string]any{
		"type": "message",
		"role": strings.TrimSpace(role),
		"content": []map[string]any{
			{
				"type": contentType,
				"text": strings.TrimSpace(text),
			},
		},
	}
}

func buildReplayFunctionCallInputItem(call ToolCall) map[string]any {
	arguments := strings.TrimSpace(string(call.Arguments))
	if arguments == "" {
		arguments = "{}"
	}
	return map[string]any{
		"type":      "function_call",
		"call_id":   strings.TrimSpace(call.CallID),
		"name":      sanitizeFunctionCallNameForInput(call.Name),
		"arguments": arguments,
	}
}

func sanitizeFunctionCallNameForInput(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "tool_call"
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range name {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_' || ch == '-' {
			b.WriteRune(ch)
			continue
		}
		b.WriteByte('_')
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "tool_call"
	}
	return out
}

func summarizeCreateResponseRequest(req CreateResponseRequest) string {
	storeSummary := "<unset>"
	if req.Store != nil {
		storeSummary = fmt.Sprintf("%t", *req.Store)
	}
	inputSummary := "<nil>"
	switch v := req.Input.(type) {
	case string:
		inputSummary = fmt.Sprintf("text(len=%d)", len(strings.TrimSpace(v)))
	case []map[string]any:
		inputSummary = fmt.Sprintf("items=%d", len(v))
	}
	return fmt.Sprintf("store=%s tools=%d input=%s", storeSummary, len(req.Tools), inputSummary)
}
