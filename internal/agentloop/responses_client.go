package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
)

type OpenAIConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type CreateResponseRequest struct {
	Model        string             `json:"model"`
	Instructions string             `json:"instructions,omitempty"`
	Input        any                `json:"input"`
	Tools        []ResponseToolSpec `json:"tools,omitempty"`
	Store        *bool              `json:"store,omitempty"`
}

type ToolCall struct {
	ID        string
	CallID    string
	Name      string
	Arguments json.RawMessage
}

type CreateResponseResult struct {
	ID        string
	FinalText string
	ToolCalls []ToolCall
}

func (r CreateResponseResult) HasFinalText() bool {
	return strings.TrimSpace(r.FinalText) != ""
}

type ResponsesClient struct {
	cfg     OpenAIConfig
	service responses.ResponseService
}

func NewResponsesClient(cfg OpenAIConfig, httpClient *http.Client) *ResponsesClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	return &ResponsesClient{
		cfg:     cfg,
		service: responses.NewResponseService(opts...),
	}
}

func (c *ResponsesClient) CreateResponse(ctx context.Context, req CreateResponseRequest) (*CreateResponseResult, error) {
	params, err := c.toSDKRequest(req)
	if err != nil {
		return nil, err
	}
	var rawResp *http.Response
	var rawBody []byte
	_, err = c.service.New(
		ctx,
		params,
		option.WithResponseInto(&rawResp),
		option.WithResponseBodyInto(&rawBody),
	)
	if err != nil {
		return nil, c.wrapRequestError(err, req, rawResp)
	}
	if len(rawBody) == 0 {
		return nil, fmt.Errorf("responses api returned empty response request=%s", summarizeCreateResponseRequest(req))
	}
	return parseResponseResult(rawBody)
}

func (c *ResponsesClient) toSDKRequest(req CreateResponseRequest) (responses.ResponseNewParams, error) {
	var out responses.ResponseNewParams
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(c.cfg.Model)
	}
	if model != "" {
		out.Model = model
	}
	if instructions := strings.TrimSpace(req.Instructions); instructions != "" {
		out.Instructions = param.NewOpt(instructions)
	}
	if req.Store != nil {
		out.Store = param.NewOpt(*req.Store)
	}
	input, err := toSDKInput(req.Input)
	if err != nil {
		return responses.ResponseNewParams{}, err
	}
	out.Input = input
	if len(req.Tools) > 0 {
		tools, err := toSDKTools(req.Tools)
		if err != nil {
			return responses.ResponseNewParams{}, err
		}
		out.Tools = tools
	}
	return out, nil
}

func toSDKInput(input any) (responses.ResponseNewParamsInputUnion, error) {
	var out responses.ResponseNewParamsInputUnion
	if input == nil {
		return out, nil
	}
	switch v := input.(type) {
	case string:
		out.OfString = param.NewOpt(v)
		return out, nil
	case []map[string]any:
		items := make(responses.ResponseInputParam, 0, len(v))
		for i, rawItem := range v {
			item, err := toSDKInputItem(rawItem)
			if err != nil {
				return responses.ResponseNewParamsInputUnion{}, fmt.Errorf("invalid response input item[%d]: %w", i, err)
			}
			items = append(items, item)
		}
		out.OfInputItemList = items
		return out, nil
	default:
		return responses.ResponseNewParamsInputUnion{}, fmt.Errorf("unsupported response input type=%T", input)
	}
}

func toSDKInputItem(rawItem any) (responses.ResponseInputItemUnionParam, error) {
	raw, err := json.Marshal(rawItem)
	if err != nil {
		return responses.ResponseInputItemUnionParam{}, fmt.Errorf("marshal response input item failed: %w", err)
	}
	var out responses.ResponseInputItemUnionParam
	if err := json.Unmarshal(raw, &out); err != nil {
		return responses.ResponseInputItemUnionParam{}, fmt.Errorf("decode response input item failed: %w", err)
	}
	return out, nil
}

func toSDKTools(tools []ResponseToolSpec) ([]responses.ToolUnionParam, error) {
	out := make([]responses.ToolUnionParam, 0, len(tools))
	for i, spec := range tools {
		raw, err := json.Marshal(spec)
		if err != nil {
			return nil, fmt.Errorf("marshal response tool[%d] failed: %w", i, err)
		}
		var tool responses.ToolUnionParam
		if err := json.Unmarshal(raw, &tool); err != nil {
			return nil, fmt.Errorf("decode response tool[%d] failed: %w", i, err)
		}
		out = append(out, tool)
	}
	return out, nil
}

func parseResponseResult(raw []byte) (*CreateResponseResult, error) {
	var decoded responsePayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	out := &CreateResponseResult{ID: strings.TrimSpace(decoded.ID)}
	for _, item := range decoded.Output {
		if call, ok := toToolCall(item); ok {
			out.ToolCalls = append(out.ToolCalls, call)
			continue
		}
		appendMessageText(out, item.Content)
	}
	return out, nil
}

func (c *ResponsesClient) wrapRequestError(err error, req CreateResponseRequest, rawResp *http.Response) error {
	var apiErr *responses.Error
	if errors.As(err, &apiErr) {
		body := strings.TrimSpace(apiErr.RawJSON())
		if body == "" {
			body = strings.TrimSpace(err.Error())
		}
		return fmt.Errorf(
			"responses api status %d request_id=%q request=%s response=%s",
			apiErr.StatusCode,
			responseRequestID(rawResp),
			summarizeCreateResponseRequest(req),
			body,
		)
	}
	return fmt.Errorf("responses request failed request=%s: %w", summarizeCreateResponseRequest(req), err)
}

type responseContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseItem struct {
	Type      string                `json:"type"`
	ID        string                `json:"id"`
	CallID    string                `json:"call_id"`
	Name      string                `json:"name"`
	Arguments string                `json:"arguments"`
	Content   []responseContentPart `json:"content"`
}

type responsePayload struct {
	ID     string         `json:"id"`
	Output []responseItem `json:"output"`
}

func responseRequestID(resp *http.Response) string {
	if resp == nil || resp.Header == nil {
		return ""
	}
	for _, key := range []string{"x-request-id", "request-id", "openai-request-id", "x-openai-request-id"} {
		value := strings.TrimSpace(resp.Header.Get(key))
		if value != "" {
			return value
		}
	}
	return ""
}

func toToolCall(item responseItem) (ToolCall, bool) {
	if strings.TrimSpace(item.Type) != "function_call" {
		return ToolCall{}, false
	}
	return ToolCall{
		ID:        strings.TrimSpace(item.ID),
		CallID:    strings.TrimSpace(item.CallID),
		Name:      strings.TrimSpace(item.Name),
		Arguments: json.RawMessage(item.Arguments),
	}, true
}

func appendMessageText(out *CreateResponseResult, parts []responseContentPart) {
	if out == nil {
		return
	}
	for _, content := range parts {
		if strings.TrimSpace(content.Type) != "output_text" || strings.TrimSpace(content.Text) == "" {
			continue
		}
		if out.FinalText == "" {
			out.FinalText = content.Text
		} else {
			out.FinalText += "\n" + content.Text
		}
	}
}
