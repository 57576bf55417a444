package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicAdapter implements ProviderAdapter on the official Anthropic SDK.
// Unlike the gollm adapter it preserves native tool-use blocks, so tool call
// ids round-trip exactly.
type AnthropicAdapter struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicAdapter creates an adapter. If apiKey is empty the SDK reads
// ANTHROPIC_API_KEY from the environment.
func NewAnthropicAdapter(apiKey, model string) *AnthropicAdapter {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicAdapter{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Complete sends a blocking completion request.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params := a.translateRequest(req)

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.translateError(err)
	}

	return a.translateResponse(msg), nil
}

// translateRequest converts the canonical Request into Anthropic params.
// System messages become the top-level system prompt; tool messages become
// tool_result blocks inside user messages, as the API requires.
func (a *AnthropicAdapter) translateRequest(req Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(tc.Arguments), tc.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		System:    system,
		Messages:  messages,
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema := anthropic.ToolInputSchemaParam{}
			if props, ok := t.Parameters["properties"]; ok {
				schema.Properties = props
			}
			if req, ok := t.Parameters["required"].([]string); ok {
				schema.Required = req
			} else if raw, ok := t.Parameters["required"].([]any); ok {
				for _, r := range raw {
					if s, ok := r.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
			tools = append(tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
					InputSchema: schema,
				},
			})
		}
		params.Tools = tools
	}

	return params
}

// translateResponse converts the Anthropic message into the canonical shape.
func (a *AnthropicAdapter) translateResponse(msg *anthropic.Message) *Response {
	resp := &Response{
		ID:       msg.ID,
		Model:    string(msg.Model),
		Provider: "anthropic",
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += b.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: json.RawMessage(b.Input),
			})
		}
	}

	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		resp.FinishReason = FinishReason{Reason: "tool_calls", Raw: string(msg.StopReason)}
	case anthropic.StopReasonMaxTokens:
		resp.FinishReason = FinishReason{Reason: "length", Raw: string(msg.StopReason)}
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		resp.FinishReason = FinishReason{Reason: "stop", Raw: string(msg.StopReason)}
	default:
		resp.FinishReason = FinishReason{Reason: "other", Raw: string(msg.StopReason)}
	}

	return resp
}

// translateError maps SDK errors to the typed hierarchy.
func (a *AnthropicAdapter) translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), "anthropic", nil)
	}
	return &NetworkError{ClientError: ClientError{Message: "anthropic request failed", Cause: err}}
}
