package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"overseer/internal/capability"
)

const defaultMaxTokens = 8192

// AnthropicBackend implements Backend over the Anthropic Messages API.
type AnthropicBackend struct {
	client *Client
}

// NewAnthropicBackend creates a Backend from a configured Client.
func NewAnthropicBackend(client *Client) *AnthropicBackend {
	return &AnthropicBackend{client: client}
}

// Usage reports the token usage accumulated across this backend's calls.
func (b *AnthropicBackend) Usage() Usage {
	return b.client.usage.Snapshot()
}

// Complete sends one completion request and maps the response back into the
// backend-neutral Turn shape.
func (b *AnthropicBackend) Complete(ctx context.Context, req Request) (*Turn, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     b.client.Model(),
		MaxTokens: int64(maxTokens),
		Messages:  buildMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Capabilities) > 0 {
		params.Tools = buildTools(req.Capabilities)
	}

	resp, err := b.client.sdk().Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	b.client.usage.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	turn := &Turn{
		Done:         resp.StopReason == anthropic.StopReasonEndTurn,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}

	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			turn.Text += variant.Text
		case anthropic.ToolUseBlock:
			var args capability.Args
			if err := json.Unmarshal(variant.Input, &args); err != nil {
				args = capability.Args{}
			}
			turn.Calls = append(turn.Calls, Call{
				ID:   variant.ID,
				Name: variant.Name,
				Args: args,
			})
		}
	}

	return turn, nil
}

// buildMessages converts backend-neutral messages into SDK message params.
func buildMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		var blocks []anthropic.ContentBlockParamUnion

		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, call := range m.Calls {
			raw, err := json.Marshal(call.Args)
			if err != nil {
				raw = []byte("{}")
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, json.RawMessage(raw), call.Name))
		}
		for _, res := range m.Results {
			blocks = append(blocks, anthropic.NewToolResultBlock(res.CallID, res.Content, res.IsError))
		}

		if len(blocks) == 0 {
			continue
		}
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// buildTools converts capability specs into SDK tool definitions.
func buildTools(specs []CapabilitySpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		props := spec.Parameters
		if props == nil {
			props = map[string]any{}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   spec.Required,
				},
			},
		})
	}
	return out
}
