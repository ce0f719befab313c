// Package providers implements LLM provider integrations behind the
// agent package's ChatClient interface.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/StarkFactory/arc-reactor-sub001/internal/agent"
	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicProvider implements agent.ChatClient against Claude's
// Messages API, converting between the core's provider-agnostic
// PromptSpec/ChatResponse shapes and the SDK's message/content blocks.
type AnthropicProvider struct {
	BaseProvider
	client anthropic.Client
}

// NewAnthropicProvider builds a client from config, defaulting the
// model to a current Claude snapshot when unset.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", config.DefaultModel),
		client:       anthropic.NewClient(opts...),
	}, nil
}

// Call performs one non-streaming completion.
func (p *AnthropicProvider) Call(ctx context.Context, spec agent.PromptSpec) (*agent.ChatResponse, error) {
	params, err := p.buildParams(spec)
	if err != nil {
		return nil, p.wrapError(err)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	resp := &agent.ChatResponse{
		TokenUsage: models.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ThinkingBlock:
			resp.Thinking += variant.Thinking
		case anthropic.ToolUseBlock:
			argsJSON, err := json.Marshal(variant.Input)
			if err != nil {
				argsJSON = json.RawMessage("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:           variant.ID,
				Name:         variant.Name,
				ArgumentsRaw: argsJSON,
			})
		}
	}
	return resp, nil
}

// Stream performs one streaming completion, translating SSE events into
// ChatChunks. Tool calls are emitted whole once their content block
// closes, never partially.
func (p *AnthropicProvider) Stream(ctx context.Context, spec agent.PromptSpec) (<-chan agent.ChatChunk, error) {
	params, err := p.buildParams(spec)
	if err != nil {
		return nil, p.wrapError(err)
	}

	chunks := make(chan agent.ChatChunk)
	stream := p.client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(chunks)

		var pendingCall *models.ToolCall
		var pendingArgs strings.Builder
		var usage models.TokenUsage

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				ms := event.AsMessageStart()
				usage.PromptTokens = int(ms.Message.Usage.InputTokens)

			case "content_block_start":
				cbs := event.AsContentBlockStart()
				if tu, ok := cbs.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					pendingCall = &models.ToolCall{ID: tu.ID, Name: tu.Name}
					pendingArgs.Reset()
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch d := delta.AsAny().(type) {
				case anthropic.TextDelta:
					if d.Text != "" {
						chunks <- agent.ChatChunk{Text: d.Text}
					}
				case anthropic.ThinkingDelta:
					if d.Thinking != "" {
						chunks <- agent.ChatChunk{Thinking: d.Thinking}
					}
				case anthropic.InputJSONDelta:
					pendingArgs.WriteString(d.PartialJSON)
				}

			case "content_block_stop":
				if pendingCall != nil {
					pendingCall.ArgumentsRaw = json.RawMessage(pendingArgs.String())
					chunks <- agent.ChatChunk{ToolCall: pendingCall}
					pendingCall = nil
				}

			case "message_delta":
				md := event.AsMessageDelta()
				usage.CompletionTokens = int(md.Usage.OutputTokens)

			case "message_stop":
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
				chunks <- agent.ChatChunk{Done: true, TokenUsage: usage}
				return
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- agent.ChatChunk{Err: p.wrapError(err)}
		}
	}()

	return chunks, nil
}

func (p *AnthropicProvider) buildParams(spec agent.PromptSpec) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(spec.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: converting messages: %w", err)
	}

	maxTokens := spec.Options.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.ResolveModel("")),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if spec.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: spec.SystemPrompt}}
	}
	if spec.Options.Temperature > 0 {
		params.Temperature = anthropic.Float(spec.Options.Temperature)
	}
	if len(spec.Tools) > 0 {
		tools, err := p.convertTools(spec.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: converting tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *AnthropicProvider) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Text != "" {
			content = append(content, anthropic.NewTextBlock(msg.Text))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if len(call.ArgumentsRaw) > 0 {
				if err := json.Unmarshal(call.ArgumentsRaw, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", call.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		for _, resp := range msg.ToolResponses {
			content = append(content, anthropic.NewToolResultBlock(resp.ID, resp.Output, false))
		}
		if len(content) == 0 {
			continue
		}

		switch msg.Role {
		case models.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(content...))
		default:
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []agent.ToolAdapter) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		toolParam.OfTool.Description = anthropic.String(t.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	wrapped := NewProviderError(p.Name(), "", err)
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped = wrapped.WithStatus(apiErr.StatusCode)
	}
	return wrapped
}
