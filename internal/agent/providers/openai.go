package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/StarkFactory/arc-reactor-sub001/internal/agent"
	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// OpenAIProvider implements agent.ChatClient against the Chat
// Completions API.
type OpenAIProvider struct {
	BaseProvider
	client *openai.Client
}

// NewOpenAIProvider builds a client; an empty apiKey yields a provider
// whose calls fail fast with a configuration error, useful for wiring
// in environments where OpenAI isn't actually enabled.
func NewOpenAIProvider(apiKey, defaultModel string) *OpenAIProvider {
	if defaultModel == "" {
		defaultModel = openai.GPT4o
	}
	p := &OpenAIProvider{BaseProvider: NewBaseProvider("openai", defaultModel)}
	if apiKey != "" {
		c := openai.NewClient(apiKey)
		p.client = c
	}
	return p
}

// Call performs one non-streaming completion.
func (p *OpenAIProvider) Call(ctx context.Context, spec agent.PromptSpec) (*agent.ChatResponse, error) {
	if p.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	req := p.buildRequest(spec)
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return &agent.ChatResponse{}, nil
	}

	choice := resp.Choices[0]
	out := &agent.ChatResponse{
		Text: choice.Message.Content,
		TokenUsage: models.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:           tc.ID,
			Name:         tc.Function.Name,
			ArgumentsRaw: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream performs one streaming completion, accumulating partial tool
// call fragments across deltas and emitting every accumulated tool call
// whole when a choice finishes with reason tool_calls.
func (p *OpenAIProvider) Stream(ctx context.Context, spec agent.PromptSpec) (<-chan agent.ChatChunk, error) {
	if p.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	req := p.buildRequest(spec)
	req.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, p.wrapError(err)
	}

	chunks := make(chan agent.ChatChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		pending := make(map[int]*models.ToolCall)
		var usage models.TokenUsage

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					chunks <- agent.ChatChunk{Done: true, TokenUsage: usage}
					return
				}
				chunks <- agent.ChatChunk{Err: p.wrapError(err)}
				return
			}
			if resp.Usage != nil {
				usage = models.TokenUsage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.Delta.Content != "" {
				chunks <- agent.ChatChunk{Text: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				if pending[index] == nil {
					pending[index] = &models.ToolCall{}
				}
				if tc.ID != "" {
					pending[index].ID = tc.ID
				}
				if tc.Function.Name != "" {
					pending[index].Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					pending[index].ArgumentsRaw = append(pending[index].ArgumentsRaw, []byte(tc.Function.Arguments)...)
				}
			}
			if choice.FinishReason == openai.FinishReasonToolCalls {
				for _, tc := range pending {
					chunks <- agent.ChatChunk{ToolCall: tc}
				}
				pending = make(map[int]*models.ToolCall)
			}
		}
	}()

	return chunks, nil
}

func (p *OpenAIProvider) buildRequest(spec agent.PromptSpec) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(spec.Messages)+1)
	if spec.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: spec.SystemPrompt,
		})
	}
	messages = append(messages, p.convertMessages(spec.Messages)...)

	req := openai.ChatCompletionRequest{
		Model:    p.ResolveModel(""),
		Messages: messages,
	}
	if spec.Options.MaxOutputTokens > 0 {
		req.MaxTokens = spec.Options.MaxOutputTokens
	}
	if spec.Options.Temperature > 0 {
		req.Temperature = float32(spec.Options.Temperature)
	}
	if len(spec.Tools) > 0 {
		req.Tools = p.convertTools(spec.Tools)
	}
	return req
}

func (p *OpenAIProvider) convertMessages(messages []models.Message) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.ArgumentsRaw),
					},
				})
			}
			result = append(result, oaiMsg)
		case models.RoleToolResponse:
			for _, tr := range msg.ToolResponses {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Output,
					ToolCallID: tr.ID,
				})
			}
		default:
			result = append(result, p.userMessage(msg))
		}
	}
	return result
}

func (p *OpenAIProvider) userMessage(msg models.Message) openai.ChatCompletionMessage {
	images := make([]models.Media, 0, len(msg.Media))
	for _, m := range msg.Media {
		if m.URL != "" {
			images = append(images, m)
		}
	}
	if len(images) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Text}
	}

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	if msg.Text != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: msg.Text})
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: img.URL, Detail: openai.ImageURLDetailAuto},
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func (p *OpenAIProvider) convertTools(tools []agent.ToolAdapter) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	wrapped := NewProviderError(p.Name(), "", err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped = wrapped.WithStatus(apiErr.HTTPStatusCode).WithCode(fmt.Sprintf("%v", apiErr.Code))
	}
	return wrapped
}
