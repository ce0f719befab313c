package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/StarkFactory/arc-reactor-sub001/internal/agent"
	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// GoogleProvider implements agent.ChatClient against the Gemini API via
// the Google Gen AI SDK. Gemini has no tool_call_id: function calls and
// their responses are matched by function name instead.
type GoogleProvider struct {
	BaseProvider
	client *genai.Client
}

// NewGoogleProvider builds a client; an empty apiKey yields a provider
// whose calls fail fast with a configuration error, useful for wiring
// in environments where Gemini isn't actually enabled.
func NewGoogleProvider(apiKey, defaultModel string) *GoogleProvider {
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	p := &GoogleProvider{BaseProvider: NewBaseProvider("google", defaultModel)}
	if apiKey != "" {
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err == nil {
			p.client = client
		}
	}
	return p
}

// Call performs one non-streaming completion.
func (p *GoogleProvider) Call(ctx context.Context, spec agent.PromptSpec) (*agent.ChatResponse, error) {
	if p.client == nil {
		return nil, errors.New("google: API key not configured")
	}

	contents := p.convertMessages(spec.Messages)
	config := p.buildConfig(spec)

	resp, err := p.client.Models.GenerateContent(ctx, p.ResolveModel(""), contents, config)
	if err != nil {
		return nil, p.wrapError(err)
	}

	out := &agent.ChatResponse{
		TokenUsage: models.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		},
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			p.collectPart(part, out)
		}
	}
	return out, nil
}

// Stream performs one streaming completion, consuming the SDK's
// iter.Seq2 stream and emitting each function call whole once its part
// closes, never partially.
func (p *GoogleProvider) Stream(ctx context.Context, spec agent.PromptSpec) (<-chan agent.ChatChunk, error) {
	if p.client == nil {
		return nil, errors.New("google: API key not configured")
	}

	contents := p.convertMessages(spec.Messages)
	config := p.buildConfig(spec)

	streamIter := p.client.Models.GenerateContentStream(ctx, p.ResolveModel(""), contents, config)

	chunks := make(chan agent.ChatChunk)
	go func() {
		defer close(chunks)

		var usage models.TokenUsage
		for resp, err := range streamIter {
			select {
			case <-ctx.Done():
				chunks <- agent.ChatChunk{Err: ctx.Err()}
				return
			default:
			}
			if err != nil {
				chunks <- agent.ChatChunk{Err: p.wrapError(err)}
				return
			}
			if resp == nil {
				continue
			}
			if resp.UsageMetadata != nil {
				usage = models.TokenUsage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
				}
			}
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					var single agent.ChatResponse
					p.collectPart(part, &single)
					if single.Text != "" {
						chunks <- agent.ChatChunk{Text: single.Text}
					}
					for _, tc := range single.ToolCalls {
						tc := tc
						chunks <- agent.ChatChunk{ToolCall: &tc}
					}
				}
			}
		}
		chunks <- agent.ChatChunk{Done: true, TokenUsage: usage}
	}()

	return chunks, nil
}

func (p *GoogleProvider) collectPart(part *genai.Part, out *agent.ChatResponse) {
	if part == nil {
		return
	}
	if part.Text != "" {
		out.Text += part.Text
	}
	if part.FunctionCall != nil {
		argsJSON, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			argsJSON = []byte("{}")
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:           part.FunctionCall.Name,
			Name:         part.FunctionCall.Name,
			ArgumentsRaw: argsJSON,
		})
	}
}

func (p *GoogleProvider) buildConfig(spec agent.PromptSpec) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if spec.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: spec.SystemPrompt}},
		}
	}
	if spec.Options.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(spec.Options.MaxOutputTokens)
	}
	if spec.Options.Temperature > 0 {
		t := float32(spec.Options.Temperature)
		config.Temperature = &t
	}
	if len(spec.Tools) > 0 {
		config.Tools = p.convertTools(spec.Tools)
	}
	return config
}

// convertMessages converts internal messages to Gemini Content. Gemini
// has no system role (handled via SystemInstruction) and no distinct
// tool role: tool responses travel back as user-side function
// responses, matched to their call by name rather than call ID.
func (p *GoogleProvider) convertMessages(messages []models.Message) []*genai.Content {
	var result []*genai.Content
	for _, msg := range messages {
		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Text})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if len(tc.ArgumentsRaw) > 0 {
				if err := json.Unmarshal(tc.ArgumentsRaw, &args); err != nil {
					args = map[string]any{}
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}
		for _, tr := range msg.ToolResponses {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     tr.Name,
					Response: map[string]any{"result": tr.Output},
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func (p *GoogleProvider) convertTools(tools []agent.ToolAdapter) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func (p *GoogleProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	wrapped := NewProviderError(p.Name(), "", err)
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted"):
		wrapped = wrapped.WithStatus(429)
	case strings.Contains(errMsg, "401") || strings.Contains(errMsg, "unauthenticated"):
		wrapped = wrapped.WithStatus(401)
	case strings.Contains(errMsg, "403") || strings.Contains(errMsg, "permission denied"):
		wrapped = wrapped.WithStatus(403)
	case strings.Contains(errMsg, "500"):
		wrapped = wrapped.WithStatus(500)
	case strings.Contains(errMsg, "503"):
		wrapped = wrapped.WithStatus(503)
	}
	return wrapped
}
