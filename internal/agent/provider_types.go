package agent

import (
	"context"
	"encoding/json"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// ChatOptions is the provider-agnostic generation knob set attached to a
// PromptSpec. When HasTools is true, providers must disable their own
// built-in tool execution (InternalToolExecutionEnabled stays false) so
// every tool call surfaces back to the orchestrator instead of being
// resolved inside the provider.
type ChatOptions struct {
	Temperature                  float64
	MaxOutputTokens              int
	HasTools                     bool
	GoogleSearchRetrievalEnabled bool
	InternalToolExecutionEnabled bool
}

// PromptSpec is everything a ChatClient needs to produce one completion.
type PromptSpec struct {
	SystemPrompt string
	Messages     []models.Message
	Options      ChatOptions
	Tools        []ToolAdapter
}

// ChatResponse is the result of a non-streaming ChatClient.Call.
type ChatResponse struct {
	Text       string
	ToolCalls  []models.ToolCall
	Thinking   string
	TokenUsage models.TokenUsage
}

// ChatChunk is one element of a ChatClient.Stream sequence. A chunk
// carries either incremental text, a complete tool call (providers emit
// tool calls whole, never partially), or signals stream completion via
// Done with the final token accounting.
type ChatChunk struct {
	Text       string
	ToolCall   *models.ToolCall
	Thinking   string
	Done       bool
	TokenUsage models.TokenUsage
	Err        error
}

// ChatClient is the LLM backend the core consumes. Concrete
// implementations (Anthropic, OpenAI, ...) live under
// internal/agent/providers and are the one external collaborator this
// package treats as a true boundary: everything above this interface is
// provider-independent.
type ChatClient interface {
	Call(ctx context.Context, spec PromptSpec) (*ChatResponse, error)
	Stream(ctx context.Context, spec PromptSpec) (<-chan ChatChunk, error)
	Name() string
}

// ToolAdapter is how a resolved tool is presented to the LLM: just
// enough shape to build a function-calling declaration, independent of
// how the tool itself is implemented.
type ToolAdapter struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Tool is the capability surface the core dispatches ToolCalls against.
// Errors never escape Execute as Go errors that abort the loop: a
// non-nil error here is converted into a failed ToolResponse string by
// the orchestrator, and the LLM sees it like any other tool output.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	// TimeoutMs optionally overrides the orchestrator's default per-tool
	// timeout. Zero means "use the default".
	TimeoutMs() int
	Execute(ctx context.Context, args map[string]any) (string, error)
}
