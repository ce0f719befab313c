package agent

import (
	"context"

	agentcontext "github.com/StarkFactory/arc-reactor-sub001/internal/agent/context"
	"github.com/StarkFactory/arc-reactor-sub001/internal/retry"
	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// reactState is the mutable state threaded through one ReAct execution
// (spec §4.4/§4.5): the tool set shrinks to empty once the call cap is
// hit, forcing a final textual answer on the next round.
type reactState struct {
	activeTools    []Tool
	adapters       []ToolAdapter
	totalToolCalls int
	tokenUsage     models.TokenUsage
	messages       []models.Message
}

func (s *reactState) chatOptions(temperature float64, maxOutputTokens int) ChatOptions {
	return ChatOptions{
		Temperature:     temperature,
		MaxOutputTokens: maxOutputTokens,
		HasTools:        len(s.activeTools) > 0,
	}
}

// effectiveMaxToolCalls combines the config default with a command's own
// override per invariant 3 (min of the two, not an override): a command
// raising its own limit can never exceed what the config allows, and a
// command leaving it unset inherits the config value outright.
func effectiveMaxToolCalls(cfgMax, cmdMax int) int {
	switch {
	case cmdMax <= 0:
		return cfgMax
	case cfgMax <= 0:
		return cmdMax
	case cmdMax < cfgMax:
		return cmdMax
	default:
		return cfgMax
	}
}

// ManualReActLoop drives one non-streaming reason/act cycle: LLM call,
// tool dispatch, repeat until the model stops requesting tools or the
// active tool set has been cleared by the call cap.
type ManualReActLoop struct {
	Client       ChatClient
	Orchestrator *ToolCallOrchestrator
	Trimmer      *agentcontext.Trimmer
	Repairer     *StructuredOutputRepairer
	Retry        *retry.Executor
	Cfg          Config
}

// Run executes the loop and returns the candidate content (pre output
// guard/boundary) and the accumulated token usage.
func (l *ManualReActLoop) Run(ctx context.Context, runCtx *RunContext, systemPrompt string, history []models.Message, cmd models.AgentCommand, tools []Tool, adapters []ToolAdapter) (string, models.TokenUsage, error) {
	userMessage := models.Message{Role: models.RoleUser, Text: cmd.UserPrompt, Media: cmd.Media}
	state := &reactState{
		activeTools: tools,
		adapters:    adapters,
		messages:    append(append([]models.Message(nil), history...), userMessage),
	}

	maxToolCalls := effectiveMaxToolCalls(l.Cfg.MaxToolCalls, cmd.MaxToolCalls)
	if runCtx != nil {
		runCtx.SetMaxToolCalls(maxToolCalls)
	}

	temperature := l.Cfg.LLM.Temperature
	if cmd.Temperature != nil {
		temperature = *cmd.Temperature
	}

	for {
		select {
		case <-ctx.Done():
			return "", state.tokenUsage, ctx.Err()
		default:
		}

		trimmed := l.Trimmer.Trim(state.messages, l.Cfg.LLM.MaxContextWindowTokens, systemPrompt, l.Cfg.LLM.MaxOutputTokens)
		state.messages = trimmed

		spec := PromptSpec{
			SystemPrompt: systemPrompt,
			Messages:     state.messages,
			Options:      state.chatOptions(temperature, l.Cfg.LLM.MaxOutputTokens),
			Tools:        state.adapters,
		}

		var resp *ChatResponse
		_, result := l.Retry.DoWithValue(ctx, func(ctx context.Context) (string, error) {
			r, err := l.Client.Call(ctx, spec)
			if err != nil {
				return "", err
			}
			resp = r
			return r.Text, nil
		})
		if result.Err != nil {
			return "", state.tokenUsage, result.Err
		}

		state.tokenUsage.Add(resp.TokenUsage)

		pendingCalls := resp.ToolCalls

		if len(pendingCalls) == 0 || len(state.activeTools) == 0 {
			content, err := l.finalize(ctx, cmd, spec, resp.Text)
			return content, state.tokenUsage, err
		}

		// Text accompanying tool calls is never surfaced; only the final
		// textual round's content becomes the result.
		assistantMsg := models.Message{Role: models.RoleAssistant, Text: resp.Text, ToolCalls: pendingCalls}
		state.messages = append(state.messages, assistantMsg)

		responses := l.Orchestrator.Dispatch(ctx, runCtx, state.activeTools, pendingCalls)
		state.messages = append(state.messages, models.Message{Role: models.RoleToolResponse, ToolResponses: responses})

		state.totalToolCalls += len(pendingCalls)
		if maxToolCalls > 0 && state.totalToolCalls >= maxToolCalls {
			state.activeTools = nil
			state.adapters = nil
		}
	}
}

func (l *ManualReActLoop) finalize(ctx context.Context, cmd models.AgentCommand, spec PromptSpec, text string) (string, error) {
	if l.Repairer == nil || cmd.ResponseFormat == models.FormatText {
		return text, nil
	}
	return l.Repairer.Repair(ctx, cmd.ResponseFormat, cmd.ResponseSchema, spec, text)
}

// StreamingReActLoop mirrors ManualReActLoop but emits model text
// chunk-by-chunk to the caller as it arrives. Structured response
// formats are refused before the loop starts (spec §4.5).
type StreamingReActLoop struct {
	Client       ChatClient
	Orchestrator *ToolCallOrchestrator
	Trimmer      *agentcontext.Trimmer
	Retry        *retry.Executor
	Cfg          Config
}

// StreamResult is what the streaming loop hands to the finalizer once
// the stream terminates.
type StreamResult struct {
	CollectedContent      string
	LastIterationContent  string
	TokenUsage            models.TokenUsage
}

// Run drives the streaming loop, invoking emit for every text chunk and
// emitting tool_start/tool_end markers around dispatch.
func (l *StreamingReActLoop) Run(ctx context.Context, runCtx *RunContext, systemPrompt string, history []models.Message, cmd models.AgentCommand, tools []Tool, adapters []ToolAdapter, emit func(string)) (StreamResult, error) {
	if cmd.ResponseFormat != models.FormatText {
		emit(models.ErrorMarker("structured response formats are not supported while streaming"))
		return StreamResult{}, NewAgentError(models.ErrInvalidResponse, "structured response format requested during streaming", nil)
	}

	userMessage := models.Message{Role: models.RoleUser, Text: cmd.UserPrompt, Media: cmd.Media}
	state := &reactState{
		activeTools: tools,
		adapters:    adapters,
		messages:    append(append([]models.Message(nil), history...), userMessage),
	}

	maxToolCalls := effectiveMaxToolCalls(l.Cfg.MaxToolCalls, cmd.MaxToolCalls)
	if runCtx != nil {
		runCtx.SetMaxToolCalls(maxToolCalls)
	}
	temperature := l.Cfg.LLM.Temperature
	if cmd.Temperature != nil {
		temperature = *cmd.Temperature
	}

	var collected string
	var lastIteration string

	for {
		select {
		case <-ctx.Done():
			return StreamResult{CollectedContent: collected, LastIterationContent: lastIteration, TokenUsage: state.tokenUsage}, ctx.Err()
		default:
		}

		state.messages = l.Trimmer.Trim(state.messages, l.Cfg.LLM.MaxContextWindowTokens, systemPrompt, l.Cfg.LLM.MaxOutputTokens)

		spec := PromptSpec{
			SystemPrompt: systemPrompt,
			Messages:     state.messages,
			Options:      state.chatOptions(temperature, l.Cfg.LLM.MaxOutputTokens),
			Tools:        state.adapters,
		}

		chunks, err := l.Client.Stream(ctx, spec)
		if err != nil {
			return StreamResult{CollectedContent: collected, LastIterationContent: lastIteration, TokenUsage: state.tokenUsage}, err
		}

		var iterationText string
		var pendingCalls []models.ToolCall
		for chunk := range chunks {
			if chunk.Err != nil {
				emit(models.ErrorMarker(chunk.Err.Error()))
				return StreamResult{CollectedContent: collected, LastIterationContent: lastIteration, TokenUsage: state.tokenUsage}, chunk.Err
			}
			if chunk.Text != "" {
				emit(chunk.Text)
				iterationText += chunk.Text
			}
			if chunk.ToolCall != nil {
				pendingCalls = append(pendingCalls, *chunk.ToolCall)
			}
			if chunk.Done {
				state.tokenUsage.Add(chunk.TokenUsage)
			}
		}

		collected += iterationText
		lastIteration = iterationText

		if len(pendingCalls) == 0 || len(state.activeTools) == 0 {
			return StreamResult{CollectedContent: collected, LastIterationContent: lastIteration, TokenUsage: state.tokenUsage}, nil
		}

		assistantMsg := models.Message{Role: models.RoleAssistant, Text: iterationText, ToolCalls: pendingCalls}
		state.messages = append(state.messages, assistantMsg)

		for _, call := range pendingCalls {
			emit(models.ToolStartMarker(call.Name))
		}
		responses := l.Orchestrator.Dispatch(ctx, runCtx, state.activeTools, pendingCalls)
		for _, call := range pendingCalls {
			emit(models.ToolEndMarker(call.Name))
		}
		state.messages = append(state.messages, models.Message{Role: models.RoleToolResponse, ToolResponses: responses})

		state.totalToolCalls += len(pendingCalls)
		if maxToolCalls > 0 && state.totalToolCalls >= maxToolCalls {
			state.activeTools = nil
			state.adapters = nil
		}
	}
}
