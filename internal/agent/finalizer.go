package agent

import (
	"context"
	"fmt"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// ExecutionResultFinalizer runs the non-streaming post-processing
// pipeline on a candidate result: output guard, boundary enforcement,
// response filter, history persistence, after-complete hook (spec
// §4.9).
type ExecutionResultFinalizer struct {
	OutputGuards   []OutputGuard
	ResponseFilter ResponseFilter
	Hooks          []Hook
	Memory         ConversationManager
	Metrics        AgentMetrics
	Boundaries     BoundariesConfig
	RetryCaller    RepairCaller
}

// Finalize applies the pipeline and returns the final AgentResult.
func (f *ExecutionResultFinalizer) Finalize(ctx context.Context, runCtx *RunContext, cmd models.AgentCommand, content string, usage models.TokenUsage, startedAt int64, nowMs int64) models.AgentResult {
	guarded, guardErr := f.runOutputGuards(runCtx, content)
	if guardErr != nil {
		return f.failure(runCtx, models.ErrOutputGuardRejected, guardErr.Error(), nowMs-startedAt)
	}
	content = guarded

	content, boundaryErr := f.enforceBoundary(ctx, cmd, content)
	if boundaryErr != nil {
		return f.failure(runCtx, models.ErrOutputTooShort, boundaryErr.Error(), nowMs-startedAt)
	}

	content = f.applyResponseFilter(runCtx, content)

	if f.Memory != nil {
		if err := f.Memory.Append(ctx, cmd.UserID, models.Message{Role: models.RoleAssistant, Text: content}); err != nil {
			// Conversation persistence is fail-open: the error is
			// discarded and the run continues.
			_ = err
		}
	}

	result := models.AgentResult{
		Success:    true,
		Content:    content,
		ToolsUsed:  toolsUsedOf(runCtx),
		TokenUsage: &usage,
		DurationMs: nowMs - startedAt,
	}

	runAfterAgentCompleteHooksSafely(f.Hooks, runCtx, result)
	f.Metrics.RecordExecution(result.DurationMs, true, "")
	return result
}

func (f *ExecutionResultFinalizer) runOutputGuards(runCtx *RunContext, content string) (string, error) {
	for _, g := range f.OutputGuards {
		result := func() (res OutputGuardResult) {
			defer func() {
				if r := recover(); r != nil {
					res = OutputGuardResult{Action: OutputRejected, Reason: fmt.Sprintf("guard panicked: %v", r)}
				}
			}()
			return g.Check(runCtx, content)
		}()

		f.Metrics.RecordOutputGuardAction(result.Action)
		switch result.Action {
		case OutputRejected:
			return "", fmt.Errorf("%s", result.Reason)
		case OutputModified:
			content = result.Content
		}
	}
	return content, nil
}

func (f *ExecutionResultFinalizer) enforceBoundary(ctx context.Context, cmd models.AgentCommand, content string) (string, error) {
	if f.Boundaries.OutputMaxChars > 0 && len(content) > f.Boundaries.OutputMaxChars {
		content = content[:f.Boundaries.OutputMaxChars] + "\n\n[Response truncated]"
	}

	if f.Boundaries.OutputMinChars > 0 && len(content) < f.Boundaries.OutputMinChars {
		switch f.Boundaries.OutputMinViolationMode {
		case ViolationFail:
			return "", fmt.Errorf("response shorter than minimum %d characters", f.Boundaries.OutputMinChars)
		case ViolationRetryOnce:
			if f.RetryCaller != nil {
				longer, err := f.retryForLength(ctx, cmd, content)
				if err == nil && len(longer) >= f.Boundaries.OutputMinChars {
					return longer, nil
				}
			}
			return content, nil
		default:
			return content, nil
		}
	}
	return content, nil
}

func (f *ExecutionResultFinalizer) retryForLength(ctx context.Context, cmd models.AgentCommand, shortResponse string) (string, error) {
	resp, err := f.RetryCaller.Call(ctx, PromptSpec{
		SystemPrompt: cmd.SystemPrompt,
		Messages: []models.Message{
			{Role: models.RoleUser, Text: cmd.UserPrompt},
			{Role: models.RoleAssistant, Text: shortResponse},
			{Role: models.RoleUser, Text: "Your previous answer was too short. Please provide a more complete answer."},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (f *ExecutionResultFinalizer) applyResponseFilter(runCtx *RunContext, content string) string {
	if f.ResponseFilter == nil {
		return content
	}
	filtered, err := f.ResponseFilter.Filter(runCtx, content)
	if err != nil {
		return content
	}
	return filtered
}

func (f *ExecutionResultFinalizer) failure(runCtx *RunContext, code models.ErrorCode, message string, durationMs int64) models.AgentResult {
	result := models.AgentResult{
		Success:      false,
		ErrorMessage: message,
		ErrorCode:    code,
		ToolsUsed:    toolsUsedOf(runCtx),
		DurationMs:   durationMs,
	}
	runAfterAgentCompleteHooksSafely(f.Hooks, runCtx, result)
	f.Metrics.RecordExecution(result.DurationMs, false, code)
	return result
}

// StreamingCompletionFinalizer runs the post-stream pipeline described
// in spec §4.10: RETRY_ONCE degrades to WARN since there is no single
// candidate response left to regenerate once streaming has finished.
type StreamingCompletionFinalizer struct {
	OutputGuards []OutputGuard
	Hooks        []Hook
	Memory       ConversationManager
	Metrics      AgentMetrics
	Boundaries   BoundariesConfig
}

// Finalize runs the guard/boundary checks on the aggregated stream
// content, emitting best-effort markers, and always invokes the
// after-complete hook exactly once.
func (f *StreamingCompletionFinalizer) Finalize(ctx context.Context, runCtx *RunContext, cmd models.AgentCommand, stream StreamResult, startedAt int64, nowMs int64, emit func(string)) models.AgentResult {
	content := stream.CollectedContent

	for _, g := range f.OutputGuards {
		res := g.Check(runCtx, content)
		f.Metrics.RecordOutputGuardAction(res.Action)
		switch res.Action {
		case OutputRejected:
			safeEmit(emit, models.ErrorMarker(res.Reason))
			return f.finishFailure(runCtx, models.ErrOutputGuardRejected, res.Reason, nowMs-startedAt)
		case OutputModified:
			content = res.Content
			safeEmit(emit, models.ErrorMarker("response modified by output guard"))
		}
	}

	if f.Boundaries.OutputMaxChars > 0 && len(content) > f.Boundaries.OutputMaxChars {
		content = content[:f.Boundaries.OutputMaxChars] + "\n\n[Response truncated]"
		safeEmit(emit, models.ErrorMarker("response truncated"))
	}
	if f.Boundaries.OutputMinChars > 0 && len(content) < f.Boundaries.OutputMinChars {
		// RETRY_ONCE degrades to WARN in streaming: no candidate response
		// survives to regenerate against.
		safeEmit(emit, models.ErrorMarker("response shorter than configured minimum"))
	}

	if f.Memory != nil {
		_ = f.Memory.Append(ctx, cmd.UserID, models.Message{Role: models.RoleAssistant, Text: stream.LastIterationContent})
	}

	result := models.AgentResult{
		Success:    true,
		Content:    content,
		ToolsUsed:  toolsUsedOf(runCtx),
		TokenUsage: &stream.TokenUsage,
		DurationMs: nowMs - startedAt,
	}
	runAfterAgentCompleteHooksSafely(f.Hooks, runCtx, result)
	f.Metrics.RecordExecution(result.DurationMs, true, "")
	return result
}

func (f *StreamingCompletionFinalizer) finishFailure(runCtx *RunContext, code models.ErrorCode, message string, durationMs int64) models.AgentResult {
	result := models.AgentResult{
		Success:      false,
		ErrorMessage: message,
		ErrorCode:    code,
		ToolsUsed:    toolsUsedOf(runCtx),
		DurationMs:   durationMs,
	}
	runAfterAgentCompleteHooksSafely(f.Hooks, runCtx, result)
	f.Metrics.RecordExecution(result.DurationMs, false, code)
	return result
}

// safeEmit tolerates a consumer that has already cancelled the stream.
func safeEmit(emit func(string), s string) {
	defer func() { _ = recover() }()
	emit(s)
}

func toolsUsedOf(runCtx *RunContext) []string {
	if runCtx == nil {
		return nil
	}
	return runCtx.ToolsUsed()
}

func runAfterAgentCompleteHooksSafely(hooks []Hook, runCtx *RunContext, result models.AgentResult) {
	for _, h := range hooks {
		func() {
			defer func() { _ = recover() }()
			h.AfterAgentComplete(runCtx, result)
		}()
	}
}

// ConversationManager persists/loads message history; an external
// collaborator (spec's ConversationManager, opaque aside from this
// interface).
type ConversationManager interface {
	Load(ctx context.Context, userID string) ([]models.Message, error)
	Append(ctx context.Context, userID string, msg models.Message) error
}
