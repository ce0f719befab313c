package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// AgentExecutor is the front face of the execution core: it bounds
// concurrency, applies the whole-request deadline, and owns the
// RunContext lifecycle around the coordinator (spec §4.1).
type AgentExecutor struct {
	Coordinator *AgentExecutionCoordinator
	Metrics     AgentMetrics
	Logger      *slog.Logger
	Cfg         Config

	sem chan struct{}
}

// NewAgentExecutor builds an executor with its concurrency semaphore
// sized by cfg.Concurrency.MaxConcurrentRequests.
func NewAgentExecutor(coordinator *AgentExecutionCoordinator, metrics AgentMetrics, cfg Config) *AgentExecutor {
	limit := cfg.Concurrency.MaxConcurrentRequests
	if limit <= 0 {
		limit = 1
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &AgentExecutor{
		Coordinator: coordinator,
		Metrics:     metrics,
		Logger:      slog.Default(),
		Cfg:         cfg,
		sem:         make(chan struct{}, limit),
	}
}

// Execute acquires a concurrency permit, opens a RunContext, and runs
// the full pipeline with a whole-body deadline. Cancellation of ctx is
// propagated, never swallowed.
func (e *AgentExecutor) Execute(ctx context.Context, cmd models.AgentCommand) models.AgentResult {
	startedAt := time.Now().UnixMilli()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return e.cancelledResult(nil, ctx.Err(), startedAt)
	}
	defer func() { <-e.sem }()

	runCtx := e.openRunContext(cmd)

	timeout := e.Cfg.requestTimeout()
	runCtx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := e.Coordinator.Execute(runCtx2, runCtx, cmd)

	if runCtx2.Err() == context.DeadlineExceeded && result.Success {
		// The coordinator finished just as the deadline fired; keep its
		// result, the deadline did not actually interrupt useful work.
		return result
	}
	return result
}

// ExecuteStream runs the streaming path with the same permit/deadline/
// RunContext lifecycle, emitting chunks via emit until the stream ends
// or ctx is cancelled. Restartable only by re-invocation.
func (e *AgentExecutor) ExecuteStream(ctx context.Context, cmd models.AgentCommand, emit func(string)) models.AgentResult {
	startedAt := time.Now().UnixMilli()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return e.cancelledResult(nil, ctx.Err(), startedAt)
	}
	defer func() { <-e.sem }()

	runCtx := e.openRunContext(cmd)

	timeout := e.Cfg.requestTimeout()
	streamCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if e.Coordinator.StreamingLoop == nil {
		result := e.failureResult(runCtx, models.ErrUnknown, "streaming is not configured", startedAt)
		runAfterAgentCompleteHooksSafely(e.Coordinator.Resolver.Hooks, runCtx, result)
		e.Metrics.RecordExecution(result.DurationMs, false, result.ErrorCode)
		return result
	}

	return e.Coordinator.ExecuteStream(streamCtx, runCtx, cmd, emit)
}

func (e *AgentExecutor) openRunContext(cmd models.AgentCommand) *RunContext {
	runID := newRunID()
	userID := cmd.UserID
	if userID == "" {
		userID = "anonymous"
	}
	channel := ""
	if cmd.Metadata != nil {
		if v, ok := cmd.Metadata[models.MetadataChannel]; ok {
			if s, ok := v.(string); ok {
				channel = s
			}
		}
	}
	return NewRunContext(runID, userID, cmd.UserPrompt, channel)
}

func (e *AgentExecutor) cancelledResult(runCtx *RunContext, err error, startedAt int64) models.AgentResult {
	result := e.failureResult(runCtx, models.ErrTimeout, err.Error(), startedAt)
	e.Metrics.RecordExecution(result.DurationMs, false, result.ErrorCode)
	return result
}

func (e *AgentExecutor) failureResult(runCtx *RunContext, code models.ErrorCode, message string, startedAt int64) models.AgentResult {
	return models.AgentResult{
		Success:      false,
		ErrorMessage: message,
		ErrorCode:    code,
		ToolsUsed:    toolsUsedOf(runCtx),
		DurationMs:   time.Now().UnixMilli() - startedAt,
	}
}

func newRunID() string {
	return "run-" + uuid.NewString()
}
