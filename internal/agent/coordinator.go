package agent

import (
	"context"
	"time"

	agentcontext "github.com/StarkFactory/arc-reactor-sub001/internal/agent/context"
	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// AgentExecutionCoordinator runs the full per-request pipeline (spec
// §4.3): guard/hook checks, intent resolution, cache probe, history
// load, RAG retrieval, tool preparation, core execution, fallback, and
// finalization.
type AgentExecutionCoordinator struct {
	Resolver          *PreExecutionResolver
	Cache             *ResponseCache
	Memory            ConversationManager
	Rag               RagPipeline
	ToolPlanner       *ToolPreparationPlanner
	ManualLoop        *ManualReActLoop
	StreamingLoop     *StreamingReActLoop
	Finalizer         *ExecutionResultFinalizer
	StreamingFinalizer *StreamingCompletionFinalizer
	Fallback          FallbackStrategy
	Metrics           AgentMetrics
	Cfg               Config
	nowMs             func() int64
}

// prepare runs the shared pre-execution sequence (guard/hook checks,
// intent resolution, cache probe, history load, RAG retrieval, tool
// preparation) used by both Execute and ExecuteStream.
type prepared struct {
	cmd          models.AgentCommand
	tools        []Tool
	adapters     []ToolAdapter
	history      []models.Message
	systemPrompt string
	cacheEnabled bool
	fingerprint  string
}

func (c *AgentExecutionCoordinator) prepare(ctx context.Context, runCtx *RunContext, cmd models.AgentCommand, startedAt int64) (prepared, *models.AgentResult) {
	guardResult := c.Resolver.CheckGuard(runCtx, cmd)
	if !guardResult.Allowed() {
		r := c.guardFailure(runCtx, models.ErrGuardRejected, guardResult.Reason, startedAt)
		return prepared{}, &r
	}

	hookResult := c.Resolver.CheckBeforeHooks(runCtx)
	if !hookResult.Continue() {
		r := c.guardFailure(runCtx, models.ErrHookRejected, hookResult.Reason, startedAt)
		return prepared{}, &r
	}

	effective, err := c.Resolver.ResolveIntent(runCtx, cmd)
	if err != nil {
		if blocked, ok := err.(*BlockedIntentError); ok {
			r := c.guardFailure(runCtx, models.ErrGuardRejected, blocked.Error(), startedAt)
			return prepared{}, &r
		}
	}

	var toolNames []string
	var tools []Tool
	var adapters []ToolAdapter
	if effective.Mode != models.ModeStandard {
		tools, adapters = c.ToolPlanner.Plan(effective.UserPrompt)
		for _, t := range tools {
			toolNames = append(toolNames, t.Name())
		}
	}

	temperature := c.Cfg.LLM.Temperature
	if effective.Temperature != nil {
		temperature = *effective.Temperature
	}
	cacheEnabled := c.Cache != nil && c.Cfg.Cache.Enabled && temperature <= c.Cfg.Cache.CacheableTemperature
	var fingerprint string
	if cacheEnabled {
		fingerprint = Fingerprint(effective, toolNames)
		if hit, ok := c.Cache.Get(fingerprint); ok {
			c.Metrics.RecordCacheHit(true)
			hit.DurationMs = c.now() - startedAt
			runAfterAgentCompleteHooksSafely(c.Resolver.Hooks, runCtx, hit)
			c.Metrics.RecordExecution(hit.DurationMs, hit.Success, hit.ErrorCode)
			return prepared{}, &hit
		}
		c.Metrics.RecordCacheHit(false)
	}

	var history []models.Message
	if c.Memory != nil {
		if loaded, err := c.Memory.Load(ctx, effective.UserID); err == nil {
			history = loaded
		}
	}

	ragContext := ""
	if c.Rag != nil && c.Cfg.Rag.Enabled {
		retrieved, err := c.Rag.Retrieve(ctx, RagQuery{
			Query:  effective.UserPrompt,
			TopK:   c.Cfg.Rag.TopK,
			Rerank: c.Cfg.Rag.RerankEnabled,
		})
		if err == nil {
			ragContext = retrieved
		}
	}

	systemPrompt := agentcontext.PromptBuilder{}.Build(effective.SystemPrompt, ragContext, effective.ResponseFormat, string(effective.ResponseSchema))

	return prepared{
		cmd:          effective,
		tools:        tools,
		adapters:     adapters,
		history:      history,
		systemPrompt: systemPrompt,
		cacheEnabled: cacheEnabled,
		fingerprint:  fingerprint,
	}, nil
}

func (c *AgentExecutionCoordinator) now() int64 {
	if c.nowMs != nil {
		return c.nowMs()
	}
	return time.Now().UnixMilli()
}

// Execute runs one non-streaming request end to end.
func (c *AgentExecutionCoordinator) Execute(ctx context.Context, runCtx *RunContext, cmd models.AgentCommand) models.AgentResult {
	startedAt := c.now()

	p, shortCircuit := c.prepare(ctx, runCtx, cmd, startedAt)
	if shortCircuit != nil {
		return *shortCircuit
	}

	content, usage, runErr := c.ManualLoop.Run(ctx, runCtx, p.systemPrompt, p.history, p.cmd, p.tools, p.adapters)
	if runErr != nil {
		if c.Fallback != nil {
			if fallbackResult, ok := c.Fallback.Fallback(ctx, p.cmd, runErr); ok {
				runAfterAgentCompleteHooksSafely(c.Resolver.Hooks, runCtx, fallbackResult)
				c.Metrics.RecordExecution(fallbackResult.DurationMs, fallbackResult.Success, fallbackResult.ErrorCode)
				return fallbackResult
			}
		}
		code := (ErrorClassifier{}).Classify(runErr)
		return c.guardFailure(runCtx, code, runErr.Error(), startedAt)
	}

	result := c.Finalizer.Finalize(ctx, runCtx, p.cmd, content, usage, startedAt, c.now())

	if p.cacheEnabled && result.Success {
		c.Cache.Put(p.fingerprint, result)
	}
	return result
}

// ExecuteStream runs one streaming request end to end, emitting text
// chunks via emit as they become available.
func (c *AgentExecutionCoordinator) ExecuteStream(ctx context.Context, runCtx *RunContext, cmd models.AgentCommand, emit func(string)) models.AgentResult {
	startedAt := c.now()

	p, shortCircuit := c.prepare(ctx, runCtx, cmd, startedAt)
	if shortCircuit != nil {
		return *shortCircuit
	}

	stream, runErr := c.StreamingLoop.Run(ctx, runCtx, p.systemPrompt, p.history, p.cmd, p.tools, p.adapters, emit)
	if runErr != nil {
		if c.Fallback != nil {
			if fallbackResult, ok := c.Fallback.Fallback(ctx, p.cmd, runErr); ok {
				runAfterAgentCompleteHooksSafely(c.Resolver.Hooks, runCtx, fallbackResult)
				c.Metrics.RecordExecution(fallbackResult.DurationMs, fallbackResult.Success, fallbackResult.ErrorCode)
				return fallbackResult
			}
		}
		code := (ErrorClassifier{}).Classify(runErr)
		return c.guardFailure(runCtx, code, runErr.Error(), startedAt)
	}

	result := c.StreamingFinalizer.Finalize(ctx, runCtx, p.cmd, stream, startedAt, c.now(), emit)

	if p.cacheEnabled && result.Success {
		c.Cache.Put(p.fingerprint, result)
	}
	return result
}

func (c *AgentExecutionCoordinator) guardFailure(runCtx *RunContext, code models.ErrorCode, reason string, startedAt int64) models.AgentResult {
	result := models.AgentResult{
		Success:      false,
		ErrorMessage: reason,
		ErrorCode:    code,
		DurationMs:   c.now() - startedAt,
	}
	runAfterAgentCompleteHooksSafely(c.Resolver.Hooks, runCtx, result)
	c.Metrics.RecordExecution(result.DurationMs, false, code)
	return result
}
