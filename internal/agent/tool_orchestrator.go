package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// ToolCallOrchestrator dispatches a batch of ToolCalls in parallel and
// returns ToolResponses in the same order, preserving call/response
// pairing (spec §4.6). Tools/callCount are the no-RunContext fallback
// used by direct callers; every real execution passes its per-request
// tool set and cap through Dispatch/RunContext instead, since a single
// orchestrator instance is built once and shared across concurrent runs.
type ToolCallOrchestrator struct {
	Tools             map[string]Tool
	Approval          *ApprovalChecker
	Hooks             []Hook
	Metrics           AgentMetrics
	MaxToolCalls      int
	DefaultTimeout    time.Duration
	Logger            *slog.Logger
	Tracer            Tracer

	callCount int64
}

// NewToolCallOrchestrator builds an orchestrator over a default tool
// set, indexed by name. tools may be nil; per-request tool sets are
// passed to Dispatch directly.
func NewToolCallOrchestrator(tools []Tool, cfg Config) *ToolCallOrchestrator {
	return &ToolCallOrchestrator{
		Tools:          toolsByName(tools),
		Metrics:        NoopMetrics{},
		MaxToolCalls:   cfg.MaxToolCalls,
		DefaultTimeout: cfg.toolCallTimeout(),
		Logger:         slog.Default(),
		Tracer:         NoopTracer{},
	}
}

func toolsByName(tools []Tool) map[string]Tool {
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}
	return byName
}

// Dispatch runs the per-call pipeline for every call concurrently and
// returns ToolResponses index-aligned with calls. tools is the resolved
// per-request tool set (e.g. from ToolPreparationPlanner.Plan); when nil
// the orchestrator's own construction-time Tools map is used instead.
func (o *ToolCallOrchestrator) Dispatch(ctx context.Context, runCtx *RunContext, tools []Tool, calls []models.ToolCall) []models.ToolResponse {
	toolSet := o.Tools
	if tools != nil {
		toolSet = toolsByName(tools)
	}

	responses := make([]models.ToolResponse, len(calls))
	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, call := range calls {
		i, call := i, call
		go func() {
			defer wg.Done()
			responses[i] = o.dispatchOne(ctx, runCtx, toolSet, call)
		}()
	}
	wg.Wait()
	return responses
}

func (o *ToolCallOrchestrator) dispatchOne(ctx context.Context, runCtx *RunContext, toolSet map[string]Tool, call models.ToolCall) models.ToolResponse {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Step 1: atomic cap check, scoped to this run when one is present
	// (spec §4.6 step 1 / §5 totalToolCalls is per run, not per process).
	if runCtx != nil {
		if observed, limit := runCtx.IncrementToolCallCount(); limit > 0 && observed > limit {
			o.Metrics.RecordToolCall(call.Name, 0, false)
			return toolResponse(call, "Maximum tool call limit reached")
		}
	} else if o.MaxToolCalls > 0 {
		observed := atomic.AddInt64(&o.callCount, 1)
		if observed > int64(o.MaxToolCalls) {
			o.Metrics.RecordToolCall(call.Name, 0, false)
			return toolResponse(call, "Maximum tool call limit reached")
		}
	}

	// Step 2: allow-list, if intent resolution configured one.
	if runCtx != nil {
		if allowed, ok := runCtx.IntentAllowedTools(); ok && !containsName(allowed, call.Name) {
			o.Metrics.RecordToolCall(call.Name, 0, false)
			return toolResponse(call, fmt.Sprintf("Tool '%s' is not allowed for this request", call.Name))
		}
	}

	// Step 3: before-tool-call hook.
	for _, h := range o.Hooks {
		res := h.BeforeToolCall(runCtx, call)
		if !res.Continue() {
			o.Metrics.RecordToolCall(call.Name, 0, false)
			return toolResponse(call, fmt.Sprintf("Tool call rejected: %s", res.Reason))
		}
	}

	// Step 4: HITL approval, fail-open on infrastructure errors.
	if o.Approval != nil && o.Approval.RequiresApproval(call.Name) {
		decision, reason := o.Approval.Check(ctx, call)
		if decision == ApprovalPending {
			runID := ""
			if runCtx != nil {
				runID = runCtx.RunID
			}
			req, err := o.Approval.CreateApprovalRequest(ctx, runID, call, reason)
			if err != nil {
				logger.Warn("approval infrastructure error, treating as approved", "tool", call.Name, "error", err)
			} else {
				decided, err := o.Approval.Await(ctx, req)
				if err != nil {
					logger.Warn("approval await error, treating as approved", "tool", call.Name, "error", err)
				} else {
					decision = decided
				}
			}
		}
		if decision == ApprovalDenied {
			o.Metrics.RecordToolCall(call.Name, 0, false)
			return toolResponse(call, fmt.Sprintf("Tool call rejected by human: %s", reason))
		}
	}

	// Step 5: invocation with per-tool timeout.
	start := time.Now()
	tool, ok := toolSet[call.Name]
	if !ok {
		o.afterToolCall(runCtx, call, false, "", 0)
		o.Metrics.RecordToolCall(call.Name, 0, false)
		return toolResponse(call, fmt.Sprintf("Tool '%s' not found", call.Name))
	}

	args := parseToolArgs(call.ArgumentsRaw, logger, call.Name)

	timeout := o.DefaultTimeout
	if ms := tool.TimeoutMs(); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spanCtx, endSpan := o.Tracer.StartToolCall(callCtx, call)
	output, err := invokeWithTimeout(spanCtx, tool, args)
	durationMs := time.Since(start).Milliseconds()
	endSpan(err == nil, durationMs)

	if err != nil {
		success := false
		var responseText string
		if callCtx.Err() == context.DeadlineExceeded {
			responseText = fmt.Sprintf("Error: Tool '%s' timed out after %dms", call.Name, timeout.Milliseconds())
		} else {
			responseText = fmt.Sprintf("Error: %s", err.Error())
		}
		o.afterToolCall(runCtx, call, success, responseText, durationMs)
		o.Metrics.RecordToolCall(call.Name, durationMs, success)
		return toolResponse(call, responseText)
	}

	if runCtx != nil {
		runCtx.RecordToolUsed(call.Name)
	}
	o.afterToolCall(runCtx, call, true, output, durationMs)
	o.Metrics.RecordToolCall(call.Name, durationMs, true)
	return toolResponse(call, output)
}

// Step 6: after-tool-call hook, always invoked.
func (o *ToolCallOrchestrator) afterToolCall(runCtx *RunContext, call models.ToolCall, success bool, output string, durationMs int64) {
	for _, h := range o.Hooks {
		h.AfterToolCall(runCtx, call, success, output, durationMs)
	}
}

func invokeWithTimeout(ctx context.Context, tool Tool, args map[string]any) (string, error) {
	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		output, err := tool.Execute(ctx, args)
		done <- result{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.output, r.err
	}
}

// parseToolArgs degrades malformed arguments to an empty map with a
// warning; tools are expected to tolerate absent fields.
func parseToolArgs(raw json.RawMessage, logger *slog.Logger, toolName string) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		logger.Warn("malformed tool arguments, using empty map", "tool", toolName, "error", err)
		return map[string]any{}
	}
	return args
}

func toolResponse(call models.ToolCall, output string) models.ToolResponse {
	return models.ToolResponse{ID: call.ID, Name: call.Name, Output: output}
}

func containsName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}
