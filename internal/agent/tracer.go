package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// Tracer is the tracing sink collaborator (spec's declared Tracer
// interface); a concrete implementation is wired by the caller.
type Tracer interface {
	StartExecution(ctx context.Context, runID string) (context.Context, func(result models.AgentResult))
	StartToolCall(ctx context.Context, call models.ToolCall) (context.Context, func(success bool, durationMs int64))
}

// OTelTracer implements Tracer over go.opentelemetry.io/otel, opening
// one span per execution and one per tool call; LLM calls get no span.
type OTelTracer struct {
	tracer oteltrace.Tracer
}

// NewOTelTracer builds a tracer from the global otel TracerProvider
// under the given instrumentation name.
func NewOTelTracer(instrumentationName string) *OTelTracer {
	return &OTelTracer{tracer: otel.Tracer(instrumentationName)}
}

// StartExecution opens a span for one agent run; the returned func ends
// it, recording success/failure and the error code on failure.
func (t *OTelTracer) StartExecution(ctx context.Context, runID string) (context.Context, func(result models.AgentResult)) {
	spanCtx, span := t.tracer.Start(ctx, "agent.execute", oteltrace.WithAttributes(
		attribute.String("run.id", runID),
	))
	return spanCtx, func(result models.AgentResult) {
		span.SetAttributes(
			attribute.Bool("run.success", result.Success),
			attribute.Int64("run.duration_ms", result.DurationMs),
			attribute.StringSlice("run.tools_used", result.ToolsUsed),
		)
		if !result.Success {
			span.SetStatus(codes.Error, result.ErrorMessage)
			span.SetAttributes(attribute.String("run.error_code", string(result.ErrorCode)))
		}
		span.End()
	}
}

// StartToolCall opens a span for one tool invocation.
func (t *OTelTracer) StartToolCall(ctx context.Context, call models.ToolCall) (context.Context, func(success bool, durationMs int64)) {
	spanCtx, span := t.tracer.Start(ctx, "agent.tool_call", oteltrace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	return spanCtx, func(success bool, durationMs int64) {
		span.SetAttributes(
			attribute.Bool("tool.success", success),
			attribute.Int64("tool.duration_ms", durationMs),
		)
		if !success {
			span.SetStatus(codes.Error, "tool call failed")
		}
		span.End()
	}
}

// NoopTracer discards every span; used when no tracing sink is wired.
type NoopTracer struct{}

func (NoopTracer) StartExecution(ctx context.Context, runID string) (context.Context, func(models.AgentResult)) {
	return ctx, func(models.AgentResult) {}
}

func (NoopTracer) StartToolCall(ctx context.Context, call models.ToolCall) (context.Context, func(bool, int64)) {
	return ctx, func(bool, int64) {}
}
