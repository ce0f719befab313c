package agent

import (
	"context"
	"testing"
	"time"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

func TestAgentExecutor_Execute_SuccessPath(t *testing.T) {
	client := &scriptedClient{responses: []*ChatResponse{{Text: "hi there"}}}
	coordinator := newTestCoordinator(client)
	cfg := DefaultConfig()
	executor := NewAgentExecutor(coordinator, NoopMetrics{}, cfg)

	result := executor.Execute(context.Background(), models.AgentCommand{UserPrompt: "hi", ResponseFormat: models.FormatText})

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Content != "hi there" {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestAgentExecutor_Execute_ConcurrencyLimitBlocksUntilPermitFree(t *testing.T) {
	client := &scriptedClient{responses: []*ChatResponse{{Text: "ok"}}}
	coordinator := newTestCoordinator(client)
	cfg := DefaultConfig()
	cfg.Concurrency.MaxConcurrentRequests = 1
	executor := NewAgentExecutor(coordinator, NoopMetrics{}, cfg)

	// Hold the only permit.
	executor.sem <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := executor.Execute(ctx, models.AgentCommand{UserPrompt: "hi"})

	if result.Success {
		t.Fatal("expected timeout failure while permit held")
	}
	if result.ErrorCode != models.ErrTimeout {
		t.Errorf("ErrorCode = %v, want %v", result.ErrorCode, models.ErrTimeout)
	}
}

func TestAgentExecutor_ExecuteStream_NoStreamingLoopConfigured(t *testing.T) {
	client := &scriptedClient{}
	coordinator := newTestCoordinator(client)
	coordinator.StreamingLoop = nil
	cfg := DefaultConfig()
	executor := NewAgentExecutor(coordinator, NoopMetrics{}, cfg)

	result := executor.ExecuteStream(context.Background(), models.AgentCommand{UserPrompt: "hi"}, func(string) {})

	if result.Success {
		t.Fatal("expected failure when streaming is not configured")
	}
	if result.ErrorCode != models.ErrUnknown {
		t.Errorf("ErrorCode = %v, want %v", result.ErrorCode, models.ErrUnknown)
	}
}

func TestAgentExecutor_ExecuteStream_SuccessPath(t *testing.T) {
	client := &scriptedClient{streamChunks: [][]ChatChunk{{{Text: "chunk"}, {Done: true}}}}
	coordinator := newTestCoordinator(client)
	cfg := DefaultConfig()
	executor := NewAgentExecutor(coordinator, NoopMetrics{}, cfg)

	var emitted []string
	result := executor.ExecuteStream(context.Background(), models.AgentCommand{UserPrompt: "hi", ResponseFormat: models.FormatText}, func(s string) { emitted = append(emitted, s) })

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(emitted) == 0 {
		t.Error("expected at least one emitted chunk")
	}
}

func TestAgentExecutor_OpenRunContext_DefaultsAnonymousUser(t *testing.T) {
	executor := NewAgentExecutor(newTestCoordinator(&scriptedClient{}), NoopMetrics{}, DefaultConfig())
	runCtx := executor.openRunContext(models.AgentCommand{UserPrompt: "hi"})
	if runCtx.UserID != "anonymous" {
		t.Errorf("UserID = %q, want anonymous", runCtx.UserID)
	}
}
