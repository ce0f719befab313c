package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

type dispatchTool struct {
	name      string
	output    string
	err       error
	timeoutMs int
	delay     time.Duration
	panics    bool
}

func (f dispatchTool) Name() string            { return f.name }
func (f dispatchTool) Description() string     { return "a fake tool" }
func (f dispatchTool) Schema() json.RawMessage { return json.RawMessage(`{}`) }
func (f dispatchTool) TimeoutMs() int          { return f.timeoutMs }
func (f dispatchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.output, f.err
}

type recordingHook struct {
	noopHook
	afterCalls []string
}

func (r *recordingHook) AfterToolCall(ctx *RunContext, call models.ToolCall, success bool, output string, durationMs int64) {
	r.afterCalls = append(r.afterCalls, call.Name)
}

type noopHook struct{}

func (noopHook) Name() string                                         { return "noop" }
func (noopHook) BeforeAgentStart(ctx *RunContext) HookResult           { return HookResult{Decision: HookContinue} }
func (noopHook) BeforeToolCall(ctx *RunContext, call models.ToolCall) HookResult {
	return HookResult{Decision: HookContinue}
}
func (noopHook) AfterToolCall(ctx *RunContext, call models.ToolCall, success bool, output string, durationMs int64) {
}
func (noopHook) AfterAgentComplete(ctx *RunContext, result models.AgentResult) {}

func newOrchestrator(tools ...Tool) *ToolCallOrchestrator {
	return NewToolCallOrchestrator(tools, DefaultConfig())
}

func TestToolCallOrchestrator_Dispatch_SuccessReturnsOutputAndRecordsUsage(t *testing.T) {
	o := newOrchestrator(&dispatchTool{name: "search", output: "result"})
	runCtx := NewRunContext("run-1", "user-1", "prompt", "")
	calls := []models.ToolCall{{ID: "c1", Name: "search", ArgumentsRaw: []byte(`{"q":"x"}`)}}

	out := o.Dispatch(context.Background(), runCtx, nil, calls)
	if len(out) != 1 || out[0].Output != "result" {
		t.Fatalf("out = %+v", out)
	}
	if used := runCtx.ToolsUsed(); len(used) != 1 || used[0] != "search" {
		t.Errorf("ToolsUsed() = %v, want [search]", used)
	}
}

func TestToolCallOrchestrator_Dispatch_UnknownToolReturnsErrorResponse(t *testing.T) {
	o := newOrchestrator()
	out := o.Dispatch(context.Background(), nil, nil, []models.ToolCall{{ID: "c1", Name: "missing"}})
	if len(out) != 1 || out[0].Output == "" {
		t.Fatalf("out = %+v", out)
	}
}

func TestToolCallOrchestrator_Dispatch_ToolErrorIsRenderedAsOutputNotGoError(t *testing.T) {
	o := newOrchestrator(&dispatchTool{name: "search", err: errors.New("boom")})
	out := o.Dispatch(context.Background(), nil, nil, []models.ToolCall{{ID: "c1", Name: "search"}})
	if len(out) != 1 || out[0].Output == "" {
		t.Fatalf("out = %+v", out)
	}
}

func TestToolCallOrchestrator_Dispatch_ToolPanicIsRecovered(t *testing.T) {
	o := newOrchestrator(&dispatchTool{name: "search", panics: true})
	out := o.Dispatch(context.Background(), nil, nil, []models.ToolCall{{ID: "c1", Name: "search"}})
	if len(out) != 1 || out[0].Output == "" {
		t.Fatalf("expected panic recovered into an error response, got %+v", out)
	}
}

func TestToolCallOrchestrator_Dispatch_PerToolTimeoutWins(t *testing.T) {
	o := newOrchestrator(&dispatchTool{name: "slow", delay: 200 * time.Millisecond, timeoutMs: 10})
	start := time.Now()
	out := o.Dispatch(context.Background(), nil, nil, []models.ToolCall{{ID: "c1", Name: "slow"}})
	if time.Since(start) > 150*time.Millisecond {
		t.Error("expected the tool's own TimeoutMs to cut the call short")
	}
	if len(out) != 1 || out[0].Output == "" {
		t.Fatalf("out = %+v", out)
	}
}

func TestToolCallOrchestrator_Dispatch_MaxToolCallsCapBlocksExcess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxToolCalls = 1
	o := NewToolCallOrchestrator([]Tool{&dispatchTool{name: "search", output: "ok"}}, cfg)

	calls := []models.ToolCall{{ID: "c1", Name: "search"}, {ID: "c2", Name: "search"}}
	out := o.Dispatch(context.Background(), nil, nil, calls)
	if len(out) != 2 {
		t.Fatalf("out = %+v", out)
	}
	okCount, blockedCount := 0, 0
	for _, r := range out {
		if r.Output == "ok" {
			okCount++
		} else {
			blockedCount++
		}
	}
	if okCount != 1 || blockedCount != 1 {
		t.Errorf("okCount=%d blockedCount=%d, want 1/1", okCount, blockedCount)
	}
}

func TestToolCallOrchestrator_Dispatch_IntentAllowListBlocksDisallowedTool(t *testing.T) {
	o := newOrchestrator(&dispatchTool{name: "search", output: "ok"})
	runCtx := NewRunContext("run-1", "user-1", "prompt", "")
	runCtx.SetIntentAllowedTools([]string{"other"})

	out := o.Dispatch(context.Background(), runCtx, nil, []models.ToolCall{{ID: "c1", Name: "search"}})
	if len(out) != 1 || out[0].Output == "ok" {
		t.Fatalf("expected disallowed tool to be blocked, got %+v", out)
	}
}

func TestToolCallOrchestrator_Dispatch_BeforeToolCallHookRejectionBlocksExecution(t *testing.T) {
	o := newOrchestrator(&dispatchTool{name: "search", output: "ok"})
	o.Hooks = []Hook{rejectingHook{}}

	out := o.Dispatch(context.Background(), nil, nil, []models.ToolCall{{ID: "c1", Name: "search"}})
	if len(out) != 1 || out[0].Output == "ok" {
		t.Fatalf("expected hook rejection to block execution, got %+v", out)
	}
}

type rejectingHook struct{ noopHook }

func (rejectingHook) BeforeToolCall(ctx *RunContext, call models.ToolCall) HookResult {
	return HookResult{Decision: HookReject, Reason: "not today"}
}

func TestToolCallOrchestrator_Dispatch_AfterToolCallHookAlwaysInvoked(t *testing.T) {
	hook := &recordingHook{}
	o := newOrchestrator(&dispatchTool{name: "search", output: "ok"})
	o.Hooks = []Hook{hook}

	o.Dispatch(context.Background(), nil, nil, []models.ToolCall{{ID: "c1", Name: "search"}})
	if len(hook.afterCalls) != 1 || hook.afterCalls[0] != "search" {
		t.Errorf("afterCalls = %v, want [search]", hook.afterCalls)
	}
}

func TestToolCallOrchestrator_Dispatch_PreservesOrderAndIDPairing(t *testing.T) {
	o := newOrchestrator(&dispatchTool{name: "a", output: "out-a"}, &dispatchTool{name: "b", output: "out-b"})
	calls := []models.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}
	out := o.Dispatch(context.Background(), nil, nil, calls)
	if out[0].ID != "1" || out[0].Output != "out-a" {
		t.Errorf("out[0] = %+v", out[0])
	}
	if out[1].ID != "2" || out[1].Output != "out-b" {
		t.Errorf("out[1] = %+v", out[1])
	}
}

func TestParseToolArgs_MalformedJSONDegradesToEmptyMap(t *testing.T) {
	args := parseToolArgs(json.RawMessage("not json"), slog.Default(), "search")
	if args == nil {
		t.Fatal("expected non-nil empty map")
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want empty", args)
	}
}

func TestParseToolArgs_EmptyRawReturnsEmptyMap(t *testing.T) {
	args := parseToolArgs(nil, slog.Default(), "search")
	if len(args) != 0 {
		t.Errorf("args = %v, want empty", args)
	}
}

func TestContainsName(t *testing.T) {
	if !containsName([]string{"a", "b"}, "b") {
		t.Error("expected b to be found")
	}
	if containsName([]string{"a"}, "z") {
		t.Error("expected z to not be found")
	}
}
