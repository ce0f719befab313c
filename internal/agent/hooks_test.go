package agent

import (
	"testing"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

func TestRunContext_RecordAndReadToolsUsed(t *testing.T) {
	ctx := NewRunContext("run-1", "user-1", "prompt", "chan")
	ctx.RecordToolUsed("search")
	ctx.RecordToolUsed("fetch")

	got := ctx.ToolsUsed()
	if len(got) != 2 || got[0] != "search" || got[1] != "fetch" {
		t.Errorf("ToolsUsed() = %v", got)
	}
}

func TestRunContext_ToolsUsed_ReturnsIndependentSnapshot(t *testing.T) {
	ctx := NewRunContext("run-1", "user-1", "prompt", "chan")
	ctx.RecordToolUsed("search")
	snapshot := ctx.ToolsUsed()
	snapshot[0] = "mutated"

	if got := ctx.ToolsUsed(); got[0] != "search" {
		t.Errorf("ToolsUsed() = %v, expected internal state untouched by snapshot mutation", got)
	}
}

func TestRunContext_SetAndGetMetadata(t *testing.T) {
	ctx := NewRunContext("run-1", "user-1", "prompt", "chan")
	if _, ok := ctx.Metadata("missing"); ok {
		t.Error("expected missing key to report false")
	}
	ctx.SetMetadata("key", "value")
	v, ok := ctx.Metadata("key")
	if !ok || v != "value" {
		t.Errorf("Metadata(key) = %v, %v", v, ok)
	}
}

func TestRunContext_IntentAllowedTools_UnsetReportsFalse(t *testing.T) {
	ctx := NewRunContext("run-1", "user-1", "prompt", "chan")
	if _, ok := ctx.IntentAllowedTools(); ok {
		t.Error("expected no allow-list to be configured by default")
	}
}

func TestRunContext_SetIntentAllowedTools(t *testing.T) {
	ctx := NewRunContext("run-1", "user-1", "prompt", "chan")
	ctx.SetIntentAllowedTools([]string{"search"})
	tools, ok := ctx.IntentAllowedTools()
	if !ok || len(tools) != 1 || tools[0] != "search" {
		t.Errorf("IntentAllowedTools() = %v, %v", tools, ok)
	}
}

func TestGuardResult_Allowed(t *testing.T) {
	if !(GuardResult{Decision: GuardAllowed}).Allowed() {
		t.Error("expected GuardAllowed to report allowed")
	}
	if (GuardResult{Decision: GuardRejected}).Allowed() {
		t.Error("expected GuardRejected to report not allowed")
	}
}

func TestHookResult_Continue(t *testing.T) {
	if !(HookResult{Decision: HookContinue}).Continue() {
		t.Error("expected HookContinue to report continue")
	}
	if (HookResult{Decision: HookReject}).Continue() {
		t.Error("expected HookReject to report not continue")
	}
}

type stubGuard struct {
	name   string
	result GuardResult
}

func (s stubGuard) Name() string { return s.name }
func (s stubGuard) Check(ctx *RunContext, prompt string) GuardResult { return s.result }

func TestRunGuards_AllAllowedReturnsAllowed(t *testing.T) {
	guards := []Guard{
		stubGuard{name: "g1", result: GuardResult{Decision: GuardAllowed}},
		stubGuard{name: "g2", result: GuardResult{Decision: GuardAllowed}},
	}
	res := runGuards(guards, NewRunContext("r", "u", "p", ""), "prompt", NoopMetrics{})
	if !res.Allowed() {
		t.Error("expected all-allowed guards to pass")
	}
}

func TestRunGuards_FirstRejectionStopsPipeline(t *testing.T) {
	var secondChecked bool
	guards := []Guard{
		stubGuard{name: "g1", result: GuardResult{Decision: GuardRejected, Reason: "nope"}},
		stubGuardFunc(func() GuardResult { secondChecked = true; return GuardResult{Decision: GuardAllowed} }),
	}
	res := runGuards(guards, NewRunContext("r", "u", "p", ""), "prompt", NoopMetrics{})
	if res.Allowed() {
		t.Error("expected rejection from g1 to stop the pipeline")
	}
	if res.Stage != "g1" {
		t.Errorf("Stage = %q, want g1", res.Stage)
	}
	if secondChecked {
		t.Error("expected second guard to never run after first rejects")
	}
}

type stubGuardFunc func() GuardResult

func (f stubGuardFunc) Name() string                           { return "func-guard" }
func (f stubGuardFunc) Check(ctx *RunContext, prompt string) GuardResult { return f() }

func TestRunBeforeAgentStartHooks_FirstRejectionStops(t *testing.T) {
	hooks := []Hook{rejectingBeforeStartHook{}, noopHook{}}
	res := runBeforeAgentStartHooks(hooks, NewRunContext("r", "u", "p", ""))
	if res.Continue() {
		t.Error("expected rejection to propagate")
	}
}

type rejectingBeforeStartHook struct{ noopHook }

func (rejectingBeforeStartHook) BeforeAgentStart(ctx *RunContext) HookResult {
	return HookResult{Decision: HookReject, Reason: "denied"}
}

func TestRunAfterAgentCompleteHooks_InvokesEveryHook(t *testing.T) {
	calls := 0
	hooks := []Hook{countingAfterCompleteHook{&calls}, countingAfterCompleteHook{&calls}}
	runAfterAgentCompleteHooks(hooks, NewRunContext("r", "u", "p", ""), models.AgentResult{Success: true})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

type countingAfterCompleteHook struct {
	n *int
}

func (countingAfterCompleteHook) Name() string                                         { return "counter" }
func (countingAfterCompleteHook) BeforeAgentStart(ctx *RunContext) HookResult           { return HookResult{Decision: HookContinue} }
func (countingAfterCompleteHook) BeforeToolCall(ctx *RunContext, call models.ToolCall) HookResult {
	return HookResult{Decision: HookContinue}
}
func (countingAfterCompleteHook) AfterToolCall(ctx *RunContext, call models.ToolCall, success bool, output string, durationMs int64) {
}
func (c countingAfterCompleteHook) AfterAgentComplete(ctx *RunContext, result models.AgentResult) {
	*c.n++
}

func TestNoopMetrics_DoesNotPanic(t *testing.T) {
	var m NoopMetrics
	m.RecordExecution(10, true, models.ErrUnknown)
	m.RecordToolCall("search", 5, true)
	m.RecordGuardRejection("stage", "reason")
	m.RecordOutputGuardAction(OutputAllowed)
}
