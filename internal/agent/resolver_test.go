package agent

import (
	"errors"
	"testing"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

type fakeGuard struct {
	name   string
	result GuardResult
}

func (g fakeGuard) Name() string { return g.name }
func (g fakeGuard) Check(ctx *RunContext, prompt string) GuardResult { return g.result }

type fakeHook struct {
	name            string
	beforeStart     HookResult
	afterCompleteFn func(ctx *RunContext, result models.AgentResult)
}

func (h fakeHook) Name() string { return h.name }
func (h fakeHook) BeforeAgentStart(ctx *RunContext) HookResult { return h.beforeStart }
func (h fakeHook) BeforeToolCall(ctx *RunContext, call models.ToolCall) HookResult {
	return HookResult{Decision: HookContinue}
}
func (h fakeHook) AfterToolCall(ctx *RunContext, call models.ToolCall, success bool, output string, durationMs int64) {
}
func (h fakeHook) AfterAgentComplete(ctx *RunContext, result models.AgentResult) {
	if h.afterCompleteFn != nil {
		h.afterCompleteFn(ctx, result)
	}
}

func TestPreExecutionResolver_CheckGuard_FirstRejectionWins(t *testing.T) {
	r := &PreExecutionResolver{
		Guards: []Guard{
			fakeGuard{name: "g1", result: GuardResult{Decision: GuardAllowed}},
			fakeGuard{name: "g2", result: GuardResult{Decision: GuardRejected, Reason: "blocked content"}},
			fakeGuard{name: "g3", result: GuardResult{Decision: GuardRejected, Reason: "should never run"}},
		},
		Metrics: NoopMetrics{},
	}
	runCtx := NewRunContext("run-1", "user-1", "hi", "")
	result := r.CheckGuard(runCtx, models.AgentCommand{UserPrompt: "hi"})

	if result.Allowed() {
		t.Fatal("expected rejection")
	}
	if result.Reason != "blocked content" {
		t.Errorf("Reason = %q, want %q", result.Reason, "blocked content")
	}
	if result.Stage != "g2" {
		t.Errorf("Stage = %q, want %q", result.Stage, "g2")
	}
}

func TestPreExecutionResolver_CheckBeforeHooks_StopsOnReject(t *testing.T) {
	r := &PreExecutionResolver{
		Hooks: []Hook{
			fakeHook{name: "h1", beforeStart: HookResult{Decision: HookContinue}},
			fakeHook{name: "h2", beforeStart: HookResult{Decision: HookReject, Reason: "quota exceeded"}},
		},
	}
	runCtx := NewRunContext("run-1", "user-1", "hi", "")
	result := r.CheckBeforeHooks(runCtx)

	if result.Continue() {
		t.Fatal("expected hook rejection")
	}
	if result.Reason != "quota exceeded" {
		t.Errorf("Reason = %q, want %q", result.Reason, "quota exceeded")
	}
}

type fakeIntentResolver struct {
	intent  string
	profile IntentProfile
	err     error
	blocked map[string]bool
}

func (f fakeIntentResolver) Classify(cmd models.AgentCommand) (string, IntentProfile, error) {
	return f.intent, f.profile, f.err
}
func (f fakeIntentResolver) IsBlocked(intent string) bool { return f.blocked[intent] }

func TestPreExecutionResolver_ResolveIntent_NoResolverPassesThrough(t *testing.T) {
	r := &PreExecutionResolver{}
	cmd := models.AgentCommand{UserPrompt: "hi"}
	effective, err := r.ResolveIntent(nil, cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if effective.UserPrompt != cmd.UserPrompt {
		t.Error("expected command to pass through unmodified")
	}
}

func TestPreExecutionResolver_ResolveIntent_BlockedReturnsError(t *testing.T) {
	r := &PreExecutionResolver{
		Intent: fakeIntentResolver{intent: "jailbreak", blocked: map[string]bool{"jailbreak": true}},
	}
	_, err := r.ResolveIntent(nil, models.AgentCommand{UserPrompt: "hi"})

	var blocked *BlockedIntentError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected *BlockedIntentError, got %v", err)
	}
	if blocked.Intent != "jailbreak" {
		t.Errorf("Intent = %q, want %q", blocked.Intent, "jailbreak")
	}
}

func TestPreExecutionResolver_ResolveIntent_AppliesProfile(t *testing.T) {
	r := &PreExecutionResolver{
		Intent: fakeIntentResolver{
			intent: "support",
			profile: IntentProfile{
				SystemPrompt: "You are a support agent.",
				AllowedTools: []string{"ticket_lookup"},
			},
		},
	}
	runCtx := NewRunContext("run-1", "user-1", "help me", "")
	effective, err := r.ResolveIntent(runCtx, models.AgentCommand{UserPrompt: "help me"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if effective.SystemPrompt != "You are a support agent." {
		t.Errorf("SystemPrompt = %q, want override", effective.SystemPrompt)
	}
	allowed, ok := runCtx.IntentAllowedTools()
	if !ok || len(allowed) != 1 || allowed[0] != "ticket_lookup" {
		t.Errorf("IntentAllowedTools() = %v, %v, want [ticket_lookup], true", allowed, ok)
	}
}

func TestPreExecutionResolver_ResolveIntent_FailSafeOnResolverError(t *testing.T) {
	r := &PreExecutionResolver{
		Intent: fakeIntentResolver{err: errors.New("classifier unavailable")},
	}
	cmd := models.AgentCommand{UserPrompt: "hi"}
	effective, err := r.ResolveIntent(nil, cmd)
	if err != nil {
		t.Fatalf("expected fail-safe (no error), got %v", err)
	}
	if effective.UserPrompt != cmd.UserPrompt {
		t.Error("expected original command on resolver failure")
	}
}
