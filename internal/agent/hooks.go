package agent

import (
	"sync"
	"sync/atomic"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// RunContext is created once per execution and observed by guards and
// hooks throughout. toolsUsed is the single shared collector every
// successful tool invocation appends to; metadata is mutated only
// during single-writer phases (intent resolution, finalize).
//
// toolCallCount/maxToolCalls back the orchestrator's per-run tool-call
// cap (spec §4.6 step 1): the cap and the running count both live here,
// scoped to one execution, rather than on the orchestrator itself,
// which is built once and shared across every concurrent run.
type RunContext struct {
	RunID      string
	UserID     string
	UserPrompt string
	Channel    string

	mu              sync.Mutex
	toolsUsed       []string
	metadata        map[string]any
	intentAllowed   []string
	intentAllowedOK bool

	toolCallCount int64
	maxToolCalls  int64
}

// NewRunContext builds a RunContext for one execution.
func NewRunContext(runID, userID, userPrompt, channel string) *RunContext {
	return &RunContext{
		RunID:      runID,
		UserID:     userID,
		UserPrompt: userPrompt,
		Channel:    channel,
		metadata:   make(map[string]any),
	}
}

// RecordToolUsed appends name to the shared collector.
func (r *RunContext) RecordToolUsed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolsUsed = append(r.toolsUsed, name)
}

// ToolsUsed returns a snapshot of every tool recorded so far.
func (r *RunContext) ToolsUsed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.toolsUsed...)
}

// SetMetadata stores a value under key.
func (r *RunContext) SetMetadata(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[key] = value
}

// Metadata reads a value by key.
func (r *RunContext) Metadata(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.metadata[key]
	return v, ok
}

// SetIntentAllowedTools records the allow-list produced by intent
// resolution. A nil/absent list means no allow-listing is in effect.
func (r *RunContext) SetIntentAllowedTools(tools []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intentAllowed = tools
	r.intentAllowedOK = true
}

// IntentAllowedTools returns the configured allow-list and whether one
// was set at all.
func (r *RunContext) IntentAllowedTools() ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.intentAllowed, r.intentAllowedOK
}

// SetMaxToolCalls records the effective tool-call budget for this run,
// computed once before the ReAct loop starts. Zero means unlimited.
func (r *RunContext) SetMaxToolCalls(n int) {
	atomic.StoreInt64(&r.maxToolCalls, int64(n))
}

// IncrementToolCallCount bumps this run's dispatched-call counter and
// returns the new count alongside the configured limit (0 = unlimited).
func (r *RunContext) IncrementToolCallCount() (count, limit int64) {
	return atomic.AddInt64(&r.toolCallCount, 1), atomic.LoadInt64(&r.maxToolCalls)
}

// HookContext is the read side of RunContext that guards and hooks
// receive; it exists as a distinct name to keep the spec's vocabulary
// (HookContext observed by hooks, RunContext owned by the executor)
// visible in the code even though both are backed by the same struct.
type HookContext = RunContext

// GuardDecision is the sum type a guard stage returns.
type GuardDecision string

const (
	GuardAllowed  GuardDecision = "allowed"
	GuardRejected GuardDecision = "rejected"
)

// GuardResult is the outcome of one guard stage.
type GuardResult struct {
	Decision GuardDecision
	Reason   string
	Category string
	Stage    string
}

// Allowed reports whether the pipeline may proceed.
func (g GuardResult) Allowed() bool { return g.Decision == GuardAllowed }

// Guard is a registered pre-flight check; stages run in registered
// order and the first rejection stops the pipeline.
type Guard interface {
	Name() string
	Check(ctx *RunContext, prompt string) GuardResult
}

// HookDecision is the sum type a lifecycle hook returns.
type HookDecision string

const (
	HookContinue HookDecision = "continue"
	HookReject   HookDecision = "reject"
)

// HookResult is the outcome of one hook invocation.
type HookResult struct {
	Decision HookDecision
	Reason   string
}

// Continue reports whether the pipeline may proceed.
func (h HookResult) Continue() bool { return h.Decision == HookContinue }

// Hook is a lifecycle extension point. Hooks run fail-open except
// before-start/before-tool-call hooks, which may reject before the
// guarded action happens; hooks run in ascending declared order.
type Hook interface {
	Name() string
	BeforeAgentStart(ctx *RunContext) HookResult
	BeforeToolCall(ctx *RunContext, call models.ToolCall) HookResult
	AfterToolCall(ctx *RunContext, call models.ToolCall, success bool, output string, durationMs int64)
	AfterAgentComplete(ctx *RunContext, result models.AgentResult)
}

// OutputGuardAction is the sum type an output guard stage returns.
type OutputGuardAction string

const (
	OutputAllowed  OutputGuardAction = "allowed"
	OutputModified OutputGuardAction = "modified"
	OutputRejected OutputGuardAction = "rejected"
)

// OutputGuardResult is the outcome of the output guard pipeline.
type OutputGuardResult struct {
	Action  OutputGuardAction
	Content string
	Reason  string
}

// OutputGuard inspects/transforms the candidate final response.
type OutputGuard interface {
	Name() string
	Check(ctx *RunContext, content string) OutputGuardResult
}

// ResponseFilter runs after boundary enforcement, fail-open.
type ResponseFilter interface {
	Filter(ctx *RunContext, content string) (string, error)
}

// AgentMetrics is the metrics sink collaborator; a concrete
// implementation (e.g. backed by prometheus/client_golang) is wired by
// the caller.
type AgentMetrics interface {
	RecordExecution(durationMs int64, success bool, errorCode models.ErrorCode)
	RecordToolCall(name string, durationMs int64, success bool)
	RecordGuardRejection(stage, reason string)
	RecordOutputGuardAction(action OutputGuardAction)
	RecordCacheHit(hit bool)
}

// NoopMetrics discards every call; used when no sink is configured.
type NoopMetrics struct{}

func (NoopMetrics) RecordExecution(int64, bool, models.ErrorCode) {}
func (NoopMetrics) RecordToolCall(string, int64, bool)            {}
func (NoopMetrics) RecordGuardRejection(string, string)           {}
func (NoopMetrics) RecordOutputGuardAction(OutputGuardAction)     {}
func (NoopMetrics) RecordCacheHit(bool)                           {}

// runGuards executes guard stages in order, returning the first
// rejection.
func runGuards(guards []Guard, ctx *RunContext, prompt string, metrics AgentMetrics) GuardResult {
	for _, g := range guards {
		res := g.Check(ctx, prompt)
		if !res.Allowed() {
			res.Stage = g.Name()
			metrics.RecordGuardRejection(res.Stage, res.Reason)
			return res
		}
	}
	return GuardResult{Decision: GuardAllowed}
}

// runBeforeAgentStartHooks invokes every hook's BeforeAgentStart in
// ascending order, returning the first rejection.
func runBeforeAgentStartHooks(hooks []Hook, ctx *RunContext) HookResult {
	for _, h := range hooks {
		res := h.BeforeAgentStart(ctx)
		if !res.Continue() {
			return res
		}
	}
	return HookResult{Decision: HookContinue}
}

// runAfterAgentCompleteHooks invokes every hook's AfterAgentComplete.
// It does not recover: a panicking hook propagates to the caller.
// runAfterAgentCompleteHooksSafely is the variant that recovers and
// discards panics.
func runAfterAgentCompleteHooks(hooks []Hook, ctx *RunContext, result models.AgentResult) {
	for _, h := range hooks {
		h.AfterAgentComplete(ctx, result)
	}
}
