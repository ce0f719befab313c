package agent

import (
	"log/slog"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// IntentProfile is what a resolved intent applies to the effective
// command: an optional system prompt override and an optional tool
// allow-list, recorded in the effective command's metadata and as the
// RunContext's intent allow-list.
type IntentProfile struct {
	SystemPrompt  string
	AllowedTools  []string
}

// IntentResolver classifies a command and names a profile to apply.
// Blocked intents abort the run; resolver failures are fail-safe (the
// original command is used unmodified).
type IntentResolver interface {
	Classify(cmd models.AgentCommand) (intent string, profile IntentProfile, err error)
	IsBlocked(intent string) bool
}

// BlockedIntentError signals an intent resolver classified the command
// into an explicitly blocked intent.
type BlockedIntentError struct {
	Intent string
}

func (e *BlockedIntentError) Error() string {
	return "blocked intent: " + e.Intent
}

// PreExecutionResolver runs guard checks, before-start hooks, and
// intent resolution ahead of the core ReAct loop (spec §4.2).
type PreExecutionResolver struct {
	Guards   []Guard
	Hooks    []Hook
	Intent   IntentResolver
	Metrics  AgentMetrics
	Logger   *slog.Logger
}

// CheckGuard runs the guard pipeline against the incoming command.
func (r *PreExecutionResolver) CheckGuard(runCtx *RunContext, cmd models.AgentCommand) GuardResult {
	prompt := cmd.UserPrompt
	return runGuards(r.Guards, runCtx, prompt, r.Metrics)
}

// CheckBeforeHooks runs before-agent-start hooks in ascending order.
func (r *PreExecutionResolver) CheckBeforeHooks(runCtx *RunContext) HookResult {
	return runBeforeAgentStartHooks(r.Hooks, runCtx)
}

// ResolveIntent classifies the command and applies its profile,
// returning the effective command. A blocked intent is surfaced as a
// *BlockedIntentError; any other resolver failure is logged and the
// original command returned unmodified (fail-safe).
func (r *PreExecutionResolver) ResolveIntent(runCtx *RunContext, cmd models.AgentCommand) (models.AgentCommand, error) {
	if r.Intent == nil {
		return cmd, nil
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	intent, profile, err := r.Intent.Classify(cmd)
	if err != nil {
		logger.Warn("intent resolution failed, using original command", "error", err)
		return cmd, nil
	}
	if r.Intent.IsBlocked(intent) {
		return cmd, &BlockedIntentError{Intent: intent}
	}

	effective := cmd.Clone()
	if profile.SystemPrompt != "" {
		effective.SystemPrompt = profile.SystemPrompt
	}
	if len(profile.AllowedTools) > 0 {
		if effective.Metadata == nil {
			effective.Metadata = make(map[string]any)
		}
		effective.Metadata[models.MetadataIntentAllowedTools] = profile.AllowedTools
		if runCtx != nil {
			runCtx.SetIntentAllowedTools(profile.AllowedTools)
		}
	}
	return effective, nil
}
