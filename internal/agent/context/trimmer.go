// Package context trims conversation history to fit a token budget
// without ever splitting a tool-call/tool-response pair, and builds the
// final system prompt sent with each request.
package context

import (
	"log/slog"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// TokenEstimator is the minimal contract this package needs; it mirrors
// agent.TokenEstimator without importing it, keeping this package
// dependency-free of the orchestration layer.
type TokenEstimator interface {
	Estimate(text string) int
}

// Trimmer fits a message list into a token budget while preserving the
// invariant that every tool_response message is immediately preceded by
// the assistant message whose tool calls it answers.
type Trimmer struct {
	Estimator TokenEstimator
	Logger    *slog.Logger
}

// NewTrimmer builds a Trimmer with the given estimator.
func NewTrimmer(estimator TokenEstimator, logger *slog.Logger) *Trimmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trimmer{Estimator: estimator, Logger: logger}
}

// Budget computes the token budget for a message list: the context
// window minus the system prompt's tokens minus reserved output tokens.
func (t *Trimmer) Budget(maxContextWindowTokens int, systemPrompt string, maxOutputTokens int) int {
	return maxContextWindowTokens - t.Estimator.Estimate(systemPrompt) - maxOutputTokens
}

// messageTokens estimates one message's contribution to the budget.
func (t *Trimmer) messageTokens(m models.Message) int {
	switch m.Role {
	case models.RoleAssistant:
		total := t.Estimator.Estimate(m.Text)
		for _, tc := range m.ToolCalls {
			total += t.Estimator.Estimate(tc.Name + string(tc.ArgumentsRaw))
		}
		return total
	case models.RoleToolResponse:
		total := 0
		for _, tr := range m.ToolResponses {
			total += t.Estimator.Estimate(tr.Output)
		}
		return total
	default:
		return t.Estimator.Estimate(m.Text)
	}
}

func (t *Trimmer) totalTokens(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += t.messageTokens(m)
	}
	return total
}

func lastUserIndex(messages []models.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return i
		}
	}
	return -1
}

// Trim returns a new slice fit to budget, preferring to drop the oldest
// material first, then material produced after the last user turn, and
// never splitting a tool-call/tool-response pair.
func (t *Trimmer) Trim(messages []models.Message, maxContextWindowTokens int, systemPrompt string, maxOutputTokens int) []models.Message {
	budget := t.Budget(maxContextWindowTokens, systemPrompt, maxOutputTokens)
	if budget <= 0 {
		t.Logger.Warn("context budget non-positive, keeping only the last user message")
		if idx := lastUserIndex(messages); idx >= 0 {
			return []models.Message{messages[idx]}
		}
		return nil
	}

	trimmed := append([]models.Message(nil), messages...)

	// Phase 1: trim from the front, never crossing the last user message.
	for t.totalTokens(trimmed) > budget && len(trimmed) > 1 {
		lastUser := lastUserIndex(trimmed)
		if lastUser <= 0 {
			break
		}
		removed := t.removeFront(trimmed)
		if removed == 0 {
			break
		}
		trimmed = trimmed[removed:]
	}

	// Phase 2: if still over budget, trim pair-atomically starting
	// immediately after the last user message (the current turn's tool
	// interactions), keeping the user message itself.
	for t.totalTokens(trimmed) > budget && len(trimmed) > 1 {
		lastUser := lastUserIndex(trimmed)
		start := lastUser + 1
		if start >= len(trimmed) {
			break
		}
		removed := t.removeAt(trimmed, start)
		if removed == 0 {
			break
		}
		trimmed = append(trimmed[:start], trimmed[start+removed:]...)
	}

	return trimmed
}

// removeFront removes the first message of trimmed as a pair-atomic
// unit and returns how many messages were consumed from the front.
func (t *Trimmer) removeFront(trimmed []models.Message) int {
	return t.removeAt(trimmed, 0)
}

// removeAt removes the unit starting at index i: an assistant message
// with tool calls is removed together with its following tool_response
// message; a stray tool_response is removed alone; anything else is
// removed alone too.
func (t *Trimmer) removeAt(trimmed []models.Message, i int) int {
	if i >= len(trimmed) {
		return 0
	}
	m := trimmed[i]
	if m.HasToolCalls() && i+1 < len(trimmed) && trimmed[i+1].Role == models.RoleToolResponse {
		return 2
	}
	return 1
}

// Idempotent reports whether trimming again would be a no-op, used by
// callers that want to assert the fixed-point property without
// re-running the budget computation.
func (t *Trimmer) Idempotent(messages []models.Message, maxContextWindowTokens int, systemPrompt string, maxOutputTokens int) bool {
	budget := t.Budget(maxContextWindowTokens, systemPrompt, maxOutputTokens)
	return t.totalTokens(messages) <= budget
}
