package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/StarkFactory/arc-reactor-sub001/internal/retry"
	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// Sentinel errors raised by the core's own control flow.
var (
	ErrMaxIterations    = errors.New("max iterations exceeded")
	ErrContextCancelled = errors.New("context cancelled")
	ErrNoProvider       = errors.New("no provider configured")
	ErrToolNotFound     = errors.New("tool not found")
	ErrToolTimeout      = errors.New("tool execution timed out")
	ErrToolPanic        = errors.New("tool panicked")
)

// ToolErrorType categorizes a tool execution failure.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorRateLimit    ToolErrorType = "rate_limit"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// IsRetryable reports whether this category is worth a retry attempt.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// ToolError is a structured failure from a single tool invocation. The
// orchestrator never lets this escape as a Go error to the LLM: it is
// always rendered into the ToolResponse.Output string first.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Attempts   int
}

func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Type)}
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	switch {
	case e.Message != "":
		parts = append(parts, e.Message)
	case e.Cause != nil:
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError builds a ToolError, classifying cause automatically.
func NewToolError(toolName string, cause error) *ToolError {
	e := &ToolError{ToolName: toolName, Cause: cause, Type: ToolErrorUnknown, Attempts: 1}
	if cause != nil {
		e.Message = cause.Error()
		e.Type = classifyToolError(cause)
	}
	return e
}

func (e *ToolError) WithType(t ToolErrorType) *ToolError   { e.Type = t; return e }
func (e *ToolError) WithToolCallID(id string) *ToolError   { e.ToolCallID = id; return e }
func (e *ToolError) WithMessage(msg string) *ToolError     { e.Message = msg; return e }
func (e *ToolError) WithAttempts(n int) *ToolError         { e.Attempts = n; return e }

func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}
	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ToolErrorTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return ToolErrorPanic
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(s, "connection") || strings.Contains(s, "network") || strings.Contains(s, "refused") || strings.Contains(s, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(s, "rate limit") || strings.Contains(s, "too many requests") || strings.Contains(s, "429"):
		return ToolErrorRateLimit
	case strings.Contains(s, "permission") || strings.Contains(s, "forbidden") || strings.Contains(s, "unauthorized"):
		return ToolErrorPermission
	case strings.Contains(s, "invalid") || strings.Contains(s, "validation") || strings.Contains(s, "required") || strings.Contains(s, "missing"):
		return ToolErrorInvalidInput
	default:
		return ToolErrorExecution
	}
}

// IsToolError reports whether err is or wraps a *ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}

// ReActPhase names a stage of the reason-act loop, used in diagnostics.
type ReActPhase string

const (
	PhaseInit         ReActPhase = "init"
	PhaseLLMCall      ReActPhase = "llm_call"
	PhaseExecuteTools ReActPhase = "execute_tools"
	PhaseContinue     ReActPhase = "continue"
	PhaseComplete     ReActPhase = "complete"
)

// ReActError carries the loop phase and iteration an error surfaced in.
type ReActError struct {
	Phase     ReActPhase
	Iteration int
	Message   string
	Cause     error
}

func (e *ReActError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("react loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("react loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	default:
		return fmt.Sprintf("react loop error at %s (iteration %d)", e.Phase, e.Iteration)
	}
}

func (e *ReActError) Unwrap() error { return e.Cause }

// AgentError is the error carried by a failed AgentResult: it pins down
// one of the taxonomy codes alongside a user-facing message.
type AgentError struct {
	Code    models.ErrorCode
	Message string
	Cause   error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Cause }

// NewAgentError builds an AgentError with the given code and message.
func NewAgentError(code models.ErrorCode, message string, cause error) *AgentError {
	return &AgentError{Code: code, Message: message, Cause: cause}
}

// statusPattern matches an HTTP status code (429/500/502/503/504) only
// when surrounded by one of the words the classifier treats as evidence
// that the number really is a status code, not incidental digits.
var statusPattern = regexp.MustCompile(`\b(status|http|error|code)\D{0,12}(429|500|502|503|504)\b|\b(429|500|502|503|504)\D{0,12}(status|http|error|code)\b`)

var transientSubstrings = []string{
	"rate limit", "too many requests", "timeout", "timed out",
	"connection refused", "connection reset", "internal server error",
	"service unavailable", "bad gateway",
}

// ErrorClassifier maps arbitrary errors to the taxonomy's transience
// predicate and error codes (spec §4.13).
type ErrorClassifier struct{}

// IsTransient reports whether err looks like a condition a retry might
// resolve: a recognized HTTP status pattern or one of the known
// transient-failure phrases, matched case-insensitively.
func (ErrorClassifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, retry.ErrOpen) {
		return false
	}
	s := strings.ToLower(err.Error())
	if statusPattern.MatchString(s) {
		return true
	}
	for _, sub := range transientSubstrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Classify maps err to one of the taxonomy's error codes.
func (ErrorClassifier) Classify(err error) models.ErrorCode {
	if err == nil {
		return models.ErrUnknown
	}
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Code
	}
	if errors.Is(err, retry.ErrOpen) {
		return models.ErrCircuitBreakerOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrTimeout
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "rate limit"):
		return models.ErrRateLimited
	case strings.Contains(s, "timeout"):
		return models.ErrTimeout
	case strings.Contains(s, "context length"):
		return models.ErrContextTooLong
	case strings.Contains(s, "tool"):
		return models.ErrToolError
	default:
		return models.ErrUnknown
	}
}
