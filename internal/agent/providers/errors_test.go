package providers

import (
	"errors"
	"strings"
	"testing"
)

func TestFailoverReason_IsRetryable(t *testing.T) {
	tests := []struct {
		reason FailoverReason
		want   bool
	}{
		{FailoverRateLimit, true},
		{FailoverTimeout, true},
		{FailoverServerError, true},
		{FailoverBilling, false},
		{FailoverAuth, false},
		{FailoverInvalidRequest, false},
	}
	for _, tt := range tests {
		if got := tt.reason.IsRetryable(); got != tt.want {
			t.Errorf("%s.IsRetryable() = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestFailoverReason_ShouldFailover(t *testing.T) {
	tests := []struct {
		reason FailoverReason
		want   bool
	}{
		{FailoverBilling, true},
		{FailoverAuth, true},
		{FailoverModelUnavailable, true},
		{FailoverRateLimit, false},
		{FailoverTimeout, false},
	}
	for _, tt := range tests {
		if got := tt.reason.ShouldFailover(); got != tt.want {
			t.Errorf("%s.ShouldFailover() = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestClassifyError_PatternMatching(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailoverReason
	}{
		{"timeout", errors.New("context deadline exceeded"), FailoverTimeout},
		{"rate limit", errors.New("429 too many requests"), FailoverRateLimit},
		{"auth", errors.New("401 unauthorized"), FailoverAuth},
		{"billing", errors.New("insufficient quota"), FailoverBilling},
		{"content filter", errors.New("blocked by content policy"), FailoverContentFilter},
		{"model unavailable", errors.New("model not found"), FailoverModelUnavailable},
		{"server error", errors.New("502 bad gateway, internal server error"), FailoverServerError},
		{"unknown", errors.New("something weird happened"), FailoverUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%q) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyError_NilReturnsUnknown(t *testing.T) {
	if got := ClassifyError(nil); got != FailoverUnknown {
		t.Errorf("ClassifyError(nil) = %v, want %v", got, FailoverUnknown)
	}
}

func TestNewProviderError_ClassifiesCause(t *testing.T) {
	err := NewProviderError("anthropic", "claude-3", errors.New("429 rate limited"))
	if err.Reason != FailoverRateLimit {
		t.Errorf("Reason = %v, want %v", err.Reason, FailoverRateLimit)
	}
	if err.Provider != "anthropic" || err.Model != "claude-3" {
		t.Errorf("Provider/Model = %q/%q", err.Provider, err.Model)
	}
}

func TestProviderError_WithStatusReclassifies(t *testing.T) {
	err := NewProviderError("openai", "gpt-4", errors.New("boom")).WithStatus(429)
	if err.Reason != FailoverRateLimit {
		t.Errorf("Reason = %v, want %v", err.Reason, FailoverRateLimit)
	}
	if err.Status != 429 {
		t.Errorf("Status = %d, want 429", err.Status)
	}
}

func TestProviderError_WithCodeReclassifies(t *testing.T) {
	err := NewProviderError("anthropic", "claude-3", errors.New("boom")).WithCode("rate_limit_error")
	if err.Reason != FailoverRateLimit {
		t.Errorf("Reason = %v, want %v", err.Reason, FailoverRateLimit)
	}
}

func TestProviderError_ErrorMessageIncludesParts(t *testing.T) {
	err := &ProviderError{Reason: FailoverAuth, Provider: "anthropic", Model: "claude-3", Status: 401, Message: "bad key"}
	got := err.Error()
	for _, want := range []string{"auth", "anthropic", "claude-3", "401", "bad key"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, expected to contain %q", got, want)
		}
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &ProviderError{Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestIsProviderError_AndGetProviderError(t *testing.T) {
	perr := &ProviderError{Reason: FailoverTimeout}
	wrapped := errors.New("wrapper")
	if IsProviderError(wrapped) {
		t.Error("plain error should not be a ProviderError")
	}
	if !IsProviderError(perr) {
		t.Error("expected ProviderError to be recognized")
	}
	got, ok := GetProviderError(perr)
	if !ok || got != perr {
		t.Error("expected GetProviderError to return the same instance")
	}
}

func TestIsRetryable_UsesProviderErrorWhenPresent(t *testing.T) {
	perr := &ProviderError{Reason: FailoverServerError}
	if !IsRetryable(perr) {
		t.Error("expected server error to be retryable")
	}
}

func TestIsRetryable_ClassifiesRawErrors(t *testing.T) {
	if !IsRetryable(errors.New("request timed out")) {
		t.Error("expected timeout to be retryable")
	}
	if IsRetryable(errors.New("invalid api key")) {
		t.Error("expected auth failure to not be retryable")
	}
}

func TestShouldFailover_ClassifiesRawErrors(t *testing.T) {
	if !ShouldFailover(errors.New("insufficient quota")) {
		t.Error("expected billing issue to trigger failover")
	}
	if ShouldFailover(errors.New("request timed out")) {
		t.Error("expected timeout to not trigger failover")
	}
}
