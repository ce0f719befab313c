package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/StarkFactory/arc-reactor-sub001/internal/agent"
	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

func TestNewOpenAIProvider_EmptyAPIKeyFailsFast(t *testing.T) {
	p := NewOpenAIProvider("", "")
	if _, err := p.Call(context.Background(), agent.PromptSpec{}); err == nil {
		t.Fatal("expected Call to fail fast without an API key")
	}
	if _, err := p.Stream(context.Background(), agent.PromptSpec{}); err == nil {
		t.Fatal("expected Stream to fail fast without an API key")
	}
}

func TestNewOpenAIProvider_DefaultsModelAndName(t *testing.T) {
	p := NewOpenAIProvider("sk-test", "")
	if p.Name() != "openai" {
		t.Errorf("Name() = %q, want %q", p.Name(), "openai")
	}
	if p.ResolveModel("") == "" {
		t.Error("expected a non-empty default model")
	}
}

func TestOpenAIProvider_ConvertMessages_AssistantWithToolCalls(t *testing.T) {
	p := NewOpenAIProvider("sk-test", "gpt-4o")
	out := p.convertMessages([]models.Message{
		{Role: models.RoleAssistant, Text: "calling", ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "search", ArgumentsRaw: []byte(`{"q":"x"}`)},
		}},
	})
	if len(out) != 1 || len(out[0].ToolCalls) != 1 {
		t.Fatalf("out = %+v", out)
	}
	if out[0].ToolCalls[0].Function.Name != "search" {
		t.Errorf("Function.Name = %q, want search", out[0].ToolCalls[0].Function.Name)
	}
}

func TestOpenAIProvider_ConvertMessages_ToolResponseMapsToToolRole(t *testing.T) {
	p := NewOpenAIProvider("sk-test", "gpt-4o")
	out := p.convertMessages([]models.Message{
		{Role: models.RoleToolResponse, ToolResponses: []models.ToolResponse{{ID: "call-1", Output: "result"}}},
	})
	if len(out) != 1 || out[0].ToolCallID != "call-1" || out[0].Content != "result" {
		t.Fatalf("out = %+v", out)
	}
}

func TestOpenAIProvider_UserMessage_TextOnly(t *testing.T) {
	p := NewOpenAIProvider("sk-test", "gpt-4o")
	msg := p.userMessage(models.Message{Text: "hello"})
	if msg.Content != "hello" || len(msg.MultiContent) != 0 {
		t.Errorf("msg = %+v, want plain text content", msg)
	}
}

func TestOpenAIProvider_UserMessage_WithImages(t *testing.T) {
	p := NewOpenAIProvider("sk-test", "gpt-4o")
	msg := p.userMessage(models.Message{Text: "look at this", Media: []models.Media{{URL: "https://example.com/img.png"}}})
	if len(msg.MultiContent) != 2 {
		t.Fatalf("len(MultiContent) = %d, want 2 (text + image)", len(msg.MultiContent))
	}
}

func TestOpenAIProvider_ConvertTools_FallsBackOnInvalidSchema(t *testing.T) {
	p := NewOpenAIProvider("sk-test", "gpt-4o")
	out := p.convertTools([]agent.ToolAdapter{{Name: "search", InputSchema: json.RawMessage("not json")}})
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].Function.Parameters == nil {
		t.Error("expected a fallback schema instead of nil")
	}
}

func TestOpenAIProvider_WrapError_NilAndPassthrough(t *testing.T) {
	p := NewOpenAIProvider("sk-test", "gpt-4o")
	if p.wrapError(nil) != nil {
		t.Error("expected nil to pass through")
	}
	original := &ProviderError{Reason: FailoverBilling}
	if p.wrapError(original) != error(original) {
		t.Error("expected an existing ProviderError to pass through unchanged")
	}
}

func TestOpenAIProvider_WrapError_WrapsPlainError(t *testing.T) {
	p := NewOpenAIProvider("sk-test", "gpt-4o")
	wrapped := p.wrapError(errors.New("connection reset"))
	if !IsProviderError(wrapped) {
		t.Error("expected plain error to be wrapped")
	}
}
