package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// RepairCaller is the subset of ChatClient the repairer needs: one
// non-streaming call to ask the model to fix its own output.
type RepairCaller interface {
	Call(ctx context.Context, spec PromptSpec) (*ChatResponse, error)
}

// StructuredOutputRepairer validates TEXT/JSON/YAML content and, for the
// structured formats, issues a single remedial call when the first
// attempt doesn't validate.
type StructuredOutputRepairer struct {
	Client RepairCaller
}

// Repair implements spec §4.11: TEXT passes through unchanged; JSON/YAML
// is fence-stripped and validated, with one repair call on failure.
func (r *StructuredOutputRepairer) Repair(ctx context.Context, format models.ResponseFormat, schema json.RawMessage, spec PromptSpec, content string) (string, error) {
	if format == models.FormatText {
		return content, nil
	}

	stripped := stripFence(content)
	if err := validate(format, schema, stripped); err == nil {
		return stripped, nil
	}

	repairSpec := spec
	repairSpec.Messages = append(append([]models.Message(nil), spec.Messages...), models.Message{
		Role: models.RoleUser,
		Text: fmt.Sprintf("Fix this %s; return only valid %s with no surrounding text or code fences:\n\n%s", format, format, content),
	})
	resp, err := r.Client.Call(ctx, repairSpec)
	if err != nil {
		return "", NewAgentError(models.ErrInvalidResponse, "structured output repair call failed", err)
	}

	repaired := stripFence(resp.Text)
	if err := validate(format, schema, repaired); err != nil {
		return "", NewAgentError(models.ErrInvalidResponse, "structured output remained invalid after repair", err)
	}
	return repaired, nil
}

// stripFence removes one leading/trailing triple-backtick fence if
// present, tolerating an optional language tag on the opening fence.
func stripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.SplitN(trimmed, "\n", 2)
	if len(lines) < 2 {
		return s
	}
	body := lines[1]
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func validate(format models.ResponseFormat, schema json.RawMessage, content string) error {
	switch format {
	case models.FormatJSON:
		var v any
		if err := json.Unmarshal([]byte(content), &v); err != nil {
			return err
		}
		return validateJSONSchema(schema, content)
	case models.FormatYAML:
		var v any
		return yaml.Unmarshal([]byte(content), &v)
	default:
		return nil
	}
}

func validateJSONSchema(schema json.RawMessage, content string) error {
	if len(schema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schema)); err != nil {
		return err
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return err
	}
	return compiled.Validate(v)
}
