package context

import (
	"strings"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// PromptBuilder composes the final system prompt sent with a request:
// the caller's base prompt, an optional RAG context block, and format
// directives derived from the command's requested response format.
type PromptBuilder struct{}

// Build assembles the system prompt. ragContext is empty when retrieval
// was disabled, failed, or returned nothing.
func (PromptBuilder) Build(basePrompt, ragContext string, format models.ResponseFormat, schema string) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if ragContext != "" {
		b.WriteString("\n\nRelevant context:\n")
		b.WriteString(ragContext)
	}

	switch format {
	case models.FormatJSON:
		b.WriteString("\n\nRespond with valid JSON only, no surrounding text or code fences.")
		if schema != "" {
			b.WriteString("\nConform to this schema:\n")
			b.WriteString(schema)
		}
	case models.FormatYAML:
		b.WriteString("\n\nRespond with valid YAML only, no surrounding text or code fences.")
		if schema != "" {
			b.WriteString("\nConform to this schema:\n")
			b.WriteString(schema)
		}
	}

	return b.String()
}
