package agent

import (
	"context"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// RagQuery is the request sent to a RagPipeline.
type RagQuery struct {
	Query   string
	TopK    int
	Rerank  bool
	Filters map[string]any
}

// RagPipeline retrieves context relevant to a query; an external
// collaborator (vector store / retriever).
type RagPipeline interface {
	Retrieve(ctx context.Context, query RagQuery) (string, error)
}

// FallbackStrategy is consulted when the core execution fails; its
// result, if ok, replaces the failure.
type FallbackStrategy interface {
	Fallback(ctx context.Context, cmd models.AgentCommand, cause error) (models.AgentResult, bool)
}
