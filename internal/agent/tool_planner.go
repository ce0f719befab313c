package agent

import "log/slog"

// ToolSelector narrows a tool list to the ones relevant to a prompt.
// Concrete implementations (embedding similarity, keyword match, ...)
// are an external collaborator; the planner only calls through this
// interface when one is configured.
type ToolSelector interface {
	Select(userPrompt string, tools []Tool) ([]Tool, error)
}

// ToolFilter is applied in sequence before selection (e.g. policy
// allow/deny on local tools). A filter that errors leaves the
// previously-resolved list untouched rather than failing the request.
type ToolFilter func(tools []Tool) ([]Tool, error)

// ToolPreparationPlanner resolves the ordered, deduplicated, capped set
// of tools offered to the LLM for one request (spec §4.7).
type ToolPreparationPlanner struct {
	LocalTools         []Tool
	StaticCallbacks    []Tool
	DynamicCallbacks   func() []Tool
	Selector           ToolSelector
	MaxToolsPerRequest int
	LocalFilters       []ToolFilter
	Logger             *slog.Logger
}

// Plan executes the five-step preparation pipeline and returns the tool
// adapters to present to the LLM, alongside the resolved Tool list the
// orchestrator will dispatch calls against (same order, same names).
func (p *ToolPreparationPlanner) Plan(userPrompt string) ([]Tool, []ToolAdapter) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Step 1: local-tool filters, in sequence; a failing filter keeps
	// the list as it was before that filter ran.
	resolved := append([]Tool(nil), p.LocalTools...)
	for _, filter := range p.LocalFilters {
		next, err := filter(resolved)
		if err != nil {
			logger.Warn("tool filter failed, keeping previous list", "error", err)
			continue
		}
		resolved = next
	}

	// Step 2: concatenate static + dynamic callbacks, dedup by name
	// keeping the first occurrence.
	var callbacks []Tool
	callbacks = append(callbacks, p.StaticCallbacks...)
	if p.DynamicCallbacks != nil {
		callbacks = append(callbacks, p.DynamicCallbacks()...)
	}
	seen := make(map[string]bool, len(callbacks))
	deduped := make([]Tool, 0, len(callbacks))
	for _, t := range callbacks {
		if seen[t.Name()] {
			logger.Debug("dropping duplicate tool callback", "name", t.Name())
			continue
		}
		seen[t.Name()] = true
		deduped = append(deduped, t)
	}

	// Step 3: optional selector narrows the callback set to the prompt.
	if p.Selector != nil && len(deduped) > 0 {
		selected, err := p.Selector.Select(userPrompt, deduped)
		if err != nil {
			logger.Warn("tool selector failed, using full callback list", "error", err)
		} else {
			deduped = selected
		}
	}

	all := append(append([]Tool(nil), resolved...), deduped...)

	// Step 5: truncate to the per-request cap.
	cap := p.MaxToolsPerRequest
	if cap > 0 && len(all) > cap {
		all = all[:cap]
	}

	// Step 4: wrap each in the LLM-facing adapter shape.
	adapters := make([]ToolAdapter, 0, len(all))
	for _, t := range all {
		adapters = append(adapters, ToolAdapter{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}

	return all, adapters
}
