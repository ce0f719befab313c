package agent

import (
	"context"
	"sync"
	"time"

	"github.com/StarkFactory/arc-reactor-sub001/internal/tools/policy"
	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// ApprovalDecision is the outcome of evaluating a tool call against an
// ApprovalPolicy.
type ApprovalDecision string

const (
	ApprovalAllowed ApprovalDecision = "allowed"
	ApprovalDenied  ApprovalDecision = "denied"
	ApprovalPending ApprovalDecision = "pending"
)

// ApprovalRequest is a pending human-in-the-loop decision, tagged with
// the run it belongs to so a reviewer UI can group requests.
type ApprovalRequest struct {
	ID         string
	ToolCallID string
	ToolName   string
	Arguments  []byte
	RunID      string
	Reason     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Decision   ApprovalDecision
	DecidedAt  time.Time
	DecidedBy  string
}

// ApprovalPolicy configures which tools run freely, which are blocked,
// and which require a human decision.
type ApprovalPolicy struct {
	Allowlist       []string
	Denylist        []string
	RequireApproval []string
	SafeBins        []string
	AskFallback     bool
	DefaultDecision ApprovalDecision
	RequestTTL      time.Duration
}

// DefaultApprovalPolicy matches the conservative defaults the core ships
// with: common read-only binaries auto-allowed, everything else falls
// through to pending approval (AskFallback is on, whether or not a UI
// is attached).
func DefaultApprovalPolicy() *ApprovalPolicy {
	return &ApprovalPolicy{
		SafeBins:        []string{"cat", "head", "tail", "wc", "sort", "uniq", "grep"},
		AskFallback:     true,
		DefaultDecision: ApprovalPending,
		RequestTTL:      5 * time.Minute,
	}
}

// ApprovalStore persists pending approval requests.
type ApprovalStore interface {
	Create(ctx context.Context, req *ApprovalRequest) error
	Get(ctx context.Context, id string) (*ApprovalRequest, error)
	Update(ctx context.Context, req *ApprovalRequest) error
	ListPending(ctx context.Context) ([]*ApprovalRequest, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ApprovalChecker evaluates requiresApproval(name, args) against one
// policy for the whole process, as the orchestrator's step 4 (spec
// §4.6). Fail-open behavior for infrastructure errors is implemented by
// the orchestrator around Check, not inside it.
type ApprovalChecker struct {
	mu          sync.RWMutex
	policy      *ApprovalPolicy
	store       ApprovalStore
	uiAvailable func() bool
}

// NewApprovalChecker builds a checker from a policy (nil uses defaults).
func NewApprovalChecker(p *ApprovalPolicy) *ApprovalChecker {
	return &ApprovalChecker{policy: normalizeApprovalPolicy(p)}
}

// SetStore wires the pending-request store.
func (c *ApprovalChecker) SetStore(store ApprovalStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
}

// SetUIAvailableCheck wires the callback used to decide whether pending
// approvals can realistically be serviced.
func (c *ApprovalChecker) SetUIAvailableCheck(fn func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uiAvailable = fn
}

// RequiresApproval reports whether toolName needs a human decision
// before running at all, without resolving that decision. The
// orchestrator only calls Check when this is true.
func (c *ApprovalChecker) RequiresApproval(toolName string) bool {
	decision, _ := c.Check(context.Background(), models.ToolCall{Name: toolName})
	return decision != ApprovalAllowed
}

// Check evaluates a tool call against the policy in priority order:
// denylist, allowlist, safe bins, require-approval list, default
// decision.
func (c *ApprovalChecker) Check(ctx context.Context, call models.ToolCall) (ApprovalDecision, string) {
	c.mu.RLock()
	p := c.policy
	c.mu.RUnlock()

	name := call.Name
	switch {
	case matchesPattern(p.Denylist, name):
		return ApprovalDenied, "tool in denylist"
	case matchesPattern(p.Allowlist, name):
		return ApprovalAllowed, "tool in allowlist"
	case matchesPattern(p.SafeBins, name):
		return ApprovalAllowed, "tool is safe bin"
	case matchesPattern(p.RequireApproval, name):
		if !p.AskFallback && !c.IsUIAvailable() {
			return ApprovalDenied, "approval unavailable"
		}
		return ApprovalPending, "tool requires approval"
	default:
		if p.DefaultDecision == ApprovalPending && !p.AskFallback && !c.IsUIAvailable() {
			return ApprovalDenied, "approval unavailable"
		}
		if p.DefaultDecision == "" {
			return ApprovalPending, "default policy"
		}
		return p.DefaultDecision, "default policy"
	}
}

// CreateApprovalRequest submits a pending request tagged with runID.
func (c *ApprovalChecker) CreateApprovalRequest(ctx context.Context, runID string, call models.ToolCall, reason string) (*ApprovalRequest, error) {
	c.mu.RLock()
	p := c.policy
	store := c.store
	c.mu.RUnlock()

	ttl := p.RequestTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	req := &ApprovalRequest{
		ID:         call.ID + "-approval",
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Arguments:  call.ArgumentsRaw,
		RunID:      runID,
		Reason:     reason,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(ttl),
		Decision:   ApprovalPending,
	}
	if store != nil {
		if err := store.Create(ctx, req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// Await blocks until the request is decided, the context is cancelled,
// or the request's TTL expires — whichever comes first. A nil store
// (no approval infrastructure wired) resolves immediately to denied;
// callers treat infrastructure errors as fail-open (approved) around
// this call, not inside it.
func (c *ApprovalChecker) Await(ctx context.Context, req *ApprovalRequest) (ApprovalDecision, error) {
	c.mu.RLock()
	store := c.store
	c.mu.RUnlock()
	if store == nil {
		return ApprovalDenied, nil
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(time.Until(req.ExpiresAt))
	for {
		select {
		case <-ctx.Done():
			return ApprovalPending, ctx.Err()
		case <-deadline:
			return ApprovalDenied, nil
		case <-ticker.C:
			current, err := store.Get(ctx, req.ID)
			if err != nil {
				return ApprovalPending, err
			}
			if current == nil || current.Decision == ApprovalPending {
				continue
			}
			return current.Decision, nil
		}
	}
}

// IsUIAvailable reports whether a reviewer UI is currently reachable.
func (c *ApprovalChecker) IsUIAvailable() bool {
	c.mu.RLock()
	fn := c.uiAvailable
	c.mu.RUnlock()
	if fn == nil {
		return false
	}
	return fn()
}

// matchesPattern supports exact match, "*" (match-all), "mcp:*",
// "prefix*", and "*suffix".
func matchesPattern(patterns []string, toolName string) bool {
	normalizedTool := policy.NormalizeTool(toolName)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		normalizedPattern := policy.NormalizeTool(pattern)
		switch {
		case normalizedPattern == "*":
			return true
		case normalizedPattern == normalizedTool:
			return true
		case normalizedPattern == "mcp:*" && len(normalizedTool) >= 4 && normalizedTool[:4] == "mcp:":
			return true
		case len(normalizedPattern) > 1 && normalizedPattern[len(normalizedPattern)-1] == '*':
			prefix := normalizedPattern[:len(normalizedPattern)-1]
			if len(normalizedTool) >= len(prefix) && normalizedTool[:len(prefix)] == prefix {
				return true
			}
		case len(normalizedPattern) > 1 && normalizedPattern[0] == '*':
			suffix := normalizedPattern[1:]
			if len(normalizedTool) >= len(suffix) && normalizedTool[len(normalizedTool)-len(suffix):] == suffix {
				return true
			}
		}
	}
	return false
}

func normalizeApprovalPolicy(p *ApprovalPolicy) *ApprovalPolicy {
	defaults := DefaultApprovalPolicy()
	if p == nil {
		return defaults
	}
	merged := *defaults
	if len(p.Allowlist) > 0 {
		merged.Allowlist = append([]string(nil), p.Allowlist...)
	}
	if len(p.Denylist) > 0 {
		merged.Denylist = append([]string(nil), p.Denylist...)
	}
	if len(p.RequireApproval) > 0 {
		merged.RequireApproval = append([]string(nil), p.RequireApproval...)
	}
	if len(p.SafeBins) > 0 {
		merged.SafeBins = append([]string(nil), p.SafeBins...)
	}
	if p.DefaultDecision != "" {
		merged.DefaultDecision = p.DefaultDecision
	}
	if p.RequestTTL > 0 {
		merged.RequestTTL = p.RequestTTL
	}
	merged.AskFallback = p.AskFallback
	return &merged
}

// MemoryApprovalStore is a thread-safe in-memory ApprovalStore, useful
// for tests and single-instance deployments without a real reviewer UI
// backend.
type MemoryApprovalStore struct {
	mu       sync.RWMutex
	requests map[string]*ApprovalRequest
}

// NewMemoryApprovalStore builds an empty store.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{requests: make(map[string]*ApprovalRequest)}
}

func (s *MemoryApprovalStore) Create(ctx context.Context, req *ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryApprovalStore) Get(ctx context.Context, id string) (*ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[id], nil
}

func (s *MemoryApprovalStore) Update(ctx context.Context, req *ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryApprovalStore) ListPending(ctx context.Context) ([]*ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []*ApprovalRequest
	for _, req := range s.requests {
		if req.Decision != ApprovalPending {
			continue
		}
		if !req.ExpiresAt.IsZero() && req.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (s *MemoryApprovalStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	for id, req := range s.requests {
		if req.CreatedAt.Before(cutoff) {
			delete(s.requests, id)
			pruned++
		}
	}
	return pruned, nil
}
