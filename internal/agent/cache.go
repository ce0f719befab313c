package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// CacheEntry is one stored response, keyed by command fingerprint.
type CacheEntry struct {
	Result    models.AgentResult
	StoredAt  time.Time
}

// ResponseCache is a TTL-bounded fingerprint cache for completed
// executions, consulted only when caching is enabled and the effective
// temperature is at or below the configured cacheable threshold.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	ttl     time.Duration
	maxSize int
}

// NewResponseCache builds a cache; ttl<=0 disables expiry (entries live
// until evicted by size), maxSize<=0 disables the size bound.
func NewResponseCache(ttl time.Duration, maxSize int) *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]CacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Fingerprint computes the cache key over the effective command and the
// sorted tool-callback names offered for this request.
func Fingerprint(cmd models.AgentCommand, toolNames []string) string {
	sorted := append([]string(nil), toolNames...)
	sort.Strings(sorted)

	payload := struct {
		Prompt   string          `json:"prompt"`
		System   string          `json:"system"`
		Model    string          `json:"model"`
		Mode     models.Mode     `json:"mode"`
		Format   models.ResponseFormat `json:"format"`
		Schema   json.RawMessage `json:"schema,omitempty"`
		Tools    []string        `json:"tools"`
	}{
		Prompt: cmd.UserPrompt,
		System: cmd.SystemPrompt,
		Model:  cmd.Model,
		Mode:   cmd.Mode,
		Format: cmd.ResponseFormat,
		Schema: cmd.ResponseSchema,
		Tools:  sorted,
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for key, if present and unexpired.
func (c *ResponseCache) Get(key string) (models.AgentResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return models.AgentResult{}, false
	}
	if c.ttl > 0 && time.Since(entry.StoredAt) > c.ttl {
		delete(c.entries, key)
		return models.AgentResult{}, false
	}
	return entry.Result, true
}

// Put stores result under key and prunes expired/excess entries.
func (c *ResponseCache) Put(key string, result models.AgentResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = CacheEntry{Result: result, StoredAt: time.Now()}
	c.prune()
}

func (c *ResponseCache) prune() {
	now := time.Now()
	if c.ttl > 0 {
		for k, e := range c.entries {
			if now.Sub(e.StoredAt) > c.ttl {
				delete(c.entries, k)
			}
		}
	}
	if c.maxSize <= 0 {
		return
	}
	for len(c.entries) > c.maxSize {
		var oldestKey string
		var oldestAt time.Time
		first := true
		for k, e := range c.entries {
			if first || e.StoredAt.Before(oldestAt) {
				oldestKey, oldestAt, first = k, e.StoredAt, false
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.entries, oldestKey)
	}
}

// Clear removes every entry.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CacheEntry)
}

// Size reports the current entry count.
func (c *ResponseCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
