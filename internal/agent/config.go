package agent

import "time"

// ViolationMode controls how the output boundary reacts to a response
// shorter than outputMinChars.
type ViolationMode string

const (
	ViolationWarn      ViolationMode = "WARN"
	ViolationRetryOnce ViolationMode = "RETRY_ONCE"
	ViolationFail      ViolationMode = "FAIL"
)

// LLMConfig holds the defaults applied to every chat completion.
type LLMConfig struct {
	DefaultProvider             string
	Temperature                 float64
	MaxOutputTokens             int
	MaxContextWindowTokens      int
	MaxConversationTurns        int
	GoogleSearchRetrievalEnabled bool
}

// ConcurrencyConfig bounds how many requests and tool calls run at once.
type ConcurrencyConfig struct {
	MaxConcurrentRequests int
	RequestTimeoutMs      int
	ToolCallTimeoutMs     int
}

// RetryConfig parameterizes RetryExecutor's backoff schedule.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelayMs int
	Multiplier   float64
	MaxDelayMs   int
}

// BoundariesConfig fences the size of inputs and final outputs.
type BoundariesConfig struct {
	InputMinChars          int
	InputMaxChars          int
	OutputMinChars         int
	OutputMaxChars         int
	OutputMinViolationMode ViolationMode
}

// CacheConfig gates the response cache.
type CacheConfig struct {
	Enabled             bool
	TTL                 time.Duration
	CacheableTemperature float64
}

// RagConfig gates retrieval-augmented context injection.
type RagConfig struct {
	Enabled         bool
	TopK            int
	RerankEnabled   bool
	MaxContextTokens int
}

// Config is the full set of recognized runtime options (spec §6).
type Config struct {
	LLM          LLMConfig
	Concurrency  ConcurrencyConfig
	Retry        RetryConfig
	MaxToolCalls int
	MaxToolsPerRequest int
	Boundaries   BoundariesConfig
	Cache        CacheConfig
	Rag          RagConfig
}

// DefaultConfig returns the baseline configuration named throughout the
// spec's defaults.
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Temperature:            0.3,
			MaxOutputTokens:        4096,
			MaxContextWindowTokens: 128000,
			MaxConversationTurns:   10,
		},
		Concurrency: ConcurrencyConfig{
			MaxConcurrentRequests: 20,
			RequestTimeoutMs:      30000,
			ToolCallTimeoutMs:     15000,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialDelayMs: 1000,
			Multiplier:     2.0,
			MaxDelayMs:     10000,
		},
		MaxToolCalls:       10,
		MaxToolsPerRequest: 20,
		Boundaries: BoundariesConfig{
			OutputMinViolationMode: ViolationWarn,
		},
		Cache: CacheConfig{
			CacheableTemperature: 0.0,
		},
	}
}

// mergeConfig applies non-zero fields of override on top of base,
// following the copy-then-override idiom used throughout this package.
func mergeConfig(base, override Config) Config {
	merged := base
	if override.LLM.DefaultProvider != "" {
		merged.LLM.DefaultProvider = override.LLM.DefaultProvider
	}
	if override.LLM.Temperature != 0 {
		merged.LLM.Temperature = override.LLM.Temperature
	}
	if override.LLM.MaxOutputTokens > 0 {
		merged.LLM.MaxOutputTokens = override.LLM.MaxOutputTokens
	}
	if override.LLM.MaxContextWindowTokens > 0 {
		merged.LLM.MaxContextWindowTokens = override.LLM.MaxContextWindowTokens
	}
	if override.LLM.MaxConversationTurns > 0 {
		merged.LLM.MaxConversationTurns = override.LLM.MaxConversationTurns
	}
	if override.LLM.GoogleSearchRetrievalEnabled {
		merged.LLM.GoogleSearchRetrievalEnabled = true
	}
	if override.Concurrency.MaxConcurrentRequests > 0 {
		merged.Concurrency.MaxConcurrentRequests = override.Concurrency.MaxConcurrentRequests
	}
	if override.Concurrency.RequestTimeoutMs > 0 {
		merged.Concurrency.RequestTimeoutMs = override.Concurrency.RequestTimeoutMs
	}
	if override.Concurrency.ToolCallTimeoutMs > 0 {
		merged.Concurrency.ToolCallTimeoutMs = override.Concurrency.ToolCallTimeoutMs
	}
	if override.Retry.MaxAttempts > 0 {
		merged.Retry.MaxAttempts = override.Retry.MaxAttempts
	}
	if override.Retry.InitialDelayMs > 0 {
		merged.Retry.InitialDelayMs = override.Retry.InitialDelayMs
	}
	if override.Retry.Multiplier > 0 {
		merged.Retry.Multiplier = override.Retry.Multiplier
	}
	if override.Retry.MaxDelayMs > 0 {
		merged.Retry.MaxDelayMs = override.Retry.MaxDelayMs
	}
	if override.MaxToolCalls > 0 {
		merged.MaxToolCalls = override.MaxToolCalls
	}
	if override.MaxToolsPerRequest > 0 {
		merged.MaxToolsPerRequest = override.MaxToolsPerRequest
	}
	if override.Boundaries.InputMinChars > 0 {
		merged.Boundaries.InputMinChars = override.Boundaries.InputMinChars
	}
	if override.Boundaries.InputMaxChars > 0 {
		merged.Boundaries.InputMaxChars = override.Boundaries.InputMaxChars
	}
	if override.Boundaries.OutputMinChars > 0 {
		merged.Boundaries.OutputMinChars = override.Boundaries.OutputMinChars
	}
	if override.Boundaries.OutputMaxChars > 0 {
		merged.Boundaries.OutputMaxChars = override.Boundaries.OutputMaxChars
	}
	if override.Boundaries.OutputMinViolationMode != "" {
		merged.Boundaries.OutputMinViolationMode = override.Boundaries.OutputMinViolationMode
	}
	if override.Cache.Enabled {
		merged.Cache.Enabled = true
	}
	if override.Cache.TTL > 0 {
		merged.Cache.TTL = override.Cache.TTL
	}
	if override.Cache.CacheableTemperature != 0 {
		merged.Cache.CacheableTemperature = override.Cache.CacheableTemperature
	}
	if override.Rag.Enabled {
		merged.Rag.Enabled = true
	}
	if override.Rag.TopK > 0 {
		merged.Rag.TopK = override.Rag.TopK
	}
	if override.Rag.RerankEnabled {
		merged.Rag.RerankEnabled = true
	}
	if override.Rag.MaxContextTokens > 0 {
		merged.Rag.MaxContextTokens = override.Rag.MaxContextTokens
	}
	return merged
}

func (c Config) requestTimeout() time.Duration {
	return time.Duration(c.Concurrency.RequestTimeoutMs) * time.Millisecond
}

func (c Config) toolCallTimeout() time.Duration {
	return time.Duration(c.Concurrency.ToolCallTimeoutMs) * time.Millisecond
}
