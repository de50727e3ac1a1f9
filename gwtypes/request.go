package gwtypes

// Role is a chat message participant role (§4.1: system, user, assistant).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a ChatRequest's ordered message sequence.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the uniform request shape every Adapter accepts (§4.1).
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"` // [0,2]
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Tools       []any     `json:"tools,omitempty"` // opaque, pass-through only
}

// Usage reports token accounting, when the upstream provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult is the uniform response shape produced by every Adapter (§4.1).
type ChatResult struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
	Model   string `json:"model"`

	// Degraded marks a result produced by a non-streaming dialect asked
	// to stream: the whole response was emitted as a single chunk (§4.1).
	// No adapter in this module sets it: every InvokeStream returns a
	// single StreamChunk, which has no such flag.
	Degraded bool `json:"degraded,omitempty"`
}

// ExecutionResult is what Execute() returns to the caller (§6), annotating
// a ChatResult with the Executor's bookkeeping (§4.8 step 6).
type ExecutionResult struct {
	ChatResult
	ProviderID     string  `json:"provider_id"`
	DurationMs     int64   `json:"duration_ms"`
	TokensUsed     int     `json:"tokens_used"`
	EstimatedCost  float64 `json:"estimated_cost"`
	Attempts       int     `json:"attempts"`
	Strategy       Strategy `json:"strategy"`
	FallbackUsed   bool    `json:"fallback_used"`
}

// Strategy is the caller-selected scoring weighting (§4.7).
type Strategy string

const (
	StrategyCost     Strategy = "cost"
	StrategyLatency  Strategy = "latency"
	StrategyQuality  Strategy = "quality"
	StrategyBalanced Strategy = "balanced"
)

// Preferences are the Router inputs named in §4.7.
type Preferences struct {
	PreferredProviderID string
	MaxCostPerToken     *float64
	MaxLatencyMs        *int
	RequireCapabilities []Capability
	Strategy            Strategy
	EnableFallback      *bool // nil treated as true
	MaxRetries          *int  // nil -> default 3 (§4.8)

	// IdempotencyKey, when set, lets the Executor replay a prior
	// successful result for the same key instead of re-invoking (see
	// SPEC_FULL.md Part D).
	IdempotencyKey string
}

func (p Preferences) FallbackEnabled() bool {
	return p.EnableFallback == nil || *p.EnableFallback
}

func (p Preferences) MaxRetriesOrDefault() int {
	if p.MaxRetries == nil {
		return 3
	}
	return *p.MaxRetries
}
