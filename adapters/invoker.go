// Package adapters defines the Invoker capability (§4.1) shared by every
// dialect strategy, plus the construction entry point that turns a
// Provider's (dialect, endpoint, credentials, config) into a concrete
// Invoker — the "pure function of (dialect, endpoint, credentials,
// config)" called for in §9's re-architecture note.
//
// Grounded on the teacher's Provider interface (llm/provider.go) and its
// per-vendor constructors (providers/anthropic, llm/providers/gemini,
// llm/factory/factory.go's dialect dispatch), collapsed from 14 vendor
// packages into 5 dialect strategies per §9.
package adapters

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/synapseai/gateway-core/gwtypes"
)

// Invoker is the uniform contract every dialect strategy implements (§4.1).
type Invoker interface {
	// Invoke performs a single, non-streaming chat completion call.
	Invoke(ctx context.Context, req gwtypes.ChatRequest) (gwtypes.ChatResult, error)

	// InvokeStream returns a finite, non-restartable sequence of text
	// chunks. Cancelling ctx must abort the upstream transport.
	InvokeStream(ctx context.Context, req gwtypes.ChatRequest) (<-chan StreamChunk, error)

	// ListModels returns the set of models this provider instance knows
	// about. May return an empty set if the dialect has no discovery
	// endpoint.
	ListModels(ctx context.Context) ([]string, error)

	// Probe performs the smallest possible live call used by HealthProbe
	// (§4.5).
	Probe(ctx context.Context) error
}

// StreamChunk is one element of the lazy sequence InvokeStream produces.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Credentials is the plaintext material the Vault hands to adapter
// construction (P5: adapters receive plaintext at construction and must
// not persist it beyond holding it in the constructed Invoker's closure).
type Credentials struct {
	APIKey string
}

// BuildConfig is everything Construct needs: a pure function of dialect,
// endpoint, credentials, and config (§9).
type BuildConfig struct {
	Dialect     gwtypes.Dialect
	BaseURL     string
	Credentials Credentials
	Config      map[string]any
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Construct builds the Invoker for a Provider's dialect. Self-hosted
// dialects default to a 60s timeout per §5; all others default to 30s.
func Construct(bc BuildConfig) (Invoker, error) {
	logger := bc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := bc.Timeout
	if timeout == 0 {
		if bc.Dialect == gwtypes.DialectSelfHostedA || bc.Dialect == gwtypes.DialectSelfHostedB {
			timeout = 60 * time.Second
		} else {
			timeout = 30 * time.Second
		}
	}
	client := &http.Client{Timeout: timeout}

	switch bc.Dialect {
	case gwtypes.DialectVendorA, gwtypes.DialectAggregator, gwtypes.DialectSelfHostedB:
		return newOpenAIShaped(bc, client, logger), nil
	case gwtypes.DialectVendorB:
		return newMessagesShaped(bc, client, logger), nil
	case gwtypes.DialectVendorC:
		return newGenerativeContent(bc, client, logger), nil
	case gwtypes.DialectSelfHostedA:
		return newSelfHostedChat(bc, client, logger), nil
	case gwtypes.DialectVendorD, gwtypes.DialectVendorE, gwtypes.DialectVendorF, gwtypes.DialectCustom:
		return newCustom(bc, client, logger), nil
	default:
		return nil, fmt.Errorf("adapters: unknown dialect %q", bc.Dialect)
	}
}

func estimatedPromptLen(req gwtypes.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total
}

func maxTokensOrDefault(req gwtypes.ChatRequest, def int) int {
	if req.MaxTokens != nil {
		return *req.MaxTokens
	}
	return def
}
