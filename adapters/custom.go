package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/synapseai/gateway-core/gwtypes"
)

// custom implements the custom dialect of §4.1 as a best-effort
// passthrough: it posts an OpenAI-style body and extracts content via
// data.content ?? data.text ?? "". The only adapter-config key it reads is
// endpoint_path; no request/response transform descriptors are applied.
// Grounded on llm/factory/factory.go's default case, which falls
// back to a generic openai-compatible provider for any unrecognized name
// — that passthrough behavior is this strategy's "absent descriptor" path.
//
// This strategy also backs vendor-D/E/F: the corpus's remaining
// per-vendor packages (qwen, glm, kimi, minimax, deepseek, grok, mistral,
// hunyuan, doubao, llama) are all OpenAI-compatible wire-wise and would
// collapse into openAIShaped; vendor-D/E/F are modeled here instead only
// because the spec leaves their exact shape unspecified; the only
// per-provider deviation this strategy honours is AdapterConfig's
// endpoint_path.
type custom struct {
	baseURL       string
	apiKey        string
	endpointPath  string // default "/chat/completions"
	requestField  string // not set or read: messages always go under "messages"
	responsePath  []string // not set or read: content comes from extractContent
	client        *http.Client
	logger        *zap.Logger
}

func newCustom(bc BuildConfig, client *http.Client, logger *zap.Logger) *custom {
	endpointPath := "/chat/completions"
	if v, ok := bc.Config["endpoint_path"].(string); ok && v != "" {
		endpointPath = v
	}
	return &custom{
		baseURL:      strings.TrimRight(bc.BaseURL, "/"),
		apiKey:       bc.Credentials.APIKey,
		endpointPath: endpointPath,
		client:       client,
		logger:       logger,
	}
}

func (c *custom) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func (c *custom) Invoke(ctx context.Context, req gwtypes.ChatRequest) (gwtypes.ChatResult, error) {
	msgs := make([]map[string]string, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = map[string]string{"role": string(m.Role), "content": m.Content}
	}
	wire := map[string]any{
		"model":    req.Model,
		"messages": msgs,
	}
	if req.MaxTokens != nil {
		wire["max_tokens"] = *req.MaxTokens
	}

	var raw map[string]any
	url := fmt.Sprintf("%s%s", c.baseURL, c.endpointPath)
	if err := doJSON(ctx, c.client, c.baseURL, http.MethodPost, url, c.headers(), wire, &raw); err != nil {
		return gwtypes.ChatResult{}, err
	}

	content, _ := extractContent(raw)
	model, _ := raw["model"].(string)
	if model == "" {
		model = req.Model
	}
	return gwtypes.ChatResult{Content: content, Model: model}, nil
}

// extractContent implements the §4.1 custom-dialect passthrough:
// data.content ?? data.text ?? "", plus the common
// choices[0].message.content shape since many "custom" backends are
// OpenAI-ish without being declared as such.
func extractContent(data map[string]any) (string, bool) {
	if v, ok := data["content"].(string); ok && v != "" {
		return v, true
	}
	if v, ok := data["text"].(string); ok && v != "" {
		return v, true
	}
	if choices, ok := data["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if v, ok := message["content"].(string); ok {
					return v, true
				}
			}
		}
	}
	return "", false
}

func (c *custom) InvokeStream(ctx context.Context, req gwtypes.ChatRequest) (<-chan StreamChunk, error) {
	result, err := c.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Content: result.Content, Done: true}
	close(ch)
	return ch, nil
}

func (c *custom) ListModels(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (c *custom) Probe(ctx context.Context) error {
	var raw map[string]any
	url := fmt.Sprintf("%s%s", c.baseURL, c.endpointPath)
	return doGet(ctx, c.client, c.baseURL, url, c.headers(), &raw)
}
