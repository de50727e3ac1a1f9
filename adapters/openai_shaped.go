package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/synapseai/gateway-core/gwtypes"
)

// openAIShaped implements the openai-shaped dialect of §4.1: vendor-A,
// aggregator, and self-hosted-B (local OpenAI-compatible servers). Request
// verbatim with maxTokens->max_tokens; POST {base}/chat/completions; read
// choices[0].message.content. Grounded on llm/providers/openai and
// llm/providers/openaicompat's shared wire shape (teacher keeps these as
// two packages; this collapses them into one strategy since the shape is
// identical and only BaseURL/auth differ).
type openAIShaped struct {
	baseURL    string
	apiKey     string
	authHeader string // default "Authorization" with Bearer prefix
	model      string
	client     *http.Client
	logger     *zap.Logger
}

func newOpenAIShaped(bc BuildConfig, client *http.Client, logger *zap.Logger) *openAIShaped {
	authHeader := "Authorization"
	if v, ok := bc.Config["auth_header"].(string); ok && v != "" {
		authHeader = v
	}
	model, _ := bc.Config["default_model"].(string)
	return &openAIShaped{
		baseURL:    strings.TrimRight(bc.BaseURL, "/"),
		apiKey:     bc.Credentials.APIKey,
		authHeader: authHeader,
		model:      model,
		client:     client,
		logger:     logger,
	}
}

func (o *openAIShaped) headers() map[string]string {
	if o.authHeader == "Authorization" {
		return map[string]string{"Authorization": "Bearer " + o.apiKey}
	}
	return map[string]string{o.authHeader: o.apiKey}
}

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   *int        `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
	Tools       []any       `json:"tools,omitempty"`
}

type oaChoice struct {
	Message oaMessage `json:"message"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaResponse struct {
	Model   string     `json:"model"`
	Choices []oaChoice `json:"choices"`
	Usage   *oaUsage   `json:"usage,omitempty"`
}

func (o *openAIShaped) toWire(req gwtypes.ChatRequest) oaRequest {
	msgs := make([]oaMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = oaMessage{Role: string(m.Role), Content: m.Content}
	}
	model := req.Model
	if model == "" {
		model = o.model
	}
	return oaRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       req.Tools,
	}
}

func (o *openAIShaped) Invoke(ctx context.Context, req gwtypes.ChatRequest) (gwtypes.ChatResult, error) {
	wire := o.toWire(req)
	var resp oaResponse
	url := fmt.Sprintf("%s/chat/completions", o.baseURL)
	if err := doJSON(ctx, o.client, o.baseURL, http.MethodPost, url, o.headers(), wire, &resp); err != nil {
		return gwtypes.ChatResult{}, err
	}
	choice, err := firstOrErr(resp.Choices)
	if err != nil {
		return gwtypes.ChatResult{}, decodeError(o.baseURL, err)
	}
	result := gwtypes.ChatResult{Content: choice.Message.Content, Model: resp.Model}
	if resp.Usage != nil {
		result.Usage = &gwtypes.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// InvokeStream degrades to a single-chunk emission: the teacher's SSE
// parsing (providers/anthropic) is dialect-specific and non-trivial to
// generalize safely across every openai-compatible backend's chunk
// framing, so this strategy does a one-shot call and emits the whole
// result as one chunk (§4.1's allowance for non-native-streaming
// degradation). The chunk carries no degradation flag, and no
// ChatResult.Degraded is set on this path.
func (o *openAIShaped) InvokeStream(ctx context.Context, req gwtypes.ChatRequest) (<-chan StreamChunk, error) {
	result, err := o.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Content: result.Content, Done: true}
	close(ch)
	return ch, nil
}

func (o *openAIShaped) ListModels(ctx context.Context) ([]string, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/models", o.baseURL)
	if err := doGet(ctx, o.client, o.baseURL, url, o.headers(), &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (o *openAIShaped) Probe(ctx context.Context) error {
	_, err := o.ListModels(ctx)
	return err
}
