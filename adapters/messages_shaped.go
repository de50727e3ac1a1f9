package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/synapseai/gateway-core/gwtypes"
)

// messagesShaped implements the messages-shaped dialect of §4.1 (vendor-B):
// system role lifted out into a top-level `system` field; POST
// {base}/v1/messages; read content[0].text when type=="text". Grounded on
// providers/anthropic/provider.go (x-api-key auth header, anthropic-version
// header, claudeRequest/claudeResponse shape).
type messagesShaped struct {
	baseURL string
	apiKey  string
	version string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

func newMessagesShaped(bc BuildConfig, client *http.Client, logger *zap.Logger) *messagesShaped {
	version, _ := bc.Config["api_version"].(string)
	if version == "" {
		version = "2023-06-01"
	}
	model, _ := bc.Config["default_model"].(string)
	baseURL := bc.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &messagesShaped{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  bc.Credentials.APIKey,
		version: version,
		model:   model,
		client:  client,
		logger:  logger,
	}
}

func (m *messagesShaped) headers() map[string]string {
	return map[string]string{
		"x-api-key":         m.apiKey,
		"anthropic-version": m.version,
	}
}

type msgContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type msgMessage struct {
	Role    string       `json:"role"`
	Content []msgContent `json:"content"`
}

type msgRequest struct {
	Model       string       `json:"model"`
	Messages    []msgMessage `json:"messages"`
	System      string       `json:"system,omitempty"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

type msgUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type msgResponse struct {
	Model   string       `json:"model"`
	Content []msgContent `json:"content"`
	Usage   msgUsage     `json:"usage"`
}

func (m *messagesShaped) toWire(req gwtypes.ChatRequest) msgRequest {
	var system strings.Builder
	var msgs []msgMessage
	for _, msg := range req.Messages {
		if msg.Role == gwtypes.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(msg.Content)
			continue
		}
		msgs = append(msgs, msgMessage{
			Role:    string(msg.Role),
			Content: []msgContent{{Type: "text", Text: msg.Content}},
		})
	}
	model := req.Model
	if model == "" {
		model = m.model
	}
	return msgRequest{
		Model:       model,
		Messages:    msgs,
		System:      system.String(),
		MaxTokens:   maxTokensOrDefault(req, 1024),
		Temperature: req.Temperature,
	}
}

func (m *messagesShaped) Invoke(ctx context.Context, req gwtypes.ChatRequest) (gwtypes.ChatResult, error) {
	wire := m.toWire(req)
	var resp msgResponse
	url := fmt.Sprintf("%s/v1/messages", m.baseURL)
	if err := doJSON(ctx, m.client, m.baseURL, http.MethodPost, url, m.headers(), wire, &resp); err != nil {
		return gwtypes.ChatResult{}, err
	}
	text := ""
	for _, c := range resp.Content {
		if c.Type == "text" {
			text = c.Text
			break
		}
	}
	return gwtypes.ChatResult{
		Content: text,
		Model:   resp.Model,
		Usage: &gwtypes.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (m *messagesShaped) InvokeStream(ctx context.Context, req gwtypes.ChatRequest) (<-chan StreamChunk, error) {
	result, err := m.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Content: result.Content, Done: true}
	close(ch)
	return ch, nil
}

func (m *messagesShaped) ListModels(ctx context.Context) ([]string, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/v1/models", m.baseURL)
	if err := doGet(ctx, m.client, m.baseURL, url, m.headers(), &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Data))
	for _, item := range resp.Data {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

func (m *messagesShaped) Probe(ctx context.Context) error {
	_, err := m.ListModels(ctx)
	return err
}
