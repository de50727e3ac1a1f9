package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/synapseai/gateway-core/gwtypes"
)

// selfHostedChat implements the self-hosted-chat dialect of §4.1
// (self-hosted-A /api/chat): single POST with stream=false; read
// message.content. No example in the corpus speaks this exact shape
// (it is the local Ollama-style /api/chat contract); hand-written in the
// teacher's manner, reusing openAIShaped's header/transport idiom since
// self-hosted endpoints in this corpus are otherwise unauthenticated or
// use a simple bearer token.
type selfHostedChat struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

func newSelfHostedChat(bc BuildConfig, client *http.Client, logger *zap.Logger) *selfHostedChat {
	model, _ := bc.Config["default_model"].(string)
	return &selfHostedChat{
		baseURL: strings.TrimRight(bc.BaseURL, "/"),
		apiKey:  bc.Credentials.APIKey,
		model:   model,
		client:  client,
		logger:  logger,
	}
}

func (s *selfHostedChat) headers() map[string]string {
	if s.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + s.apiKey}
}

type shMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type shRequest struct {
	Model    string      `json:"model"`
	Messages []shMessage `json:"messages"`
	Stream   bool        `json:"stream"`
}

type shResponse struct {
	Model   string    `json:"model"`
	Message shMessage `json:"message"`
}

func (s *selfHostedChat) Invoke(ctx context.Context, req gwtypes.ChatRequest) (gwtypes.ChatResult, error) {
	msgs := make([]shMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = shMessage{Role: string(m.Role), Content: m.Content}
	}
	model := req.Model
	if model == "" {
		model = s.model
	}
	wire := shRequest{Model: model, Messages: msgs, Stream: false}

	var resp shResponse
	url := fmt.Sprintf("%s/api/chat", s.baseURL)
	if err := doJSON(ctx, s.client, s.baseURL, http.MethodPost, url, s.headers(), wire, &resp); err != nil {
		return gwtypes.ChatResult{}, err
	}
	return gwtypes.ChatResult{Content: resp.Message.Content, Model: resp.Model}, nil
}

func (s *selfHostedChat) InvokeStream(ctx context.Context, req gwtypes.ChatRequest) (<-chan StreamChunk, error) {
	result, err := s.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Content: result.Content, Done: true}
	close(ch)
	return ch, nil
}

func (s *selfHostedChat) ListModels(ctx context.Context) ([]string, error) {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	url := fmt.Sprintf("%s/api/tags", s.baseURL)
	if err := doGet(ctx, s.client, s.baseURL, url, s.headers(), &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (s *selfHostedChat) Probe(ctx context.Context) error {
	_, err := s.ListModels(ctx)
	return err
}
