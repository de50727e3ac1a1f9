package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/synapseai/gateway-core/gwtypes"
)

// generativeContent implements the generative-content-shaped dialect of
// §4.1 (vendor-C): messages become contents[].parts[].text with role
// assistant->model; POST /v1beta/models/{model}:generateContent; read
// candidates[0].content.parts[0].text. Grounded on
// llm/providers/gemini/provider.go (x-goog-api-key header, role rename).
type generativeContent struct {
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
	logger       *zap.Logger
}

func newGenerativeContent(bc BuildConfig, client *http.Client, logger *zap.Logger) *generativeContent {
	baseURL := bc.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	model, _ := bc.Config["default_model"].(string)
	if model == "" {
		model = "gemini-pro"
	}
	return &generativeContent{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       bc.Credentials.APIKey,
		defaultModel: model,
		client:       client,
		logger:       logger,
	}
}

func (g *generativeContent) headers() map[string]string {
	return map[string]string{"x-goog-api-key": g.apiKey}
}

type gcPart struct {
	Text string `json:"text"`
}

type gcContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gcPart `json:"parts"`
}

type gcRequest struct {
	Contents         []gcContent       `json:"contents"`
	SystemInstruction *gcContent       `json:"systemInstruction,omitempty"`
	GenerationConfig *gcGenerationConf `json:"generationConfig,omitempty"`
}

type gcGenerationConf struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type gcCandidate struct {
	Content gcContent `json:"content"`
}

type gcUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type gcResponse struct {
	Candidates    []gcCandidate    `json:"candidates"`
	UsageMetadata *gcUsageMetadata `json:"usageMetadata,omitempty"`
}

func (g *generativeContent) toWire(req gwtypes.ChatRequest) gcRequest {
	var contents []gcContent
	var system *gcContent
	for _, m := range req.Messages {
		if m.Role == gwtypes.RoleSystem {
			system = &gcContent{Parts: []gcPart{{Text: m.Content}}}
			continue
		}
		role := string(m.Role)
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, gcContent{Role: role, Parts: []gcPart{{Text: m.Content}}})
	}
	return gcRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: &gcGenerationConf{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
}

func (g *generativeContent) model(req gwtypes.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return g.defaultModel
}

func (g *generativeContent) Invoke(ctx context.Context, req gwtypes.ChatRequest) (gwtypes.ChatResult, error) {
	model := g.model(req)
	wire := g.toWire(req)
	var resp gcResponse
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, model)
	if err := doJSON(ctx, g.client, g.baseURL, http.MethodPost, url, g.headers(), wire, &resp); err != nil {
		return gwtypes.ChatResult{}, err
	}
	cand, err := firstOrErr(resp.Candidates)
	if err != nil {
		return gwtypes.ChatResult{}, decodeError(g.baseURL, err)
	}
	part, err := firstOrErr(cand.Content.Parts)
	if err != nil {
		return gwtypes.ChatResult{}, decodeError(g.baseURL, err)
	}
	result := gwtypes.ChatResult{Content: part.Text, Model: model}
	if resp.UsageMetadata != nil {
		result.Usage = &gwtypes.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

func (g *generativeContent) InvokeStream(ctx context.Context, req gwtypes.ChatRequest) (<-chan StreamChunk, error) {
	result, err := g.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Content: result.Content, Done: true}
	close(ch)
	return ch, nil
}

func (g *generativeContent) ListModels(ctx context.Context) ([]string, error) {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	url := fmt.Sprintf("%s/v1beta/models", g.baseURL)
	if err := doGet(ctx, g.client, g.baseURL, url, g.headers(), &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		ids = append(ids, m.Name)
	}
	return ids, nil
}

func (g *generativeContent) Probe(ctx context.Context) error {
	_, err := g.ListModels(ctx)
	return err
}
