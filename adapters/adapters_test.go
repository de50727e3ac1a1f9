package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapseai/gateway-core/gwerr"
	"github.com/synapseai/gateway-core/gwtypes"
)

func chatReq(content string) gwtypes.ChatRequest {
	return gwtypes.ChatRequest{
		Messages: []gwtypes.Message{{Role: gwtypes.RoleUser, Content: content}},
	}
}

func TestOpenAIShapedInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-test",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hi there"}},
			},
			"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	}))
	defer srv.Close()

	inv, err := Construct(BuildConfig{
		Dialect:     gwtypes.DialectVendorA,
		BaseURL:     srv.URL,
		Credentials: Credentials{APIKey: "secret"},
	})
	require.NoError(t, err)

	result, err := inv.Invoke(context.Background(), chatReq("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hi there", result.Content)
	assert.Equal(t, 5, result.Usage.TotalTokens)
}

func TestOpenAIShapedMapsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer srv.Close()

	inv, err := Construct(BuildConfig{Dialect: gwtypes.DialectVendorA, BaseURL: srv.URL, Credentials: Credentials{APIKey: "bad"}})
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), chatReq("hi"))
	require.Error(t, err)
	assert.Equal(t, gwerr.Upstream4xxAuth, gwerr.GetKind(err))
}

func TestMessagesShapedLiftsSystemAndReadsTextBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "be concise", body["system"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "claude-test",
			"content": []map[string]string{{"type": "text", "text": "ok"}},
			"usage":   map[string]int{"input_tokens": 4, "output_tokens": 1},
		})
	}))
	defer srv.Close()

	inv, err := Construct(BuildConfig{Dialect: gwtypes.DialectVendorB, BaseURL: srv.URL, Credentials: Credentials{APIKey: "test-key"}})
	require.NoError(t, err)

	req := gwtypes.ChatRequest{Messages: []gwtypes.Message{
		{Role: gwtypes.RoleSystem, Content: "be concise"},
		{Role: gwtypes.RoleUser, Content: "hi"},
	}}
	result, err := inv.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Content)
}

func TestGenerativeContentRenamesAssistantToModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		contents := body["contents"].([]any)
		last := contents[len(contents)-1].(map[string]any)
		assert.Equal(t, "model", last["role"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "hello"}}}},
			},
		})
	}))
	defer srv.Close()

	inv, err := Construct(BuildConfig{Dialect: gwtypes.DialectVendorC, BaseURL: srv.URL, Credentials: Credentials{APIKey: "k"}})
	require.NoError(t, err)

	req := gwtypes.ChatRequest{Messages: []gwtypes.Message{
		{Role: gwtypes.RoleAssistant, Content: "previous turn"},
		{Role: gwtypes.RoleUser, Content: "hi"},
	}}
	result, err := inv.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content)
}

func TestSelfHostedChatReadsMessageContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "llama3",
			"message": map[string]string{"role": "assistant", "content": "local reply"},
		})
	}))
	defer srv.Close()

	inv, err := Construct(BuildConfig{Dialect: gwtypes.DialectSelfHostedA, BaseURL: srv.URL})
	require.NoError(t, err)

	result, err := inv.Invoke(context.Background(), chatReq("hi"))
	require.NoError(t, err)
	assert.Equal(t, "local reply", result.Content)
}

func TestCustomPassthroughBestEffort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "passthrough content"})
	}))
	defer srv.Close()

	inv, err := Construct(BuildConfig{Dialect: gwtypes.DialectCustom, BaseURL: srv.URL})
	require.NoError(t, err)

	result, err := inv.Invoke(context.Background(), chatReq("hi"))
	require.NoError(t, err)
	assert.Equal(t, "passthrough content", result.Content)
}

func TestInvokeStreamDegradesToSingleChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "gpt-test",
			"choices": []map[string]any{{"message": map[string]string{"content": "streamed-as-one"}}},
		})
	}))
	defer srv.Close()

	inv, err := Construct(BuildConfig{Dialect: gwtypes.DialectVendorA, BaseURL: srv.URL, Credentials: Credentials{APIKey: "k"}})
	require.NoError(t, err)

	ch, err := inv.InvokeStream(context.Background(), chatReq("hi"))
	require.NoError(t, err)

	var chunks []StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 1)
	assert.Equal(t, "streamed-as-one", chunks[0].Content)
	assert.True(t, chunks[0].Done)
}

func TestConstructRejectsUnknownDialect(t *testing.T) {
	_, err := Construct(BuildConfig{Dialect: "nonsense"})
	assert.Error(t, err)
}
