package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// doJSON posts body as JSON to url with headers, decodes the response into
// out when status < 400, and otherwise returns a classified §7 error.
// Shared by every dialect strategy; network/timeout/decode classification
// follows providers/anthropic/provider.go's pattern of inspecting ctx.Err()
// after a transport failure.
func doJSON(ctx context.Context, client *http.Client, providerID, method, url string, headers map[string]string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return decodeError(providerID, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return transportError(providerID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return timeoutError(providerID, err)
		}
		return transportError(providerID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return decodeError(providerID, err)
	}

	if resp.StatusCode >= 400 {
		return classifyHTTPStatus(resp.StatusCode, string(raw), providerID)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return decodeError(providerID, err)
	}
	return nil
}

// doGet is doJSON's read-only counterpart, used by listModels/probe calls.
func doGet(ctx context.Context, client *http.Client, providerID, url string, headers map[string]string, out any) error {
	return doJSON(ctx, client, providerID, http.MethodGet, url, headers, nil, out)
}

var errEmptyResponse = errors.New("adapters: empty upstream response")

func firstOrErr[T any](items []T) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, errEmptyResponse
	}
	return items[0], nil
}

func mustNonEmpty(s string, field string) error {
	if s == "" {
		return fmt.Errorf("adapters: missing %s in upstream response", field)
	}
	return nil
}
