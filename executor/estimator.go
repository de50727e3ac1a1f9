package executor

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/synapseai/gateway-core/gwtypes"
)

// modelEncodings maps known model name prefixes to a tiktoken encoding,
// grounded on the teacher's llm/tokenizer/tiktoken.go table, trimmed to
// the chat-completion models this gateway routes to.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

var (
	encodersOnce sync.Once
	encoders     map[string]*tiktoken.Tiktoken
	encodersErr  error
)

func loadEncoders() {
	encoders = make(map[string]*tiktoken.Tiktoken)
	for _, enc := range uniqueEncodings() {
		t, err := tiktoken.GetEncoding(enc)
		if err != nil {
			encodersErr = err
			continue
		}
		encoders[enc] = t
	}
}

func uniqueEncodings() []string {
	seen := map[string]bool{defaultEncoding: true}
	out := []string{defaultEncoding}
	for _, enc := range modelEncodings {
		if !seen[enc] {
			seen[enc] = true
			out = append(out, enc)
		}
	}
	return out
}

func encodingFor(model string) string {
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(model, prefix) {
			return enc
		}
	}
	return defaultEncoding
}

// TiktokenEstimator counts tokens with tiktoken-go, using the encoding
// mapped to the model's prefix or defaultEncoding for any other model,
// and falls back to the naive len/4 heuristic only if tiktoken's
// encoding data failed to load (§9's Open
// Question on token estimation: real tokenization "will differ from
// reported usage", this estimator only improves the pre-call guess used
// for cost estimation, not a substitute for reported usage).
func TiktokenEstimator(req gwtypes.ChatRequest) int {
	encodersOnce.Do(loadEncoders)

	enc, ok := encoders[encodingFor(req.Model)]
	if !ok || encodersErr != nil {
		return estimateTokensNaive(req)
	}

	total := 0
	for _, m := range req.Messages {
		total += len(enc.Encode(m.Content, nil, nil))
	}
	if req.MaxTokens != nil {
		total += *req.MaxTokens
	}
	return total
}
