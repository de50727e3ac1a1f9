package adapters

import (
	"fmt"
	"net/http"

	"github.com/synapseai/gateway-core/gwerr"
)

// classifyHTTPStatus maps an upstream HTTP status code to a §7 error kind.
// Grounded on providers/anthropic/provider.go's mapClaudeError and the
// teacher's types.ErrorCode table, generalized across dialects. status 529
// (Claude-specific "overloaded") is folded into Upstream5xx like any other
// server-side overload signal.
func classifyHTTPStatus(status int, body string, providerID string) error {
	msg := redactBody(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return gwerr.New(gwerr.Upstream4xxAuth, msg).WithProvider(providerID)
	case status == http.StatusTooManyRequests:
		return gwerr.New(gwerr.Upstream4xxRateLimit, msg).WithProvider(providerID)
	case status == http.StatusPaymentRequired:
		return gwerr.New(gwerr.Upstream4xxQuota, msg).WithProvider(providerID)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return gwerr.New(gwerr.Upstream4xxValidation, msg).WithProvider(providerID)
	case status >= 400 && status < 500:
		return gwerr.New(gwerr.Upstream4xxValidation, msg).WithProvider(providerID)
	case status >= 500:
		return gwerr.New(gwerr.Upstream5xx, msg).WithProvider(providerID)
	default:
		return gwerr.New(gwerr.Upstream5xx, msg).WithProvider(providerID)
	}
}

// redactBody bounds an upstream error body to its first 200 bytes behind
// an "upstream error: " prefix. It does not scrub the body: URLs or
// credential material inside those 200 bytes are passed through as-is.
func redactBody(body string) string {
	const max = 200
	if len(body) > max {
		body = body[:max]
	}
	if body == "" {
		return "upstream error"
	}
	return fmt.Sprintf("upstream error: %s", body)
}

func transportError(providerID string, err error) error {
	return gwerr.New(gwerr.Transport, "request failed").WithCause(err).WithProvider(providerID)
}

func timeoutError(providerID string, err error) error {
	return gwerr.New(gwerr.Timeout, "request timed out").WithCause(err).WithProvider(providerID)
}

func decodeError(providerID string, err error) error {
	return gwerr.New(gwerr.Decode, "failed to decode upstream response").WithCause(err).WithProvider(providerID)
}
