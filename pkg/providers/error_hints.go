package providers

import (
	"encoding/json"
	"net/http"
	"strings"
)

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}

	var payload struct {
		Error struct {
			Message string      `json:"message"`
			Type    string      `json:"type"`
			Code    interface{} `json:"code"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}

	if len(trimmed) > 2000 {
		return trimmed[:2000] + "..."
	}
	return trimmed
}

func augmentProviderError(status int, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusUnauthorized || strings.Contains(lower, "invalid api key"):
		return msg + " Hint: check providers.openai_compat.api_key or DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_API_KEY."
	case status == http.StatusTooManyRequests:
		return msg + " Hint: the provider is rate limiting this key; wait a moment or lower max_tokens."
	case strings.Contains(lower, "decommissioned") || strings.Contains(lower, "model_not_found") || strings.Contains(lower, "does not exist"):
		return msg + " Hint: set providers.openai_compat.model to a model the endpoint serves."
	}

	return msg
}
