// DotAgent - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/chat"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/session"
)

const (
	DefaultAPIBase     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultTemperature = 0.8
	DefaultMaxTokens   = 1024

	memoryHeader = "\n\n=== GLOBAL MEMORY ===\n"
	memoryHint   = "\n\nUse this memory to connect what the user says now with what they told you before."
)

var ErrMissingAPIKey = errors.New("provider api key is required")

// Message is one chat-completions message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Proxy       string
}

// HTTPProvider talks to any OpenAI-compatible chat-completions endpoint.
type HTTPProvider struct {
	apiKey     string
	apiBase    string
	opts       Options
	httpClient *http.Client
}

var _ chat.Model = (*HTTPProvider)(nil)

func NewHTTPProvider(apiKey, apiBase string, opts Options) *HTTPProvider {
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	client := &http.Client{Timeout: opts.Timeout}

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	if strings.TrimSpace(apiBase) == "" {
		apiBase = DefaultAPIBase
	}
	return &HTTPProvider{
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		opts:       opts,
		httpClient: client,
	}
}

// BuildMessages lays out the system prompt with the memory block, then the
// prior turns, then the new user message.
func BuildMessages(req chat.Request) []Message {
	system := req.System
	if strings.TrimSpace(req.Memory) != "" {
		system += memoryHeader + req.Memory + memoryHint
	}
	messages := make([]Message, 0, len(req.History)+2)
	messages = append(messages, Message{Role: "system", Content: system})
	for _, turn := range req.History {
		messages = append(messages, Message{Role: wireRole(turn.Role), Content: turn.Text})
	}
	return append(messages, Message{Role: "user", Content: req.UserText})
}

func wireRole(role string) string {
	if role == string(session.RoleCompanion) || role == "assistant" || role == "model" {
		return "assistant"
	}
	return "user"
}

func (p *HTTPProvider) Reply(ctx context.Context, req chat.Request) (string, error) {
	if p.apiBase == "" {
		return "", fmt.Errorf("API base not configured")
	}

	requestBody := map[string]interface{}{
		"model":       p.opts.Model,
		"messages":    BuildMessages(req),
		"temperature": p.opts.Temperature,
		"max_tokens":  p.opts.MaxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion request failed:\n  Status: %d\n  Error:  %s",
			resp.StatusCode, augmentProviderError(resp.StatusCode, extractAPIError(body)))
	}

	return parseResponse(body)
}

func parseResponse(body []byte) (string, error) {
	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(apiResponse.Choices) == 0 {
		return "", nil
	}
	return apiResponse.Choices[0].Message.Content, nil
}

func (p *HTTPProvider) Model() string {
	return p.opts.Model
}

func CreateProvider(cfg *config.Config) (*HTTPProvider, error) {
	pc := cfg.Providers.OpenAICompat
	apiKey := strings.TrimSpace(cfg.GetAPIKey())
	if apiKey == "" {
		return nil, fmt.Errorf("%w (set providers.openai_compat.api_key or DOTCOMPANION_PROVIDERS_OPENAI_COMPAT_API_KEY)", ErrMissingAPIKey)
	}

	return NewHTTPProvider(apiKey, strings.TrimSpace(cfg.GetAPIBase()), Options{
		Model:       strings.TrimSpace(pc.Model),
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
		Timeout:     time.Duration(pc.TimeoutSeconds) * time.Second,
		Proxy:       strings.TrimSpace(pc.Proxy),
	}), nil
}
