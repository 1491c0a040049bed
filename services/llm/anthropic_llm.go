// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1/messages"

	// anthropicDefaultMaxTokens is sent when the caller leaves MaxTokens
	// unset. The Messages API requires max_tokens on every request.
	anthropicDefaultMaxTokens = 4096
)

// =============================================================================
// Anthropic Wire Types
// =============================================================================

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"` // Top-level system prompt
	MaxTokens int                `json:"max_tokens"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason,omitempty"`
	Usage      *anthropicUsage    `json:"usage,omitempty"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// AnthropicClient implements Client for Anthropic Claude models.
//
// Description:
//
//	Uses the Anthropic Messages REST API directly without third-party SDKs.
//	The triage loops speak plain JSON-over-text with the oracle, so function
//	calling and streaming are intentionally not part of this client.
//
// Thread Safety: AnthropicClient is safe for concurrent use.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewAnthropicClientWithConfig creates an AnthropicClient with explicit configuration.
//
// Description:
//
//	Creates an AnthropicClient without reading environment variables. Useful
//	for testing with mock servers or when configuration comes from the
//	triage config file and secret manager.
//
// Inputs:
//   - apiKey: The Anthropic API key.
//   - model: The model name (e.g., "claude-sonnet-4-20250514").
//   - baseURL: The base URL for API requests.
//
// Outputs:
//   - *AnthropicClient: The configured client.
func NewAnthropicClientWithConfig(apiKey, model, baseURL string) *AnthropicClient {
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// NewAnthropicClient creates a new AnthropicClient from environment variables.
//
// Description:
//
//	Reads ANTHROPIC_API_KEY and CLAUDE_MODEL from the environment, falling
//	back to the container secrets mount for the key. Defaults to
//	"claude-3-5-sonnet-20240620" if CLAUDE_MODEL is not set.
//
// Outputs:
//   - *AnthropicClient: The configured client.
//   - error: Non-nil if the API key is missing.
func NewAnthropicClient() (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	model := os.Getenv("CLAUDE_MODEL")

	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API Key from Podman Secrets")
		}
	}

	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key is missing (ANTHROPIC_API_KEY)")
	}

	if model == "" {
		model = "claude-3-5-sonnet-20240620"
		slog.Info("CLAUDE_MODEL not set, defaulting to", slog.String("model", model))
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultAnthropicBaseURL,
	}, nil
}

// Generate implements Client.Generate using the Anthropic Messages API.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (*GenerateResult, error) {
	messages := []Message{
		{Role: "user", Content: prompt},
	}
	return a.Chat(ctx, messages, params)
}

// Chat implements Client.Chat using the Anthropic Messages API.
//
// Description:
//
//	Converts messages to Anthropic wire format (system prompts become
//	top-level system blocks, marked ephemeral-cacheable when long enough
//	to qualify), posts the request, and joins the response text blocks.
//
// Outputs:
//   - *GenerateResult: Text, stop reason, and token usage.
//   - error: Non-nil on transport failure, API error, or empty response.
func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (*GenerateResult, error) {
	model := a.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	var apiMessages []anthropicMessage
	var systemPrompt string

	for _, msg := range messages {
		if strings.ToLower(msg.Role) == "system" {
			systemPrompt = msg.Content
			continue
		}
		apiMessages = append(apiMessages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	var systemBlocks []systemBlock
	if systemPrompt != "" {
		block := systemBlock{
			Type: "text",
			Text: systemPrompt,
		}
		if len(systemPrompt) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	reqPayload := anthropicRequest{
		Model:     model,
		Messages:  apiMessages,
		System:    systemBlocks,
		MaxTokens: anthropicDefaultMaxTokens,
	}

	if params.Temperature != nil {
		reqPayload.Temperature = params.Temperature
	}
	if params.TopP != nil {
		reqPayload.TopP = params.TopP
	}
	if params.TopK != nil {
		reqPayload.TopK = params.TopK
	}
	if len(params.Stop) > 0 {
		reqPayload.StopSeqs = params.Stop
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("anthropic: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("content-type", "application/json")

	slog.Debug("Sending request to Anthropic", slog.String("model", model))

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: reading response body (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: parsing response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}

	if len(apiResp.Content) == 0 {
		return nil, fmt.Errorf("anthropic: received empty content")
	}

	var textParts []string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}

	text := strings.Join(textParts, "")
	if text == "" {
		return nil, fmt.Errorf("anthropic: received content but no text block found")
	}

	result := &GenerateResult{
		Text:         text,
		FinishReason: apiResp.StopReason,
	}
	if apiResp.Usage != nil {
		result.Usage = Usage{
			PromptTokens:    apiResp.Usage.InputTokens,
			CandidateTokens: apiResp.Usage.OutputTokens,
			TotalTokens:     apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		}
	}

	slog.Debug("Received Anthropic response",
		slog.String("model", model),
		slog.Int("response_len", len(text)),
		slog.String("stop_reason", result.FinishReason),
		slog.Int("total_tokens", result.Usage.TotalTokens),
	)

	return result, nil
}
