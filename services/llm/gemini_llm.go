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

// GeminiClient implements Client for Google Gemini models.
//
// Description:
//
//	Uses the Gemini REST API (generateContent) for generation. The triage
//	loops speak plain JSON-over-text with the oracle, so function calling
//	and streaming are intentionally not part of this client.
//
// Thread Safety: GeminiClient is safe for concurrent use.
type GeminiClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewGeminiClientWithConfig creates a GeminiClient with explicit configuration.
//
// Description:
//
//	Creates a GeminiClient without reading environment variables. Useful
//	for testing with mock servers or when configuration comes from the
//	triage config file and secret manager.
//
// Inputs:
//   - apiKey: The Gemini API key.
//   - model: The model name (e.g., "gemini-1.5-flash").
//   - baseURL: The base URL for API requests (e.g., "https://generativelanguage.googleapis.com/v1beta").
//
// Outputs:
//   - *GeminiClient: The configured client.
func NewGeminiClientWithConfig(apiKey, model, baseURL string) *GeminiClient {
	return &GeminiClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// NewGeminiClient creates a new GeminiClient from environment variables.
//
// Description:
//
//	Reads GEMINI_API_KEY and GEMINI_MODEL from the environment.
//	Defaults to "gemini-1.5-flash" if GEMINI_MODEL is not set.
//
// Outputs:
//   - *GeminiClient: The configured client.
//   - error: Non-nil if GEMINI_API_KEY is missing.
func NewGeminiClient() (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is missing (GEMINI_API_KEY)")
	}

	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = "gemini-1.5-flash"
		slog.Info("GEMINI_MODEL not set, defaulting to gemini-1.5-flash")
	}

	slog.Info("Initializing Gemini client", slog.String("model", model))

	return &GeminiClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    "https://generativelanguage.googleapis.com/v1beta",
	}, nil
}

// geminiRequest is the request payload for the Gemini generateContent API.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

// geminiContent represents a content block in the Gemini API.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart represents a part of a content block.
type geminiPart struct {
	Text string `json:"text,omitempty"`
}

// geminiGenerationConfig controls generation behavior.
type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// geminiResponse is the response from the Gemini generateContent API.
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	Error         *geminiError      `json:"error,omitempty"`
}

// geminiCandidate represents a candidate response.
type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// geminiUsage contains token usage information.
type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// geminiError represents an API error.
type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Generate implements Client.Generate using the Gemini API.
func (g *GeminiClient) Generate(ctx context.Context, prompt string, params GenerationParams) (*GenerateResult, error) {
	messages := []Message{
		{Role: "user", Content: prompt},
	}
	return g.Chat(ctx, messages, params)
}

// Chat implements Client.Chat using the Gemini generateContent API.
//
// Description:
//
//	Converts messages to Gemini wire format (system prompts become
//	systemInstruction, assistant turns become role "model"), posts the
//	request, and extracts the first candidate's text plus usage metadata.
//	The session token ceiling depends on the returned Usage, so a response
//	without usageMetadata yields a zero Usage rather than an error.
//
// Outputs:
//   - *GenerateResult: Text, finish reason, and token usage.
//   - error: Non-nil on transport failure, API error, or empty response.
func (g *GeminiClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (*GenerateResult, error) {
	model := g.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	reqPayload := g.buildRequest(messages, params)

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("gemini: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	slog.Debug("Sending request to Gemini",
		slog.String("model", model),
		slog.Int("content_count", len(reqPayload.Contents)),
	)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("gemini: parsing response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return nil, fmt.Errorf("gemini: API error [%d] %s: %s",
			apiResp.Error.Code, apiResp.Error.Status, SafeLogString(apiResp.Error.Message))
	}

	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: returned no candidates")
	}

	// Extract text from the first candidate
	var textParts []string
	for _, part := range apiResp.Candidates[0].Content.Parts {
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
	}

	text := strings.Join(textParts, "")
	if text == "" {
		return nil, fmt.Errorf("gemini: returned empty text content")
	}

	result := &GenerateResult{
		Text:         text,
		FinishReason: apiResp.Candidates[0].FinishReason,
	}
	if apiResp.UsageMetadata != nil {
		result.Usage = Usage{
			PromptTokens:    apiResp.UsageMetadata.PromptTokenCount,
			CandidateTokens: apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:     apiResp.UsageMetadata.TotalTokenCount,
		}
	}

	slog.Debug("Received Gemini response",
		slog.String("model", model),
		slog.Int("response_len", len(text)),
		slog.String("finish_reason", result.FinishReason),
		slog.Int("total_tokens", result.Usage.TotalTokens),
	)

	return result, nil
}

// buildRequest constructs the Gemini API request from messages and params.
func (g *GeminiClient) buildRequest(messages []Message, params GenerationParams) geminiRequest {
	req := geminiRequest{
		GenerationConfig: buildGenConfig(params),
	}

	// Convert messages to Gemini format
	for _, msg := range messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			// Gemini uses systemInstruction for system prompts
			req.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: msg.Content}},
			}
		case "assistant":
			req.Contents = append(req.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		default:
			// "user" and unknown roles both map to user
			req.Contents = append(req.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		}
	}

	return req
}

// buildGenConfig creates a generation config from params. Returns nil when
// every field is unset so the request payload omits generationConfig.
func buildGenConfig(params GenerationParams) *geminiGenerationConfig {
	genConfig := &geminiGenerationConfig{}
	hasConfig := false

	if params.Temperature != nil {
		genConfig.Temperature = params.Temperature
		hasConfig = true
	}
	if params.TopP != nil {
		genConfig.TopP = params.TopP
		hasConfig = true
	}
	if params.TopK != nil {
		genConfig.TopK = params.TopK
		hasConfig = true
	}
	if params.MaxTokens != nil {
		genConfig.MaxOutputTokens = params.MaxTokens
		hasConfig = true
	}
	if len(params.Stop) > 0 {
		genConfig.StopSequences = params.Stop
		hasConfig = true
	}

	if hasConfig {
		return genConfig
	}
	return nil
}
