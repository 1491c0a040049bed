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
	"fmt"
	"strings"
)

// Provider name constants for the supported oracle backends.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ValidProviders lists the supported oracle backends.
var ValidProviders = []string{ProviderGemini, ProviderOpenAI, ProviderAnthropic}

// CredentialEnvVar returns the environment variable that holds the API key
// for the given provider. Returns "" for unknown providers.
func CredentialEnvVar(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// NewProviderClient creates the raw oracle client for the configured backend.
//
// Description:
//
//	Central creation point for oracle clients. The caller supplies the API
//	key (typically resolved through the egress secret manager), the model
//	name, and the API base URL from the triage config; no environment
//	variables are read here.
//
// Inputs:
//   - provider: One of ValidProviders (case-insensitive).
//   - apiKey: The provider API key.
//   - model: The model name sent to the provider.
//   - baseURL: The provider endpoint to post requests to.
//
// Outputs:
//   - Client: The configured client.
//   - error: Non-nil if the provider is unsupported or the key is missing.
func NewProviderClient(provider, apiKey, model, baseURL string) (Client, error) {
	switch strings.ToLower(provider) {
	case ProviderGemini:
		if apiKey == "" {
			return nil, fmt.Errorf("llm: GEMINI_API_KEY required for Gemini provider")
		}
		return NewGeminiClientWithConfig(apiKey, model, baseURL), nil

	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("llm: OPENAI_API_KEY required for OpenAI provider")
		}
		return NewOpenAIClientWithConfig(apiKey, model, baseURL), nil

	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("llm: ANTHROPIC_API_KEY required for Anthropic provider")
		}
		return NewAnthropicClientWithConfig(apiKey, model, baseURL), nil

	default:
		return nil, fmt.Errorf("llm: unsupported provider: %q (valid: %v)", provider, ValidProviders)
	}
}
