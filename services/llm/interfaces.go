// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the oracle client abstraction for Aleutian Triage:
// the generation interface, the Gemini REST implementation, a BadgerDB-backed
// reply cache, and log redaction helpers.
package llm

import "context"

// Message is a single turn in an oracle conversation.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// GenerationParams controls generation behavior for a single request.
//
// Description:
//
//	Nil pointer fields mean "use the provider default". ModelOverride
//	selects a different model for this request only.
type GenerationParams struct {
	Temperature   *float32
	TopP          *float32
	TopK          *int
	MaxTokens     *int
	Stop          []string
	ModelOverride string
}

// Usage reports token consumption for a single generation call, as
// returned by the provider's usage metadata. All fields are zero when
// the provider omits usage reporting.
type Usage struct {
	PromptTokens    int
	CandidateTokens int
	TotalTokens     int
}

// GenerateResult is the outcome of a successful generation call.
//
// Fields:
//   - Text: The concatenated text content of the first candidate.
//   - FinishReason: Provider-reported finish reason (e.g., "STOP").
//   - Usage: Token consumption for the call.
type GenerateResult struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Client is the interface implemented by text-generation backends.
//
// Description:
//
//	The triage loops depend only on this interface, so the raw Gemini
//	client, the egress guard, and the reply cache decorator are
//	interchangeable.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Client interface {
	// Generate sends a single-prompt request and returns the result.
	Generate(ctx context.Context, prompt string, params GenerationParams) (*GenerateResult, error)

	// Chat sends a multi-turn conversation and returns the result.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (*GenerateResult, error)
}
