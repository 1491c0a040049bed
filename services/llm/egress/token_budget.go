// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/AleutianAI/AleutianTriage/services/llm"
)

// TokenBudget tracks token consumption against a per-session budget.
//
// Description:
//
//	Enforces a maximum token budget for a triage session. The budget check
//	happens before the API call with an estimated token count, and the
//	actual usage is recorded after the call completes. When the ceiling is
//	hit mid-session, the controller finishes the current triage pass and
//	then refuses to start another.
//
//	A limit of 0 means unlimited (no enforcement).
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type TokenBudget struct {
	mu       sync.Mutex
	role     string
	limit    int
	consumed int
}

// NewTokenBudget creates a new token budget.
//
// Inputs:
//   - role: The budget name for log output (e.g., "TRIAGE").
//   - limit: Maximum tokens allowed. 0 means unlimited.
//
// Outputs:
//   - *TokenBudget: Configured budget tracker.
func NewTokenBudget(role string, limit int) *TokenBudget {
	return &TokenBudget{
		role:  role,
		limit: limit,
	}
}

// CanSpend checks whether the estimated token count fits within the budget.
//
// Inputs:
//   - estimated: The estimated number of tokens for the upcoming request.
//
// Outputs:
//   - bool: True if the request fits within the remaining budget.
//   - int: Remaining tokens after this request would complete.
func (b *TokenBudget) CanSpend(estimated int) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit == 0 {
		return true, 0 // unlimited
	}

	remaining := b.limit - b.consumed
	if estimated > remaining {
		return false, remaining
	}

	return true, remaining - estimated
}

// Record records actual token consumption after an API call.
//
// Inputs:
//   - actual: The actual number of tokens consumed.
func (b *TokenBudget) Record(actual int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consumed += actual
}

// Exhausted reports whether the budget has been fully consumed.
// Always false for unlimited budgets.
func (b *TokenBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.limit > 0 && b.consumed >= b.limit
}

// Remaining returns the number of tokens remaining in the budget.
//
// Outputs:
//   - int: Remaining tokens. Returns -1 for unlimited budgets.
func (b *TokenBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit == 0 {
		return -1
	}
	remaining := b.limit - b.consumed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Summary returns a summary of the token budget state for logging.
//
// Outputs:
//   - string: Human-readable summary (e.g., "TRIAGE: 5000/250000 tokens used").
func (b *TokenBudget) Summary() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit == 0 {
		return fmt.Sprintf("%s: %d tokens used (unlimited)", b.role, b.consumed)
	}
	return fmt.Sprintf("%s: %d/%d tokens used", b.role, b.consumed, b.limit)
}

// =============================================================================
// Token Estimation
// =============================================================================

// messageOverheadTokens approximates the per-message framing cost that the
// provider adds on top of the raw content tokens.
const messageOverheadTokens = 4

// EstimateTokens estimates the token count of a text for budget pre-flight
// checks.
//
// Description:
//
//	Delegates to langchaingo's tokenizer registry, which uses tiktoken
//	encodings where known and a character-ratio heuristic otherwise. The
//	estimate is only used to decide whether a request may start; actual
//	accounting uses the provider's reported usage.
//
// Thread Safety: Stateless. Safe for concurrent use.
func EstimateTokens(model, text string) int {
	return llms.CountTokens(model, text)
}

// EstimateMessages estimates the token count of a full conversation,
// including per-message framing overhead.
func EstimateMessages(model string, messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(model, m.Content) + messageOverheadTokens
	}
	return total
}
