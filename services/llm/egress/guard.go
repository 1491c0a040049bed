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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianTriage/services/llm"
)

// GuardClient wraps an llm.Client with egress control checks.
//
// Description:
//
//	Implements llm.Client by delegating to the inner client after passing
//	pre-flight checks (rate limit, session token budget). After the call,
//	records actual usage against the budget and emits Prometheus metrics.
//
//	Pre-flight check order:
//	  1. RateLimit — is the provider within its requests-per-minute limit?
//	  2. Budget — does the session have enough token budget left for the
//	     estimated size of this request?
//
//	If a check fails, returns the matching sentinel error without calling
//	the inner client.
//
// Thread Safety: Safe for concurrent use (all components are concurrent-safe).
type GuardClient struct {
	inner       llm.Client
	rateLimiter *RateLimiter
	tokenBudget *TokenBudget
	provider    string
	model       string
	sessionID   string
	logger      *slog.Logger
}

// NewGuardClient creates an egress guard around an inner client.
//
// Inputs:
//   - inner: The raw provider client. Must not be nil.
//   - rateLimiter: Rate limiter shared across the session. May be nil (no limit).
//   - tokenBudget: Session token budget. May be nil (unlimited).
//   - provider: Provider name for metrics and logs (e.g., "gemini").
//   - model: Model name used for token estimation.
//   - sessionID: The triage session ID for trace correlation.
//   - logger: Logger for guard decisions. May be nil.
//
// Outputs:
//   - *GuardClient: Configured guard.
func NewGuardClient(inner llm.Client, rateLimiter *RateLimiter, tokenBudget *TokenBudget,
	provider, model, sessionID string, logger *slog.Logger) *GuardClient {

	if inner == nil {
		panic("NewGuardClient: inner must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardClient{
		inner:       inner,
		rateLimiter: rateLimiter,
		tokenBudget: tokenBudget,
		provider:    provider,
		model:       model,
		sessionID:   sessionID,
		logger:      logger,
	}
}

// Generate implements llm.Client.Generate through the guard.
func (g *GuardClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (*llm.GenerateResult, error) {
	return g.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, params)
}

// Chat implements llm.Client.Chat through the guard.
//
// Outputs:
//   - *llm.GenerateResult: The response from the inner client.
//   - error: ErrRateLimited or ErrTokenBudgetExhausted if a pre-flight
//     check fails, otherwise the inner client's error.
func (g *GuardClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (*llm.GenerateResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer("aleutian.triage").Start(ctx, "egress.GuardClient.Chat",
		oteltrace.WithAttributes(
			attribute.String("provider", g.provider),
			attribute.String("model", g.model),
			attribute.String("session_id", g.sessionID),
		),
	)
	defer span.End()

	requestID := uuid.New().String()
	start := time.Now()

	// Pre-flight: rate limit
	if g.rateLimiter != nil {
		if allowed, retryAfter := g.rateLimiter.Allow(g.provider); !allowed {
			RecordOracleBlocked(g.provider, "rate_limit")
			span.SetAttributes(attribute.String("blocked_by", "rate_limit"))
			span.SetStatus(codes.Error, "rate limited")
			g.logger.Warn("oracle call blocked by rate limit",
				slog.String("request_id", requestID),
				slog.String("provider", g.provider),
				slog.Duration("retry_after", retryAfter),
			)
			return nil, fmt.Errorf("egress guard: %s retry after %s: %w", g.provider, retryAfter, ErrRateLimited)
		}
	}

	// Pre-flight: session token budget
	estimated := EstimateMessages(g.model, messages)
	if g.tokenBudget != nil {
		if ok, remaining := g.tokenBudget.CanSpend(estimated); !ok {
			RecordOracleBlocked(g.provider, "budget")
			span.SetAttributes(attribute.String("blocked_by", "budget"))
			span.SetStatus(codes.Error, "token budget exhausted")
			g.logger.Warn("oracle call blocked by token budget",
				slog.String("request_id", requestID),
				slog.Int("estimated", estimated),
				slog.Int("remaining", remaining),
			)
			return nil, fmt.Errorf("egress guard: estimated %d tokens, %d remaining: %w",
				estimated, remaining, ErrTokenBudgetExhausted)
		}
	}

	// Delegate to inner client
	res, err := g.inner.Chat(ctx, messages, params)
	duration := time.Since(start)

	if err != nil {
		RecordOracleError(g.provider, duration.Seconds())
		span.SetStatus(codes.Error, "oracle call failed")
		span.RecordError(err)
		return nil, err
	}

	// Post-call accounting. Fall back to the estimate when the provider
	// omits usage metadata, so the ceiling still moves.
	actual := res.Usage.TotalTokens
	if actual == 0 {
		actual = estimated
	}
	if g.tokenBudget != nil {
		g.tokenBudget.Record(actual)
	}
	RecordOracleAllowed(g.provider, res.Usage.PromptTokens, res.Usage.CandidateTokens, duration.Seconds())

	span.SetAttributes(
		attribute.Int("tokens.total", actual),
		attribute.Int("tokens.prompt", res.Usage.PromptTokens),
	)

	g.logger.Debug("oracle call allowed",
		slog.String("request_id", requestID),
		slog.String("provider", g.provider),
		slog.Int("tokens_total", actual),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)

	return res, nil
}
