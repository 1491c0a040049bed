// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package triage drives automated failure triage: a bounded, budget-
// governed conversation protocol between this controller and a reasoning
// oracle.
//
// # Description
//
// Two conversation variants share one engine. The diagnostic variant
// reads a failure log and produces a Hint artifact; the repair variant
// reads the latest Hint and produces a Fix artifact, requesting local
// tools (directory tree, function bodies, file contents, clarifying
// questions) between turns. The Session Controller composes one of each
// per cycle, applies the Fix through the patch engine, commits it, and
// loops on the human's messaging-channel choice.
//
// Every conversation is bounded three ways: a step budget, per-tool call
// budgets with dedup keys, and the session-wide token ceiling enforced by
// the egress guard. Exhausting the step budget triggers exactly one
// closing best-effort turn; a reply that never parses as JSON degrades to
// a recorded-text artifact instead of looping or crashing.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianTriage/services/llm"
	"github.com/AleutianAI/AleutianTriage/services/llm/egress"
)

var loopTracer = otel.Tracer("aleutian.triage")

const (
	// maxOracleRetries bounds consecutive transport failures or empty
	// replies before the conversation degrades to a terminal artifact.
	maxOracleRetries = 2

	// retryPause spaces retries so a rate-limited provider can recover.
	retryPause = 2 * time.Second
)

// loopVariant tailors the shared conversation engine to one loop kind.
// The engine owns stepping, retries, parsing, and the terminal branches;
// the variant owns prompts, tool dispatch, and artifact persistence.
type loopVariant interface {
	// Name labels logs, spans, and metrics.
	Name() string

	// MaxSteps bounds the conversation.
	MaxSteps() int

	// BuildPrompt renders the next turn from the immutable task input
	// and the gathered context.
	BuildPrompt() string

	// BestEffortPrompt renders the single closing turn after the step
	// budget is exhausted without a final reply.
	BestEffortPrompt() string

	// Normalize reinterprets a decoded action before the engine
	// branches on it. The diagnostic variant accepts an envelope-free
	// reply as final; the repair variant does not.
	Normalize(act Action) Action

	// Accepts reports whether this variant dispatches the action kind.
	Accepts(kind ActionKind) bool

	// Dispatch executes a recognized non-final action and merges its
	// output into the gathered context.
	Dispatch(ctx context.Context, act Action) error

	// Finalize persists the terminal artifact from a final action and
	// returns the artifact path.
	Finalize(ctx context.Context, act Action) (string, error)

	// FinalizeLenient persists a terminal artifact from the best-effort
	// reply, defaulting missing fields instead of failing.
	FinalizeLenient(ctx context.Context, raw string) (string, error)

	// Degrade persists the terminal artifact for a reply that never
	// became JSON, keeping the raw text for the audit trail.
	Degrade(ctx context.Context, raw string) (string, error)
}

// runLoop drives one bounded oracle conversation to its terminal
// artifact and returns the artifact path.
//
// # Description
//
// Each step sends one prompt and branches on the decoded reply:
//
//	final action        → Finalize, done
//	recognized action   → Dispatch, next step
//	unrecognized action → abort with ErrUnknownAction
//	non-JSON reply      → Degrade, done
//
// Transport failures and empty replies retry the step, bounded by
// maxOracleRetries consecutive attempts; persistent failure degrades. A
// session token-budget exhaustion or context cancellation is returned to
// the caller unretried — the session is over, not the turn.
func runLoop(ctx context.Context, oracle llm.Client, v loopVariant, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, span := loopTracer.Start(ctx, "triage.runLoop")
	span.SetAttributes(
		attribute.String("loop", v.Name()),
		attribute.Int("max_steps", v.MaxSteps()),
	)
	defer span.End()

	retries := 0
	for step := 1; step <= v.MaxSteps(); step++ {
		reply, err := generateTurn(ctx, oracle, v.BuildPrompt())
		if err != nil {
			if isSessionFatal(err) {
				RecordLoopOutcome(v.Name(), "aborted")
				return "", fmt.Errorf("%s loop: step %d: %w", v.Name(), step, err)
			}
			retries++
			logger.Warn("oracle turn failed, retrying",
				slog.String("loop", v.Name()),
				slog.Int("step", step),
				slog.Int("retries", retries),
				slog.String("error", llm.SafeLogString(err.Error())),
			)
			if retries > maxOracleRetries {
				RecordLoopOutcome(v.Name(), "degraded")
				return v.Degrade(ctx, "")
			}
			if err := pause(ctx, retryPause); err != nil {
				return "", err
			}
			continue
		}
		retries = 0

		act, perr := ParseAction(reply)
		if perr != nil {
			logger.Warn("oracle reply was not JSON",
				slog.String("loop", v.Name()),
				slog.Int("step", step),
				slog.Int("reply_chars", len(reply)),
			)
			RecordLoopOutcome(v.Name(), "degraded")
			return v.Degrade(ctx, reply)
		}
		act = v.Normalize(act)

		switch {
		case act.Kind == ActionFinal:
			logger.Info("oracle returned final result",
				slog.String("loop", v.Name()),
				slog.Int("step", step),
			)
			RecordLoopOutcome(v.Name(), "final")
			return v.Finalize(ctx, act)

		case act.Kind != ActionUnknown && v.Accepts(act.Kind):
			logger.Info("oracle requested tool",
				slog.String("loop", v.Name()),
				slog.Int("step", step),
				slog.String("action", string(act.Kind)),
			)
			if err := v.Dispatch(ctx, act); err != nil {
				return "", fmt.Errorf("%s loop: step %d: dispatching %s: %w",
					v.Name(), step, act.Kind, err)
			}

		default:
			logger.Error("oracle requested unknown action",
				slog.String("loop", v.Name()),
				slog.Int("step", step),
				slog.String("action", llm.SafeLogString(act.Name)),
			)
			RecordLoopOutcome(v.Name(), "aborted")
			return "", fmt.Errorf("%s loop: step %d: action %q: %w",
				v.Name(), step, act.Name, ErrUnknownAction)
		}
	}

	// Step budget spent without a final reply: one closing turn, parsed
	// leniently, then whatever came back becomes the terminal artifact.
	logger.Warn("step budget exhausted, requesting best effort",
		slog.String("loop", v.Name()),
		slog.Int("max_steps", v.MaxSteps()),
	)
	reply, err := generateTurn(ctx, oracle, v.BestEffortPrompt())
	if err != nil {
		if isSessionFatal(err) {
			RecordLoopOutcome(v.Name(), "aborted")
			return "", fmt.Errorf("%s loop: best effort: %w", v.Name(), err)
		}
		RecordLoopOutcome(v.Name(), "degraded")
		return v.Degrade(ctx, "")
	}
	RecordLoopOutcome(v.Name(), "best_effort")
	return v.FinalizeLenient(ctx, reply)
}

// generateTurn sends one prompt and returns its non-empty reply text.
// An empty reply is an error so the engine's retry path handles it.
func generateTurn(ctx context.Context, oracle llm.Client, prompt string) (string, error) {
	res, err := oracle.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", errors.New("oracle returned an empty reply")
	}
	return text, nil
}

// isSessionFatal reports whether an oracle error ends the session rather
// than the turn. Token-budget exhaustion and cancellation are not
// retryable; a rate-limit rejection is, after a pause.
func isSessionFatal(err error) bool {
	return errors.Is(err, egress.ErrTokenBudgetExhausted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// pause waits d or until the context is done.
func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
