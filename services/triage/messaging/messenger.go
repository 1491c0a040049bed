// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package messaging carries triage results to a human and collects the
// human's decision. Two channels exist: a Telegram bot with inline
// buttons and an interactive console. Both satisfy Messenger, so the
// session loop never knows which one is live.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianTriage/services/llm/egress"
)

// Action is a human decision returned by AwaitAction.
type Action string

const (
	// ActionRerun restarts the full triage cycle without touching code.
	ActionRerun Action = "rerun"

	// ActionFixAndRerun applies the suggested patch on the fix branch,
	// commits it, and reruns the tests.
	ActionFixAndRerun Action = "fix_and_rerun"

	// ActionSuggest collects free-text direction from the human and
	// feeds it into the next repair pass.
	ActionSuggest Action = "suggest"

	// ActionTerminate ends the session.
	ActionTerminate Action = "terminate"
)

// Valid reports whether a is one of the four known decisions.
func (a Action) Valid() bool {
	switch a {
	case ActionRerun, ActionFixAndRerun, ActionSuggest, ActionTerminate:
		return true
	}
	return false
}

// Messenger is the human channel for one triage session.
//
// # Description
//
// SendText delivers short status lines, SendSummary delivers the
// formatted fix digest with the decision controls attached, and the two
// Await methods block until the human responds. Implementations return
// the channel's message id from the send methods, or "" when the channel
// has no such concept.
type Messenger interface {
	SendText(ctx context.Context, text string) (string, error)
	SendSummary(ctx context.Context, summary *Summary) (string, error)
	AwaitAction(ctx context.Context) (Action, error)
	AwaitFreeText(ctx context.Context) (string, error)
}

// New selects a channel by mode: "telegram", "console", or "auto". Auto
// prefers Telegram and falls back to the console when the bot
// credentials are absent.
func New(ctx context.Context, mode string, pollTimeout time.Duration, secrets *egress.SecretManager, logger *slog.Logger) (Messenger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch mode {
	case "telegram":
		return NewTelegramMessenger(ctx, secrets, pollTimeout, logger)
	case "console":
		return NewConsoleMessenger(logger), nil
	case "auto", "":
		tm, err := NewTelegramMessenger(ctx, secrets, pollTimeout, logger)
		if err == nil {
			return tm, nil
		}
		if errors.Is(err, egress.ErrSecretNotFound) {
			logger.Info("messaging: telegram credentials absent, using console channel")
			return NewConsoleMessenger(logger), nil
		}
		return nil, err
	default:
		return nil, fmt.Errorf("messaging: unknown mode %q", mode)
	}
}
