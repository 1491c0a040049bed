// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianTriage/services/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/artifacts"
	"github.com/AleutianAI/AleutianTriage/services/triage/config"
)

// bestEffortSuggestionLimit caps the raw reply text carried into the
// fallback fix when the closing turn never parses.
const bestEffortSuggestionLimit = 2000

// RepairLoop is the repair conversation: Hint in, Fix artifact out.
//
// # Description
//
// The oracle explores the codebase through the dispatcher's four tools
// and finishes with a fix object naming the functions to edit and a
// minimal patch. A reply that never becomes valid JSON degrades into a
// DegradedFix record instead of failing the session; only an unknown
// action aborts.
//
// # Thread Safety
//
// Not safe for concurrent use. One loop instance serves one run.
type RepairLoop struct {
	oracle     llm.Client
	store      *artifacts.Store
	state      *ToolCallState
	dispatcher *Dispatcher
	hintText   string
	hintLimit  int
	maxSteps   int
	logger     *slog.Logger

	fix *artifacts.Fix
}

// NewRepairLoop builds a repair conversation over one diagnostic hint.
//
// Inputs:
//   - oracle: Generation backend, typically the guarded client.
//   - store: Artifact store for the Fix and mirrored tool outputs.
//   - answerer: Secondary oracle serving ask_oracle. May be nil.
//   - projectRoot: Directory tool file references resolve against.
//   - hintText: The diagnostic hint, verbatim; clipped here.
//   - loops: Step and tool budgets.
//   - logger: Logger. May be nil.
func NewRepairLoop(oracle llm.Client, store *artifacts.Store, answerer QuestionAnswerer,
	projectRoot, hintText string, loops config.LoopsConfig, logger *slog.Logger) *RepairLoop {

	if logger == nil {
		logger = slog.Default()
	}
	state := NewToolCallState(loops.ContextCharLimit)
	return &RepairLoop{
		oracle:     oracle,
		store:      store,
		state:      state,
		dispatcher: NewDispatcher(projectRoot, state, answerer, store, loops.ReadFileBudget, loops.OracleQuestionBudget, logger),
		hintText:   Clip(hintText, loops.ContextCharLimit),
		hintLimit:  loops.ContextCharLimit,
		maxSteps:   loops.RepairMaxSteps,
		logger:     logger,
	}
}

// Run drives the conversation and returns the Fix and its artifact path.
// A degraded outcome returns a nil Fix with the degraded record's path.
func (r *RepairLoop) Run(ctx context.Context) (*artifacts.Fix, string, error) {
	r.logger.Info("repair loop starting",
		slog.Int("hint_chars", len(r.hintText)),
		slog.Int("max_steps", r.maxSteps),
	)
	path, err := runLoop(ctx, r.oracle, r, r.logger)
	if err != nil {
		return nil, "", err
	}
	return r.fix, path, nil
}

// =============================================================================
// loopVariant
// =============================================================================

func (r *RepairLoop) Name() string { return "repair" }

func (r *RepairLoop) MaxSteps() int { return r.maxSteps }

func (r *RepairLoop) BuildPrompt() string {
	return buildRepairPrompt(r.hintText, r.state)
}

func (r *RepairLoop) BestEffortPrompt() string {
	return buildRepairBestEffortPrompt(r.hintText, r.state, r.hintLimit)
}

// Normalize is the identity here: a reply without an action key is not a
// valid fix envelope, so it falls through to the unknown-action abort.
func (r *RepairLoop) Normalize(act Action) Action { return act }

func (r *RepairLoop) Accepts(kind ActionKind) bool {
	switch kind {
	case ActionRunTree, ActionExtractFunction, ActionReadFile, ActionAskOracle:
		return true
	}
	return false
}

func (r *RepairLoop) Dispatch(ctx context.Context, act Action) error {
	_, err := r.dispatcher.Dispatch(ctx, act)
	return err
}

// Finalize decodes the fix result and persists it. A result that does not
// decode as a fix object degrades instead of failing the session.
func (r *RepairLoop) Finalize(ctx context.Context, act Action) (string, error) {
	fix, err := decodeFix(act.Result)
	if err != nil {
		r.logger.Warn("final fix did not decode",
			slog.String("error", err.Error()),
		)
		return r.Degrade(ctx, string(act.Result))
	}
	return r.saveFix(ctx, fix)
}

// FinalizeLenient salvages a fix from the best-effort reply, accepting
// the final envelope or a bare fix object. When nothing decodes, the raw
// text itself is kept as the patch suggestion so a human still sees what
// the oracle proposed.
func (r *RepairLoop) FinalizeLenient(ctx context.Context, raw string) (string, error) {
	if act, err := ParseAction(raw); err == nil && len(act.Result) > 0 {
		if fix, perr := decodeFix(act.Result); perr == nil {
			return r.saveFix(ctx, fix)
		}
	}
	fallback := &artifacts.Fix{
		FunctionsToEdit: []string{},
		Reason:          "Agent could not complete analysis",
		PatchSuggestion: Clip(raw, bestEffortSuggestionLimit),
	}
	return r.saveFix(ctx, fallback)
}

// Degrade records the raw reply as a DegradedFix so the session continues
// with an auditable artifact instead of a fix.
func (r *RepairLoop) Degrade(ctx context.Context, raw string) (string, error) {
	path, err := r.store.SaveDegradedFix(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("repair: %w", err)
	}
	return path, nil
}

func (r *RepairLoop) saveFix(ctx context.Context, fix *artifacts.Fix) (string, error) {
	path, err := r.store.SaveFix(ctx, fix)
	if err != nil {
		return "", fmt.Errorf("repair: %w", err)
	}
	r.fix = fix
	return path, nil
}

// decodeFix decodes a fix result object.
func decodeFix(result json.RawMessage) (*artifacts.Fix, error) {
	if len(result) == 0 {
		return nil, errors.New("empty fix result")
	}
	var fix artifacts.Fix
	if err := json.Unmarshal(result, &fix); err != nil {
		return nil, fmt.Errorf("decoding fix: %w", err)
	}
	return &fix, nil
}
