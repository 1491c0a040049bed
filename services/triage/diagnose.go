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
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianTriage/services/llm"
	"github.com/AleutianAI/AleutianTriage/services/triage/artifacts"
	"github.com/AleutianAI/AleutianTriage/services/triage/config"
)

// degradedCause marks a hint produced without a usable oracle analysis.
const degradedCause = "Could not analyze"

// cleanPhrases collapse an analysis to the no-failure sentinel when any
// of them appears in the stated cause, case-insensitively.
var cleanPhrases = []string{"no errors", "all tests passed", "passed successfully", "0 failed"}

// DiagnoseLoop is the diagnostic conversation: failure log in, Hint
// artifact out.
//
// # Description
//
// The task input is the relevance-filtered test log. When secondary
// output logs exist the prompt advertises one tool, read_output_log,
// budgeted per conversation; otherwise the oracle is expected to answer
// in one turn with a bare analysis object. A stated cause matching the
// clean-phrase set short-circuits to the empty-hints sentinel.
//
// # Thread Safety
//
// Not safe for concurrent use. One loop instance serves one run.
type DiagnoseLoop struct {
	oracle          llm.Client
	store           *artifacts.Store
	state           *ToolCallState
	logText         string
	hasTools        bool
	maxSteps        int
	outputLogBudget int
	logger          *slog.Logger

	hint *artifacts.Hint
}

// NewDiagnoseLoop builds a diagnostic conversation over one raw test log.
//
// Inputs:
//   - oracle: Generation backend, typically the guarded client.
//   - store: Artifact store for the Hint and secondary logs.
//   - rawLog: Full test log text; it is relevance-filtered here.
//   - loops: Step and tool budgets.
//   - logger: Logger. May be nil.
func NewDiagnoseLoop(oracle llm.Client, store *artifacts.Store, rawLog string,
	loops config.LoopsConfig, logger *slog.Logger) *DiagnoseLoop {

	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnoseLoop{
		oracle:          oracle,
		store:           store,
		state:           NewToolCallState(loops.ContextCharLimit),
		logText:         RelevantLog(rawLog, loops.ContextCharLimit),
		hasTools:        store.HasOutputLogs(),
		maxSteps:        loops.DiagnoseMaxSteps,
		outputLogBudget: loops.ReadOutputLogBudget,
		logger:          logger,
	}
}

// Run drives the conversation and returns the Hint and its artifact path.
func (d *DiagnoseLoop) Run(ctx context.Context) (*artifacts.Hint, string, error) {
	d.logger.Info("diagnostic loop starting",
		slog.Int("log_chars", len(d.logText)),
		slog.Bool("output_logs_available", d.hasTools),
		slog.Int("max_steps", d.maxSteps),
	)
	path, err := runLoop(ctx, d.oracle, d, d.logger)
	if err != nil {
		return nil, "", err
	}
	return d.hint, path, nil
}

// AnswerQuestion answers one clarifying question grounded in the failure
// log. The repair conversation's ask_oracle tool calls this.
func (d *DiagnoseLoop) AnswerQuestion(ctx context.Context, question string) (string, error) {
	res, err := d.oracle.Generate(ctx, buildQuestionPrompt(question, d.logText), llm.GenerationParams{})
	if err != nil {
		return "", fmt.Errorf("diagnose: answering question: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

// =============================================================================
// loopVariant
// =============================================================================

func (d *DiagnoseLoop) Name() string { return "diagnose" }

func (d *DiagnoseLoop) MaxSteps() int { return d.maxSteps }

func (d *DiagnoseLoop) BuildPrompt() string {
	return buildDiagnosePrompt(d.logText, d.state, d.hasTools)
}

func (d *DiagnoseLoop) BestEffortPrompt() string {
	return buildDiagnoseBestEffortPrompt(d.logText, d.state)
}

// Normalize accepts an envelope-free reply as the final analysis: with no
// tools advertised the oracle answers with the bare analysis object.
func (d *DiagnoseLoop) Normalize(act Action) Action {
	if act.Kind == ActionBareResult {
		act.Kind = ActionFinal
	}
	return act
}

func (d *DiagnoseLoop) Accepts(kind ActionKind) bool {
	return kind == ActionReadOutputLog
}

// Dispatch serves read_output_log: the latest secondary log, relevance
// filtered, up to the per-conversation budget.
func (d *DiagnoseLoop) Dispatch(ctx context.Context, act Action) error {
	if act.Kind != ActionReadOutputLog {
		return fmt.Errorf("diagnose: action %q: %w", act.Kind, ErrUnknownAction)
	}

	if d.state.outputLogReads >= d.outputLogBudget {
		d.state.Merge(labelOutputLogLimit, "Limit reached")
		RecordToolInvocation("read_output_log", "limit")
		d.logger.Debug("read_output_log over budget", slog.Int("budget", d.outputLogBudget))
		return nil
	}
	d.state.outputLogReads++

	content, err := d.store.LatestOutputLog(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		d.state.Merge(labelOutputLog, "Not available")
		RecordToolInvocation("read_output_log", "miss")
		d.logger.Debug("no secondary log available", slog.String("error", err.Error()))
		return nil
	}

	filtered := RelevantLog(content, d.state.charLimit)
	d.state.Merge(labelOutputLog, filtered)
	RecordToolInvocation("read_output_log", "ok")
	d.logger.Info("secondary log merged into context",
		slog.Int("chars", len(filtered)),
		slog.Int("reads_used", d.state.outputLogReads),
	)
	return nil
}

// Finalize decodes the analysis result and persists the Hint. A result
// that does not decode degrades instead of failing the session.
func (d *DiagnoseLoop) Finalize(ctx context.Context, act Action) (string, error) {
	hint, err := parseHintResult(act.Result)
	if err != nil {
		d.logger.Warn("final analysis did not decode",
			slog.String("error", err.Error()),
		)
		return d.Degrade(ctx, string(act.Result))
	}
	return d.saveHint(ctx, hint)
}

// FinalizeLenient salvages an analysis from the best-effort reply,
// accepting either the final envelope or a bare analysis object.
func (d *DiagnoseLoop) FinalizeLenient(ctx context.Context, raw string) (string, error) {
	if act, err := ParseAction(raw); err == nil && len(act.Result) > 0 {
		if hint, perr := parseHintResult(act.Result); perr == nil {
			return d.saveHint(ctx, hint)
		}
	}
	return d.Degrade(ctx, raw)
}

// Degrade persists the no-analysis hint. The raw reply, when present, is
// kept under tool_outputs so the audit trail holds what the oracle said.
func (d *DiagnoseLoop) Degrade(ctx context.Context, raw string) (string, error) {
	if raw != "" {
		if _, err := d.store.WriteToolOutput(ctx, "degraded_analysis", raw); err != nil {
			d.logger.Warn("failed to record degraded analysis text",
				slog.String("error", err.Error()),
			)
		}
	}
	return d.saveHint(ctx, &artifacts.Hint{Cause: degradedCause, Hints: []artifacts.HintEntry{}})
}

func (d *DiagnoseLoop) saveHint(ctx context.Context, hint *artifacts.Hint) (string, error) {
	path, err := d.store.SaveHint(ctx, hint)
	if err != nil {
		return "", fmt.Errorf("diagnose: %w", err)
	}
	d.hint = hint
	return path, nil
}

// =============================================================================
// Analysis Decoding
// =============================================================================

// looseHintEntry tolerates the line number arriving as a string, a JSON
// number, or null.
type looseHintEntry struct {
	Description string `json:"description"`
	File        string `json:"file"`
	Function    string `json:"function"`
	Line        any    `json:"line"`
}

type looseHint struct {
	Cause string           `json:"cause"`
	Hints []looseHintEntry `json:"hints"`
}

// parseHintResult decodes an analysis object into a Hint, applying the
// clean-cause short-circuit.
func parseHintResult(result json.RawMessage) (*artifacts.Hint, error) {
	if len(result) == 0 {
		return nil, errors.New("empty analysis result")
	}

	var loose looseHint
	if err := json.Unmarshal(result, &loose); err != nil {
		return nil, fmt.Errorf("decoding analysis: %w", err)
	}

	cause := strings.TrimSpace(loose.Cause)
	if isCleanCause(cause) {
		return &artifacts.Hint{Cause: artifacts.CleanCause, Hints: []artifacts.HintEntry{}}, nil
	}

	entries := make([]artifacts.HintEntry, 0, len(loose.Hints))
	for _, h := range loose.Hints {
		entries = append(entries, artifacts.HintEntry{
			Description: strings.TrimSpace(h.Description),
			File:        h.File,
			Function:    h.Function,
			Line:        coerceLine(h.Line),
		})
	}
	return &artifacts.Hint{Cause: cause, Hints: entries}, nil
}

// isCleanCause reports whether a stated cause means "no failure".
func isCleanCause(cause string) bool {
	low := strings.ToLower(cause)
	for _, phrase := range cleanPhrases {
		if strings.Contains(low, phrase) {
			return true
		}
	}
	return false
}

// coerceLine accepts a line number as a JSON number or a digit string;
// anything else is 0 (unknown).
func coerceLine(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return 0
}
