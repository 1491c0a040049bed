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
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianTriage/services/triage/artifacts"
	"github.com/AleutianAI/AleutianTriage/services/triage/tools"
)

// Context map labels for tool results and budget markers.
const (
	labelProjectTree    = "PROJECT_TREE"
	labelDuplicateCall  = "DUPLICATE_CALL"
	labelDuplicateRead  = "DUPLICATE_READ"
	labelReadFileLimit  = "READ_FILE_LIMIT"
	labelOracleAnswer   = "ORACLE_ANSWER"
	labelOracleLimit    = "ORACLE_LIMIT"
	labelOutputLog      = "OUTPUT_LOG"
	labelOutputLogLimit = "OUTPUT_LOG_LIMIT"
)

// Per-entry character caps. Function bodies get more room than whole
// files because they are the preferred, cheaper extraction; oracle
// answers stay short by contract.
const (
	functionCharLimit = 60000
	answerCharLimit   = 5000
)

// QuestionAnswerer answers one clarifying question about the failure
// under triage. The diagnostic loop implements it for the repair loop's
// ask_oracle tool.
type QuestionAnswerer interface {
	AnswerQuestion(ctx context.Context, question string) (string, error)
}

// ToolCallState is the per-conversation record of what the oracle has
// already been given: dedup keys, per-tool call counters, and the
// accumulated label→text context map embedded in each prompt.
//
// # Thread Safety
//
// Not safe for concurrent use. One conversation owns one state; the
// pipeline is sequential by design.
type ToolCallState struct {
	seenFunctions map[string]struct{}
	seenReads     map[string]struct{}

	fileReads       int
	oracleQuestions int
	outputLogReads  int

	outputs   map[string]string
	charLimit int
}

// NewToolCallState creates an empty state whose serialized context block
// is capped at contextCharLimit characters.
func NewToolCallState(contextCharLimit int) *ToolCallState {
	if contextCharLimit <= 0 {
		contextCharLimit = 20000
	}
	return &ToolCallState{
		seenFunctions: make(map[string]struct{}),
		seenReads:     make(map[string]struct{}),
		outputs:       make(map[string]string),
		charLimit:     contextCharLimit,
	}
}

// Merge stores text under label, replacing any previous entry.
func (s *ToolCallState) Merge(label, text string) {
	s.outputs[label] = text
}

// Entry returns the stored text for label.
func (s *ToolCallState) Entry(label string) (string, bool) {
	text, ok := s.outputs[label]
	return text, ok
}

// Empty reports whether no tool output has been gathered yet.
func (s *ToolCallState) Empty() bool {
	return len(s.outputs) == 0
}

// ContextJSON serializes the gathered context as one JSON object, capped
// at the configured character limit. Keys come out sorted, which keeps
// prompts deterministic for a given state.
func (s *ToolCallState) ContextJSON() string {
	data, err := json.Marshal(s.outputs)
	if err != nil {
		return "{}"
	}
	return Clip(string(data), s.charLimit)
}

// Dispatcher executes recognized tool actions for the repair
// conversation and merges their output into the conversation state.
//
// # Description
//
// Four tools, each wrapping one external text-producing call:
//
//	run_tree          project listing; capped at the context limit
//	extract_function  deduplicated by (resolved path, function name)
//	read_file         budgeted per conversation, then deduplicated by path
//	ask_oracle        budgeted per conversation; delegates to the
//	                  diagnostic oracle scoped to the original failure log
//
// A failing tool never fails the conversation: the error text itself is
// merged as the tool's output so the oracle can route around it. Dedup
// sets and budget counters live on the conversation's ToolCallState,
// never in package state, so sessions stay independent.
type Dispatcher struct {
	projectRoot string
	state       *ToolCallState
	answerer    QuestionAnswerer
	store       *artifacts.Store
	logger      *slog.Logger

	readFileBudget int
	questionBudget int

	// Tool indirection so tests can count underlying invocations.
	treeFn    func(root string) (string, error)
	extractFn func(path, function string) (string, error)
	readFn    func(path string) (string, error)
}

// NewDispatcher wires a dispatcher for one repair conversation.
//
// Inputs:
//   - projectRoot: Directory all file references resolve against.
//   - state: The conversation's tool-call state. Must not be nil.
//   - answerer: Secondary oracle for ask_oracle. May be nil; questions
//     then come back answered with an unavailability note.
//   - store: Artifact store that mirrors each tool's latest raw output.
//     May be nil.
//   - readFileBudget: Max read_file calls for this conversation.
//   - questionBudget: Max ask_oracle calls for this conversation.
//   - logger: Logger. May be nil.
func NewDispatcher(projectRoot string, state *ToolCallState, answerer QuestionAnswerer,
	store *artifacts.Store, readFileBudget, questionBudget int, logger *slog.Logger) *Dispatcher {

	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		projectRoot:    projectRoot,
		state:          state,
		answerer:       answerer,
		store:          store,
		logger:         logger,
		readFileBudget: readFileBudget,
		questionBudget: questionBudget,
		treeFn:         tools.Tree,
		extractFn:      tools.ExtractFunction,
		readFn:         tools.ReadFile,
	}
}

// Dispatch executes one recognized tool action and merges its output
// into the conversation state under a label derived from the action.
//
// Outputs:
//   - string: The label the result was merged under.
//   - error: Non-nil only for context cancellation or an action kind the
//     dispatcher does not serve. Tool failures merge as text instead.
func (d *Dispatcher) Dispatch(ctx context.Context, act Action) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch act.Kind {
	case ActionRunTree:
		return d.runTree(ctx)
	case ActionExtractFunction:
		return d.extractFunction(ctx, act.File, act.Function)
	case ActionReadFile:
		return d.readFile(ctx, act.File)
	case ActionAskOracle:
		return d.askOracle(ctx, act.Question)
	default:
		return "", fmt.Errorf("dispatcher: unhandled action kind %q: %w", act.Kind, ErrUnknownAction)
	}
}

func (d *Dispatcher) runTree(ctx context.Context) (string, error) {
	text, err := d.treeFn(d.projectRoot)
	if err != nil {
		text = fmt.Sprintf("[ERROR running tree] %v", err)
		RecordToolInvocation("run_tree", "error")
	} else {
		RecordToolInvocation("run_tree", "ok")
	}
	text = Clip(text, d.state.charLimit)
	d.state.Merge(labelProjectTree, text)
	d.mirror(ctx, "tree", text)
	d.logger.Debug("tool: run_tree", slog.Int("chars", len(text)))
	return labelProjectTree, nil
}

func (d *Dispatcher) extractFunction(ctx context.Context, file, function string) (string, error) {
	path := tools.ResolvePath(d.projectRoot, file)
	key := fmt.Sprintf("FUNCTION::%s::%s", path, function)

	if _, seen := d.state.seenFunctions[key]; seen {
		d.state.Merge(labelDuplicateCall, fmt.Sprintf("Already retrieved %s from %s", function, path))
		RecordToolInvocation("extract_function", "duplicate")
		d.logger.Debug("tool: extract_function duplicate",
			slog.String("path", path),
			slog.String("function", function),
		)
		return labelDuplicateCall, nil
	}
	d.state.seenFunctions[key] = struct{}{}

	text, err := d.extractFn(path, function)
	if err != nil {
		text = fmt.Sprintf("[ERROR extracting function] %v", err)
		RecordToolInvocation("extract_function", "error")
	} else {
		RecordToolInvocation("extract_function", "ok")
	}
	text = Clip(text, functionCharLimit)
	d.state.Merge(key, text)
	d.mirror(ctx, "function", text)
	d.logger.Debug("tool: extract_function",
		slog.String("path", path),
		slog.String("function", function),
		slog.Int("chars", len(text)),
	)
	return key, nil
}

func (d *Dispatcher) readFile(ctx context.Context, file string) (string, error) {
	if d.fileReadsExhausted() {
		d.state.Merge(labelReadFileLimit, "File read limit reached")
		RecordToolInvocation("read_file", "limit")
		d.logger.Debug("tool: read_file over budget", slog.Int("budget", d.readFileBudget))
		return labelReadFileLimit, nil
	}

	path := tools.ResolvePath(d.projectRoot, file)
	if _, seen := d.state.seenReads[path]; seen {
		d.state.Merge(labelDuplicateRead, fmt.Sprintf("Already read %s", path))
		RecordToolInvocation("read_file", "duplicate")
		d.logger.Debug("tool: read_file duplicate", slog.String("path", path))
		return labelDuplicateRead, nil
	}
	d.state.seenReads[path] = struct{}{}
	d.state.fileReads++

	text, err := d.readFn(path)
	if err != nil {
		text = fmt.Sprintf("[ERROR reading file] %v", err)
		RecordToolInvocation("read_file", "error")
	} else {
		RecordToolInvocation("read_file", "ok")
	}
	text = Clip(text, d.state.charLimit)
	key := "FILE::" + path
	d.state.Merge(key, text)
	d.mirror(ctx, "file", text)
	d.logger.Debug("tool: read_file",
		slog.String("path", path),
		slog.Int("chars", len(text)),
		slog.Int("reads_used", d.state.fileReads),
	)
	return key, nil
}

func (d *Dispatcher) askOracle(ctx context.Context, question string) (string, error) {
	if d.state.oracleQuestions >= d.questionBudget {
		d.state.Merge(labelOracleLimit, "Question limit reached")
		RecordToolInvocation("ask_oracle", "limit")
		d.logger.Debug("tool: ask_oracle over budget", slog.Int("budget", d.questionBudget))
		return labelOracleLimit, nil
	}
	d.state.oracleQuestions++

	var text string
	if d.answerer == nil {
		text = "Diagnostic oracle unavailable"
		RecordToolInvocation("ask_oracle", "error")
	} else {
		answer, err := d.answerer.AnswerQuestion(ctx, question)
		if err != nil {
			text = fmt.Sprintf("[ERROR asking oracle] %v", err)
			RecordToolInvocation("ask_oracle", "error")
		} else {
			text = answer
			RecordToolInvocation("ask_oracle", "ok")
		}
	}
	text = Clip(text, answerCharLimit)
	d.state.Merge(labelOracleAnswer, text)
	d.mirror(ctx, "oracle_answer", text)
	d.logger.Debug("tool: ask_oracle",
		slog.Int("question_chars", len(question)),
		slog.Int("answer_chars", len(text)),
		slog.Int("questions_used", d.state.oracleQuestions),
	)
	return labelOracleAnswer, nil
}

// fileReadsExhausted reports whether the read_file budget is spent.
func (d *Dispatcher) fileReadsExhausted() bool {
	return d.readFileBudget >= 0 && d.state.fileReads >= d.readFileBudget
}

// mirror writes a tool's raw output to the artifact store, best effort.
func (d *Dispatcher) mirror(ctx context.Context, name, text string) {
	if d.store == nil {
		return
	}
	if _, err := d.store.WriteToolOutput(ctx, name, text); err != nil {
		d.logger.Warn("tool output mirror failed",
			slog.String("tool", name),
			slog.String("error", err.Error()),
		)
	}
}

// Clip truncates s to at most max bytes, backing off to a rune boundary
// so multi-byte characters are never split.
func Clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
