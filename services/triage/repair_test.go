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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newRepairProject lays out a minimal project the repair tools can walk.
func newRepairProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	src := "package calc\n\nfunc Add(a, b int) int {\n\treturn a - b\n}\n"
	if err := os.WriteFile(filepath.Join(root, "calc.go"), []byte(src), 0644); err != nil {
		t.Fatalf("writing project file: %v", err)
	}
	return root
}

func TestRepairLoopFinalFixSaved(t *testing.T) {
	store := newTestStore(t)
	oracle := &scriptedOracle{turns: []oracleTurn{
		{text: `{"action": "final", "result": {
			"functions_to_edit": ["calc.go:Add"],
			"reason": "subtraction instead of addition",
			"patch_suggestion": "-\treturn a - b\n+\treturn a + b"
		}}`},
	}}
	loop := NewRepairLoop(oracle, store, nil, newRepairProject(t), "cause: Add returns a - b", testLoops(), nil)

	fix, path, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if fix == nil {
		t.Fatal("fix = nil, want the decoded fix")
	}
	if len(fix.FunctionsToEdit) != 1 || fix.FunctionsToEdit[0] != "calc.go:Add" {
		t.Errorf("functions = %v, want [calc.go:Add]", fix.FunctionsToEdit)
	}
	if fix.TargetFile() != "calc.go" {
		t.Errorf("TargetFile() = %q, want %q", fix.TargetFile(), "calc.go")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("artifact not on disk: %v", err)
	}

	stored, _, err := store.LatestFix(context.Background())
	if err != nil {
		t.Fatalf("LatestFix() error = %v", err)
	}
	if stored.Reason != "subtraction instead of addition" {
		t.Errorf("stored reason = %q, want the saved fix", stored.Reason)
	}
}

func TestRepairLoopGathersContextThroughTools(t *testing.T) {
	store := newTestStore(t)
	oracle := &scriptedOracle{turns: []oracleTurn{
		{text: `{"action": "run_tree"}`},
		{text: `{"action": "final", "result": {"functions_to_edit": ["calc.go:Add"], "reason": "r", "patch_suggestion": "-a\n+b"}}`},
	}}
	loop := NewRepairLoop(oracle, store, nil, newRepairProject(t), "cause: wrong operator", testLoops(), nil)

	fix, _, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if fix == nil {
		t.Fatal("fix = nil, want a fix after tool use")
	}
	if oracle.calls != 2 {
		t.Fatalf("oracle calls = %d, want 2", oracle.calls)
	}
	second := oracle.prompts[1]
	if !strings.Contains(second, labelProjectTree) || !strings.Contains(second, "calc.go") {
		t.Errorf("second prompt does not carry the project tree")
	}
	if !strings.Contains(oracle.prompts[0], "cause: wrong operator") {
		t.Errorf("first prompt does not carry the hint")
	}
}

func TestRepairLoopAskOracleBridgesToAnswerer(t *testing.T) {
	store := newTestStore(t)
	answerer := &stubAnswerer{answer: "the assertion failed on the third case"}
	oracle := &scriptedOracle{turns: []oracleTurn{
		{text: `{"action": "ask_oracle", "params": {"question": "which case failed?"}}`},
		{text: `{"action": "final", "result": {"functions_to_edit": ["calc.go:Add"], "reason": "r", "patch_suggestion": "-a\n+b"}}`},
	}}
	loop := NewRepairLoop(oracle, store, answerer, newRepairProject(t), "hint", testLoops(), nil)

	if _, _, err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if answerer.calls != 1 {
		t.Errorf("answerer calls = %d, want 1", answerer.calls)
	}
	if !strings.Contains(oracle.prompts[1], "the assertion failed on the third case") {
		t.Errorf("second prompt does not carry the oracle answer")
	}
}

func TestRepairLoopBareResultAborts(t *testing.T) {
	store := newTestStore(t)
	oracle := &scriptedOracle{turns: []oracleTurn{
		{text: `{"functions_to_edit": ["calc.go:Add"], "reason": "no envelope", "patch_suggestion": "-a\n+b"}`},
	}}
	loop := NewRepairLoop(oracle, store, nil, newRepairProject(t), "hint", testLoops(), nil)

	_, _, err := loop.Run(context.Background())
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("Run() error = %v, want ErrUnknownAction for an envelope-free reply", err)
	}
}

func TestRepairLoopBestEffortSalvagesEnvelope(t *testing.T) {
	store := newTestStore(t)
	loops := testLoops()
	loops.RepairMaxSteps = 1
	oracle := &scriptedOracle{turns: []oracleTurn{
		{text: `{"action": "run_tree"}`},
		{text: `{"action": "final", "result": {"functions_to_edit": ["calc.go:Add"], "reason": "late but valid", "patch_suggestion": "-a\n+b"}}`},
	}}
	loop := NewRepairLoop(oracle, store, nil, newRepairProject(t), "hint", loops, nil)

	fix, _, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if fix == nil || fix.Reason != "late but valid" {
		t.Errorf("fix = %+v, want the closing envelope decoded", fix)
	}
}

func TestRepairLoopBestEffortFallbackKeepsRawText(t *testing.T) {
	store := newTestStore(t)
	loops := testLoops()
	loops.RepairMaxSteps = 1
	oracle := &scriptedOracle{turns: []oracleTurn{
		{text: `{"action": "run_tree"}`},
		{text: "I ran out of tools but the operator in Add looks inverted."},
	}}
	loop := NewRepairLoop(oracle, store, nil, newRepairProject(t), "hint", loops, nil)

	fix, _, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if fix == nil {
		t.Fatal("fix = nil, want the fallback fix")
	}
	if fix.Reason != "Agent could not complete analysis" {
		t.Errorf("reason = %q, want the fallback reason", fix.Reason)
	}
	if len(fix.FunctionsToEdit) != 0 {
		t.Errorf("functions = %v, want none", fix.FunctionsToEdit)
	}
	if !strings.Contains(fix.PatchSuggestion, "operator in Add looks inverted") {
		t.Errorf("patch suggestion = %q, want the raw reply preserved", fix.PatchSuggestion)
	}
}

func TestRepairLoopNonJSONDegrades(t *testing.T) {
	store := newTestStore(t)
	oracle := &scriptedOracle{turns: []oracleTurn{
		{text: "Let me think about this failure out loud instead of proposing a patch."},
	}}
	loop := NewRepairLoop(oracle, store, nil, newRepairProject(t), "hint", testLoops(), nil)

	fix, path, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if fix != nil {
		t.Errorf("fix = %+v, want nil for a degraded outcome", fix)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading degraded record: %v", err)
	}
	record := string(data)
	if !strings.Contains(record, `"analysis"`) || !strings.Contains(record, "out loud") {
		t.Errorf("degraded record = %q, want type analysis with the raw text", record)
	}
}

func TestRepairLoopClipsOversizedHint(t *testing.T) {
	store := newTestStore(t)
	loops := testLoops()
	loops.ContextCharLimit = 1000
	hint := strings.Repeat("h", 2000) + "TAIL-MARKER"
	oracle := &scriptedOracle{turns: []oracleTurn{
		{text: `{"action": "final", "result": {"functions_to_edit": [], "reason": "r", "patch_suggestion": "-a\n+b"}}`},
	}}
	loop := NewRepairLoop(oracle, store, nil, newRepairProject(t), hint, loops, nil)

	if _, _, err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Contains(oracle.prompts[0], "TAIL-MARKER") {
		t.Errorf("prompt carries the unclipped hint tail")
	}
}
