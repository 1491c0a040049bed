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
	"fmt"
	"strings"
	"testing"
)

func TestRelevantLogWindowsAroundKeyword(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, fmt.Sprintf("line %02d", i))
	}
	lines[19] = "line 19 ERROR: boom"
	logText := strings.Join(lines, "\n")

	got := RelevantLog(logText, 20000)

	// The window spans 3 lines before through 10 after the keyword line.
	for _, want := range []string{"line 16", "line 19 ERROR: boom", "line 28"} {
		if !strings.Contains(got, want) {
			t.Errorf("RelevantLog() missing %q", want)
		}
	}
	for _, absent := range []string{"line 15", "line 29", "line 00"} {
		if strings.Contains(got, absent) {
			t.Errorf("RelevantLog() kept %q, want it dropped", absent)
		}
	}
}

func TestRelevantLogKeywordsAreCaseInsensitive(t *testing.T) {
	logText := "starting suite\nTestCache FAILED hard\nshutting down"

	got := RelevantLog(logText, 20000)

	if !strings.Contains(got, "TestCache FAILED hard") {
		t.Errorf("RelevantLog() = %q, want the FAILED line kept", got)
	}
}

func TestRelevantLogNoKeywordsReturnsTail(t *testing.T) {
	logText := strings.Repeat("a", 2000) + "END"

	got := RelevantLog(logText, 100)

	if len(got) != 100 {
		t.Fatalf("len = %d, want 100", len(got))
	}
	if !strings.HasSuffix(got, "END") {
		t.Errorf("RelevantLog() = %q..., want the log tail", got[:10])
	}
}

func TestRelevantLogCapsAtMaxChars(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "error on line %d: something broke badly\n", i)
	}

	got := RelevantLog(b.String(), 500)

	if len(got) > 500 {
		t.Errorf("len = %d, want <= 500", len(got))
	}
}

func TestRelevantLogShortCleanLogPassesThrough(t *testing.T) {
	logText := "ok  \tsample-project\t0.41s"

	if got := RelevantLog(logText, 1000); got != logText {
		t.Errorf("RelevantLog() = %q, want %q", got, logText)
	}
}

func TestBuildDiagnosePromptToolSection(t *testing.T) {
	state := NewToolCallState(1000)

	withTools := buildDiagnosePrompt("some log", state, true)
	if !strings.Contains(withTools, "read_output_log") {
		t.Errorf("prompt with tools does not advertise read_output_log")
	}

	withoutTools := buildDiagnosePrompt("some log", state, false)
	if strings.Contains(withoutTools, "read_output_log") {
		t.Errorf("prompt without tools still advertises read_output_log")
	}
}

func TestBuildDiagnosePromptEmbedsLogAndContext(t *testing.T) {
	state := NewToolCallState(1000)
	prompt := buildDiagnosePrompt("panic: runtime error", state, false)

	if !strings.Contains(prompt, "--- LOG START ---") || !strings.Contains(prompt, "panic: runtime error") {
		t.Errorf("prompt does not embed the log text")
	}
	if strings.Contains(prompt, "KNOWN CONTEXT") {
		t.Errorf("prompt has a context block for an empty state")
	}

	state.Merge(labelOutputLog, "db connection refused")
	prompt = buildDiagnosePrompt("panic: runtime error", state, true)

	if !strings.Contains(prompt, "KNOWN CONTEXT") || !strings.Contains(prompt, "db connection refused") {
		t.Errorf("prompt does not embed gathered context")
	}
}

func TestBuildRepairPromptEmbedsHintAndContext(t *testing.T) {
	state := NewToolCallState(1000)
	state.Merge(labelProjectTree, "cmd/\nservices/")

	prompt := buildRepairPrompt("cause: nil map write in cache.go", state)

	for _, want := range []string{
		"cause: nil map write in cache.go",
		"PROJECT_TREE",
		"run_tree",
		"extract_function",
		"read_file",
		"ask_oracle",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("repair prompt missing %q", want)
		}
	}
}

func TestBuildRepairBestEffortPromptHalvesHint(t *testing.T) {
	hint := strings.Repeat("h", 400) + "TAIL-MARKER"
	state := NewToolCallState(1000)

	prompt := buildRepairBestEffortPrompt(hint, state, 200)

	if strings.Contains(prompt, "TAIL-MARKER") {
		t.Errorf("best-effort prompt kept the full hint, want it clipped to half the limit")
	}
	if !strings.Contains(prompt, strings.Repeat("h", 100)) {
		t.Errorf("best-effort prompt missing the clipped hint prefix")
	}
}

func TestBuildQuestionPrompt(t *testing.T) {
	prompt := buildQuestionPrompt("which assertion failed?", "assert_eq failed at calc_test.go:14")

	if !strings.Contains(prompt, "which assertion failed?") {
		t.Errorf("question prompt missing the question")
	}
	if !strings.Contains(prompt, "assert_eq failed at calc_test.go:14") {
		t.Errorf("question prompt missing the log excerpt")
	}
}
