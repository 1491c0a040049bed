// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianTriage/services/triage/artifacts"
)

func TestSplitPatch_ContextGoesToBothBlocks(t *testing.T) {
	raw := "```diff\n" +
		"diff --git a/app.js b/app.js\n" +
		"index 1234567..89abcde 100644\n" +
		"--- a/app.js\n" +
		"+++ b/app.js\n" +
		"@@ -1,3 +1,3 @@\n" +
		"function foo(a) {\n" +
		"-  return a;\n" +
		"+  return a + 1;\n" +
		"}\n" +
		"```"

	current, suggested := splitPatch(raw)

	wantCurrent := "function foo(a) {\n  return a;\n}"
	if current != wantCurrent {
		t.Errorf("current = %q, want %q", current, wantCurrent)
	}
	wantSuggested := "function foo(a) {\n  return a + 1;\n}"
	if suggested != wantSuggested {
		t.Errorf("suggested = %q, want %q", suggested, wantSuggested)
	}
}

func TestSplitPatch_AdditionOnly(t *testing.T) {
	current, suggested := splitPatch("+const x = 1\n+use(x)")

	if current != "" {
		t.Errorf("current = %q, want empty", current)
	}
	if suggested != "const x = 1\nuse(x)" {
		t.Errorf("suggested = %q", suggested)
	}
}

func TestSplitPatch_Empty(t *testing.T) {
	for _, raw := range []string{"", "```diff\n```", "--- a/x\n+++ b/x"} {
		current, suggested := splitPatch(raw)
		if current != "" || suggested != "" {
			t.Errorf("splitPatch(%q) = (%q, %q), want empty blocks", raw, current, suggested)
		}
	}
}

func TestSummaryHTML_EscapesAndFormats(t *testing.T) {
	s := &Summary{
		Cause:          "Expected a < b",
		Functions:      []string{"app.js:foo"},
		Reason:         "Comparison inverted",
		CurrentBlock:   "if (a > b) {",
		SuggestedBlock: "if (a < b) {",
	}

	got := s.HTML()
	for _, want := range []string{
		"<b>🚨 Bug Fix Summary</b>",
		"<b>🧩 Hint:</b>\nExpected a &lt; b",
		"• <code>app.js:foo</code>",
		"<b>💡 Reason:</b>\nComparison inverted",
		"<pre>if (a &gt; b) {</pre>",
		"<pre>if (a &lt; b) {</pre>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("HTML missing %q in:\n%s", want, got)
		}
	}
}

func TestSummaryHTML_Fallbacks(t *testing.T) {
	s := &Summary{Cause: "Unknown", Reason: "No reason provided."}

	got := s.HTML()
	if !strings.Contains(got, "<i>None</i>") {
		t.Errorf("empty function list should render as <i>None</i>:\n%s", got)
	}
	if !strings.Contains(got, "<pre>(not available)</pre>") {
		t.Errorf("empty current block should render as (not available):\n%s", got)
	}
}

func TestSummaryText_Fallbacks(t *testing.T) {
	s := &Summary{Cause: "Unknown", Reason: "No reason provided."}

	got := s.Text()
	if !strings.Contains(got, "(not available)") {
		t.Errorf("plain rendering missing current-code fallback:\n%s", got)
	}
	if !strings.Contains(got, "None") {
		t.Errorf("plain rendering missing empty function list marker:\n%s", got)
	}
}

func TestBuildSummary(t *testing.T) {
	ctx := context.Background()
	store, err := artifacts.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	hint := &artifacts.Hint{
		Cause: "Assertion failed in checkout flow\nstack: cart.test.js:12",
		Hints: []artifacts.HintEntry{{Description: "total ignores tax", File: "cart.js"}},
	}
	if _, err := store.SaveHint(ctx, hint); err != nil {
		t.Fatalf("SaveHint: %v", err)
	}
	fix := &artifacts.Fix{
		FunctionsToEdit: []string{"cart.js:total"},
		PatchSuggestion: "-const total = base\n+const total = base + tax",
	}
	if _, err := store.SaveFix(ctx, fix); err != nil {
		t.Fatalf("SaveFix: %v", err)
	}

	s, err := BuildSummary(ctx, store)
	if err != nil {
		t.Fatalf("BuildSummary: %v", err)
	}

	if s.Cause != "Assertion failed in checkout flow" {
		t.Errorf("Cause = %q, want first line only", s.Cause)
	}
	if s.Reason != "No reason provided." {
		t.Errorf("Reason = %q, want fallback", s.Reason)
	}
	if len(s.Functions) != 1 || s.Functions[0] != "cart.js:total" {
		t.Errorf("Functions = %v", s.Functions)
	}
	if s.CurrentBlock != "const total = base" {
		t.Errorf("CurrentBlock = %q", s.CurrentBlock)
	}
	if s.SuggestedBlock != "const total = base + tax" {
		t.Errorf("SuggestedBlock = %q", s.SuggestedBlock)
	}
}

func TestBuildSummary_NoArtifacts(t *testing.T) {
	store, err := artifacts.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	_, err = BuildSummary(context.Background(), store)
	if !errors.Is(err, artifacts.ErrNoArtifacts) {
		t.Fatalf("err = %v, want ErrNoArtifacts", err)
	}
}
