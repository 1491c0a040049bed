// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeWhitespace(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  a   b\t\tc  ", "a b c"},
		{"if ready {\n\tgo run()\n}", "if ready { go run() }"},
		{"", ""},
		{"\t \n", ""},
	}
	for _, tc := range cases {
		if got := normalizeWhitespace(tc.in); got != tc.want {
			t.Errorf("normalizeWhitespace(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLeadingWhitespace(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"\t  x := 1", "\t  "},
		{"x := 1", ""},
		{"    ", "    "},
	}
	for _, tc := range cases {
		if got := leadingWhitespace(tc.in); got != tc.want {
			t.Errorf("leadingWhitespace(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestReindent(t *testing.T) {
	got := reindent([]string{"foo()", "", "\t\tbar()"}, "    ")
	want := []string{"    foo()", "", "    bar()"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("reindent = %q, want %q", got, want)
	}
}

func TestApplyExact_MidLineMatch(t *testing.T) {
	h := Hunk{OldLines: []string{"foo(a)"}, NewLines: []string{"foo(a, b)"}}
	got, ok := applyExact("function foo(a) {}\n", h)
	if !ok || got != "function foo(a, b) {}\n" {
		t.Errorf("got %q, ok=%v", got, ok)
	}
}

func TestApplyExact_FirstOccurrenceOnly(t *testing.T) {
	h := Hunk{OldLines: []string{"old()"}, NewLines: []string{"new()"}}
	got, ok := applyExact("x = old()\ny = old()\n", h)
	if !ok || got != "x = new()\ny = old()\n" {
		t.Errorf("got %q, ok=%v", got, ok)
	}
}

func TestApplyExact_MultiLineVerbatim(t *testing.T) {
	content := "func setup() {\n\tregister(a)\n\tregister(b)\n}\n"
	h := Hunk{
		OldLines: []string{"\tregister(a)", "\tregister(b)"},
		NewLines: []string{"\tregister(a)", "\tregister(b)", "\tregister(c)"},
	}
	got, ok := applyExact(content, h)
	want := "func setup() {\n\tregister(a)\n\tregister(b)\n\tregister(c)\n}\n"
	if !ok || got != want {
		t.Errorf("got %q, ok=%v, want %q", got, ok, want)
	}
}

func TestApplyExact_NoMatch(t *testing.T) {
	content := "alpha()\n"
	h := Hunk{OldLines: []string{"beta()"}, NewLines: []string{"gamma()"}}
	got, ok := applyExact(content, h)
	if ok || got != content {
		t.Errorf("got %q, ok=%v, want unchanged content and false", got, ok)
	}
}

func TestApplyWindow_NormalizedMatchReplacesEntireWindow(t *testing.T) {
	content := "if ready   {\n    go run()\n}\nafterA()\nafterB()\nafterC()\nafterD()\nkeep1()\nkeep2()\n"
	h := Hunk{
		OldLines: []string{"if ready {", "  go run()"},
		NewLines: []string{"if ready {", "    launch()", "}"},
	}

	got, ok := applyWindow(content, h)
	if !ok {
		t.Fatal("window tier did not match")
	}
	// The window is len(old)+5 lines long and is replaced whole, so the
	// slack lines inside it go with it.
	want := "if ready {\nlaunch()\n}\nkeep1()\nkeep2()\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if strings.Contains(got, "afterA") {
		t.Error("slack lines inside the matched window must be replaced too")
	}
}

func TestApplyWindow_AdoptsWindowFirstLineIndent(t *testing.T) {
	content := "\tif busy   {\n\t\twait()\n\t}\ndone()\n"
	h := Hunk{
		OldLines: []string{"if busy {", "wait()"},
		NewLines: []string{"if busy {", "  wait(ctx)", "}"},
	}

	got, ok := applyWindow(content, h)
	if !ok {
		t.Fatal("window tier did not match")
	}
	// Every non-blank new line gets the first matched line's tab, whatever
	// indentation the proposal carried. The short file sits entirely inside
	// the window, so nothing survives past the replacement.
	want := "\tif busy {\n\twait(ctx)\n\t}"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApplyWindow_NoMatch(t *testing.T) {
	content := "alpha()\nbeta()\n"
	h := Hunk{OldLines: []string{"missing()"}, NewLines: []string{"other()"}}
	got, ok := applyWindow(content, h)
	if ok || got != content {
		t.Errorf("got %q, ok=%v, want unchanged content and false", got, ok)
	}
}

func TestApplySingleLine_ReindentsReplacement(t *testing.T) {
	content := "  count   +=   2\nother()\n"
	h := Hunk{
		OldLines: []string{"count += 2"},
		NewLines: []string{"count += 1", "log(count)"},
	}

	got, ok := applySingleLine(content, h)
	if !ok {
		t.Fatal("single-line tier did not match")
	}
	want := "  count += 1\n  log(count)\nother()\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApplySingleLine_GateRequiresOneOldLine(t *testing.T) {
	content := "a()\nb()\n"
	h := Hunk{OldLines: []string{"a()", "b()"}, NewLines: []string{"c()"}}
	if _, ok := applySingleLine(content, h); ok {
		t.Error("two-line old block must not pass the single-line gate")
	}
}

func TestApplySingleLine_EqualityNotContainment(t *testing.T) {
	content := "  count += 2\n"
	h := Hunk{OldLines: []string{"count"}, NewLines: []string{"total"}}
	if _, ok := applySingleLine(content, h); ok {
		t.Error("normalized old line must equal the whole line, not a fragment of it")
	}

	h = Hunk{OldLines: []string{"zap()"}, NewLines: []string{"zop()"}}
	if got, ok := applySingleLine(content, h); ok || got != content {
		t.Errorf("got %q, ok=%v, want unchanged content and false", got, ok)
	}
}
