// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "artifacts"), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

// backdate pushes a file's mtime into the past so a later write is
// unambiguously newer even within the same wall-clock second.
func backdate(t *testing.T, path string, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("backdating %s: %v", path, err)
	}
}

func TestSaveHint_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := &Hint{
		Cause: "nil map write in cache warm-up",
		Hints: []HintEntry{
			{Description: "map assigned before make", File: "internal/cache/warm.go", Function: "Warm", Line: 42},
			{Description: "missing lock on shared map", File: "internal/cache/warm.go"},
		},
	}
	path, err := store.SaveHint(ctx, in)
	if err != nil {
		t.Fatalf("SaveHint: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "hint_") {
		t.Errorf("filename %q should start with hint_", filepath.Base(path))
	}

	out, gotPath, err := store.LatestHint(ctx)
	if err != nil {
		t.Fatalf("LatestHint: %v", err)
	}
	if gotPath != path {
		t.Errorf("LatestHint path = %q, want %q", gotPath, path)
	}
	if out.Cause != in.Cause {
		t.Errorf("Cause = %q, want %q", out.Cause, in.Cause)
	}
	if len(out.Hints) != 2 || out.Hints[0].Line != 42 {
		t.Errorf("hints did not round-trip: %+v", out.Hints)
	}
	if out.Path != "internal/cache/warm.go" {
		t.Errorf("Path = %q, want first referenced file", out.Path)
	}
}

func TestSaveHint_PathLiftedFromFirstFile(t *testing.T) {
	store := newTestStore(t)

	hint := &Hint{
		Cause: "flaky assertion",
		Hints: []HintEntry{
			{Description: "no file on this one"},
			{Description: "second names the file", File: "pkg/feed/feed.go"},
		},
	}
	if _, err := store.SaveHint(context.Background(), hint); err != nil {
		t.Fatalf("SaveHint: %v", err)
	}
	if hint.Path != "pkg/feed/feed.go" {
		t.Errorf("Path = %q, want pkg/feed/feed.go", hint.Path)
	}
}

func TestLatestHint_PicksNewest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	firstPath, err := store.SaveHint(ctx, &Hint{Cause: "older"})
	if err != nil {
		t.Fatalf("SaveHint (first): %v", err)
	}
	backdate(t, firstPath, time.Hour)

	// Same-second save would collide on filename; rename the backdated one.
	renamed := filepath.Join(store.HintsDir(), "hint_2000-01-01_00-00-00.json")
	if err := os.Rename(firstPath, renamed); err != nil {
		t.Fatalf("renaming: %v", err)
	}
	backdate(t, renamed, time.Hour)

	if _, err := store.SaveHint(ctx, &Hint{Cause: "newer"}); err != nil {
		t.Fatalf("SaveHint (second): %v", err)
	}

	hint, _, err := store.LatestHint(ctx)
	if err != nil {
		t.Fatalf("LatestHint: %v", err)
	}
	if hint.Cause != "newer" {
		t.Errorf("Cause = %q, want newer", hint.Cause)
	}
}

func TestLatestHint_Empty(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.LatestHint(context.Background())
	if !errors.Is(err, ErrNoArtifacts) {
		t.Errorf("err = %v, want ErrNoArtifacts", err)
	}
}

func TestLatestHintText_RawJSON(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.SaveHint(ctx, &Hint{Cause: "assertion mismatch"}); err != nil {
		t.Fatalf("SaveHint: %v", err)
	}
	text, err := store.LatestHintText(ctx)
	if err != nil {
		t.Fatalf("LatestHintText: %v", err)
	}
	if !strings.Contains(text, `"cause": "assertion mismatch"`) {
		t.Errorf("raw text missing cause field: %s", text)
	}
}

func TestSaveFix_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := &Fix{
		FunctionsToEdit: []string{"pkg/feed/feed.go:Merge"},
		Reason:          "off-by-one in merge window",
		PatchSuggestion: "-for i := 0; i <= n; i++ {\n+for i := 0; i < n; i++ {",
	}
	if _, err := store.SaveFix(ctx, in); err != nil {
		t.Fatalf("SaveFix: %v", err)
	}

	out, _, err := store.LatestFix(ctx)
	if err != nil {
		t.Fatalf("LatestFix: %v", err)
	}
	if out.Reason != in.Reason || out.PatchSuggestion != in.PatchSuggestion {
		t.Errorf("fix did not round-trip: %+v", out)
	}
	if out.TargetFile() != "pkg/feed/feed.go" {
		t.Errorf("TargetFile = %q, want pkg/feed/feed.go", out.TargetFile())
	}
}

func TestSaveDegradedFix_ReadableAsFix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	path, err := store.SaveDegradedFix(ctx, "The failure is likely caused by...")
	if err != nil {
		t.Fatalf("SaveDegradedFix: %v", err)
	}

	// The raw record keeps the degraded shape.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading record: %v", err)
	}
	var degraded DegradedFix
	if err := json.Unmarshal(data, &degraded); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if degraded.Type != "analysis" {
		t.Errorf("Type = %q, want analysis", degraded.Type)
	}
	if degraded.Text != "The failure is likely caused by..." {
		t.Errorf("Text = %q", degraded.Text)
	}

	// Latest-fix consumers still get a Reason to show.
	fix, _, err := store.LatestFix(ctx)
	if err != nil {
		t.Fatalf("LatestFix: %v", err)
	}
	if fix.Reason == "" {
		t.Error("degraded record should surface a reason through LatestFix")
	}
	if len(fix.FunctionsToEdit) != 0 || fix.PatchSuggestion != "" {
		t.Errorf("degraded record should not carry fix fields: %+v", fix)
	}
}

func TestWriteToolOutput_Overwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.WriteToolOutput(ctx, "tree", "first"); err != nil {
		t.Fatalf("WriteToolOutput: %v", err)
	}
	path, err := store.WriteToolOutput(ctx, "tree", "second")
	if err != nil {
		t.Fatalf("WriteToolOutput (second): %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading tool output: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want second (overwritten)", data)
	}
}

func TestOutputLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if store.HasOutputLogs() {
		t.Error("HasOutputLogs should be false for an empty dir")
	}
	if _, err := store.LatestOutputLog(ctx); !errors.Is(err, ErrNoArtifacts) {
		t.Errorf("LatestOutputLog on empty dir = %v, want ErrNoArtifacts", err)
	}

	older := filepath.Join(store.OutputLogsDir(), "app_old.log")
	if err := os.WriteFile(older, []byte("old lines"), 0o644); err != nil {
		t.Fatalf("writing log: %v", err)
	}
	backdate(t, older, time.Hour)
	newer := filepath.Join(store.OutputLogsDir(), "app_new.log")
	if err := os.WriteFile(newer, []byte("new lines"), 0o644); err != nil {
		t.Fatalf("writing log: %v", err)
	}
	// A non-log file must not count.
	if err := os.WriteFile(filepath.Join(store.OutputLogsDir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writing notes: %v", err)
	}

	if !store.HasOutputLogs() {
		t.Error("HasOutputLogs should be true once a .log exists")
	}
	content, err := store.LatestOutputLog(ctx)
	if err != nil {
		t.Fatalf("LatestOutputLog: %v", err)
	}
	if content != "new lines" {
		t.Errorf("content = %q, want new lines", content)
	}
}

func TestHintClean(t *testing.T) {
	clean := &Hint{Cause: CleanCause}
	if !clean.Clean() {
		t.Error("sentinel cause should report clean")
	}
	dirty := &Hint{Cause: "nil pointer dereference", Hints: nil}
	if dirty.Clean() {
		t.Error("a real cause with no hints is not the clean sentinel")
	}
	var nilHint *Hint
	if nilHint.Clean() {
		t.Error("nil hint is not clean")
	}
}

func TestFixTargetFile(t *testing.T) {
	cases := []struct {
		name string
		refs []string
		want string
	}{
		{"first entry has colon", []string{"src/app.ts:handleClick", "src/util.ts:fmt"}, "src/app.ts"},
		{"skips bare entries", []string{"handleClick", "src/app.ts:handleClick"}, "src/app.ts"},
		{"skips leading colon", []string{":orphan", "lib/run.py:main"}, "lib/run.py"},
		{"no file anywhere", []string{"handleClick", "render"}, ""},
		{"empty", nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fix := &Fix{FunctionsToEdit: tc.refs}
			if got := fix.TargetFile(); got != tc.want {
				t.Errorf("TargetFile = %q, want %q", got, tc.want)
			}
		})
	}
}
