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
	"testing"
)

func TestParsePatch_SingleHunk(t *testing.T) {
	hunks := ParsePatch("-foo(a)\n+foo(a, b)")
	want := []Hunk{{OldLines: []string{"foo(a)"}, NewLines: []string{"foo(a, b)"}}}
	if !reflect.DeepEqual(hunks, want) {
		t.Errorf("hunks = %+v, want %+v", hunks, want)
	}
}

func TestParsePatch_MetadataDroppedWithoutClosing(t *testing.T) {
	patch := "diff --git a/f.go b/f.go\n" +
		"index 3f9a2c1..8b4e7d2 100644\n" +
		"--- a/f.go\n" +
		"+++ b/f.go\n" +
		"@@ -10,2 +10,2 @@\n" +
		"-old line\n" +
		"+new line"
	hunks := ParsePatch(patch)
	if len(hunks) != 1 {
		t.Fatalf("hunks = %d, want 1 (metadata must not close hunks)", len(hunks))
	}
	if hunks[0].OldLines[0] != "old line" || hunks[0].NewLines[0] != "new line" {
		t.Errorf("hunk = %+v", hunks[0])
	}
}

func TestParsePatch_ContextClosesHunk(t *testing.T) {
	patch := "-a\n+b\nunchanged context\n-c\n+d"
	hunks := ParsePatch(patch)
	if len(hunks) != 2 {
		t.Fatalf("hunks = %d, want 2", len(hunks))
	}
	if hunks[0].OldLines[0] != "a" || hunks[1].OldLines[0] != "c" {
		t.Errorf("hunks = %+v", hunks)
	}
}

func TestParsePatch_BlankLineClosesHunk(t *testing.T) {
	hunks := ParsePatch("-a\n+b\n\n-c\n+d")
	if len(hunks) != 2 {
		t.Fatalf("hunks = %d, want 2", len(hunks))
	}
}

func TestParsePatch_AdditionThenRemovalSplits(t *testing.T) {
	hunks := ParsePatch("+added block\n-removed\n+replacement")
	if len(hunks) != 2 {
		t.Fatalf("hunks = %d, want 2 (addition-only block must close before a removal)", len(hunks))
	}
	if len(hunks[0].OldLines) != 0 || hunks[0].NewLines[0] != "added block" {
		t.Errorf("first hunk = %+v, want pure insertion", hunks[0])
	}
	if hunks[1].OldLines[0] != "removed" || hunks[1].NewLines[0] != "replacement" {
		t.Errorf("second hunk = %+v", hunks[1])
	}
}

func TestParsePatch_RemovalThenAdditionThenRemovalStaysOneHunk(t *testing.T) {
	// The split rule is asymmetric: once the old block has content, a later
	// removal extends it instead of opening a new hunk.
	hunks := ParsePatch("-first removed\n+added\n-second removed")
	if len(hunks) != 1 {
		t.Fatalf("hunks = %d, want 1", len(hunks))
	}
	if len(hunks[0].OldLines) != 2 || len(hunks[0].NewLines) != 1 {
		t.Errorf("hunk = %+v", hunks[0])
	}
}

func TestParsePatch_TrailingFlush(t *testing.T) {
	hunks := ParsePatch("-dangling removal")
	if len(hunks) != 1 || hunks[0].OldLines[0] != "dangling removal" {
		t.Errorf("hunks = %+v", hunks)
	}
}

func TestParsePatch_MarkerStrippedOnly(t *testing.T) {
	hunks := ParsePatch("-    indented old\n+\tindented new")
	if hunks[0].OldLines[0] != "    indented old" {
		t.Errorf("old = %q, want marker stripped and indentation kept", hunks[0].OldLines[0])
	}
	if hunks[0].NewLines[0] != "\tindented new" {
		t.Errorf("new = %q", hunks[0].NewLines[0])
	}
}

func TestParsePatch_Empty(t *testing.T) {
	if hunks := ParsePatch(""); len(hunks) != 0 {
		t.Errorf("hunks = %+v, want none", hunks)
	}
	if hunks := ParsePatch("just prose, no markers\nmore prose"); len(hunks) != 0 {
		t.Errorf("hunks = %+v, want none for marker-free text", hunks)
	}
}

func TestParsePatch_BareMarkers(t *testing.T) {
	// "+" alone adds a blank line to the new block.
	hunks := ParsePatch("-x := 1\n+x := 2\n+")
	if len(hunks) != 1 {
		t.Fatalf("hunks = %d, want 1", len(hunks))
	}
	if !reflect.DeepEqual(hunks[0].NewLines, []string{"x := 2", ""}) {
		t.Errorf("new = %q", hunks[0].NewLines)
	}
}
